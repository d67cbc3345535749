package main

import (
	"context"
	"fmt"
	"time"

	"taskattach/internal/attachment"
	"taskattach/internal/config"
	"taskattach/internal/database"
	"taskattach/internal/repository"
	"taskattach/internal/storage"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// app holds the wired components shared by the commands
type app struct {
	cfg         *config.Config
	drv         *entsql.Driver
	blobs       storage.BlobStore
	signer      *storage.URLSigner
	attachments *repository.AttachmentStore
	service     *attachment.Service
	registry    *prometheus.Registry
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	zap.L().Info("Using database", zap.String("dsn", cfg.DatabaseDSN))
	drv, err := database.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, drv); err != nil {
		drv.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	signer := storage.NewURLSigner(cfg.JWTSecret, cfg.PublicBaseURL)
	blobs, err := newBlobStore(ctx, cfg, signer, registry)
	if err != nil {
		drv.Close()
		return nil, err
	}

	attachments := repository.NewAttachmentStore(drv, repository.Limits{
		MaxPerTask: cfg.Attachments.MaxPerTask,
		MaxBytes:   cfg.Attachments.MaxBytes,
	})
	svc := attachment.NewService(
		attachment.NewValidator(cfg.Attachments.MaxBytes, cfg.Attachments.AllowedMimeTypes),
		attachment.NewNamer(),
		blobs,
		attachments,
		repository.NewTaskStore(drv),
		attachment.Options{
			MaxPerTask:   cfg.Attachments.MaxPerTask,
			SignedURLTTL: cfg.Attachments.SignedURLTTL,
		},
	)

	return &app{
		cfg:         cfg,
		drv:         drv,
		blobs:       blobs,
		signer:      signer,
		attachments: attachments,
		service:     svc,
		registry:    registry,
	}, nil
}

func (a *app) sweeper(dryRun bool) *attachment.Sweeper {
	return attachment.NewSweeper(a.blobs, a.attachments, attachment.SweepOptions{
		Grace:  a.cfg.Sweep.Grace,
		DryRun: dryRun,
	})
}

func (a *app) Close() {
	if err := a.drv.Close(); err != nil {
		zap.L().Warn("Failed to close database", zap.Error(err))
	}
}

// newBlobStore builds the configured backend. The S3 client retries on its
// own; the local and WebDAV backends are wrapped in Retrying.
func newBlobStore(ctx context.Context, cfg *config.Config, signer *storage.URLSigner, reg prometheus.Registerer) (storage.BlobStore, error) {
	sc := cfg.Storage

	var store storage.BlobStore
	switch sc.Backend {
	case config.BackendS3:
		s3, err := storage.NewS3Store(ctx, storage.S3Options{
			Endpoint:     sc.S3.Endpoint,
			Region:       sc.S3.Region,
			Bucket:       sc.Container,
			AccessKey:    sc.S3.AccessKey,
			SecretKey:    sc.S3.SecretKey,
			UsePathStyle: sc.S3.UsePathStyle,
			MaxAttempts:  sc.MaxRetries + 1,
		})
		if err != nil {
			return nil, err
		}
		store = s3
	case config.BackendWebDAV:
		store = storage.NewRetrying(storage.NewWebDAVStore(storage.WebDAVOptions{
			URL:      sc.WebDAV.URL,
			User:     sc.WebDAV.User,
			Password: sc.WebDAV.Password,
			Root:     sc.Container,
			Timeout:  30 * time.Second,
		}, signer), sc.MaxRetries, nil)
	case config.BackendLocal:
		fs, err := storage.NewFileSystem(cfg.DataDir, sc.Container, signer)
		if err != nil {
			return nil, err
		}
		store = storage.NewRetrying(fs, sc.MaxRetries, nil)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
	}

	obs, err := storage.NewPrometheusObserver("taskattach_storage", reg)
	if err != nil {
		return nil, err
	}
	zap.L().Info("Blob storage ready",
		zap.String("backend", sc.Backend),
		zap.String("container", sc.Container),
	)
	return storage.Instrument(store, obs), nil
}
