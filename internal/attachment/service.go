package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"taskattach/internal/logger"
	"taskattach/internal/repository"
	"taskattach/internal/storage"

	"go.uber.org/zap"
)

// AttachmentRepository is the metadata store the service writes through
type AttachmentRepository interface {
	CountForTask(ctx context.Context, taskID int) (int, error)
	Create(ctx context.Context, a *repository.Attachment) (*repository.Attachment, error)
	Get(ctx context.Context, id int) (*repository.Attachment, error)
	ListForTask(ctx context.Context, taskID int) ([]*repository.Attachment, error)
	Delete(ctx context.Context, id int) error
}

type TaskRepository interface {
	Create(ctx context.Context, ownerID int, title string) (*repository.Task, error)
	Get(ctx context.Context, id int) (*repository.Task, error)
	Delete(ctx context.Context, id int) error
}

type Options struct {
	MaxPerTask   int
	SignedURLTTL time.Duration
}

// Service coordinates validation, naming, blob storage and metadata for
// uploads, and reverses that chain for deletes
type Service struct {
	validator   *Validator
	namer       *Namer
	blobs       storage.BlobStore
	attachments AttachmentRepository
	tasks       TaskRepository
	opts        Options
	log         *zap.Logger
}

func NewService(v *Validator, n *Namer, blobs storage.BlobStore, attachments AttachmentRepository, tasks TaskRepository, opts Options) *Service {
	if opts.MaxPerTask <= 0 {
		opts.MaxPerTask = 5
	}
	if opts.SignedURLTTL <= 0 {
		opts.SignedURLTTL = storage.DefaultSignedURLTTL
	}
	return &Service{
		validator:   v,
		namer:       n,
		blobs:       blobs,
		attachments: attachments,
		tasks:       tasks,
		opts:        opts,
		log:         logger.Named("attachment"),
	}
}

// TooLarge is the rejection for an upload stopped by the request body limit
func (s *Service) TooLarge() *ValidationError {
	return s.validator.TooLarge()
}

// TaskDetail is a task together with its attachments, newest first
type TaskDetail struct {
	*repository.Task
	Attachments []*repository.Attachment `json:"attachments"`
}

func (s *Service) CreateTask(ctx context.Context, principal int, title string) (*repository.Task, error) {
	if principal <= 0 {
		return nil, ErrNotPermitted
	}
	return s.tasks.Create(ctx, principal, title)
}

func (s *Service) GetTask(ctx context.Context, principal, taskID int) (*TaskDetail, error) {
	task, err := s.authorizeTask(ctx, principal, taskID)
	if err != nil {
		return nil, err
	}
	list, err := s.attachments.ListForTask(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	return &TaskDetail{Task: task, Attachments: list}, nil
}

// Upload validates, stores and records a new attachment for taskID.
// Nothing is written unless the file is valid, the principal owns the task
// and the task is below its cap.
func (s *Service) Upload(ctx context.Context, principal, taskID int, up Upload) (*repository.Attachment, error) {
	log := s.log.With(zap.Int("task_id", taskID), zap.String("filename", up.Filename))

	detected, err := s.validator.Validate(up)
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			log.Info("Upload rejected", zap.String("reason", string(ve.Reason)))
		}
		return nil, err
	}

	if _, err := s.authorizeTask(ctx, principal, taskID); err != nil {
		return nil, err
	}

	count, err := s.attachments.CountForTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("count attachments: %w", err)
	}
	if count >= s.opts.MaxPerTask {
		return nil, &CapacityError{Max: s.opts.MaxPerTask}
	}

	key, err := s.store(ctx, taskID, up, detected.ContentType)
	if err != nil {
		log.Error("Failed to store attachment", zap.Error(err))
		return nil, err
	}
	log = log.With(zap.String("storage_key", key))

	att, err := s.attachments.Create(ctx, &repository.Attachment{
		TaskID:           taskID,
		OriginalFilename: up.Filename,
		StorageKey:       key,
		ByteSize:         up.Size,
		ContentType:      detected.ContentType,
	})
	if err != nil {
		s.compensate(ctx, log, key)
		switch {
		case errors.Is(err, repository.ErrLimitExceeded):
			return nil, &CapacityError{Max: s.opts.MaxPerTask}
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrNotPermitted
		}
		log.Error("Failed to persist attachment", zap.Error(err))
		return nil, fmt.Errorf("persist attachment: %w", err)
	}

	log.Info("Attachment uploaded", zap.Int("attachment_id", att.ID), zap.Int64("bytes", att.ByteSize))
	return att, nil
}

// store saves the body under a fresh key, regenerating the key once if the
// backend reports it as taken
func (s *Service) store(ctx context.Context, taskID int, up Upload, contentType string) (string, error) {
	for attempt := 0; ; attempt++ {
		key := s.namer.Generate(taskID, up.Filename)
		_, err := s.blobs.Save(ctx, key, up.Body, up.Size, contentType)
		if err == nil {
			return key, nil
		}
		if errors.Is(err, storage.ErrKeyExists) && attempt == 0 {
			s.log.Warn("Storage key already taken, regenerating", zap.String("storage_key", key))
			if _, err := up.Body.Seek(0, io.SeekStart); err != nil {
				return "", fmt.Errorf("rewind upload: %w", err)
			}
			continue
		}
		return "", storageUnavailable(err)
	}
}

func (s *Service) compensate(ctx context.Context, log *zap.Logger, key string) {
	if err := s.blobs.Delete(context.WithoutCancel(ctx), key); err != nil {
		log.Warn("Orphaned blob left after failed insert",
			zap.Bool("consistency_warning", true),
			zap.Error(err),
		)
	}
}

func (s *Service) List(ctx context.Context, principal, taskID int) ([]*repository.Attachment, error) {
	if _, err := s.authorizeTask(ctx, principal, taskID); err != nil {
		return nil, err
	}
	return s.attachments.ListForTask(ctx, taskID)
}

// Get returns an attachment the principal may act on
func (s *Service) Get(ctx context.Context, principal, attachmentID int) (*repository.Attachment, error) {
	att, err := s.attachments.Get(ctx, attachmentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotPermitted
		}
		return nil, err
	}
	if _, err := s.authorizeTask(ctx, principal, att.TaskID); err != nil {
		return nil, err
	}
	return att, nil
}

// DownloadURL returns a short-lived read URL that names the original file
func (s *Service) DownloadURL(ctx context.Context, principal, attachmentID int) (string, error) {
	att, err := s.Get(ctx, principal, attachmentID)
	if err != nil {
		return "", err
	}

	ok, err := s.blobs.Exists(ctx, att.StorageKey)
	if err != nil {
		return "", storageUnavailable(err)
	}
	if !ok {
		s.log.Warn("Attachment blob is missing",
			zap.Int("attachment_id", att.ID),
			zap.String("storage_key", att.StorageKey),
			zap.Bool("consistency_warning", true),
		)
		return "", ErrBlobMissing
	}

	url, err := s.blobs.SignedReadURL(ctx, att.StorageKey, storage.SignOptions{
		TTL:          s.opts.SignedURLTTL,
		DownloadName: att.OriginalFilename,
		ContentType:  att.ContentType,
	})
	if err != nil {
		return "", storageUnavailable(err)
	}
	return url, nil
}

// Delete removes the blob and then the record. A failed blob delete is
// logged and does not keep the record alive.
func (s *Service) Delete(ctx context.Context, principal, attachmentID int) error {
	att, err := s.Get(ctx, principal, attachmentID)
	if err != nil {
		return err
	}
	log := s.log.With(zap.Int("attachment_id", att.ID), zap.String("storage_key", att.StorageKey))

	if err := s.blobs.Delete(ctx, att.StorageKey); err != nil {
		log.Warn("Failed to delete attachment blob",
			zap.Bool("consistency_warning", true),
			zap.Error(err),
		)
	}

	// the blob may already be gone; finish even if the caller hung up
	if err := s.attachments.Delete(context.WithoutCancel(ctx), att.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("delete attachment record: %w", err)
	}
	log.Info("Attachment deleted")
	return nil
}

// DeleteTask removes every blob under the task's prefix, best effort, and
// then the task row. Attachment rows go with it through the foreign key.
func (s *Service) DeleteTask(ctx context.Context, principal, taskID int) error {
	task, err := s.authorizeTask(ctx, principal, taskID)
	if err != nil {
		return err
	}
	log := s.log.With(zap.Int("task_id", task.ID))

	keys := make(map[string]struct{})
	listed, err := s.blobs.List(ctx, OwnerPrefix(task.ID))
	if err != nil {
		log.Warn("Failed to list task blobs, falling back to metadata", zap.Error(err))
	}
	for _, k := range listed {
		keys[k] = struct{}{}
	}
	if rows, err := s.attachments.ListForTask(ctx, task.ID); err == nil {
		for _, a := range rows {
			keys[a.StorageKey] = struct{}{}
		}
	}

	failed := 0
	for key := range keys {
		if err := s.blobs.Delete(ctx, key); err != nil {
			failed++
			log.Warn("Failed to delete blob during task cascade",
				zap.String("storage_key", key),
				zap.Bool("consistency_warning", true),
				zap.Error(err),
			)
		}
	}

	if err := s.tasks.Delete(context.WithoutCancel(ctx), task.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotPermitted
		}
		return fmt.Errorf("delete task: %w", err)
	}
	log.Info("Task deleted", zap.Int("blobs", len(keys)), zap.Int("blob_failures", failed))
	return nil
}

func (s *Service) authorizeTask(ctx context.Context, principal, taskID int) (*repository.Task, error) {
	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotPermitted
		}
		return nil, err
	}
	if principal <= 0 || task.OwnerID != principal {
		return nil, ErrNotPermitted
	}
	return task, nil
}
