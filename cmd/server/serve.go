package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"taskattach/internal/handler"
	authmw "taskattach/internal/middleware"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func runServe(cmd *cobra.Command, configPath string) error {
	cfg, err := setup(configPath)
	if err != nil {
		return err
	}
	defer zapSync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	zap.L().Info("Starting task attachment service",
		zap.String("data_dir", cfg.DataDir),
		zap.String("storage_backend", cfg.Storage.Backend),
	)

	a, err := newApp(ctx, cfg)
	if err != nil {
		zap.L().Error("Failed to initialize", zap.Error(err))
		return err
	}
	defer a.Close()

	if cfg.Sweep.Schedule != "" {
		sweeper := a.sweeper(cfg.Sweep.DryRun)
		if err := sweeper.Start(cfg.Sweep.Schedule); err != nil {
			return err
		}
		defer sweeper.Stop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.RequestID())
	e.Use(authmw.ZapLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.Secure())
	// multipart overhead on top of the largest accepted file
	e.Use(middleware.BodyLimit(strconv.FormatInt(cfg.Attachments.MaxBytes+(1<<20), 10)))

	handler.NewHandler(a.service, a.blobs, a.signer).Register(e, authmw.JWTAuth(cfg.JWTSecret))
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("Server starting", zap.String("port", cfg.Port))
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			zap.L().Error("Server failed to start", zap.Error(err))
			return err
		}
	case <-ctx.Done():
	}

	zap.L().Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
