package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, int64(10485760), cfg.Attachments.MaxBytes)
	require.Equal(t, 5, cfg.Attachments.MaxPerTask)
	require.Equal(t, time.Hour, cfg.Attachments.SignedURLTTL)
	require.ElementsMatch(t, DefaultAllowedMimeTypes, cfg.Attachments.AllowedMimeTypes)
	require.Equal(t, BackendLocal, cfg.Storage.Backend)
	require.Contains(t, cfg.DatabaseDSN, "foreign_keys(1)")
	require.True(t, cfg.UsesDefaultSecret())
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taskattach.yaml")
	data := []byte(`
port: "9090"
storage:
  backend: s3
  container: task-files
  s3:
    endpoint: "http://minio:9000"
    access_key: "file-access"
    secret_key: "file-secret"
attachments:
  signed_url_ttl: 30m
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	t.Setenv("TASKATTACH_PORT", "7070")
	t.Setenv("TASKATTACH_STORAGE_S3_ACCESS_KEY", "env-access")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "7070", cfg.Port)
	require.Equal(t, BackendS3, cfg.Storage.Backend)
	require.Equal(t, "task-files", cfg.Storage.Container)
	require.Equal(t, "env-access", cfg.Storage.S3.AccessKey)
	require.Equal(t, "file-secret", cfg.Storage.S3.SecretKey)
	require.Equal(t, 30*time.Minute, cfg.Attachments.SignedURLTTL)
}

func TestValidateRejectsIncompleteBackends(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Storage.Backend = "ftp" }},
		{"s3 without keys", func(c *Config) { c.Storage.Backend = BackendS3 }},
		{"webdav without url", func(c *Config) { c.Storage.Backend = BackendWebDAV }},
		{"zero max bytes", func(c *Config) { c.Attachments.MaxBytes = 0 }},
		{"empty secret", func(c *Config) { c.JWTSecret = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
