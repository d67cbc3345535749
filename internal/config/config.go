package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix is prepended to every environment variable, e.g. TASKATTACH_PORT
	EnvPrefix = "TASKATTACH"

	// DefaultJWTSecret is only meant for local development
	DefaultJWTSecret = "taskattach-secret-key-change-in-production"

	BackendLocal  = "local"
	BackendS3     = "s3"
	BackendWebDAV = "webdav"
)

// Allowed MIME types for attachments
var DefaultAllowedMimeTypes = []string{
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"text/plain",
	"image/jpeg",
	"image/png",
}

type Config struct {
	DataDir       string `mapstructure:"data_dir"`
	Port          string `mapstructure:"port"`
	Debug         bool   `mapstructure:"debug"`
	DatabaseDSN   string `mapstructure:"database_dsn"`
	JWTSecret     string `mapstructure:"jwt_secret"`
	PublicBaseURL string `mapstructure:"public_base_url"`

	Attachments AttachmentConfig `mapstructure:"attachments"`
	Storage     StorageConfig    `mapstructure:"storage"`
	Sweep       SweepConfig      `mapstructure:"sweep"`
}

// AttachmentConfig holds upload limits and the signed URL lifetime
type AttachmentConfig struct {
	MaxBytes         int64         `mapstructure:"max_bytes"`
	MaxPerTask       int           `mapstructure:"max_per_task"`
	AllowedMimeTypes []string      `mapstructure:"allowed_mime_types"`
	SignedURLTTL     time.Duration `mapstructure:"signed_url_ttl"`
}

// StorageConfig selects and configures the blob backend
type StorageConfig struct {
	Backend    string       `mapstructure:"backend"`
	Container  string       `mapstructure:"container"`
	MaxRetries int          `mapstructure:"max_retries"`
	S3         S3Config     `mapstructure:"s3"`
	WebDAV     WebDAVConfig `mapstructure:"webdav"`
}

type S3Config struct {
	Endpoint     string `mapstructure:"endpoint"`
	Region       string `mapstructure:"region"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
}

type WebDAVConfig struct {
	URL      string `mapstructure:"url"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// SweepConfig controls the orphan blob sweeper. An empty schedule disables it.
type SweepConfig struct {
	Schedule string        `mapstructure:"schedule"`
	Grace    time.Duration `mapstructure:"grace"`
	DryRun   bool          `mapstructure:"dry_run"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "data")
	v.SetDefault("port", "8080")
	v.SetDefault("debug", false)
	v.SetDefault("database_dsn", "")
	v.SetDefault("jwt_secret", DefaultJWTSecret)
	v.SetDefault("public_base_url", "http://localhost:8080")

	v.SetDefault("attachments.max_bytes", 10*1024*1024)
	v.SetDefault("attachments.max_per_task", 5)
	v.SetDefault("attachments.allowed_mime_types", DefaultAllowedMimeTypes)
	v.SetDefault("attachments.signed_url_ttl", time.Hour)

	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.container", "attachments")
	v.SetDefault("storage.max_retries", 3)
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.access_key", "")
	v.SetDefault("storage.s3.secret_key", "")
	v.SetDefault("storage.s3.use_path_style", true)
	v.SetDefault("storage.webdav.url", "")
	v.SetDefault("storage.webdav.user", "")
	v.SetDefault("storage.webdav.password", "")

	v.SetDefault("sweep.schedule", "")
	v.SetDefault("sweep.grace", time.Hour)
	v.SetDefault("sweep.dry_run", false)
}

// Load reads configuration from defaults, an optional file and the environment.
// Environment variables win over the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.DatabaseDSN == "" {
		cfg.DatabaseDSN = SQLiteDSN(filepath.Join(cfg.DataDir, "taskattach.db"))
	}
	cfg.PublicBaseURL = strings.TrimSuffix(cfg.PublicBaseURL, "/")
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SQLiteDSN returns a SQLite connection string with foreign keys and WAL enabled
func SQLiteDSN(path string) string {
	return fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(10000)", path)
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	var errs []error

	if c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt_secret must not be empty"))
	}
	if c.Attachments.MaxBytes <= 0 {
		errs = append(errs, errors.New("attachments.max_bytes must be positive"))
	}
	if c.Attachments.MaxPerTask <= 0 {
		errs = append(errs, errors.New("attachments.max_per_task must be positive"))
	}
	if len(c.Attachments.AllowedMimeTypes) == 0 {
		errs = append(errs, errors.New("attachments.allowed_mime_types must not be empty"))
	}
	if c.Attachments.SignedURLTTL <= 0 {
		errs = append(errs, errors.New("attachments.signed_url_ttl must be positive"))
	}
	if c.Storage.MaxRetries < 0 {
		errs = append(errs, errors.New("storage.max_retries must not be negative"))
	}
	if c.Sweep.Grace < 0 {
		errs = append(errs, errors.New("sweep.grace must not be negative"))
	}

	switch c.Storage.Backend {
	case BackendLocal:
	case BackendS3:
		if c.Storage.Container == "" {
			errs = append(errs, errors.New("storage.container (bucket) is required for s3"))
		}
		if c.Storage.S3.AccessKey == "" || c.Storage.S3.SecretKey == "" {
			errs = append(errs, errors.New("storage.s3 access_key and secret_key are required"))
		}
	case BackendWebDAV:
		if c.Storage.WebDAV.URL == "" {
			errs = append(errs, errors.New("storage.webdav.url is required for webdav"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// UsesDefaultSecret reports whether the development JWT secret is active
func (c *Config) UsesDefaultSecret() bool {
	return c.JWTSecret == DefaultJWTSecret
}
