package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"taskattach/internal/logger"

	backoff "github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Retrying wraps a backend whose client does not retry on its own and retries
// operations that failed with ErrUnavailable. Conflicts, invalid keys and
// missing objects are returned immediately.
type Retrying struct {
	delegate     BlobStore
	buildBackoff func() backoff.BackOff
	log          *zap.Logger
}

// NewRetrying retries up to maxRetries times with exponential backoff when
// factory is nil
func NewRetrying(delegate BlobStore, maxRetries int, factory func() backoff.BackOff) *Retrying {
	if factory == nil {
		factory = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = time.Second
			b.MaxElapsedTime = 5 * time.Second
			return backoff.WithMaxRetries(b, uint64(maxRetries))
		}
	}
	return &Retrying{delegate: delegate, buildBackoff: factory, log: logger.Named("storage")}
}

// Save is retried only when r can be rewound to where it started
func (s *Retrying) Save(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	seeker, ok := r.(io.Seeker)
	if !ok {
		return s.delegate.Save(ctx, key, r, size, contentType)
	}
	start, err := seeker.Seek(0, io.SeekCurrent)
	if err != nil {
		return s.delegate.Save(ctx, key, r, size, contentType)
	}

	var saved string
	attempt := 0
	err = s.retry(ctx, "save", key, func() error {
		if attempt > 0 {
			if _, err := seeker.Seek(start, io.SeekStart); err != nil {
				return backoff.Permanent(err)
			}
		}
		attempt++
		k, err := s.delegate.Save(ctx, key, r, size, contentType)
		saved = k
		return err
	})
	return saved, err
}

func (s *Retrying) Delete(ctx context.Context, key string) error {
	return s.retry(ctx, "delete", key, func() error { return s.delegate.Delete(ctx, key) })
}

func (s *Retrying) Exists(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := s.retry(ctx, "exists", key, func() error {
		var err error
		ok, err = s.delegate.Exists(ctx, key)
		return err
	})
	return ok, err
}

func (s *Retrying) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.retry(ctx, "list", prefix, func() error {
		var err error
		keys, err = s.delegate.List(ctx, prefix)
		return err
	})
	return keys, err
}

func (s *Retrying) SignedReadURL(ctx context.Context, key string, opts SignOptions) (string, error) {
	return s.delegate.SignedReadURL(ctx, key, opts)
}

// Open forwards to the wrapped backend when it serves blobs itself
func (s *Retrying) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	reader, ok := s.delegate.(BlobReader)
	if !ok {
		return nil, errNoReader
	}
	var rc io.ReadCloser
	err := s.retry(ctx, "open", key, func() error {
		var err error
		rc, err = reader.Open(ctx, key)
		return err
	})
	return rc, err
}

func (s *Retrying) retry(ctx context.Context, op, key string, fn func() error) error {
	b := backoff.WithContext(s.buildBackoff(), ctx)
	return backoff.RetryNotify(func() error {
		err := fn()
		if err != nil && !errors.Is(err, ErrUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		s.log.Debug("Retrying storage operation",
			zap.String("op", op),
			zap.String("key", key),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
}

var (
	_ BlobStore  = (*Retrying)(nil)
	_ BlobReader = (*Retrying)(nil)
)
