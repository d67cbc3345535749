// Package storage is the object storage gateway for attachment blobs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"
)

var (
	// ErrKeyExists is returned by Save when the key is already taken; blobs are never overwritten
	ErrKeyExists = errors.New("storage: key already exists")
	// ErrNotFound is returned by Open for missing blobs
	ErrNotFound = errors.New("storage: object not found")
	// ErrUnavailable marks failures of the backing service after retries are exhausted
	ErrUnavailable = errors.New("storage: backend unavailable")
	ErrInvalidKey  = errors.New("storage: invalid key")

	errNoReader = errors.New("storage: backend does not serve blobs directly")
)

// DefaultSignedURLTTL is the lifetime of download URLs
const DefaultSignedURLTTL = time.Hour

// SignOptions shapes a pre-authenticated read URL
type SignOptions struct {
	TTL          time.Duration
	DownloadName string
	ContentType  string
}

// BlobStore is the capability set the attachment service needs from a backend
type BlobStore interface {
	// Save streams r to key and fails with ErrKeyExists instead of overwriting
	Save(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	// Delete removes key; deleting a missing key is not an error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	SignedReadURL(ctx context.Context, key string, opts SignOptions) (string, error)
	// List returns every key starting with prefix
	List(ctx context.Context, prefix string) ([]string, error)
}

// BlobReader is implemented by backends whose signed URLs are served by this
// application instead of the storage service
type BlobReader interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// ServesBlobs reports whether reads of store go through this application.
// Wrappers always implement Open, so this unwraps to the backend.
func ServesBlobs(store BlobStore) bool {
	for {
		switch s := store.(type) {
		case *Retrying:
			store = s.delegate
		case *Instrumented:
			store = s.BlobStore
		default:
			_, ok := store.(BlobReader)
			return ok
		}
	}
}

// UnavailableError carries the backend failure behind ErrUnavailable
type UnavailableError struct {
	Op  string
	Key string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("storage: %s %q: backend unavailable: %v", e.Op, e.Key, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

func unavailable(op, key string, err error) error {
	var ue *UnavailableError
	if errors.As(err, &ue) {
		return err
	}
	return &UnavailableError{Op: op, Key: key, Err: err}
}

// ValidateKey rejects keys that could escape the container or are not path safe
func ValidateKey(key string) error {
	switch {
	case key == "":
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	case strings.HasPrefix(key, "/"), strings.Contains(key, "\\"):
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}

// ContentDisposition builds an attachment disposition header carrying the original filename
func ContentDisposition(name string) string {
	if name == "" {
		return "attachment"
	}
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return "attachment"
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultSignedURLTTL
	}
	return ttl
}
