package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"
)

// flakyStore fails the first n saves with an unavailable error
type flakyStore struct {
	*FileSystem
	failures  int
	saves     int
	deletes   int
	deleteErr error
}

func (f *flakyStore) Save(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	f.saves++
	if f.saves <= f.failures {
		// consume part of the stream like a dropped upload would
		_, _ = io.CopyN(io.Discard, r, 2)
		return "", unavailable("save", key, errors.New("connection reset"))
	}
	return f.FileSystem.Save(ctx, key, r, size, contentType)
}

func (f *flakyStore) Delete(ctx context.Context, key string) error {
	f.deletes++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.FileSystem.Delete(ctx, key)
}

func noWait(maxRetries uint64) func() backoff.BackOff {
	return func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, maxRetries)
	}
}

func TestRetryingRewindsAndSucceeds(t *testing.T) {
	ctx := context.Background()
	inner := &flakyStore{FileSystem: NewMemoryFileSystem(nil), failures: 2}
	store := NewRetrying(inner, 3, noWait(3))

	_, err := store.Save(ctx, "1/a.txt", strings.NewReader("hello"), 5, "text/plain")
	require.NoError(t, err)
	require.Equal(t, 3, inner.saves)

	rc, err := store.Open(ctx, "1/a.txt")
	require.NoError(t, err)
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	require.Equal(t, "hello", string(data))
}

func TestRetryingGivesUp(t *testing.T) {
	ctx := context.Background()
	inner := &flakyStore{FileSystem: NewMemoryFileSystem(nil), failures: 10}
	store := NewRetrying(inner, 2, noWait(2))

	_, err := store.Save(ctx, "1/a.txt", strings.NewReader("hello"), 5, "text/plain")
	require.ErrorIs(t, err, ErrUnavailable)
	require.Equal(t, 3, inner.saves)
}

func TestRetryingDoesNotRetryConflicts(t *testing.T) {
	ctx := context.Background()
	inner := &flakyStore{FileSystem: NewMemoryFileSystem(nil)}
	store := NewRetrying(inner, 3, noWait(3))

	_, err := store.Save(ctx, "1/a.txt", strings.NewReader("a"), 1, "text/plain")
	require.NoError(t, err)
	_, err = store.Save(ctx, "1/a.txt", strings.NewReader("b"), 1, "text/plain")
	require.ErrorIs(t, err, ErrKeyExists)
	require.Equal(t, 2, inner.saves)
}

func TestRetryingNonSeekableIsSingleShot(t *testing.T) {
	ctx := context.Background()
	inner := &flakyStore{FileSystem: NewMemoryFileSystem(nil), failures: 1}
	store := NewRetrying(inner, 3, noWait(3))

	_, err := store.Save(ctx, "1/a.txt", io.LimitReader(strings.NewReader("hello"), 5), 5, "text/plain")
	require.ErrorIs(t, err, ErrUnavailable)
	require.Equal(t, 1, inner.saves)
}

func TestRetryingDelete(t *testing.T) {
	ctx := context.Background()
	inner := &flakyStore{
		FileSystem: NewMemoryFileSystem(nil),
		deleteErr:  unavailable("delete", "1/a.txt", errors.New("timeout")),
	}
	store := NewRetrying(inner, 2, noWait(2))

	require.ErrorIs(t, store.Delete(ctx, "1/a.txt"), ErrUnavailable)
	require.Equal(t, 3, inner.deletes)
}

func TestServesBlobsUnwraps(t *testing.T) {
	fs := NewMemoryFileSystem(nil)
	require.True(t, ServesBlobs(Instrument(NewRetrying(fs, 1, nil), nil)))

	require.False(t, ServesBlobs(Instrument(NewRetrying(&S3Store{}, 1, nil), nil)))
}
