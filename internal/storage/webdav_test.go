package storage

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/webdav"
)

func newWebDAVServer(t *testing.T) *WebDAVStore {
	t.Helper()
	srv := httptest.NewServer(&webdav.Handler{
		FileSystem: webdav.NewMemFS(),
		LockSystem: webdav.NewMemLS(),
	})
	t.Cleanup(srv.Close)

	return NewWebDAVStore(WebDAVOptions{URL: srv.URL, Root: "attachments"}, NewURLSigner("secret", "http://app"))
}

func TestWebDAVSaveOpenDelete(t *testing.T) {
	ctx := context.Background()
	store := newWebDAVServer(t)

	key := "42/20250101120000_a1b2c3d4_notes.txt"
	_, err := store.Save(ctx, key, strings.NewReader("hello dav"), 9, "text/plain")
	require.NoError(t, err)

	ok, err := store.Exists(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)

	rc, err := store.Open(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	require.Equal(t, "hello dav", string(data))

	_, err = store.Save(ctx, key, strings.NewReader("again"), 5, "text/plain")
	require.ErrorIs(t, err, ErrKeyExists)

	require.NoError(t, store.Delete(ctx, key))
	require.NoError(t, store.Delete(ctx, key))

	ok, err = store.Exists(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWebDAVList(t *testing.T) {
	ctx := context.Background()
	store := newWebDAVServer(t)

	for _, key := range []string{"1/b.txt", "1/a.txt", "2/c.txt"} {
		_, err := store.Save(ctx, key, strings.NewReader("x"), 1, "text/plain")
		require.NoError(t, err)
	}

	keys, err := store.List(ctx, "1/")
	require.NoError(t, err)
	require.Equal(t, []string{"1/a.txt", "1/b.txt"}, keys)

	all, err := store.List(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []string{"1/a.txt", "1/b.txt", "2/c.txt"}, all)

	none, err := store.List(ctx, "99/")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestWebDAVUnreachable(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()

	store := NewWebDAVStore(WebDAVOptions{URL: url}, nil)
	_, err := store.Save(ctx, "1/a.txt", strings.NewReader("x"), 1, "text/plain")
	require.ErrorIs(t, err, ErrUnavailable)

	_, err = store.SignedReadURL(ctx, "1/a.txt", SignOptions{})
	require.Error(t, err)
}
