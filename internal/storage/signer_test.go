package storage

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func tokenOf(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.Query().Get("token")
}

func TestSignerRoundTrip(t *testing.T) {
	s := NewURLSigner("secret", "http://localhost:8080")

	raw, err := s.Sign("4/file.txt", SignOptions{DownloadName: "notes.txt", ContentType: "text/plain"})
	require.NoError(t, err)

	got, err := s.Verify("4/file.txt", tokenOf(t, raw))
	require.NoError(t, err)
	require.Equal(t, "4/file.txt", got.Key)
	require.Equal(t, "notes.txt", got.DownloadName)
	require.Equal(t, "text/plain", got.ContentType)
}

func TestSignerDefaultTTL(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewURLSigner("secret", "")
	s.now = func() time.Time { return now }

	raw, err := s.Sign("4/file.txt", SignOptions{})
	require.NoError(t, err)

	got, err := s.Verify("4/file.txt", tokenOf(t, raw))
	require.NoError(t, err)
	require.True(t, now.Add(time.Hour).Equal(got.ExpiresAt))
}

func TestSignerRejectsExpired(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewURLSigner("secret", "")
	s.now = func() time.Time { return now }

	raw, err := s.Sign("4/file.txt", SignOptions{TTL: time.Minute})
	require.NoError(t, err)

	s.now = func() time.Time { return now.Add(2 * time.Minute) }
	_, err = s.Verify("4/file.txt", tokenOf(t, raw))
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestSignerRejectsOtherKeyAndSecret(t *testing.T) {
	s := NewURLSigner("secret", "")
	raw, err := s.Sign("4/file.txt", SignOptions{})
	require.NoError(t, err)
	token := tokenOf(t, raw)

	_, err = s.Verify("4/other.txt", token)
	require.ErrorIs(t, err, ErrInvalidSignature)

	_, err = NewURLSigner("different", "").Verify("4/file.txt", token)
	require.ErrorIs(t, err, ErrInvalidSignature)

	_, err = s.Verify("4/file.txt", "not-a-token")
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestBlobPathEscapesSegments(t *testing.T) {
	require.Equal(t, "/blobs/1/a%20b.txt", BlobPath("1/a b.txt"))
}
