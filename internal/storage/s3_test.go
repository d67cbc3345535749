package storage

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestS3(t *testing.T, endpoint string) *S3Store {
	t.Helper()
	t.Setenv("AWS_CONFIG_FILE", "/dev/null")
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", "/dev/null")

	store, err := NewS3Store(context.Background(), S3Options{
		Endpoint:     endpoint,
		Region:       "us-east-1",
		Bucket:       "attachments",
		AccessKey:    "AKIDEXAMPLE",
		SecretKey:    "secret",
		UsePathStyle: true,
		MaxAttempts:  1,
	})
	require.NoError(t, err)
	return store
}

func TestS3PresignedURL(t *testing.T) {
	store := newTestS3(t, "http://localhost:9000")

	raw, err := store.SignedReadURL(context.Background(), "42/20250101120000_a1b2c3d4_q3-report.pdf", SignOptions{
		DownloadName: "Q3 Report.pdf",
		ContentType:  "application/pdf",
	})
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "localhost:9000", u.Host)
	require.Equal(t, "/attachments/42/20250101120000_a1b2c3d4_q3-report.pdf", u.Path)

	q := u.Query()
	require.Equal(t, "3600", q.Get("X-Amz-Expires"))
	require.Equal(t, `attachment; filename="Q3 Report.pdf"`, q.Get("response-content-disposition"))
	require.Equal(t, "application/pdf", q.Get("response-content-type"))
	require.NotEmpty(t, q.Get("X-Amz-Signature"))
}

func TestS3SaveConflict(t *testing.T) {
	var ifNoneMatch string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ifNoneMatch = r.Header.Get("If-None-Match")
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusPreconditionFailed)
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>PreconditionFailed</Code><Message>At least one of the pre-conditions you specified did not hold</Message></Error>`))
	}))
	defer srv.Close()

	store := newTestS3(t, srv.URL)
	_, err := store.Save(context.Background(), "1/a.txt", bytes.NewReader([]byte("x")), 1, "text/plain")
	require.ErrorIs(t, err, ErrKeyExists)
	require.Equal(t, "*", ifNoneMatch)
}

func TestS3ExistsAndUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/present.txt"):
			w.WriteHeader(http.StatusOK)
		case strings.HasSuffix(r.URL.Path, "/missing.txt"):
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	store := newTestS3(t, srv.URL)

	ok, err := store.Exists(ctx, "1/present.txt")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.Exists(ctx, "1/missing.txt")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = store.Exists(ctx, "1/broken.txt")
	require.ErrorIs(t, err, ErrUnavailable)
}
