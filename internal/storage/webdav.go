package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/studio-b12/gowebdav"
)

// WebDAVStore keeps blobs on a WebDAV share below a root collection.
// The existence check before a write is not atomic; the random component of
// generated keys is what keeps concurrent writers apart.
type WebDAVStore struct {
	client *gowebdav.Client
	root   string
	signer *URLSigner
}

type WebDAVOptions struct {
	URL      string
	User     string
	Password string
	Root     string
	Timeout  time.Duration
}

func NewWebDAVStore(opts WebDAVOptions, signer *URLSigner) *WebDAVStore {
	client := gowebdav.NewClient(opts.URL, opts.User, opts.Password)
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}
	return &WebDAVStore{
		client: client,
		root:   "/" + strings.Trim(opts.Root, "/"),
		signer: signer,
	}
}

func (w *WebDAVStore) path(key string) string {
	return path.Join(w.root, key)
}

func (w *WebDAVStore) Save(_ context.Context, key string, r io.Reader, _ int64, _ string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}

	p := w.path(key)
	if _, err := w.client.Stat(p); err == nil {
		return "", ErrKeyExists
	} else if !gowebdav.IsErrNotFound(err) {
		return "", unavailable("save", key, err)
	}

	if err := w.client.WriteStream(p, r, 0644); err != nil {
		return "", unavailable("save", key, err)
	}
	return key, nil
}

func (w *WebDAVStore) Delete(_ context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := w.client.Remove(w.path(key)); err != nil && !gowebdav.IsErrNotFound(err) {
		return unavailable("delete", key, err)
	}
	return nil
}

func (w *WebDAVStore) Exists(_ context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	if _, err := w.client.Stat(w.path(key)); err != nil {
		if gowebdav.IsErrNotFound(err) {
			return false, nil
		}
		return false, unavailable("exists", key, err)
	}
	return true, nil
}

func (w *WebDAVStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	rc, err := w.client.ReadStream(w.path(key))
	if err != nil {
		if gowebdav.IsErrNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, unavailable("open", key, err)
	}
	return rc, nil
}

// List walks the collection that contains prefix
func (w *WebDAVStore) List(_ context.Context, prefix string) ([]string, error) {
	start := ""
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		start = prefix[:i]
	}

	var keys []string
	var walk func(rel string) error
	walk = func(rel string) error {
		entries, err := w.client.ReadDir(path.Join(w.root, rel))
		if err != nil {
			if gowebdav.IsErrNotFound(err) {
				return nil
			}
			return err
		}
		for _, e := range entries {
			child := path.Join(rel, e.Name())
			if e.IsDir() {
				if err := walk(child); err != nil {
					return err
				}
				continue
			}
			if strings.HasPrefix(child, prefix) {
				keys = append(keys, child)
			}
		}
		return nil
	}

	if err := walk(start); err != nil {
		return nil, unavailable("list", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (w *WebDAVStore) SignedReadURL(_ context.Context, key string, opts SignOptions) (string, error) {
	if w.signer == nil {
		return "", errors.New("storage: webdav backend has no url signer")
	}
	return w.signer.Sign(key, opts)
}

var (
	_ BlobStore  = (*WebDAVStore)(nil)
	_ BlobReader = (*WebDAVStore)(nil)
)
