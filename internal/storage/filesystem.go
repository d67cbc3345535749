package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// FileSystem stores blobs as files under {baseDir}/{container} using afero.
// Its signed URLs point back at this application.
type FileSystem struct {
	fs     afero.Fs
	root   string
	signer *URLSigner
}

// NewFileSystem creates a FileSystem on the OS filesystem
func NewFileSystem(baseDir, container string, signer *URLSigner) (*FileSystem, error) {
	root := filepath.Join(baseDir, container)
	fs := afero.NewOsFs()
	if err := fs.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create blob root %s: %w", root, err)
	}
	return &FileSystem{fs: fs, root: root, signer: signer}, nil
}

// NewMemoryFileSystem creates a FileSystem backed by memory (useful for testing)
func NewMemoryFileSystem(signer *URLSigner) *FileSystem {
	return &FileSystem{
		fs:     afero.NewMemMapFs(),
		root:   "blobs",
		signer: signer,
	}
}

// Root returns the directory blobs are stored under
func (f *FileSystem) Root() string {
	return f.root
}

func (f *FileSystem) path(key string) string {
	return filepath.Join(f.root, filepath.FromSlash(key))
}

// Save creates the blob exclusively and streams r into it
func (f *FileSystem) Save(_ context.Context, key string, r io.Reader, size int64, _ string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}

	p := f.path(key)
	if err := f.fs.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return "", unavailable("save", key, fmt.Errorf("create directory: %w", err))
	}

	dst, err := f.fs.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", ErrKeyExists
		}
		return "", unavailable("save", key, fmt.Errorf("create file: %w", err))
	}

	written, err := io.Copy(dst, r)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err == nil && size >= 0 && written != size {
		err = fmt.Errorf("wrote %d bytes, expected %d", written, size)
	}
	if err != nil {
		_ = f.fs.Remove(p)
		return "", unavailable("save", key, fmt.Errorf("write file: %w", err))
	}

	return key, nil
}

// Delete removes the blob; a missing blob is not an error
func (f *FileSystem) Delete(_ context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := f.fs.Remove(f.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return unavailable("delete", key, err)
	}
	return nil
}

// Exists checks if a blob exists
func (f *FileSystem) Exists(_ context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	ok, err := afero.Exists(f.fs, f.path(key))
	if err != nil {
		return false, unavailable("exists", key, err)
	}
	return ok, nil
}

// Open opens a blob for reading
func (f *FileSystem) Open(_ context.Context, key string) (io.ReadCloser, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	file, err := f.fs.Open(f.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, unavailable("open", key, err)
	}
	return file, nil
}

// List walks the container and returns keys with the given prefix
// List walks only the directory holding prefix, so a task prefix never
// touches other tasks' blobs
func (f *FileSystem) List(_ context.Context, prefix string) ([]string, error) {
	start := f.root
	if i := strings.LastIndex(prefix, "/"); i > 0 {
		dir := prefix[:i]
		if err := ValidateKey(dir); err != nil {
			return nil, err
		}
		start = f.path(dir)
	}

	var keys []string
	err := afero.Walk(f.fs, start, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(f.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, unavailable("list", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// SignedReadURL returns an application-served URL for the blob
func (f *FileSystem) SignedReadURL(_ context.Context, key string, opts SignOptions) (string, error) {
	if f.signer == nil {
		return "", errors.New("storage: filesystem backend has no url signer")
	}
	return f.signer.Sign(key, opts)
}

var (
	_ BlobStore  = (*FileSystem)(nil)
	_ BlobReader = (*FileSystem)(nil)
)
