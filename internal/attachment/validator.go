// Package attachment implements the upload, download and cleanup flows for
// files attached to tasks.
package attachment

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
)

// SniffLen is how much of the stream is inspected to detect the content type.
// It matches mimetype's own read limit so OOXML packages are recognized from
// their leading zip entries.
const SniffLen = 3072

const oleStorage = "application/x-ole-storage"

// DefaultMaxBytes is the 10 MiB upload ceiling
const DefaultMaxBytes int64 = 10 << 20

// DefaultAllowedTypes is the content allow-list
var DefaultAllowedTypes = []string{
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"text/plain",
	"image/jpeg",
	"image/png",
}

// extensions lists the filename extensions each allowed type may carry
var extensions = map[string][]string{
	"application/pdf":    {".pdf"},
	"application/msword": {".doc"},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {".docx"},
	"application/vnd.ms-excel": {".xls"},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": {".xlsx"},
	"text/plain": {".txt"},
	"image/jpeg": {".jpg", ".jpeg"},
	"image/png":  {".png"},
}

// legacy Office files share one container format; the extension picks the type
var oleByExtension = map[string]string{
	".doc": "application/msword",
	".xls": "application/vnd.ms-excel",
}

// Upload is a candidate file as received from the client
type Upload struct {
	Filename string
	Size     int64
	Body     io.ReadSeeker
}

// Detected is the outcome of a successful validation
type Detected struct {
	ContentType string
	Extension   string
}

type Validator struct {
	maxBytes int64
	allowed  []string
}

func NewValidator(maxBytes int64, allowed []string) *Validator {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if len(allowed) == 0 {
		allowed = DefaultAllowedTypes
	}
	return &Validator{maxBytes: maxBytes, allowed: allowed}
}

func (v *Validator) MaxBytes() int64 {
	return v.maxBytes
}

// TooLarge is the rejection for a body that was cut off before its size
// could be checked
func (v *Validator) TooLarge() *ValidationError {
	return reject(ReasonTooLarge, "The file exceeds the maximum allowed size of %s.", humanize.IBytes(uint64(v.maxBytes)))
}

// Validate checks size, sniffed content type, the allow-list and the
// filename extension, in that order. The body is rewound before returning.
// Errors other than *ValidationError come from reading the body.
func (v *Validator) Validate(up Upload) (*Detected, error) {
	if up.Size <= 0 {
		return nil, reject(ReasonEmpty, "The file %q is empty.", up.Filename)
	}
	if up.Size > v.maxBytes {
		return nil, reject(ReasonTooLarge, "The file is %s; the maximum allowed size is %s.",
			humanize.IBytes(uint64(up.Size)), humanize.IBytes(uint64(v.maxBytes)))
	}

	mtype, err := sniff(up.Body)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(up.Filename))
	contentType, ok := v.resolve(mtype, ext)
	if !ok {
		return nil, reject(ReasonTypeNotAllowed, "Files of type %s are not allowed.", baseType(mtype.String()))
	}

	if ext == "" || ext == "." {
		return nil, reject(ReasonMissingExtension, "The file name %q has no extension.", up.Filename)
	}
	if !extensionMatches(contentType, ext, mtype) {
		return nil, reject(ReasonExtensionMismatch, "The extension %s does not match the file content (%s).", ext, contentType)
	}

	return &Detected{ContentType: contentType, Extension: ext}, nil
}

// sniff reads the head of the stream and seeks back to where it started
func sniff(body io.ReadSeeker) (*mimetype.MIME, error) {
	start, err := body.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}

	head := make([]byte, SniffLen)
	n, err := io.ReadFull(body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if _, err := body.Seek(start, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind upload: %w", err)
	}

	return mimetype.Detect(head[:n]), nil
}

// resolve maps the detected type onto an allowed type by walking up the
// mimetype hierarchy, so csv or markdown detected as a text subtype counts
// as plain text
func (v *Validator) resolve(mtype *mimetype.MIME, ext string) (string, bool) {
	if mtype.Is(oleStorage) {
		if ct, ok := oleByExtension[ext]; ok && v.allows(ct) {
			return ct, true
		}
		return "", false
	}
	for m := mtype; m != nil; m = m.Parent() {
		if m.Is(oleStorage) {
			// msi, msg and friends
			return "", false
		}
		for _, allowed := range v.allowed {
			if m.Is(allowed) {
				return allowed, true
			}
		}
	}
	return "", false
}

func (v *Validator) allows(contentType string) bool {
	for _, allowed := range v.allowed {
		if allowed == contentType {
			return true
		}
	}
	return false
}

func extensionMatches(contentType, ext string, mtype *mimetype.MIME) bool {
	known, ok := extensions[contentType]
	if !ok {
		// types added through configuration fall back to mimetype's extension
		return mtype.Extension() == ext
	}
	for _, e := range known {
		if e == ext {
			return true
		}
	}
	return false
}

func baseType(s string) string {
	if i := strings.IndexByte(s, ';'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
