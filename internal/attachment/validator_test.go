package attachment

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func pdfBytes(size int) []byte {
	head := []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	if size < len(head) {
		size = len(head)
	}
	out := make([]byte, size)
	copy(out, head)
	for i := len(head); i < size; i++ {
		out[i] = ' '
	}
	return out
}

func pngBytes() []byte {
	return append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 64)...)
}

func jpegBytes() []byte {
	return append([]byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00\x01\x01"), make([]byte, 64)...)
}

func oleBytes() []byte {
	b := make([]byte, 4096)
	copy(b, []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1})
	return b
}

func ooxmlBytes(t *testing.T, dir string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range []string{"[Content_Types].xml", "_rels/.rels", dir + "/document.xml"} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><x/>`))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func plainZip(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("notes/a.bin")
	require.NoError(t, err)
	_, err = w.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func upload(name string, data []byte) Upload {
	return Upload{Filename: name, Size: int64(len(data)), Body: bytes.NewReader(data)}
}

func TestValidatorAccepts(t *testing.T) {
	v := NewValidator(0, nil)

	cases := []struct {
		name     string
		filename string
		data     []byte
		want     string
	}{
		{"pdf", "Report.PDF", pdfBytes(512), "application/pdf"},
		{"png", "diagram.png", pngBytes(), "image/png"},
		{"jpeg", "photo.jpeg", jpegBytes(), "image/jpeg"},
		{"jpg", "photo.JPG", jpegBytes(), "image/jpeg"},
		{"text", "notes.txt", []byte("remember the milk\nand the eggs\n"), "text/plain"},
		{"csv as text", "table.txt", []byte("a,b,c\n1,2,3\n4,5,6\n"), "text/plain"},
		{"legacy word", "old.doc", oleBytes(), "application/msword"},
		{"legacy excel", "old.xls", oleBytes(), "application/vnd.ms-excel"},
		{"docx", "letter.docx", ooxmlBytes(t, "word"), "application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
		{"xlsx", "budget.xlsx", ooxmlBytes(t, "xl"), "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := v.Validate(upload(tc.filename, tc.data))
			require.NoError(t, err)
			require.Equal(t, tc.want, got.ContentType)
		})
	}
}

func TestValidatorRejects(t *testing.T) {
	v := NewValidator(1024, nil)

	cases := []struct {
		name   string
		up     Upload
		reason Reason
	}{
		{"empty", upload("empty.pdf", nil), ReasonEmpty},
		{"too large", Upload{Filename: "big.pdf", Size: 1025, Body: bytes.NewReader(pdfBytes(64))}, ReasonTooLarge},
		{"renamed executable", upload("invoice.pdf", append([]byte("MZ\x90\x00\x03\x00\x00\x00"), make([]byte, 128)...)), ReasonTypeNotAllowed},
		{"elf", upload("tool.txt", append([]byte("\x7fELF\x02\x01\x01"), make([]byte, 64)...)), ReasonTypeNotAllowed},
		{"plain zip", upload("archive.docx", plainZip(t)), ReasonTypeNotAllowed},
		{"ole with foreign extension", upload("old.txt", oleBytes()[:1024]), ReasonTypeNotAllowed},
		{"pdf named png", upload("image.png", pdfBytes(128)), ReasonExtensionMismatch},
		{"csv extension", upload("table.csv", []byte("a,b,c\n1,2,3\n")), ReasonExtensionMismatch},
		{"no extension", upload("README", []byte("plain words\n")), ReasonMissingExtension},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Validate(tc.up)
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			require.Equal(t, tc.reason, ve.Reason)
			require.NotEmpty(t, ve.Message)
		})
	}
}

func TestValidatorNamesDetectedType(t *testing.T) {
	v := NewValidator(0, nil)
	_, err := v.Validate(upload("invoice.pdf", append([]byte("\x7fELF\x02\x01\x01"), make([]byte, 64)...)))
	require.Error(t, err)
	require.Contains(t, err.Error(), "application/x-elf")
}

func TestValidatorSizeMessage(t *testing.T) {
	v := NewValidator(DefaultMaxBytes, nil)
	_, err := v.Validate(Upload{Filename: "big.pdf", Size: DefaultMaxBytes + 1, Body: bytes.NewReader(pdfBytes(16))})
	require.Error(t, err)
	require.Contains(t, err.Error(), "10 MiB")
}

func TestValidatorRewindsBody(t *testing.T) {
	v := NewValidator(0, nil)
	data := pdfBytes(8192)
	body := bytes.NewReader(data)

	_, err := v.Validate(Upload{Filename: "long.pdf", Size: int64(len(data)), Body: body})
	require.NoError(t, err)

	got, err := io.ReadAll(body)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestValidatorRespectsConfiguredAllowList(t *testing.T) {
	v := NewValidator(0, []string{"image/png"})

	_, err := v.Validate(upload("notes.txt", []byte("hello\n")))
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	require.Equal(t, ReasonTypeNotAllowed, ve.Reason)

	_, err = v.Validate(upload("old.doc", oleBytes()))
	require.True(t, errors.As(err, &ve))
	require.Equal(t, ReasonTypeNotAllowed, ve.Reason)

	_, err = v.Validate(upload("diagram.png", pngBytes()))
	require.NoError(t, err)
}

func TestBaseType(t *testing.T) {
	require.Equal(t, "text/plain", baseType("text/plain; charset=utf-8"))
	require.Equal(t, "image/png", baseType("image/png"))
	require.True(t, strings.HasPrefix(DefaultAllowedTypes[0], "application/"))
}
