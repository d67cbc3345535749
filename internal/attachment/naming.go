package attachment

import (
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	keyTimeLayout = "20060102150405"
	maxStemLen    = 50
	tokenLen      = 8
)

// Namer generates storage keys of the form
// {owner}/{YYYYMMDDHHMMSS}_{token}_{sanitized name}
type Namer struct {
	now   func() time.Time
	token func() string

	mu     sync.Mutex
	stamp  string
	issued map[string]struct{}
}

func NewNamer() *Namer {
	return &Namer{
		now:   time.Now,
		token: randomToken,
	}
}

func randomToken() string {
	return uuid.New().String()[:tokenLen]
}

// Generate returns a new key for filename under ownerID. Tokens are never
// repeated within the same second by one Namer; across processes the storage
// conflict check is the backstop.
func (n *Namer) Generate(ownerID int, filename string) string {
	stamp := n.now().UTC().Format(keyTimeLayout)
	return OwnerPrefix(ownerID) + stamp + "_" + n.nextToken(stamp) + "_" + SanitizeFilename(filename)
}

func (n *Namer) nextToken(stamp string) string {
	n.mu.Lock()
	defer n.mu.Unlock()

	if stamp != n.stamp {
		n.stamp = stamp
		n.issued = make(map[string]struct{})
	}

	var tok string
	for attempt := 0; attempt < 8; attempt++ {
		tok = n.token()
		if _, dup := n.issued[tok]; !dup {
			break
		}
	}
	n.issued[tok] = struct{}{}
	return tok
}

// OwnerPrefix is the key prefix shared by all blobs of one task
func OwnerPrefix(ownerID int) string {
	return strconv.Itoa(ownerID) + "/"
}

// SanitizeFilename lowercases the name, collapses every run of characters
// outside [a-z0-9] in the stem into one hyphen and caps the stem at 50
// characters. The extension is kept, lowercased.
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))

	ext := ""
	stem := name
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		stem, ext = name[:i], name[i+1:]
	}

	stem = slug(strings.ToLower(stem))
	if len(stem) > maxStemLen {
		stem = strings.TrimRight(stem[:maxStemLen], "-")
	}
	if stem == "" {
		stem = "file"
	}

	ext = strings.Map(func(r rune) rune {
		if isKeyChar(r) {
			return r
		}
		return -1
	}, strings.ToLower(ext))
	if ext == "" {
		return stem
	}
	return stem + "." + ext
}

func slug(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	hyphen := false
	for _, r := range s {
		if isKeyChar(r) {
			b.WriteRune(r)
			hyphen = false
			continue
		}
		if !hyphen {
			b.WriteByte('-')
			hyphen = true
		}
	}
	return strings.Trim(b.String(), "-")
}

func isKeyChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}

// KeyTime extracts the creation time embedded in a generated key
func KeyTime(key string) (time.Time, bool) {
	base := key[strings.LastIndexByte(key, '/')+1:]
	if len(base) < len(keyTimeLayout) {
		return time.Time{}, false
	}
	t, err := time.Parse(keyTimeLayout, base[:len(keyTimeLayout)])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
