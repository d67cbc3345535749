package storage

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const blobAudience = "blob-read"

var ErrInvalidSignature = errors.New("storage: invalid or expired signature")

// URLSigner issues and verifies read URLs for backends served by this
// application. The token is an HS256 JWT bound to a single key.
type URLSigner struct {
	secret  []byte
	baseURL string
	now     func() time.Time
}

type blobClaims struct {
	Key         string `json:"key"`
	Name        string `json:"name,omitempty"`
	ContentType string `json:"ct,omitempty"`
	jwt.RegisteredClaims
}

// SignedBlob is what a verified token grants
type SignedBlob struct {
	Key          string
	DownloadName string
	ContentType  string
	ExpiresAt    time.Time
}

func NewURLSigner(secret, baseURL string) *URLSigner {
	return &URLSigner{
		secret:  []byte(secret),
		baseURL: strings.TrimSuffix(baseURL, "/"),
		now:     time.Now,
	}
}

// Sign returns {baseURL}/blobs/{key}?token=...
func (s *URLSigner) Sign(key string, opts SignOptions) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}

	now := s.now()
	claims := blobClaims{
		Key:         key,
		Name:        opts.DownloadName,
		ContentType: opts.ContentType,
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{blobAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttlOrDefault(opts.TTL))),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign blob url: %w", err)
	}

	return s.baseURL + BlobPath(key) + "?token=" + url.QueryEscape(token), nil
}

// Verify checks that token is valid, unexpired and issued for key
func (s *URLSigner) Verify(key, token string) (*SignedBlob, error) {
	var claims blobClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(blobAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidSignature
	}
	if claims.Key != key {
		return nil, ErrInvalidSignature
	}

	return &SignedBlob{
		Key:          claims.Key,
		DownloadName: claims.Name,
		ContentType:  claims.ContentType,
		ExpiresAt:    claims.ExpiresAt.Time,
	}, nil
}

// BlobPath is the route path a key is served under
func BlobPath(key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return "/blobs/" + strings.Join(segments, "/")
}
