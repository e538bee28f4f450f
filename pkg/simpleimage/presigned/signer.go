package presigned

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultPathPrefix is the route objects are served under
const DefaultPathPrefix = "/objects"

// Signer generates and validates HMAC-signed object download URLs.
// It gives storage backends without native URL signing (memory, filesystem)
// the same time-limited URLs that S3 and GCS mint.
type Signer struct {
	secretKey  []byte
	baseURL    string
	pathPrefix string
	now        func() time.Time
}

// New creates a new Signer with the given options
func New(opts ...Option) *Signer {
	s := &Signer{
		pathPrefix: DefaultPathPrefix,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// IsEnabled returns true if a secret key is set
func (s *Signer) IsEnabled() bool {
	return len(s.secretKey) > 0
}

// PathPrefix returns the route prefix objects are served under
func (s *Signer) PathPrefix() string {
	return s.pathPrefix
}

// ObjectPath returns the unescaped request path serving an object
func (s *Signer) ObjectPath(container, key string) string {
	return s.pathPrefix + "/" + container + "/" + key
}

// SignURL returns a URL for reading container/key that expires after ttl.
//
// Example:
//
//	url, err := signer.SignURL(http.MethodGet, "images", "uploads/a.png", 15*time.Minute)
//	// Returns: /objects/images/uploads/a.png?expires=1696789012&signature=abc123...
func (s *Signer) SignURL(method, container, key string, ttl time.Duration) (string, error) {
	if !s.IsEnabled() {
		return "", ErrNoSecretKey
	}
	if container == "" || key == "" {
		return "", ErrInvalidObjectPath
	}

	expiresAt := s.now().Add(ttl).Unix()
	signature := s.generateSignature(s.createPayload(method, s.ObjectPath(container, key), expiresAt))

	query := url.Values{}
	query.Set("expires", strconv.FormatInt(expiresAt, 10))
	query.Set("signature", signature)

	return s.baseURL + s.escapedObjectPath(container, key) + "?" + query.Encode(), nil
}

// ValidateRequest validates the signature and expiration of an HTTP request.
// HEAD requests are accepted with a GET signature.
func (s *Signer) ValidateRequest(r *http.Request) error {
	query := r.URL.Query()
	signature := query.Get("signature")
	expiresStr := query.Get("expires")

	if signature == "" {
		return ErrMissingSignature
	}
	if expiresStr == "" {
		return ErrMissingExpiration
	}

	expiresAt, err := strconv.ParseInt(expiresStr, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidExpiration, err)
	}

	method := r.Method
	if method == http.MethodHead {
		method = http.MethodGet
	}
	return s.Validate(method, r.URL.Path, signature, expiresAt)
}

// Validate checks a signature over method, unescaped path and expiry
func (s *Signer) Validate(method, path, signature string, expiresAt int64) error {
	if s.now().Unix() > expiresAt {
		return ErrExpired
	}

	expected := s.generateSignature(s.createPayload(method, path, expiresAt))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return ErrInvalidSignature
	}

	return nil
}

// ParseObjectPath splits a request path into container and key
func (s *Signer) ParseObjectPath(path string) (string, string, error) {
	rest, ok := strings.CutPrefix(path, s.pathPrefix+"/")
	if !ok {
		return "", "", ErrInvalidObjectPath
	}
	container, key, ok := strings.Cut(rest, "/")
	if !ok || container == "" || key == "" {
		return "", "", ErrInvalidObjectPath
	}
	return container, key, nil
}

func (s *Signer) escapedObjectPath(container, key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.pathPrefix + "/" + url.PathEscape(container) + "/" + strings.Join(segments, "/")
}

// createPayload formats METHOD|PATH|EXPIRES
func (s *Signer) createPayload(method, path string, expiresAt int64) string {
	return fmt.Sprintf("%s|%s|%d", method, path, expiresAt)
}

func (s *Signer) generateSignature(payload string) string {
	h := hmac.New(sha256.New, s.secretKey)
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}
