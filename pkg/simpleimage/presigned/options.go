package presigned

import (
	"strings"
	"time"
)

// Option is a functional option for configuring a Signer
type Option func(*Signer)

// WithSecretKey sets the secret key used for HMAC signing.
// The key should be at least 32 bytes.
func WithSecretKey(key string) Option {
	return func(s *Signer) {
		s.secretKey = []byte(key)
	}
}

// WithBaseURL sets the scheme and host prepended to signed paths,
// e.g. "https://images.example.com". Without it signed URLs are relative.
func WithBaseURL(baseURL string) Option {
	return func(s *Signer) {
		s.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithPathPrefix sets the route under which objects are served.
// Default is "/objects".
func WithPathPrefix(prefix string) Option {
	return func(s *Signer) {
		s.pathPrefix = "/" + strings.Trim(prefix, "/")
	}
}

// WithClock overrides the time source used for expiry
func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		if now != nil {
			s.now = now
		}
	}
}
