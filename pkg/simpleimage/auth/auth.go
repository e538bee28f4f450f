// Package auth provides simpleimage.IdentityVerifier implementations for
// bearer credentials.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"
	"github.com/go-chi/jwtauth"
	"github.com/lestrrat-go/jwx/jwt"
	"google.golang.org/api/option"

	"github.com/tendant/simple-image/pkg/simpleimage"
)

// BearerToken returns the credential of an "Authorization: Bearer" header,
// or the empty string when the header is absent or malformed
func BearerToken(r *http.Request) string {
	return jwtauth.TokenFromHeader(r)
}

// JWTVerifier validates self-issued JWTs and returns their "sub" claim
type JWTVerifier struct {
	ja *jwtauth.JWTAuth
}

// NewJWTVerifier creates a verifier for alg with the given verification key.
// For HMAC algorithms the key is the shared secret.
func NewJWTVerifier(alg string, key interface{}) (*JWTVerifier, error) {
	if key == nil {
		return nil, errors.New("jwt verification key is required")
	}
	if s, ok := key.(string); ok {
		if s == "" {
			return nil, errors.New("jwt verification key is required")
		}
		key = []byte(s)
	}
	return &JWTVerifier{ja: jwtauth.New(alg, key, key)}, nil
}

// JWTAuth exposes the underlying jwtauth instance, e.g. to issue tokens in tests
func (v *JWTVerifier) JWTAuth() *jwtauth.JWTAuth {
	return v.ja
}

// Verify checks signature, expiry and the presence of a subject
func (v *JWTVerifier) Verify(ctx context.Context, credential string) (string, error) {
	if credential == "" {
		return "", simpleimage.ErrMissingCredential
	}
	token, err := v.ja.Decode(credential)
	if err != nil {
		return "", fmt.Errorf("%w: %v", simpleimage.ErrUnauthorized, err)
	}
	if err := jwt.Validate(token); err != nil {
		return "", fmt.Errorf("%w: %v", simpleimage.ErrUnauthorized, err)
	}
	if token.Subject() == "" {
		return "", fmt.Errorf("%w: token has no subject", simpleimage.ErrUnauthorized)
	}
	return token.Subject(), nil
}

// idTokenVerifier is the subset of the Firebase auth client used here
type idTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error)
}

// FirebaseVerifier validates Firebase ID tokens and returns the user uid
type FirebaseVerifier struct {
	client idTokenVerifier
}

// NewFirebaseVerifier initializes a Firebase app for projectID
func NewFirebaseVerifier(ctx context.Context, projectID string, opts ...option.ClientOption) (*FirebaseVerifier, error) {
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase auth: %w", err)
	}
	return &FirebaseVerifier{client: client}, nil
}

// Verify checks the ID token with Firebase
func (v *FirebaseVerifier) Verify(ctx context.Context, credential string) (string, error) {
	if credential == "" {
		return "", simpleimage.ErrMissingCredential
	}
	token, err := v.client.VerifyIDToken(ctx, credential)
	if err != nil {
		return "", fmt.Errorf("%w: %v", simpleimage.ErrUnauthorized, err)
	}
	if token.UID == "" {
		return "", fmt.Errorf("%w: token has no uid", simpleimage.ErrUnauthorized)
	}
	return token.UID, nil
}
