package presigned

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
)

type contextKey string

const (
	containerContextKey contextKey = "presigned:container"
	objectKeyContextKey contextKey = "presigned:object_key"
)

// ValidateMiddleware returns HTTP middleware that rejects requests without a
// valid signature and stores the signed container and key in the context.
//
// Example:
//
//	r.With(presigned.ValidateMiddleware(signer)).Get("/objects/*", serveObject)
func ValidateMiddleware(signer *Signer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !signer.IsEnabled() {
				writeError(w, r, http.StatusNotFound, "signed downloads are disabled")
				return
			}

			if err := signer.ValidateRequest(r); err != nil {
				handleValidationError(w, r, err)
				return
			}

			container, key, err := signer.ParseObjectPath(r.URL.Path)
			if err != nil {
				writeError(w, r, http.StatusBadRequest, "invalid object path")
				return
			}

			ctx := context.WithValue(r.Context(), containerContextKey, container)
			ctx = context.WithValue(ctx, objectKeyContextKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ObjectFromContext returns the validated container and key, or empty strings
func ObjectFromContext(ctx context.Context) (string, string) {
	container, _ := ctx.Value(containerContextKey).(string)
	key, _ := ctx.Value(objectKeyContextKey).(string)
	return container, key
}

func handleValidationError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrMissingSignature):
		writeError(w, r, http.StatusUnauthorized, "missing signature parameter")
	case errors.Is(err, ErrMissingExpiration):
		writeError(w, r, http.StatusUnauthorized, "missing expires parameter")
	case errors.Is(err, ErrInvalidExpiration):
		writeError(w, r, http.StatusBadRequest, "invalid expires parameter")
	case errors.Is(err, ErrExpired):
		writeError(w, r, http.StatusForbidden, "signed url has expired")
	case errors.Is(err, ErrInvalidSignature):
		writeError(w, r, http.StatusForbidden, "invalid signature")
	default:
		slog.Warn("presigned: validation error", "error", err)
		writeError(w, r, http.StatusForbidden, "authentication failed")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": msg})
}
