package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/cors"
	"github.com/go-chi/render"

	"github.com/tendant/simple-image/pkg/simpleimage"
	"github.com/tendant/simple-image/pkg/simpleimage/auth"
)

const (
	corsAllowMethods = "GET, POST, DELETE, OPTIONS"
	corsAllowHeaders = "Authorization, Content-Type"
	corsMaxAge       = 86400
)

// PreflightResponse is the body returned to CORS preflight requests
type PreflightResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// CORS returns middleware that applies the CORS policy for origins and
// answers every OPTIONS request itself, whatever the route.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	wildcard := false
	for _, o := range origins {
		if o == "*" {
			wildcard = true
		}
	}

	c := cors.New(cors.Options{
		AllowedOrigins:     origins,
		AllowedMethods:     strings.Split(strings.ReplaceAll(corsAllowMethods, " ", ""), ","),
		AllowedHeaders:     strings.Split(strings.ReplaceAll(corsAllowHeaders, " ", ""), ","),
		MaxAge:             corsMaxAge,
		OptionsPassthrough: true,
	})

	return func(next http.Handler) http.Handler {
		inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			h := w.Header()
			if wildcard {
				h.Set("Access-Control-Allow-Origin", "*")
			}
			h.Set("Access-Control-Allow-Methods", corsAllowMethods)
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			h.Set("Access-Control-Max-Age", strconv.Itoa(corsMaxAge))
			render.Status(r, http.StatusOK)
			render.JSON(w, r, PreflightResponse{Status: "success", Message: "Preflight request handled"})
		})
		handler := c.Handler(inner)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if wildcard {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			}
			handler.ServeHTTP(w, r)
		})
	}
}

type contextKey string

const bodyLimitKey contextKey = "body_limit"

// MaxBodySize limits request bodies to limit bytes. Zero disables the limit.
func MaxBodySize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			ctx := context.WithValue(r.Context(), bodyLimitKey, limit)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bodyLimitExceeded reports whether err was caused by the MaxBodySize limit
func bodyLimitExceeded(r *http.Request, err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	limit, ok := r.Context().Value(bodyLimitKey).(int64)
	return ok && r.ContentLength > limit
}

// AuthenticateFunc verifies a bearer credential and returns its subject
type AuthenticateFunc func(ctx context.Context, credential string) (string, error)

// Authenticator verifies the bearer credential before the request body or
// parameters are looked at, and stores the subject in the request context.
// Failures are answered with 401.
func Authenticator(authenticate AuthenticateFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, err := authenticate(r.Context(), auth.BearerToken(r))
			if err != nil {
				writeError(w, r, err)
				return
			}
			ctx := simpleimage.ContextWithSubject(r.Context(), subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
