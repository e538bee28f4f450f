package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"github.com/tendant/simple-image/pkg/simpleimage"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
}

// MessageResponse is the body of requests that only report success
type MessageResponse struct {
	Message string `json:"message"`
}

// statusFor maps a service error to its HTTP status and client message.
// Messages of 401, 403 and 5xx responses never carry internal details.
func statusFor(err error) (int, string) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, simpleimage.ErrMissingCredential):
		return http.StatusUnauthorized, "Unauthorized: " + simpleimage.ErrMissingCredential.Error()
	case errors.Is(err, simpleimage.ErrUnauthorized):
		return http.StatusUnauthorized, "Unauthorized: invalid token"
	case errors.Is(err, simpleimage.ErrForbidden):
		return http.StatusForbidden, "Forbidden: " + simpleimage.ErrForbidden.Error()
	case errors.Is(err, simpleimage.ErrNotFound):
		return http.StatusNotFound, "Document not found"
	case errors.Is(err, simpleimage.ErrMissingFile), errors.Is(err, simpleimage.ErrMissingParam):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, simpleimage.ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType, err.Error()
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge, "request body too large"
	case errors.Is(err, simpleimage.ErrIncompleteMetadata):
		return http.StatusInternalServerError, simpleimage.ErrIncompleteMetadata.Error()
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	writeErrorMessage(w, r, status, msg)
}

func writeErrorMessage(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: msg})
}
