package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tendant/simple-image/pkg/simpleimage"
	"github.com/tendant/simple-image/pkg/simpleimage/presigned"
)

// ObjectsHandler serves the signed download URLs of backends that cannot
// sign natively
type ObjectsHandler struct {
	store  simpleimage.ObjectStore
	signer *presigned.Signer
	logger *slog.Logger
}

// NewObjectsHandler creates a new object download handler
func NewObjectsHandler(store simpleimage.ObjectStore, signer *presigned.Signer, logger *slog.Logger) *ObjectsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ObjectsHandler{store: store, signer: signer, logger: logger}
}

// Routes returns the router for object downloads, to be mounted at the
// signer's path prefix
func (h *ObjectsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(presigned.ValidateMiddleware(h.signer))
	r.Get("/*", h.Download)
	r.Head("/*", h.Download)
	return r
}

// Download streams the object validated by the presigned middleware
func (h *ObjectsHandler) Download(w http.ResponseWriter, r *http.Request) {
	container, key := presigned.ObjectFromContext(r.Context())
	logger := h.logger.With("bucket", container, "file", key)

	attrs, err := h.store.Stat(r.Context(), container, key)
	if err != nil {
		if errors.Is(err, simpleimage.ErrObjectNotFound) {
			writeErrorMessage(w, r, http.StatusNotFound, "object not found")
			return
		}
		logger.Error("Failed to stat object", "error", err)
		writeError(w, r, err)
		return
	}

	var body io.ReadCloser
	if r.Method != http.MethodHead {
		body, err = h.store.Get(r.Context(), container, key)
		if err != nil {
			if errors.Is(err, simpleimage.ErrObjectNotFound) {
				writeErrorMessage(w, r, http.StatusNotFound, "object not found")
				return
			}
			logger.Error("Failed to open object", "error", err)
			writeError(w, r, err)
			return
		}
		defer body.Close()
	}

	if attrs.ContentType != "" {
		w.Header().Set("Content-Type", attrs.ContentType)
	}
	w.Header().Set("Content-Length", strconv.FormatInt(attrs.Size, 10))
	w.Header().Set("Cache-Control", "private, max-age=0")
	w.WriteHeader(http.StatusOK)
	if body == nil {
		return
	}
	if _, err := io.Copy(w, body); err != nil {
		logger.Warn("Failed to stream object", "error", err)
	}
}
