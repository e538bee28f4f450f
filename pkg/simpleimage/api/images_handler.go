package api

import (
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/tendant/simple-image/pkg/simpleimage"
	"github.com/tendant/simple-image/pkg/simpleimage/auth"
)

// formFileField is the multipart field carrying the image
const formFileField = "image"

// maxMultipartMemory is the part of a multipart body kept in memory before
// spilling to temporary files
const maxMultipartMemory = 32 << 20

// ImagesHandler handles upload, listing, lookup and deletion of images
type ImagesHandler struct {
	upload *simpleimage.UploadService
	query  *simpleimage.QueryService
	logger *slog.Logger
}

// NewImagesHandler creates a new images handler
func NewImagesHandler(upload *simpleimage.UploadService, query *simpleimage.QueryService, logger *slog.Logger) *ImagesHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImagesHandler{upload: upload, query: query, logger: logger}
}

// Routes returns the router for image endpoints
func (h *ImagesHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(Authenticator(h.query.Authenticate))
	r.Post("/", h.Upload)
	r.Get("/", h.List)
	r.Delete("/", h.Delete)
	r.Get("/metadata", h.GetMetadata)
	return r
}

// UploadResponse is the body of a successful upload
type UploadResponse struct {
	Message  string `json:"message"`
	FileName string `json:"fileName"`
	DocID    string `json:"docId"`
}

// Upload stores the multipart "image" field
func (h *ImagesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	file, header, err := formFile(r)
	if err != nil {
		h.logger.Warn("Invalid upload request", "error", err)
		writeError(w, r, err)
		return
	}
	defer file.Close()

	res, err := h.upload.Upload(r.Context(), simpleimage.UploadRequest{
		Credential: auth.BearerToken(r),
		File:       file,
		FileName:   header.Filename,
		MimeType:   header.Header.Get("Content-Type"),
		Size:       header.Size,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, UploadResponse{
		Message:  fmt.Sprintf("File '%s' uploaded successfully as '%s'.", header.Filename, res.Path),
		FileName: res.Path,
		DocID:    res.DocID,
	})
}

// List returns the caller's images
func (h *ImagesHandler) List(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.query.ListForOwner(r.Context(), auth.BearerToken(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, summaries)
}

// GetMetadata returns the document named by the docId query parameter
func (h *ImagesHandler) GetMetadata(w http.ResponseWriter, r *http.Request) {
	docID := r.URL.Query().Get("docId")
	if docID == "" {
		writeErrorMessage(w, r, http.StatusBadRequest, "missing required parameter: docId")
		return
	}

	detail, err := h.query.GetOne(r.Context(), auth.BearerToken(r), docID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, detail)
}

// Delete removes the image named by the fileName or docId query parameter
func (h *ImagesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	docID := r.URL.Query().Get("docId")
	if fileName := r.URL.Query().Get("fileName"); docID == "" && fileName != "" {
		docID = simpleimage.DocumentID(fileName)
	}
	if docID == "" {
		writeErrorMessage(w, r, http.StatusBadRequest, "missing required parameter: fileName or docId")
		return
	}

	res, err := h.query.DeleteOne(r.Context(), auth.BearerToken(r), docID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, MessageResponse{Message: fmt.Sprintf("File '%s' deleted successfully.", res.Path)})
}

// formFile reads the image part of a multipart request. Body limit
// violations surface as *http.MaxBytesError.
func formFile(r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		if bodyLimitExceeded(r, err) {
			return nil, nil, &http.MaxBytesError{}
		}
		if errors.Is(err, http.ErrNotMultipart) {
			return nil, nil, simpleimage.ErrMissingFile
		}
		return nil, nil, fmt.Errorf("%w: invalid multipart form", simpleimage.ErrMissingFile)
	}
	file, header, err := r.FormFile(formFileField)
	if err != nil {
		return nil, nil, simpleimage.ErrMissingFile
	}
	return file, header, nil
}
