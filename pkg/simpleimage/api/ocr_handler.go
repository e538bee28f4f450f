package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/tendant/simple-image/pkg/simpleimage"
	"github.com/tendant/simple-image/pkg/simpleimage/auth"
)

// OCRHandler serves one-shot text detection
type OCRHandler struct {
	ocr    *simpleimage.OCRService
	logger *slog.Logger
}

// NewOCRHandler creates a new OCR handler
func NewOCRHandler(ocr *simpleimage.OCRService, logger *slog.Logger) *OCRHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OCRHandler{ocr: ocr, logger: logger}
}

// OCRResponse is the body of a successful text detection
type OCRResponse struct {
	Boxes []simpleimage.TextBox `json:"boxes"`
}

// Extract runs text detection on the multipart "image" field
func (h *OCRHandler) Extract(w http.ResponseWriter, r *http.Request) {
	file, header, err := formFile(r)
	if err != nil {
		h.logger.Warn("Invalid ocr request", "error", err)
		writeError(w, r, err)
		return
	}
	defer file.Close()

	boxes, err := h.ocr.ExtractBoxes(r.Context(), simpleimage.OCRRequest{
		Credential: auth.BearerToken(r),
		File:       file,
		MimeType:   header.Header.Get("Content-Type"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, OCRResponse{Boxes: boxes})
}
