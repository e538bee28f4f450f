package simpleimage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// OCRService extracts word boxes from an image without storing it
type OCRService struct {
	*deps
}

// NewOCRService creates an OCRService. It requires a vision annotator, and an
// identity verifier when WithOCRAuth is set.
func NewOCRService(opts ...Option) (*OCRService, error) {
	d, err := newDeps(opts)
	if err != nil {
		return nil, err
	}
	if d.vision == nil {
		return nil, errors.New("vision annotator is required")
	}
	if d.ocrRequireAuth && d.verifier == nil {
		return nil, errors.New("identity verifier is required when ocr auth is enabled")
	}
	return &OCRService{deps: d}, nil
}

// RequiresAuth reports whether text detection needs a verified caller
func (s *OCRService) RequiresAuth() bool {
	return s.ocrRequireAuth
}

// ExtractBoxes runs text detection on the request image and returns one box
// per detected word. The full-text annotation is not included.
func (s *OCRService) ExtractBoxes(ctx context.Context, req OCRRequest) ([]TextBox, error) {
	if s.ocrRequireAuth {
		if _, err := s.verify(ctx, req.Credential); err != nil {
			return nil, err
		}
	}
	if req.File == nil {
		return nil, ErrMissingFile
	}
	if !s.mimeAllowed(req.MimeType) {
		return nil, fmt.Errorf("%w %s", ErrUnsupportedMediaType, req.MimeType)
	}

	data, err := io.ReadAll(req.File)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	vctx, cancel := withTimeout(ctx, s.timeouts.Vision)
	defer cancel()
	annotations, err := s.vision.DetectText(vctx, ImageSource{Content: data})
	if err != nil {
		s.logger.Error("Text detection failed", "error", err)
		s.metrics.VisionFailed("text")
		return nil, &AnnotationError{Feature: "text", Err: err}
	}
	return BoxesFromAnnotations(annotations), nil
}
