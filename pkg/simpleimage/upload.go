package simpleimage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/tendant/simple-image/pkg/simpleimage/objectkey"
)

// UploadService stores uploaded images and writes their metadata stub
type UploadService struct {
	*deps
}

// NewUploadService creates an UploadService.
// It requires an object store, a metadata store, an identity verifier and a
// container; a vision annotator is required only with WithSyncOCR.
func NewUploadService(opts ...Option) (*UploadService, error) {
	d, err := newDeps(opts)
	if err != nil {
		return nil, err
	}
	if d.store == nil {
		return nil, errors.New("object store is required")
	}
	if d.metadata == nil {
		return nil, errors.New("metadata store is required")
	}
	if d.verifier == nil {
		return nil, errors.New("identity verifier is required")
	}
	if d.container == "" {
		return nil, errors.New("container is required")
	}
	if d.syncOCR && d.vision == nil {
		return nil, errors.New("vision annotator is required for synchronous OCR")
	}
	return &UploadService{deps: d}, nil
}

// Upload verifies the caller, validates and stores the file, then merges the
// metadata stub. A nil error means the object is durably stored; enrichment
// happens later through the pipeline.
func (s *UploadService) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	subject, err := s.verify(ctx, req.Credential)
	if err != nil {
		s.metrics.UploadCompleted("unauthorized")
		return nil, err
	}

	if req.File == nil {
		s.metrics.UploadCompleted("rejected")
		return nil, ErrMissingFile
	}

	if !s.mimeAllowed(req.MimeType) {
		s.metrics.UploadCompleted("rejected")
		return nil, fmt.Errorf("%w %s", ErrUnsupportedMediaType, req.MimeType)
	}

	now := s.now().UTC()
	key := s.keys.GenerateKey(objectkey.KeyMetadata{
		FileName: req.FileName,
		OwnerID:  subject,
		Time:     now,
	})
	logger := s.logger.With("bucket", s.container, "file", key, "user_id", subject)

	body := req.File
	size := req.Size
	var ocrText *string
	if s.syncOCR {
		data, err := io.ReadAll(req.File)
		if err != nil {
			s.metrics.UploadCompleted("failed")
			return nil, &StorageError{Backend: s.container, Key: key, Op: "read upload", Err: err}
		}
		body = bytes.NewReader(data)
		size = int64(len(data))
		text := s.detectText(ctx, data, logger)
		ocrText = &text
	}

	metadata := map[string]string{}
	if subject != "" {
		metadata[OwnerMetadataKey] = subject
	}

	sctx, cancel := withTimeout(ctx, s.timeouts.Storage)
	err = s.store.Put(sctx, PutObject{
		Container:   s.container,
		Path:        key,
		Body:        body,
		Size:        size,
		ContentType: req.MimeType,
		Metadata:    metadata,
	})
	cancel()
	if err != nil {
		logger.Error("Failed to store uploaded object", "error", err)
		s.metrics.UploadCompleted("failed")
		return nil, &StorageError{Backend: s.container, Key: key, Op: "put", Err: err}
	}

	container := s.container
	uri := s.store.URI(s.container, key)
	mimeType := req.MimeType
	patch := &ImagePatch{
		Container:   &container,
		Path:        &key,
		URI:         &uri,
		ContentType: &mimeType,
		OwnerID:     &subject,
		UploadedAt:  &now,
		OCRText:     ocrText,
	}
	if size > 0 {
		patch.SizeBytes = &size
	}

	id := DocumentID(key)
	mctx, cancel := withTimeout(ctx, s.timeouts.Metadata)
	err = s.metadata.Merge(mctx, id, patch)
	cancel()
	if err != nil {
		logger.Error("Failed to write metadata stub", "doc_id", id, "error", err)
		s.metrics.UploadCompleted("failed")
		return nil, &MetadataError{DocID: id, Op: "merge", Err: err}
	}

	logger.Info("Image uploaded", "doc_id", id)
	s.metrics.UploadCompleted("created")
	return &UploadResult{
		Container: s.container,
		Path:      key,
		DocID:     id,
		FileName:  req.FileName,
	}, nil
}

// detectText runs synchronous OCR; failures degrade to empty text
func (s *UploadService) detectText(ctx context.Context, data []byte, logger *slog.Logger) string {
	vctx, cancel := withTimeout(ctx, s.timeouts.Vision)
	defer cancel()
	annotations, err := s.vision.DetectText(vctx, ImageSource{Content: data})
	if err != nil {
		logger.Warn("Synchronous text detection failed", "error", err)
		s.metrics.VisionFailed("text")
		return ""
	}
	return FullText(annotations)
}
