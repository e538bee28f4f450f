package simpleimage

import (
	"context"
	"errors"
	"log/slog"
)

// QueryService reads, signs and deletes images on behalf of their owners
type QueryService struct {
	*deps
}

// NewQueryService creates a QueryService. It requires an object store, a
// metadata store and an identity verifier.
func NewQueryService(opts ...Option) (*QueryService, error) {
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
	return &QueryService{deps: d}, nil
}

// ListForOwner returns a summary of every image owned by the caller.
// Records that do not locate an object are skipped, and an item whose URL
// could not be signed is returned with a nil SignedURL.
func (s *QueryService) ListForOwner(ctx context.Context, credential string) ([]ImageSummary, error) {
	subject, err := s.verify(ctx, credential)
	if err != nil {
		return nil, err
	}
	logger := s.logger.With("user_id", subject)

	mctx, cancel := withTimeout(ctx, s.timeouts.Metadata)
	records, err := s.metadata.ListByOwner(mctx, subject)
	cancel()
	if err != nil {
		logger.Error("Failed to list image metadata", "error", err)
		return nil, &MetadataError{Op: "list", Err: err}
	}

	summaries := make([]ImageSummary, 0, len(records))
	for _, rec := range records {
		if !rec.Complete() {
			logger.Warn("Skipping record with incomplete metadata", "doc_id", rec.ID)
			continue
		}
		labels := rec.Labels
		if labels == nil {
			labels = []Label{}
		}
		summaries = append(summaries, ImageSummary{
			ID:          rec.ID,
			FileName:    rec.Path,
			Labels:      labels,
			OCRText:     rec.OCRText,
			SignedURL:   s.sign(ctx, rec, logger),
			ProcessedAt: rec.ProcessedAt,
			CreatedAt:   rec.CreatedAt,
			Size:        rec.SizeBytes,
		})
	}
	return summaries, nil
}

// GetOne returns the full record of docID with a signed URL attached.
// When owner scoping is enabled only the owner may read it.
func (s *QueryService) GetOne(ctx context.Context, credential, docID string) (*ImageDetail, error) {
	subject, err := s.verify(ctx, credential)
	if err != nil {
		return nil, err
	}
	if docID == "" {
		return nil, ErrMissingParam
	}
	logger := s.logger.With("user_id", subject, "doc_id", docID)

	rec, err := s.get(ctx, docID)
	if err != nil {
		return nil, err
	}
	if s.ownerScoped && rec.OwnerID != subject {
		logger.Warn("Caller does not own requested document")
		return nil, ErrForbidden
	}
	if !rec.Complete() {
		logger.Error("Stored document has incomplete metadata")
		return nil, ErrIncompleteMetadata
	}

	return &ImageDetail{
		ImageRecord: *rec,
		SignedURL:   s.sign(ctx, rec, logger),
	}, nil
}

// DeleteOne removes the object and the document of docID. Only the owner may
// delete. An object or document that is already gone is not an error; any
// other storage failure aborts before the document is touched.
func (s *QueryService) DeleteOne(ctx context.Context, credential, docID string) (*DeleteResult, error) {
	subject, err := s.verify(ctx, credential)
	if err != nil {
		return nil, err
	}
	if docID == "" {
		return nil, ErrMissingParam
	}
	logger := s.logger.With("user_id", subject, "doc_id", docID)

	rec, err := s.get(ctx, docID)
	if err != nil {
		return nil, err
	}
	if rec.OwnerID != subject {
		logger.Warn("Caller does not own document to delete")
		return nil, ErrForbidden
	}

	result := &DeleteResult{DocID: docID, Path: rec.Path}
	if rec.Complete() {
		sctx, cancel := withTimeout(ctx, s.timeouts.Storage)
		err = s.store.Delete(sctx, rec.Container, rec.Path)
		cancel()
		switch {
		case errors.Is(err, ErrObjectNotFound):
			logger.Warn("Object already absent from storage", "file", rec.Path)
		case err != nil:
			logger.Error("Failed to delete object", "file", rec.Path, "error", err)
			return nil, &StorageError{Backend: rec.Container, Key: rec.Path, Op: "delete", Err: err}
		default:
			result.ObjectDeleted = true
		}
	}

	mctx, cancel := withTimeout(ctx, s.timeouts.Metadata)
	err = s.metadata.Delete(mctx, docID)
	cancel()
	if err != nil && !errors.Is(err, ErrNotFound) {
		logger.Error("Failed to delete image metadata", "error", err)
		return nil, &MetadataError{DocID: docID, Op: "delete", Err: err}
	}

	logger.Info("Image deleted", "file", rec.Path, "object_deleted", result.ObjectDeleted)
	return result, nil
}

func (s *QueryService) get(ctx context.Context, docID string) (*ImageRecord, error) {
	mctx, cancel := withTimeout(ctx, s.timeouts.Metadata)
	defer cancel()
	rec, err := s.metadata.Get(mctx, docID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &MetadataError{DocID: docID, Op: "get", Err: err}
	}
	if rec.ID == "" {
		rec.ID = docID
	}
	return rec, nil
}

// sign mints a read URL for rec, returning nil when signing fails
func (s *QueryService) sign(ctx context.Context, rec *ImageRecord, logger *slog.Logger) *string {
	sctx, cancel := withTimeout(ctx, s.timeouts.Signing)
	defer cancel()
	url, err := s.store.SignedURL(sctx, rec.Container, rec.Path, s.signedURLTTL)
	if err != nil {
		logger.Error("Failed to generate signed url", "file", rec.Path, "error", err)
		s.metrics.SignedURLFailed()
		return nil
	}
	return &url
}
