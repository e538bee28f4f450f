package simpleimage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Pipeline reconciles metadata documents with object storage events.
// Both triggers are safe under redelivery and reordering: finalize merges,
// delete removes the document if present.
type Pipeline struct {
	*deps
}

// NewPipeline creates a Pipeline. It requires an object store, a metadata
// store and a vision annotator.
func NewPipeline(opts ...Option) (*Pipeline, error) {
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
	if d.vision == nil {
		return nil, errors.New("vision annotator is required")
	}
	return &Pipeline{deps: d}, nil
}

// HandleFinalize enriches the document of a finalized object. Vision and
// owner lookup failures degrade the written fields; a failed metadata write
// is logged and reported as OutcomeFailed. An object that no longer exists is
// not enriched, so a finalize delivered after its delete leaves no document.
// Errors are never returned since there is no caller to report them to.
func (p *Pipeline) HandleFinalize(ctx context.Context, event FinalizeEvent) Outcome {
	logger := p.logger.With(
		"event_id", event.ID,
		"event_type", event.Type,
		"bucket", event.Bucket,
		"file", event.Name,
		"metageneration", event.Metageneration,
	)
	logger.Info("Processing finalize event")

	if IsDirectoryMarker(event.Name) {
		logger.Info("Skipping directory marker")
		return p.finish(TriggerFinalize, OutcomeSkipped)
	}
	if event.Bucket == "" || event.Name == "" {
		logger.Warn("Finalize event is missing bucket or file name")
		return p.finish(TriggerFinalize, OutcomeMalformed)
	}

	attrs, err := p.stat(ctx, event.Bucket, event.Name)
	if errors.Is(err, ErrObjectNotFound) {
		logger.Warn("Object no longer exists, skipping enrichment")
		return p.finish(TriggerFinalize, OutcomeAbsent)
	}
	if err != nil {
		logger.Warn("Could not read object attributes", "error", err)
	}

	container := event.Bucket
	path := event.Name
	uri := p.store.URI(container, path)
	size := event.Size
	if size == 0 && attrs != nil {
		size = attrs.Size
	}
	processedAt := p.now().UTC()
	patch := &ImagePatch{
		Container:   &container,
		Path:        &path,
		URI:         &uri,
		SizeBytes:   &size,
		ProcessedAt: &processedAt,
	}

	var visionErrors []string
	labels := []Label{}

	src, err := p.imageSource(ctx, container, path, uri)
	if err != nil {
		logger.Error("Failed to read object for annotation", "error", err)
		visionErrors = append(visionErrors, err.Error())
	} else {
		detected, err := p.detectLabels(ctx, src)
		if err != nil {
			logger.Error("Label detection failed", "image_uri", uri, "error", err)
			visionErrors = append(visionErrors, err.Error())
		} else {
			labels = RankLabels(detected)
		}

		if p.enrichOCR {
			text, err := p.detectText(ctx, src)
			if err != nil {
				logger.Error("Text detection failed", "image_uri", uri, "error", err)
				visionErrors = append(visionErrors, err.Error())
			} else {
				patch.OCRText = &text
			}
		}
	}
	visionError := strings.Join(visionErrors, "; ")
	patch.Labels = &labels
	patch.VisionError = &visionError

	if owner := resolveOwner(event, attrs); owner != "" {
		patch.OwnerID = &owner
	} else {
		logger.Info("Owner unknown for object")
	}

	if t, err := ParseEventTime(event.TimeCreated); err != nil {
		logger.Warn("Could not parse timeCreated", "value", event.TimeCreated, "error", err)
	} else if t != nil {
		patch.CreatedAt = t
	}
	if t, err := ParseEventTime(event.Updated); err != nil {
		logger.Warn("Could not parse updated", "value", event.Updated, "error", err)
	} else if t != nil {
		patch.UpdatedAt = t
	}

	id := DocumentID(path)
	mctx, cancel := withTimeout(ctx, p.timeouts.Metadata)
	err = p.metadata.Merge(mctx, id, patch)
	cancel()
	if err != nil {
		logger.Error("Failed to write image metadata", "doc_id", id, "error", err)
		return p.finish(TriggerFinalize, OutcomeFailed)
	}

	logger.Info("Image metadata written", "doc_id", id, "labels", len(labels))
	return p.finish(TriggerFinalize, OutcomeEnriched)
}

// HandleDelete removes the document of a deleted object. A document that is
// already gone is expected and only logged. When the object exists again the
// event was overtaken by a later write and the document is kept.
func (p *Pipeline) HandleDelete(ctx context.Context, event DeleteEvent) Outcome {
	logger := p.logger.With(
		"event_id", event.ID,
		"event_type", event.Type,
		"bucket", event.Bucket,
		"file", event.Name,
	)
	logger.Info("Processing delete event")

	if IsDirectoryMarker(event.Name) {
		logger.Info("Skipping directory marker")
		return p.finish(TriggerDelete, OutcomeSkipped)
	}
	if event.Bucket == "" || event.Name == "" {
		logger.Warn("Delete event is missing bucket or file name")
		return p.finish(TriggerDelete, OutcomeMalformed)
	}

	exists, err := p.exists(ctx, event.Bucket, event.Name)
	switch {
	case err != nil:
		logger.Warn("Could not check object existence, deleting metadata", "error", err)
	case exists:
		logger.Warn("Object exists again, ignoring stale delete event")
		return p.finish(TriggerDelete, OutcomeStale)
	}

	id := DocumentID(event.Name)
	mctx, cancel := withTimeout(ctx, p.timeouts.Metadata)
	err = p.metadata.Delete(mctx, id)
	cancel()
	switch {
	case errors.Is(err, ErrNotFound):
		logger.Warn("Metadata document not found for deleted object", "doc_id", id)
		return p.finish(TriggerDelete, OutcomeAbsent)
	case err != nil:
		logger.Error("Failed to delete image metadata", "doc_id", id, "error", err)
		return p.finish(TriggerDelete, OutcomeFailed)
	}

	logger.Info("Image metadata deleted", "doc_id", id)
	return p.finish(TriggerDelete, OutcomeDeleted)
}

// ObjectFinalized lets the pipeline act as an EventSink
func (p *Pipeline) ObjectFinalized(ctx context.Context, event FinalizeEvent) {
	p.HandleFinalize(ctx, event)
}

// ObjectDeleted lets the pipeline act as an EventSink
func (p *Pipeline) ObjectDeleted(ctx context.Context, event DeleteEvent) {
	p.HandleDelete(ctx, event)
}

func (p *Pipeline) finish(trigger string, outcome Outcome) Outcome {
	p.metrics.EnrichmentHandled(trigger, outcome)
	return outcome
}

// imageSource builds the vision input, downloading the object when the
// vision service cannot read the store directly
func (p *Pipeline) imageSource(ctx context.Context, container, path, uri string) (ImageSource, error) {
	if !p.inlineImageBytes {
		return ImageSource{URI: uri}, nil
	}
	sctx, cancel := withTimeout(ctx, p.timeouts.Storage)
	defer cancel()
	rc, err := p.store.Get(sctx, container, path)
	if err != nil {
		return ImageSource{}, fmt.Errorf("failed to open object: %w", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return ImageSource{}, fmt.Errorf("failed to read object: %w", err)
	}
	return ImageSource{URI: uri, Content: data}, nil
}

func (p *Pipeline) detectLabels(ctx context.Context, src ImageSource) ([]Label, error) {
	vctx, cancel := withTimeout(ctx, p.timeouts.Vision)
	defer cancel()
	labels, err := p.vision.DetectLabels(vctx, src)
	if err != nil {
		p.metrics.VisionFailed("labels")
		return nil, &AnnotationError{Feature: "label", Err: err}
	}
	return labels, nil
}

func (p *Pipeline) detectText(ctx context.Context, src ImageSource) (string, error) {
	vctx, cancel := withTimeout(ctx, p.timeouts.Vision)
	defer cancel()
	annotations, err := p.vision.DetectText(vctx, src)
	if err != nil {
		p.metrics.VisionFailed("text")
		return "", &AnnotationError{Feature: "text", Err: err}
	}
	return FullText(annotations), nil
}

// stat reads object attributes under the storage deadline
func (p *Pipeline) stat(ctx context.Context, container, path string) (*ObjectAttrs, error) {
	sctx, cancel := withTimeout(ctx, p.timeouts.Storage)
	defer cancel()
	return p.store.Stat(sctx, container, path)
}

// exists checks object presence under the storage deadline
func (p *Pipeline) exists(ctx context.Context, container, path string) (bool, error) {
	sctx, cancel := withTimeout(ctx, p.timeouts.Storage)
	defer cancel()
	return p.store.Exists(sctx, container, path)
}

// resolveOwner recovers the uploading subject from object side metadata,
// preferring the event payload over attributes read back from the store.
// Read-after-write visibility of metadata is not guaranteed, so absence
// yields the empty owner rather than an error.
func resolveOwner(event FinalizeEvent, attrs *ObjectAttrs) string {
	if owner := OwnerFromMetadata(event.Metadata); owner != "" {
		return owner
	}
	if attrs == nil {
		return ""
	}
	return OwnerFromMetadata(attrs.Metadata)
}
