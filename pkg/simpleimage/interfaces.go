package simpleimage

import (
	"context"
	"io"
	"time"
)

// ObjectStore defines the interface for blob storage backends
type ObjectStore interface {
	// Put writes an object together with its side metadata
	Put(ctx context.Context, obj PutObject) error

	// Get opens an object for reading, ErrObjectNotFound when absent
	Get(ctx context.Context, container, path string) (io.ReadCloser, error)

	// Stat returns object attributes, ErrObjectNotFound when absent
	Stat(ctx context.Context, container, path string) (*ObjectAttrs, error)

	// Exists reports whether an object exists
	Exists(ctx context.Context, container, path string) (bool, error)

	// Delete removes an object, ErrObjectNotFound when absent
	Delete(ctx context.Context, container, path string) error

	// SignedURL mints a time-limited read URL for an object
	SignedURL(ctx context.Context, container, path string, ttl time.Duration) (string, error)

	// URI returns the canonical reference of an object, e.g. gs://bucket/path
	URI(container, path string) string
}

// MetadataStore defines the interface for image metadata persistence.
// Documents are keyed by DocumentID.
type MetadataStore interface {
	// Get returns the document, ErrNotFound when absent
	Get(ctx context.Context, id string) (*ImageRecord, error)

	// Merge creates the document or updates only the fields set in patch
	Merge(ctx context.Context, id string, patch *ImagePatch) error

	// Delete removes the document, ErrNotFound when absent
	Delete(ctx context.Context, id string) error

	// ListByOwner returns every document whose owner matches ownerID
	ListByOwner(ctx context.Context, ownerID string) ([]*ImageRecord, error)
}

// VisionAnnotator defines the interface for the external vision service
type VisionAnnotator interface {
	// DetectLabels returns label annotations in service order
	DetectLabels(ctx context.Context, img ImageSource) ([]Label, error)

	// DetectText returns text annotations, full text first
	DetectText(ctx context.Context, img ImageSource) ([]TextAnnotation, error)
}

// IdentityVerifier validates bearer credentials
type IdentityVerifier interface {
	// Verify returns the stable subject id of a credential.
	// It returns ErrMissingCredential for an empty credential and
	// an error wrapping ErrUnauthorized when verification fails.
	Verify(ctx context.Context, credential string) (string, error)
}

// EventSink receives object notifications from backends that have no
// external event source
type EventSink interface {
	ObjectFinalized(ctx context.Context, event FinalizeEvent)
	ObjectDeleted(ctx context.Context, event DeleteEvent)
}

// Metrics receives service counters
type Metrics interface {
	UploadCompleted(status string)
	EnrichmentHandled(trigger string, outcome Outcome)
	VisionFailed(feature string)
	SignedURLFailed()
}

// Pinger is implemented by backends that can report readiness
type Pinger interface {
	Ping(ctx context.Context) error
}
