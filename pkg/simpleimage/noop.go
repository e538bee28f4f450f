package simpleimage

import "context"

// NoopMetrics is a no-operation implementation of Metrics
type NoopMetrics struct{}

// NewNoopMetrics creates a new no-operation metrics recorder
func NewNoopMetrics() Metrics {
	return &NoopMetrics{}
}

func (n *NoopMetrics) UploadCompleted(status string)                     {}
func (n *NoopMetrics) EnrichmentHandled(trigger string, outcome Outcome) {}
func (n *NoopMetrics) VisionFailed(feature string)                       {}
func (n *NoopMetrics) SignedURLFailed()                                  {}

// NoopEventSink drops every notification
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

func (n *NoopEventSink) ObjectFinalized(ctx context.Context, event FinalizeEvent) {}
func (n *NoopEventSink) ObjectDeleted(ctx context.Context, event DeleteEvent)     {}

// NoopAnnotator detects nothing.
// It stands in for the vision service when enrichment is disabled.
type NoopAnnotator struct{}

// NewNoopAnnotator creates a new annotator returning empty results
func NewNoopAnnotator() VisionAnnotator {
	return &NoopAnnotator{}
}

// DetectLabels always returns no labels
func (n *NoopAnnotator) DetectLabels(ctx context.Context, img ImageSource) ([]Label, error) {
	return nil, nil
}

// DetectText always returns no annotations
func (n *NoopAnnotator) DetectText(ctx context.Context, img ImageSource) ([]TextAnnotation, error) {
	return nil, nil
}

// AnonymousVerifier accepts every credential, including none, as the empty
// subject. It backs deployments where authentication is disabled.
type AnonymousVerifier struct{}

// NewAnonymousVerifier creates a verifier for unauthenticated deployments
func NewAnonymousVerifier() IdentityVerifier {
	return &AnonymousVerifier{}
}

// Verify returns the empty subject
func (a *AnonymousVerifier) Verify(ctx context.Context, credential string) (string, error) {
	return "", nil
}
