package simpleimage

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/tendant/simple-image/pkg/simpleimage/objectkey"
)

// DefaultSignedURLTTL is the lifetime of minted signed URLs
const DefaultSignedURLTTL = 15 * time.Minute

// DefaultAllowedMimeTypes are the image formats accepted for upload and OCR
var DefaultAllowedMimeTypes = []string{"image/jpeg", "image/png", "image/gif"}

// Timeouts bounds every call to an external dependency
type Timeouts struct {
	Identity time.Duration
	Storage  time.Duration
	Vision   time.Duration
	Metadata time.Duration
	Signing  time.Duration
}

// DefaultTimeouts returns the deadlines used when none are configured
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Identity: 5 * time.Second,
		Storage:  30 * time.Second,
		Vision:   30 * time.Second,
		Metadata: 10 * time.Second,
		Signing:  10 * time.Second,
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// Option configures the dependencies shared by the services
type Option func(*deps) error

type deps struct {
	store     ObjectStore
	metadata  MetadataStore
	vision    VisionAnnotator
	verifier  IdentityVerifier
	keys      objectkey.Generator
	metrics   Metrics
	logger    *slog.Logger
	now       func() time.Time
	timeouts  Timeouts
	container string
	allowed   map[string]bool

	signedURLTTL     time.Duration
	syncOCR          bool
	enrichOCR        bool
	inlineImageBytes bool
	ownerScoped      bool
	ocrRequireAuth   bool
}

func newDeps(opts []Option) (*deps, error) {
	d := &deps{
		keys:         objectkey.NewTimestampGenerator(),
		metrics:      NewNoopMetrics(),
		logger:       slog.Default(),
		now:          time.Now,
		timeouts:     DefaultTimeouts(),
		allowed:      mimeSet(DefaultAllowedMimeTypes),
		signedURLTTL: DefaultSignedURLTTL,
		enrichOCR:    true,
		ownerScoped:  true,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func mimeSet(types []string) map[string]bool {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			set[t] = true
		}
	}
	return set
}

func (d *deps) mimeAllowed(mimeType string) bool {
	return d.allowed[strings.ToLower(strings.TrimSpace(mimeType))]
}

// Authenticate verifies a credential and returns its subject. Callers that
// authenticate ahead of the service pass the result on with
// ContextWithSubject.
func (d *deps) Authenticate(ctx context.Context, credential string) (string, error) {
	if d.verifier == nil {
		return "", errors.New("identity verifier is not configured")
	}
	vctx, cancel := withTimeout(ctx, d.timeouts.Identity)
	defer cancel()
	return d.verifier.Verify(vctx, credential)
}

// verify returns the subject already verified for ctx, or authenticates
// credential under the identity deadline
func (d *deps) verify(ctx context.Context, credential string) (string, error) {
	if subject, ok := SubjectFromContext(ctx); ok {
		return subject, nil
	}
	vctx, cancel := withTimeout(ctx, d.timeouts.Identity)
	defer cancel()
	return d.verifier.Verify(vctx, credential)
}

// WithObjectStore sets the object storage backend
func WithObjectStore(store ObjectStore) Option {
	return func(d *deps) error {
		if store == nil {
			return errors.New("object store cannot be nil")
		}
		d.store = store
		return nil
	}
}

// WithMetadataStore sets the metadata document store
func WithMetadataStore(store MetadataStore) Option {
	return func(d *deps) error {
		if store == nil {
			return errors.New("metadata store cannot be nil")
		}
		d.metadata = store
		return nil
	}
}

// WithVision sets the vision annotator
func WithVision(vision VisionAnnotator) Option {
	return func(d *deps) error {
		if vision == nil {
			return errors.New("vision annotator cannot be nil")
		}
		d.vision = vision
		return nil
	}
}

// WithIdentityVerifier sets the bearer credential verifier
func WithIdentityVerifier(verifier IdentityVerifier) Option {
	return func(d *deps) error {
		if verifier == nil {
			return errors.New("identity verifier cannot be nil")
		}
		d.verifier = verifier
		return nil
	}
}

// WithContainer sets the bucket uploads are written to
func WithContainer(name string) Option {
	return func(d *deps) error {
		if name == "" {
			return errors.New("container name cannot be empty")
		}
		d.container = name
		return nil
	}
}

// WithAllowedMimeTypes replaces the upload MIME allow-list
func WithAllowedMimeTypes(types ...string) Option {
	return func(d *deps) error {
		set := mimeSet(types)
		if len(set) == 0 {
			return errors.New("at least one allowed mime type is required")
		}
		d.allowed = set
		return nil
	}
}

// WithKeyGenerator sets the object key strategy for uploads
func WithKeyGenerator(gen objectkey.Generator) Option {
	return func(d *deps) error {
		if gen == nil {
			return errors.New("key generator cannot be nil")
		}
		d.keys = gen
		return nil
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(m Metrics) Option {
	return func(d *deps) error {
		if m != nil {
			d.metrics = m
		}
		return nil
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(d *deps) error {
		if logger != nil {
			d.logger = logger
		}
		return nil
	}
}

// WithClock overrides the server clock used for write timestamps
func WithClock(now func() time.Time) Option {
	return func(d *deps) error {
		if now == nil {
			return errors.New("clock cannot be nil")
		}
		d.now = now
		return nil
	}
}

// WithTimeouts sets the per-dependency deadlines
func WithTimeouts(t Timeouts) Option {
	return func(d *deps) error {
		d.timeouts = t
		return nil
	}
}

// WithSignedURLTTL sets the lifetime of signed URLs
func WithSignedURLTTL(ttl time.Duration) Option {
	return func(d *deps) error {
		if ttl <= 0 {
			return errors.New("signed url ttl must be positive")
		}
		d.signedURLTTL = ttl
		return nil
	}
}

// WithSyncOCR runs text detection during upload and stores the text with the stub
func WithSyncOCR(enabled bool) Option {
	return func(d *deps) error {
		d.syncOCR = enabled
		return nil
	}
}

// WithOCREnrichment runs text detection in the finalize trigger
func WithOCREnrichment(enabled bool) Option {
	return func(d *deps) error {
		d.enrichOCR = enabled
		return nil
	}
}

// WithInlineImageBytes makes the pipeline download objects and send their
// bytes to the vision service instead of the object URI
func WithInlineImageBytes(enabled bool) Option {
	return func(d *deps) error {
		d.inlineImageBytes = enabled
		return nil
	}
}

// WithOwnerScoping restricts GetOne to the document owner
func WithOwnerScoping(enabled bool) Option {
	return func(d *deps) error {
		d.ownerScoped = enabled
		return nil
	}
}

// WithOCRAuth requires a verified credential for one-shot OCR
func WithOCRAuth(required bool) Option {
	return func(d *deps) error {
		d.ocrRequireAuth = required
		return nil
	}
}
