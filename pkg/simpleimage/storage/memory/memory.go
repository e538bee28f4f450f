package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/tendant/simple-image/pkg/simpleimage"
	"github.com/tendant/simple-image/pkg/simpleimage/presigned"
)

// Scheme prefixes object URIs of this backend
const Scheme = "mem"

type object struct {
	data  []byte
	attrs simpleimage.ObjectAttrs
}

// Backend is an in-memory implementation of the simpleimage.ObjectStore interface.
// Writes and deletes are reported to an optional EventSink.
type Backend struct {
	mu      sync.RWMutex
	objects map[string]*object
	signer  *presigned.Signer
	sink    simpleimage.EventSink
	now     func() time.Time
}

// Option configures a Backend
type Option func(*Backend)

// WithSigner enables signed URLs served by the presigned download route
func WithSigner(signer *presigned.Signer) Option {
	return func(b *Backend) {
		b.signer = signer
	}
}

// WithEventSink sets the receiver of object notifications
func WithEventSink(sink simpleimage.EventSink) Option {
	return func(b *Backend) {
		b.SetEventSink(sink)
	}
}

// WithClock overrides the clock used for object timestamps
func WithClock(now func() time.Time) Option {
	return func(b *Backend) {
		if now != nil {
			b.now = now
		}
	}
}

// New creates a new in-memory storage backend
func New(opts ...Option) *Backend {
	b := &Backend{
		objects: make(map[string]*object),
		sink:    simpleimage.NewNoopEventSink(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetEventSink replaces the notification receiver. It exists so the sink can
// be wired after the pipeline that depends on this backend is built.
func (b *Backend) SetEventSink(sink simpleimage.EventSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sink == nil {
		sink = simpleimage.NewNoopEventSink()
	}
	b.sink = sink
}

func objectKey(container, path string) string {
	return container + "/" + path
}

// Put stores an object, replacing any previous version
func (b *Backend) Put(ctx context.Context, obj simpleimage.PutObject) error {
	if obj.Body == nil {
		return fmt.Errorf("memory: nil body for %s", obj.Path)
	}
	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return err
	}

	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	now := b.now().UTC()

	b.mu.Lock()
	created := now
	if prev, ok := b.objects[objectKey(obj.Container, obj.Path)]; ok {
		created = prev.attrs.Created
	}
	attrs := simpleimage.ObjectAttrs{
		Container:   obj.Container,
		Path:        obj.Path,
		Size:        int64(len(data)),
		ContentType: contentType,
		Metadata:    maps.Clone(obj.Metadata),
		Created:     created,
		Updated:     now,
	}
	b.objects[objectKey(obj.Container, obj.Path)] = &object{data: data, attrs: attrs}
	sink := b.sink
	b.mu.Unlock()

	sink.ObjectFinalized(ctx, simpleimage.FinalizeEventFromAttrs(attrs))
	return nil
}

// Get opens an object for reading
func (b *Backend) Get(ctx context.Context, container, path string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, ok := b.objects[objectKey(container, path)]
	if !ok {
		return nil, simpleimage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// Stat returns a copy of the object attributes
func (b *Backend) Stat(ctx context.Context, container, path string) (*simpleimage.ObjectAttrs, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, ok := b.objects[objectKey(container, path)]
	if !ok {
		return nil, simpleimage.ErrObjectNotFound
	}
	attrs := obj.attrs
	attrs.Metadata = maps.Clone(obj.attrs.Metadata)
	return &attrs, nil
}

// Exists reports whether an object is stored
func (b *Backend) Exists(ctx context.Context, container, path string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, ok := b.objects[objectKey(container, path)]
	return ok, nil
}

// Delete removes an object
func (b *Backend) Delete(ctx context.Context, container, path string) error {
	b.mu.Lock()
	if _, ok := b.objects[objectKey(container, path)]; !ok {
		b.mu.Unlock()
		return simpleimage.ErrObjectNotFound
	}
	delete(b.objects, objectKey(container, path))
	sink := b.sink
	b.mu.Unlock()

	sink.ObjectDeleted(ctx, simpleimage.DeleteEventFor(container, path))
	return nil
}

// SignedURL returns an HMAC-signed URL for the presigned download route
func (b *Backend) SignedURL(ctx context.Context, container, path string, ttl time.Duration) (string, error) {
	if b.signer == nil || !b.signer.IsEnabled() {
		return "", simpleimage.ErrSigningUnsupported
	}
	exists, err := b.Exists(ctx, container, path)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", simpleimage.ErrObjectNotFound
	}
	return b.signer.SignURL(http.MethodGet, container, path, ttl)
}

// URI returns mem://container/path
func (b *Backend) URI(container, path string) string {
	return Scheme + "://" + container + "/" + path
}

// Len returns the number of stored objects
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}
