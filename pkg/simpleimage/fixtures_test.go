package simpleimage_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-image/pkg/simpleimage"
	"github.com/tendant/simple-image/pkg/simpleimage/objectkey"
	"github.com/tendant/simple-image/pkg/simpleimage/presigned"
	repomemory "github.com/tendant/simple-image/pkg/simpleimage/repo/memory"
	memorystorage "github.com/tendant/simple-image/pkg/simpleimage/storage/memory"
)

const testBucket = "images"

var fixedNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

// tokenVerifier maps opaque tokens to subjects
type tokenVerifier map[string]string

func (v tokenVerifier) Verify(ctx context.Context, credential string) (string, error) {
	if credential == "" {
		return "", simpleimage.ErrMissingCredential
	}
	subject, ok := v[credential]
	if !ok {
		return "", fmt.Errorf("%w: unknown token", simpleimage.ErrUnauthorized)
	}
	return subject, nil
}

type fakeVision struct {
	mu       sync.Mutex
	labels   []simpleimage.Label
	text     []simpleimage.TextAnnotation
	labelErr error
	textErr  error

	labelCalls int
	textCalls  int
	sources    []simpleimage.ImageSource
}

func (f *fakeVision) DetectLabels(ctx context.Context, img simpleimage.ImageSource) ([]simpleimage.Label, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.labelCalls++
	f.sources = append(f.sources, img)
	return f.labels, f.labelErr
}

func (f *fakeVision) DetectText(ctx context.Context, img simpleimage.ImageSource) ([]simpleimage.TextAnnotation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.textCalls++
	f.sources = append(f.sources, img)
	return f.text, f.textErr
}

func (f *fakeVision) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.labelCalls, f.textCalls
}

type recordingMetrics struct {
	mu       sync.Mutex
	uploads  []string
	outcomes []string
	vision   []string
	signing  int
}

func (m *recordingMetrics) UploadCompleted(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads = append(m.uploads, status)
}

func (m *recordingMetrics) EnrichmentHandled(trigger string, outcome simpleimage.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, trigger+":"+string(outcome))
}

func (m *recordingMetrics) VisionFailed(feature string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vision = append(m.vision, feature)
}

func (m *recordingMetrics) SignedURLFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signing++
}

type testEnv struct {
	store   *memorystorage.Backend
	repo    *repomemory.Repository
	vision  *fakeVision
	metrics *recordingMetrics
	opts    []simpleimage.Option
}

func defaultVision() *fakeVision {
	return &fakeVision{
		labels: []simpleimage.Label{
			{Description: "Whiskers", Score: 0.70, Topicality: 0.70},
			{Description: "Cat", Score: 0.98, Topicality: 0.98},
			{Description: "Mammal", Score: 0.90, Topicality: 0.90},
			{Description: "Carnivore", Score: 0.85, Topicality: 0.85},
			{Description: "Pet", Score: 0.95, Topicality: 0.95},
		},
		text: []simpleimage.TextAnnotation{
			{Description: "HELLO WORLD"},
			{Description: "HELLO", Vertices: []simpleimage.Vertex{{X: 1, Y: 2}, {X: 11, Y: 2}, {X: 11, Y: 7}, {X: 1, Y: 7}}},
			{Description: "WORLD", Vertices: []simpleimage.Vertex{{X: 15, Y: 2}, {X: 30, Y: 2}, {X: 30, Y: 8}, {X: 15, Y: 8}}},
		},
	}
}

// setupTestEnv wires the services over memory backends with deterministic keys
// of the form {owner}/{file name}
func setupTestEnv(t *testing.T, storeOpts ...memorystorage.Option) *testEnv {
	t.Helper()

	signer := presigned.New(
		presigned.WithSecretKey("core-test-secret-with-32-bytes!!"),
		presigned.WithBaseURL("http://localhost:8080"),
		presigned.WithClock(clock),
	)
	storeOpts = append([]memorystorage.Option{
		memorystorage.WithSigner(signer),
		memorystorage.WithClock(clock),
	}, storeOpts...)

	env := &testEnv{
		store:   memorystorage.New(storeOpts...),
		repo:    repomemory.New(),
		vision:  defaultVision(),
		metrics: &recordingMetrics{},
	}
	keys := objectkey.NewCustomFuncGenerator(func(m objectkey.KeyMetadata) string {
		return m.OwnerID + "/" + m.FileName
	})
	env.opts = []simpleimage.Option{
		simpleimage.WithObjectStore(env.store),
		simpleimage.WithMetadataStore(env.repo),
		simpleimage.WithVision(env.vision),
		simpleimage.WithIdentityVerifier(tokenVerifier{"alice-token": "alice", "bob-token": "bob"}),
		simpleimage.WithContainer(testBucket),
		simpleimage.WithKeyGenerator(keys),
		simpleimage.WithMetrics(env.metrics),
		simpleimage.WithClock(clock),
	}
	return env
}

func (e *testEnv) with(opts ...simpleimage.Option) []simpleimage.Option {
	return append(append([]simpleimage.Option{}, e.opts...), opts...)
}

func (e *testEnv) uploadService(t *testing.T, opts ...simpleimage.Option) *simpleimage.UploadService {
	t.Helper()
	svc, err := simpleimage.NewUploadService(e.with(opts...)...)
	require.NoError(t, err)
	return svc
}

func (e *testEnv) pipeline(t *testing.T, opts ...simpleimage.Option) *simpleimage.Pipeline {
	t.Helper()
	p, err := simpleimage.NewPipeline(e.with(opts...)...)
	require.NoError(t, err)
	return p
}

func (e *testEnv) queryService(t *testing.T, opts ...simpleimage.Option) *simpleimage.QueryService {
	t.Helper()
	svc, err := simpleimage.NewQueryService(e.with(opts...)...)
	require.NoError(t, err)
	return svc
}

// upload stores data as the owner of token and returns the result
func (e *testEnv) upload(t *testing.T, token, name, data string) *simpleimage.UploadResult {
	t.Helper()
	res, err := e.uploadService(t).Upload(context.Background(), simpleimage.UploadRequest{
		Credential: token,
		File:       strings.NewReader(data),
		FileName:   name,
		MimeType:   "image/jpeg",
		Size:       int64(len(data)),
	})
	require.NoError(t, err)
	return res
}

// finalizeEvent builds the notification the store would send for path
func (e *testEnv) finalizeEvent(t *testing.T, path string) simpleimage.FinalizeEvent {
	t.Helper()
	attrs, err := e.store.Stat(context.Background(), testBucket, path)
	require.NoError(t, err)
	return simpleimage.FinalizeEventFromAttrs(*attrs)
}

// putObject writes path directly to the store, bypassing the upload service
func (e *testEnv) putObject(t *testing.T, path, data string, metadata map[string]string) {
	t.Helper()
	require.NoError(t, e.store.Put(context.Background(), simpleimage.PutObject{
		Container:   testBucket,
		Path:        path,
		Body:        strings.NewReader(data),
		Size:        int64(len(data)),
		ContentType: "image/jpeg",
		Metadata:    metadata,
	}))
}
