package simpleimage_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-image/pkg/simpleimage"
	memorystorage "github.com/tendant/simple-image/pkg/simpleimage/storage/memory"
)

func TestNewPipeline_RequiresVision(t *testing.T) {
	env := setupTestEnv(t)
	_, err := simpleimage.NewPipeline(
		simpleimage.WithObjectStore(env.store),
		simpleimage.WithMetadataStore(env.repo),
	)
	assert.Error(t, err)
}

func TestHandleFinalize_Enriches(t *testing.T) {
	env := setupTestEnv(t)
	p := env.pipeline(t)
	res := env.upload(t, "alice-token", "cat.jpg", "jpeg-bytes")

	outcome := p.HandleFinalize(context.Background(), env.finalizeEvent(t, res.Path))
	assert.Equal(t, simpleimage.OutcomeEnriched, outcome)

	rec, err := env.repo.Get(context.Background(), res.DocID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Cat", "Pet", "Mammal", "Carnivore"}, descriptions(rec.Labels))
	require.NotNil(t, rec.OCRText)
	assert.Equal(t, "HELLO WORLD", *rec.OCRText)
	assert.Equal(t, "alice", rec.OwnerID)
	assert.Equal(t, "", rec.VisionError)
	assert.Equal(t, int64(len("jpeg-bytes")), rec.SizeBytes)
	assert.Equal(t, "mem://images/alice/cat.jpg", rec.URI)
	require.NotNil(t, rec.ProcessedAt)
	assert.True(t, fixedNow.Equal(*rec.ProcessedAt))
	require.NotNil(t, rec.CreatedAt)
	assert.True(t, fixedNow.Equal(*rec.CreatedAt))
	require.NotNil(t, rec.UploadedAt, "the stub fields survive enrichment")

	assert.Equal(t, []string{"finalize:enriched"}, env.metrics.outcomes)
}

func TestHandleFinalize_Idempotent(t *testing.T) {
	env := setupTestEnv(t)
	p := env.pipeline(t)
	res := env.upload(t, "alice-token", "cat.jpg", "jpeg-bytes")
	event := env.finalizeEvent(t, res.Path)

	require.Equal(t, simpleimage.OutcomeEnriched, p.HandleFinalize(context.Background(), event))
	once, err := env.repo.Get(context.Background(), res.DocID)
	require.NoError(t, err)

	require.Equal(t, simpleimage.OutcomeEnriched, p.HandleFinalize(context.Background(), event))
	twice, err := env.repo.Get(context.Background(), res.DocID)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
	assert.Equal(t, 1, env.repo.Len())
}

func TestHandleFinalize_StubOrderConverges(t *testing.T) {
	ctx := context.Background()

	// upload stub first, then the finalize notification
	first := setupTestEnv(t)
	res := first.upload(t, "alice-token", "cat.jpg", "jpeg-bytes")
	first.pipeline(t).HandleFinalize(ctx, first.finalizeEvent(t, res.Path))
	want, err := first.repo.Get(ctx, res.DocID)
	require.NoError(t, err)

	// finalize notification overtakes the stub write
	second := setupTestEnv(t)
	second.putObject(t, "alice/cat.jpg", "jpeg-bytes", map[string]string{simpleimage.OwnerMetadataKey: "alice"})
	second.pipeline(t).HandleFinalize(ctx, second.finalizeEvent(t, "alice/cat.jpg"))
	second.upload(t, "alice-token", "cat.jpg", "jpeg-bytes")
	got, err := second.repo.Get(ctx, res.DocID)
	require.NoError(t, err)

	assert.Equal(t, want, got)
}

func TestHandleFinalize_SkipsAndRejects(t *testing.T) {
	tests := []struct {
		name  string
		event simpleimage.FinalizeEvent
		want  simpleimage.Outcome
	}{
		{"directory marker", simpleimage.FinalizeEvent{Bucket: testBucket, Name: "alice/"}, simpleimage.OutcomeSkipped},
		{"missing bucket", simpleimage.FinalizeEvent{Name: "alice/cat.jpg"}, simpleimage.OutcomeMalformed},
		{"missing name", simpleimage.FinalizeEvent{Bucket: testBucket}, simpleimage.OutcomeMalformed},
		{"object absent", simpleimage.FinalizeEvent{Bucket: testBucket, Name: "alice/gone.jpg"}, simpleimage.OutcomeAbsent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestEnv(t)
			outcome := env.pipeline(t).HandleFinalize(context.Background(), tt.event)
			assert.Equal(t, tt.want, outcome)
			assert.Equal(t, 0, env.repo.Len())
			labelCalls, textCalls := env.vision.calls()
			assert.Zero(t, labelCalls)
			assert.Zero(t, textCalls)
			assert.Equal(t, []string{"finalize:" + string(tt.want)}, env.metrics.outcomes)
		})
	}
}

func TestHandleFinalize_VisionFailure(t *testing.T) {
	env := setupTestEnv(t)
	env.vision.labelErr = errors.New("quota exceeded")
	p := env.pipeline(t)
	res := env.upload(t, "alice-token", "cat.jpg", "jpeg-bytes")

	outcome := p.HandleFinalize(context.Background(), env.finalizeEvent(t, res.Path))
	assert.Equal(t, simpleimage.OutcomeEnriched, outcome)

	rec, err := env.repo.Get(context.Background(), res.DocID)
	require.NoError(t, err)
	assert.Empty(t, rec.Labels)
	assert.Contains(t, rec.VisionError, "label detection failed")
	assert.Contains(t, rec.VisionError, "quota exceeded")
	require.NotNil(t, rec.OCRText, "text detection still runs")
	assert.Equal(t, "HELLO WORLD", *rec.OCRText)
	assert.Equal(t, []string{"labels"}, env.metrics.vision)

	t.Run("a later success clears the error", func(t *testing.T) {
		env.vision.labelErr = nil
		p.HandleFinalize(context.Background(), env.finalizeEvent(t, res.Path))
		rec, err := env.repo.Get(context.Background(), res.DocID)
		require.NoError(t, err)
		assert.Equal(t, "", rec.VisionError)
		assert.Len(t, rec.Labels, simpleimage.MaxLabels)
	})
}

func TestHandleFinalize_Owner(t *testing.T) {
	ctx := context.Background()

	t.Run("from event metadata", func(t *testing.T) {
		env := setupTestEnv(t)
		env.putObject(t, "x/cat.jpg", "data", nil)
		event := env.finalizeEvent(t, "x/cat.jpg")
		event.Metadata = map[string]string{"userId": "carol"}

		env.pipeline(t).HandleFinalize(ctx, event)
		rec, err := env.repo.Get(ctx, "x_cat.jpg")
		require.NoError(t, err)
		assert.Equal(t, "carol", rec.OwnerID)
	})

	t.Run("from object attributes", func(t *testing.T) {
		env := setupTestEnv(t)
		env.putObject(t, "x/cat.jpg", "data", map[string]string{"userid": "dave"})
		event := env.finalizeEvent(t, "x/cat.jpg")
		event.Metadata = nil

		env.pipeline(t).HandleFinalize(ctx, event)
		rec, err := env.repo.Get(ctx, "x_cat.jpg")
		require.NoError(t, err)
		assert.Equal(t, "dave", rec.OwnerID)
	})

	t.Run("unknown owner keeps the stub owner", func(t *testing.T) {
		env := setupTestEnv(t)
		res := env.upload(t, "alice-token", "cat.jpg", "data")
		event := env.finalizeEvent(t, res.Path)
		event.Metadata = nil
		// overwrite the object without owner metadata
		env.putObject(t, res.Path, "data", nil)

		env.pipeline(t).HandleFinalize(ctx, event)
		rec, err := env.repo.Get(ctx, res.DocID)
		require.NoError(t, err)
		assert.Equal(t, "alice", rec.OwnerID)
	})
}

func TestHandleFinalize_ImageSource(t *testing.T) {
	t.Run("uri by default", func(t *testing.T) {
		env := setupTestEnv(t)
		res := env.upload(t, "alice-token", "cat.jpg", "jpeg-bytes")
		env.pipeline(t).HandleFinalize(context.Background(), env.finalizeEvent(t, res.Path))

		require.NotEmpty(t, env.vision.sources)
		for _, src := range env.vision.sources {
			assert.Equal(t, "mem://images/alice/cat.jpg", src.URI)
			assert.Nil(t, src.Content)
		}
	})

	t.Run("inline bytes", func(t *testing.T) {
		env := setupTestEnv(t)
		res := env.upload(t, "alice-token", "cat.jpg", "jpeg-bytes")
		env.pipeline(t, simpleimage.WithInlineImageBytes(true)).HandleFinalize(context.Background(), env.finalizeEvent(t, res.Path))

		require.NotEmpty(t, env.vision.sources)
		for _, src := range env.vision.sources {
			assert.Equal(t, []byte("jpeg-bytes"), src.Content)
		}
	})
}

func TestHandleFinalize_OCRDisabled(t *testing.T) {
	env := setupTestEnv(t)
	res := env.upload(t, "alice-token", "cat.jpg", "jpeg-bytes")
	env.pipeline(t, simpleimage.WithOCREnrichment(false)).HandleFinalize(context.Background(), env.finalizeEvent(t, res.Path))

	rec, err := env.repo.Get(context.Background(), res.DocID)
	require.NoError(t, err)
	assert.Nil(t, rec.OCRText)
	assert.Len(t, rec.Labels, simpleimage.MaxLabels)
	_, textCalls := env.vision.calls()
	assert.Zero(t, textCalls)
}

func TestHandleDelete(t *testing.T) {
	env := setupTestEnv(t)
	p := env.pipeline(t)
	ctx := context.Background()
	res := env.upload(t, "alice-token", "cat.jpg", "jpeg-bytes")
	p.HandleFinalize(ctx, env.finalizeEvent(t, res.Path))
	require.NoError(t, env.store.Delete(ctx, testBucket, res.Path))

	event := simpleimage.DeleteEventFor(testBucket, res.Path)
	assert.Equal(t, simpleimage.OutcomeDeleted, p.HandleDelete(ctx, event))
	_, err := env.repo.Get(ctx, res.DocID)
	assert.ErrorIs(t, err, simpleimage.ErrNotFound)

	// redelivery finds nothing to remove
	assert.Equal(t, simpleimage.OutcomeAbsent, p.HandleDelete(ctx, event))

	assert.Equal(t, simpleimage.OutcomeSkipped, p.HandleDelete(ctx, simpleimage.DeleteEventFor(testBucket, "alice/")))
	assert.Equal(t, simpleimage.OutcomeMalformed, p.HandleDelete(ctx, simpleimage.DeleteEvent{Name: "alice/cat.jpg"}))
}

func TestHandleDelete_DirectoryMarkerKeepsDocuments(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	res := env.upload(t, "alice-token", "cat.jpg", "jpeg-bytes")

	// "alice/" maps to "alice_", which must not touch "alice_cat.jpg"
	outcome := env.pipeline(t).HandleDelete(ctx, simpleimage.DeleteEventFor(testBucket, "alice/"))
	assert.Equal(t, simpleimage.OutcomeSkipped, outcome)
	_, err := env.repo.Get(ctx, res.DocID)
	assert.NoError(t, err)
}

func TestDeleteFinalizeConvergence(t *testing.T) {
	ctx := context.Background()

	t.Run("finalize then delete", func(t *testing.T) {
		env := setupTestEnv(t)
		p := env.pipeline(t)
		env.putObject(t, "alice/cat.jpg", "data", map[string]string{"userId": "alice"})

		assert.Equal(t, simpleimage.OutcomeEnriched, p.HandleFinalize(ctx, env.finalizeEvent(t, "alice/cat.jpg")))
		require.NoError(t, env.store.Delete(ctx, testBucket, "alice/cat.jpg"))
		assert.Equal(t, simpleimage.OutcomeDeleted, p.HandleDelete(ctx, simpleimage.DeleteEventFor(testBucket, "alice/cat.jpg")))
		assert.Equal(t, 0, env.repo.Len())
	})

	t.Run("delete then stale finalize", func(t *testing.T) {
		env := setupTestEnv(t)
		p := env.pipeline(t)
		env.putObject(t, "alice/cat.jpg", "data", map[string]string{"userId": "alice"})
		finalize := env.finalizeEvent(t, "alice/cat.jpg")
		require.NoError(t, env.store.Delete(ctx, testBucket, "alice/cat.jpg"))

		assert.Equal(t, simpleimage.OutcomeAbsent, p.HandleDelete(ctx, simpleimage.DeleteEventFor(testBucket, "alice/cat.jpg")))
		assert.Equal(t, simpleimage.OutcomeAbsent, p.HandleFinalize(ctx, finalize))
		assert.Equal(t, 0, env.repo.Len())
	})
}

func TestDeleteFinalizeConvergence_Recreated(t *testing.T) {
	ctx := context.Background()

	// delete(v1) then put(v2) on the same path, returning the stale delete event
	recreate := func(t *testing.T, env *testEnv) simpleimage.DeleteEvent {
		t.Helper()
		env.putObject(t, "alice/cat.jpg", "v1", map[string]string{"userId": "alice"})
		require.NoError(t, env.store.Delete(ctx, testBucket, "alice/cat.jpg"))
		stale := simpleimage.DeleteEventFor(testBucket, "alice/cat.jpg")
		env.putObject(t, "alice/cat.jpg", "v2-bytes", map[string]string{"userId": "alice"})
		return stale
	}

	t.Run("finalize then stale delete", func(t *testing.T) {
		env := setupTestEnv(t)
		p := env.pipeline(t)
		stale := recreate(t, env)

		assert.Equal(t, simpleimage.OutcomeEnriched, p.HandleFinalize(ctx, env.finalizeEvent(t, "alice/cat.jpg")))
		assert.Equal(t, simpleimage.OutcomeStale, p.HandleDelete(ctx, stale))

		rec, err := env.repo.Get(ctx, "alice_cat.jpg")
		require.NoError(t, err)
		assert.Equal(t, int64(len("v2-bytes")), rec.SizeBytes)
		assert.Len(t, rec.Labels, simpleimage.MaxLabels)
		assert.Equal(t, 1, env.repo.Len())
	})

	t.Run("stale delete then finalize", func(t *testing.T) {
		env := setupTestEnv(t)
		p := env.pipeline(t)
		stale := recreate(t, env)

		assert.Equal(t, simpleimage.OutcomeStale, p.HandleDelete(ctx, stale))
		assert.Equal(t, simpleimage.OutcomeEnriched, p.HandleFinalize(ctx, env.finalizeEvent(t, "alice/cat.jpg")))

		rec, err := env.repo.Get(ctx, "alice_cat.jpg")
		require.NoError(t, err)
		assert.Equal(t, int64(len("v2-bytes")), rec.SizeBytes)
		assert.Equal(t, 1, env.repo.Len())
	})
}

type failingExistsStore struct {
	*memorystorage.Backend
}

func (s failingExistsStore) Exists(ctx context.Context, container, path string) (bool, error) {
	return false, errors.New("storage unavailable")
}

func TestHandleDelete_ExistenceCheckFailureStillDeletes(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	res := env.upload(t, "alice-token", "cat.jpg", "jpeg-bytes")

	p := env.pipeline(t, simpleimage.WithObjectStore(failingExistsStore{env.store}))
	assert.Equal(t, simpleimage.OutcomeDeleted, p.HandleDelete(ctx, simpleimage.DeleteEventFor(testBucket, res.Path)))
	assert.Equal(t, 0, env.repo.Len())
}

func TestPipeline_AsEventSink(t *testing.T) {
	env := setupTestEnv(t)
	p := env.pipeline(t)
	env.store.SetEventSink(p)
	ctx := context.Background()

	res := env.upload(t, "alice-token", "cat.jpg", "jpeg-bytes")
	rec, err := env.repo.Get(ctx, res.DocID)
	require.NoError(t, err)
	assert.Len(t, rec.Labels, simpleimage.MaxLabels)
	assert.Equal(t, "alice", rec.OwnerID)

	require.NoError(t, env.store.Delete(ctx, testBucket, res.Path))
	_, err = env.repo.Get(ctx, res.DocID)
	assert.ErrorIs(t, err, simpleimage.ErrNotFound)
}
