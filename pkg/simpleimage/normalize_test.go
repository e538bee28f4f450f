package simpleimage_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-image/pkg/simpleimage"
)

func TestDocumentID(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"cat.jpg", "cat.jpg"},
		{"uploads/20240501100000_cat.jpg", "uploads_20240501100000_cat.jpg"},
		{"a/b/c/d.png", "a_b_c_d.png"},
		{"/leading", "_leading"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, simpleimage.DocumentID(tt.path))
			assert.Equal(t, simpleimage.DocumentID(tt.path), simpleimage.DocumentID(tt.path))
		})
	}

	// Paths differing only in "/" versus "_" share an id
	assert.Equal(t, simpleimage.DocumentID("a/b"), simpleimage.DocumentID("a_b"))
}

func TestIsDirectoryMarker(t *testing.T) {
	assert.True(t, simpleimage.IsDirectoryMarker("uploads/"))
	assert.True(t, simpleimage.IsDirectoryMarker("/"))
	assert.False(t, simpleimage.IsDirectoryMarker("uploads/cat.jpg"))
	assert.False(t, simpleimage.IsDirectoryMarker(""))
}

func TestRankLabels(t *testing.T) {
	t.Run("keeps top four by topicality", func(t *testing.T) {
		input := defaultVision().labels
		original := append([]simpleimage.Label{}, input...)

		ranked := simpleimage.RankLabels(input)
		require.Len(t, ranked, simpleimage.MaxLabels)
		assert.Equal(t, []string{"Cat", "Pet", "Mammal", "Carnivore"}, descriptions(ranked))
		assert.Equal(t, original, input, "input must not be reordered")
	})

	t.Run("score breaks topicality ties", func(t *testing.T) {
		ranked := simpleimage.RankLabels([]simpleimage.Label{
			{Description: "low", Score: 0.1, Topicality: 0.5},
			{Description: "high", Score: 0.9, Topicality: 0.5},
		})
		assert.Equal(t, []string{"high", "low"}, descriptions(ranked))
	})

	t.Run("full ties keep input order", func(t *testing.T) {
		ranked := simpleimage.RankLabels([]simpleimage.Label{
			{Description: "first", Score: 0.5, Topicality: 0.5},
			{Description: "second", Score: 0.5, Topicality: 0.5},
			{Description: "third", Score: 0.5, Topicality: 0.5},
		})
		assert.Equal(t, []string{"first", "second", "third"}, descriptions(ranked))
	})

	t.Run("empty input", func(t *testing.T) {
		ranked := simpleimage.RankLabels(nil)
		assert.NotNil(t, ranked)
		assert.Empty(t, ranked)
	})
}

func descriptions(labels []simpleimage.Label) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		out = append(out, l.Description)
	}
	return out
}

func TestParseEventTime(t *testing.T) {
	want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value string
		want  *time.Time
		err   bool
	}{
		{"zulu", "2024-05-01T10:00:00Z", &want, false},
		{"offset", "2024-05-01T12:00:00+02:00", &want, false},
		{"zero offset", "2024-05-01T10:00:00+00:00", &want, false},
		{"fractional zulu", "2024-05-01T10:00:00.000000Z", &want, false},
		{"empty", "", nil, false},
		{"garbage", "yesterday", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := simpleimage.ParseEventTime(tt.value)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.True(t, tt.want.Equal(*got), "got %v", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestOwnerFromMetadata(t *testing.T) {
	assert.Equal(t, "alice", simpleimage.OwnerFromMetadata(map[string]string{"userId": "alice"}))
	assert.Equal(t, "bob", simpleimage.OwnerFromMetadata(map[string]string{"userid": "bob"}))
	assert.Equal(t, "", simpleimage.OwnerFromMetadata(map[string]string{"other": "x"}))
	assert.Equal(t, "", simpleimage.OwnerFromMetadata(nil))
}

func TestBoxesFromAnnotations(t *testing.T) {
	boxes := simpleimage.BoxesFromAnnotations(defaultVision().text)
	assert.Equal(t, []simpleimage.TextBox{
		{Text: "HELLO", X: 1, Y: 2, Width: 10, Height: 5},
		{Text: "WORLD", X: 15, Y: 2, Width: 15, Height: 6},
	}, boxes)

	t.Run("missing vertices count as zero", func(t *testing.T) {
		boxes := simpleimage.BoxesFromAnnotations([]simpleimage.TextAnnotation{
			{Description: "FULL"},
			{Description: "W", Vertices: []simpleimage.Vertex{{X: 4, Y: 3}}},
		})
		assert.Equal(t, []simpleimage.TextBox{{Text: "W", X: 4, Y: 3, Width: -4, Height: -3}}, boxes)
	})

	t.Run("full text only", func(t *testing.T) {
		boxes := simpleimage.BoxesFromAnnotations([]simpleimage.TextAnnotation{{Description: "FULL"}})
		assert.NotNil(t, boxes)
		assert.Empty(t, boxes)
	})

	assert.Equal(t, "HELLO WORLD", simpleimage.FullText(defaultVision().text))
	assert.Equal(t, "", simpleimage.FullText(nil))
}

func TestImagePatchApply(t *testing.T) {
	text := "old text"
	rec := &simpleimage.ImageRecord{
		ID:        "alice_cat.jpg",
		Container: testBucket,
		Path:      "alice/cat.jpg",
		OwnerID:   "alice",
		Labels:    []simpleimage.Label{{Description: "Cat"}},
		OCRText:   &text,
	}

	size := int64(42)
	patch := &simpleimage.ImagePatch{SizeBytes: &size}
	patch.Apply(rec)

	assert.Equal(t, int64(42), rec.SizeBytes)
	assert.Equal(t, "alice", rec.OwnerID)
	assert.Equal(t, "old text", *rec.OCRText)
	assert.Len(t, rec.Labels, 1)
	assert.Equal(t, map[string]interface{}{"size": int64(42)}, patch.Fields())

	assert.True(t, (&simpleimage.ImagePatch{}).IsEmpty())
	assert.False(t, patch.IsEmpty())
}

func TestImageRecordClone(t *testing.T) {
	text := "hello"
	rec := &simpleimage.ImageRecord{
		Labels:    []simpleimage.Label{{Description: "Cat"}},
		OCRText:   &text,
		CreatedAt: &fixedNow,
	}
	c := rec.Clone()
	c.Labels[0].Description = "Dog"
	*c.OCRText = "changed"

	assert.Equal(t, "Cat", rec.Labels[0].Description)
	assert.Equal(t, "hello", *rec.OCRText)
	assert.NotSame(t, rec.CreatedAt, c.CreatedAt)
}
