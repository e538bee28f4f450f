package simpleimage

import (
	"cmp"
	"slices"
	"strings"
	"time"
)

// DocumentID derives the metadata document id from an object path by
// replacing every "/" with "_". Distinct paths that only differ in "/"
// versus "_" map to the same id; such paths collide by construction.
func DocumentID(path string) string {
	return strings.ReplaceAll(path, "/", "_")
}

// IsDirectoryMarker reports whether path denotes a directory placeholder object
func IsDirectoryMarker(path string) bool {
	return strings.HasSuffix(path, "/")
}

// RankLabels orders labels by descending topicality, then descending score,
// and keeps the first MaxLabels. Labels equal in both keys keep their input
// order. The input slice is not modified and the result is never nil.
func RankLabels(labels []Label) []Label {
	ranked := make([]Label, len(labels))
	copy(ranked, labels)
	slices.SortStableFunc(ranked, func(a, b Label) int {
		if c := cmp.Compare(b.Topicality, a.Topicality); c != 0 {
			return c
		}
		return cmp.Compare(b.Score, a.Score)
	})
	if len(ranked) > MaxLabels {
		ranked = ranked[:MaxLabels]
	}
	return ranked
}

// ParseEventTime parses an RFC3339 event timestamp into UTC.
// A trailing "Z" is normalized to "+00:00" first. An empty value yields nil.
func ParseEventTime(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if strings.HasSuffix(value, "Z") {
		value = strings.TrimSuffix(value, "Z") + "+00:00"
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}

// OwnerFromMetadata returns the owner stamped on an object, matching the key
// case-insensitively since S3 lowercases user metadata keys.
func OwnerFromMetadata(metadata map[string]string) string {
	if owner, ok := metadata[OwnerMetadataKey]; ok {
		return owner
	}
	for k, v := range metadata {
		if strings.EqualFold(k, OwnerMetadataKey) {
			return v
		}
	}
	return ""
}

// FullText returns the full-text annotation of a text-detection response,
// or the empty string when nothing was detected.
func FullText(annotations []TextAnnotation) string {
	if len(annotations) == 0 {
		return ""
	}
	return annotations[0].Description
}

// BoxesFromAnnotations converts per-word annotations into boxes, skipping the
// leading full-text annotation. Missing vertices count as zero.
func BoxesFromAnnotations(annotations []TextAnnotation) []TextBox {
	boxes := make([]TextBox, 0, len(annotations))
	if len(annotations) < 2 {
		return boxes
	}
	for _, a := range annotations[1:] {
		v0, v1, v2 := vertexAt(a.Vertices, 0), vertexAt(a.Vertices, 1), vertexAt(a.Vertices, 2)
		boxes = append(boxes, TextBox{
			Text:   a.Description,
			X:      v0.X,
			Y:      v0.Y,
			Width:  v1.X - v0.X,
			Height: v2.Y - v0.Y,
		})
	}
	return boxes
}

func vertexAt(vertices []Vertex, i int) Vertex {
	if i < len(vertices) {
		return vertices[i]
	}
	return Vertex{}
}
