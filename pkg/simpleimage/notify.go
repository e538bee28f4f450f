package simpleimage

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by backends without an external event source
const (
	LocalFinalizeEventType = "simpleimage.object.finalized"
	LocalDeleteEventType   = "simpleimage.object.deleted"
)

// FinalizeEventFromAttrs builds the notification for a freshly written object
func FinalizeEventFromAttrs(attrs ObjectAttrs) FinalizeEvent {
	return FinalizeEvent{
		ID:             uuid.NewString(),
		Type:           LocalFinalizeEventType,
		Bucket:         attrs.Container,
		Name:           attrs.Path,
		Metageneration: "1",
		Size:           attrs.Size,
		ContentType:    attrs.ContentType,
		TimeCreated:    formatEventTime(attrs.Created),
		Updated:        formatEventTime(attrs.Updated),
		Metadata:       maps.Clone(attrs.Metadata),
	}
}

// DeleteEventFor builds the notification for a removed object
func DeleteEventFor(container, path string) DeleteEvent {
	return DeleteEvent{
		ID:     uuid.NewString(),
		Type:   LocalDeleteEventType,
		Bucket: container,
		Name:   path,
	}
}

func formatEventTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
