package events

import (
	"context"
	"log/slog"
	"net/http"

	cehttp "github.com/cloudevents/sdk-go/v2/protocol/http"
	"github.com/go-chi/render"

	"github.com/tendant/simple-image/pkg/simpleimage"
)

// Processor handles decoded storage events
type Processor interface {
	HandleFinalize(ctx context.Context, event simpleimage.FinalizeEvent) simpleimage.Outcome
	HandleDelete(ctx context.Context, event simpleimage.DeleteEvent) simpleimage.Outcome
}

// Handler serves the finalize and delete trigger endpoints. Any decodable
// event is acknowledged with 204 whatever its outcome, leaving redelivery
// to the event source.
type Handler struct {
	processor Processor
	logger    *slog.Logger
}

// NewHandler creates a trigger handler
func NewHandler(processor Processor, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{processor: processor, logger: logger}
}

// Finalize handles object finalized CloudEvents
func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	id, eventType, data, ok := h.decode(w, r)
	if !ok {
		return
	}
	h.processor.HandleFinalize(r.Context(), data.FinalizeEvent(id, eventType))
	w.WriteHeader(http.StatusNoContent)
}

// Delete handles object deleted CloudEvents
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, eventType, data, ok := h.decode(w, r)
	if !ok {
		return
	}
	h.processor.HandleDelete(r.Context(), data.DeleteEvent(id, eventType))
	w.WriteHeader(http.StatusNoContent)
}

// decode reads a binary or structured mode CloudEvent
func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (string, string, StorageObjectData, bool) {
	var data StorageObjectData

	event, err := cehttp.NewEventFromHTTPRequest(r)
	if err != nil {
		h.logger.Warn("Failed to decode cloud event", "error", err)
		badRequest(w, r, "invalid cloud event")
		return "", "", data, false
	}
	if err := event.DataAs(&data); err != nil {
		h.logger.Warn("Failed to decode storage event data", "event_id", event.ID(), "error", err)
		badRequest(w, r, "invalid storage event data")
		return "", "", data, false
	}
	return event.ID(), event.Type(), data, true
}

func badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, map[string]string{"error": msg})
}
