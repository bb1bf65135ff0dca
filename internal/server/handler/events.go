package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/openquant/botcore/internal/domain"
)

// eventStream is the durable stream the bot mirrors its events onto.
const eventStream = "events"

// EventsHandler serves the durable event history from the bus stream.
type EventsHandler struct {
	bus    domain.EventBus
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler reading from the given bus.
func NewEventsHandler(bus domain.EventBus, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{bus: bus, logger: logger}
}

type eventView struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

// ListEvents returns events appended after ?after= (a stream ID from a
// previous response; omit or "0" for the beginning), up to ?limit= entries.
// GET /api/events
func (h *EventsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	opts := parseListOpts(r)

	msgs, err := h.bus.StreamRead(r.Context(), eventStream, after, opts.Limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "event stream read failed",
			slog.String("after", after),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := make([]eventView, 0, len(msgs))
	lastID := after
	for _, msg := range msgs {
		out = append(out, eventView{ID: msg.ID, Event: json.RawMessage(msg.Payload)})
		lastID = msg.ID
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(out),
		"last_id": lastID,
		"events":  out,
	})
}
