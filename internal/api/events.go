package api

import (
	"net/http"
	"strconv"

	"stackguard/internal/events"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// EventsHandler serves the event log
type EventsHandler struct {
	store *events.Store
}

// NewEventsHandler creates new events handler
func NewEventsHandler(store *events.Store) *EventsHandler {
	return &EventsHandler{store: store}
}

// List returns events newest first.
// GET /api/{version}/events?limit=50&since=123&type=alarm_on&unit=hall
// since returns every newer event and ignores limit.
func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q := events.Query{
		Type:  events.EventType(params.Get("type")),
		Unit:  params.Get("unit"),
		Limit: defaultEventLimit,
	}

	if since, err := strconv.ParseInt(params.Get("since"), 10, 64); err == nil {
		q.SinceID = since
		q.Limit = 0
	} else if l, err := strconv.Atoi(params.Get("limit")); err == nil && l > 0 && l <= maxEventLimit {
		q.Limit = l
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result": true,
		"events": h.store.Find(q),
		"lastId": h.store.LastID(),
	})
}
