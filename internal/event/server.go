package event

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kazz187/taskflow/internal/eventbus"
)

const (
	subscriberBuffer  = 64
	heartbeatInterval = 15 * time.Second
)

// Server streams event bus traffic to HTTP clients as server-sent events.
type Server struct {
	eventBus  *eventbus.Bus
	heartbeat time.Duration
}

func NewServer(eventBus *eventbus.Bus) *Server {
	return &Server{eventBus: eventBus, heartbeat: heartbeatInterval}
}

func (s *Server) Mount(r chi.Router) {
	r.Get("/events", s.StreamEvents)
}

// StreamEvents accepts repeated "type" query parameters and an optional
// "project_id" to narrow the stream. Events are dropped for a client that
// falls behind.
func (s *Server) StreamEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rc := http.NewResponseController(w)

	typeFilter := make(map[eventbus.EventType]struct{})
	for _, t := range r.URL.Query()["type"] {
		typeFilter[eventbus.EventType(t)] = struct{}{}
	}
	projectID := r.URL.Query().Get("project_id")

	subID, ch := s.eventBus.Subscribe(subscriberBuffer)
	defer s.eventBus.Unsubscribe(subID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		slog.ErrorContext(ctx, "event stream is not flushable", "error", err)
		return
	}

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if len(typeFilter) > 0 {
				if _, match := typeFilter[ev.Type]; !match {
					continue
				}
			}
			if projectID != "" {
				if evProjectID, ok := ev.Metadata["project_id"]; ok && evProjectID != projectID {
					continue
				}
			}
			data, err := json.Marshal(ev)
			if err != nil {
				slog.ErrorContext(ctx, "failed to encode event", "event_id", ev.ID, "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
