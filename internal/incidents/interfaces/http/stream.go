package http

import (
	"fmt"
	"net/http"
	"time"

	"safety-cloud/internal/incidents/notify"
)

const keepAliveInterval = 25 * time.Second

// StreamHandler serves the SSE incident stream for dashboards.
type StreamHandler struct {
	broker    *notify.SSEBroker
	keepAlive time.Duration
}

// NewStreamHandler constructs a stream handler.
func NewStreamHandler(broker *notify.SSEBroker) *StreamHandler {
	return &StreamHandler{broker: broker, keepAlive: keepAliveInterval}
}

// ServeHTTP handles GET /incident/events.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.broker == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	ch := h.broker.Subscribe()
	defer h.broker.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	done := r.Context().Done()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, msg.Data)
			flusher.Flush()
		case <-ticker.C:
			_, _ = w.Write([]byte(": keep-alive\n\n"))
			flusher.Flush()
		case <-done:
			return
		}
	}
}
