package push

import (
	"net/http"
	"time"
)

const keepAliveInterval = 25 * time.Second

// StreamHandler serves the server-sent-events notification stream.
// Params: push broker.
// Returns: HTTP handler for GET /api/notifications/stream.
type StreamHandler struct {
	broker *Broker
}

// NewStreamHandler creates stream handler.
// Params: push broker.
// Returns: initialized handler.
func NewStreamHandler(broker *Broker) *StreamHandler {
	return &StreamHandler{broker: broker}
}

// ServeHTTP streams notification events to one subscriber until the client
// disconnects. Periodic status events double as keep-alives so proxies do
// not cut idle connections.
// Params: response writer and request.
// Returns: nothing.
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

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := h.broker.Subscribe()
	defer h.broker.Unsubscribe(ch)

	_, _ = w.Write([]byte("event: status\ndata: {\"connected\":true}\n\n"))
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	done := r.Context().Done()
	for {
		select {
		case payload := <-ch:
			_, _ = w.Write([]byte("event: notification\n"))
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-keepAlive.C:
			_, _ = w.Write([]byte("event: status\ndata: {\"connected\":true}\n\n"))
			flusher.Flush()
		case <-done:
			return
		}
	}
}
