package feed

import (
	"context"
	"net/http"
	"time"

	"fleetguardian/internal/auth"
	"fleetguardian/internal/logging"
	"fleetguardian/internal/pubsub"
)

const keepAliveInterval = 25 * time.Second

// StreamHandler serves GET /api/v1/locations/stream: the caller's tenant
// feed as server-sent events.
type StreamHandler struct {
	broadcaster pubsub.Broadcaster
	logger      logging.Logger
}

// NewStreamHandler constructs a stream handler.
func NewStreamHandler(broadcaster pubsub.Broadcaster, logger logging.Logger) *StreamHandler {
	return &StreamHandler{broadcaster: broadcaster, logger: logging.OrDiscard(logger)}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.broadcaster == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}
	tenant, err := auth.TenantFromContext(r.Context())
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	// A slow client loses samples rather than stalling the broadcaster.
	ch := make(chan []byte, 16)
	sub, err := h.broadcaster.Subscribe(r.Context(), Channel(tenant.OrganizationID, tenant.BranchID),
		pubsub.OnEvent(func(_ context.Context, msg pubsub.Message) {
			select {
			case ch <- msg.Payload:
			default:
			}
		}, EventLocation))
	if err != nil {
		h.logger.WithError(err).Warn("location stream subscribe failed")
		http.Error(w, "subscribe failed", http.StatusBadGateway)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case payload := <-ch:
			_, _ = w.Write([]byte("event: location\ndata: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-keepAlive.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
