package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"fleetguardian/internal/logging"
	"fleetguardian/internal/pubsub"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// watchMessage switches the viewed device over an open socket.
type watchMessage struct {
	Action string `json:"action"`
	Target string `json:"target"`
}

// LiveHandler serves GET /ws/live?target=<id>: one Viewer per connection,
// each rendered item written as a JSON text message.
type LiveHandler struct {
	broadcaster pubsub.Broadcaster
	logger      logging.Logger
}

// NewLiveHandler constructs the handler.
func NewLiveHandler(broadcaster pubsub.Broadcaster, logger logging.Logger) *LiveHandler {
	return &LiveHandler{broadcaster: broadcaster, logger: logging.OrDiscard(logger)}
}

func (h *LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	// Frames are dropped, never queued: a slot of one holds only the newest.
	frames := make(chan Update, 1)
	audio := make(chan Update, 1)
	render := func(u Update) {
		ch := frames
		if u.Event == EventAudio {
			ch = audio
		}
		for {
			select {
			case ch <- u:
				return
			default:
			}
			select {
			case <-ch:
			default:
			}
		}
	}
	viewer, err := NewViewer(h.broadcaster, r.URL.Query().Get("target"), render, h.logger)
	if err != nil {
		http.Error(w, "target must be a canonical device identifier", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("live upgrade failed")
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	if err := viewer.Start(ctx); err != nil {
		h.logger.WithError(err).Warn("live subscribe failed")
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"))
		conn.Close()
		return
	}
	defer viewer.Close()

	go h.readPump(conn, viewer, cancel)
	h.writePump(ctx, conn, frames, audio)
}

func (h *LiveHandler) readPump(conn *websocket.Conn, viewer *Viewer, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.WithError(err).Debug("live connection closed")
			}
			return
		}
		var msg watchMessage
		if err := json.Unmarshal(message, &msg); err != nil || msg.Action != "watch" {
			continue
		}
		if err := viewer.SetTarget(msg.Target); err != nil {
			h.logger.WithField("target", msg.Target).Debug("live watch rejected")
		}
	}
}

func (h *LiveHandler) writePump(ctx context.Context, conn *websocket.Conn, frames, audio <-chan Update) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		var update Update
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case update = <-frames:
		case update = <-audio:
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(update); err != nil {
			return
		}
	}
}
