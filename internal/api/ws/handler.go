// Package ws streams engine events to WebSocket clients.
package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mocklab/backend/internal/engine/bus"
	"github.com/mocklab/backend/internal/infrastructure/logging"
	"github.com/mocklab/backend/internal/infrastructure/monitoring"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in dev
	},
}

// Handler manages WebSocket connections to the event feed
type Handler struct {
	bus     *bus.Bus
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewHandler creates a WebSocket handler
func NewHandler(b *bus.Bus, logger *logging.Logger, metrics *monitoring.Metrics) *Handler {
	return &Handler{
		bus:     b,
		logger:  logger,
		metrics: metrics,
	}
}

// HandleConnection upgrades the request and forwards every bus event to the
// client until it disconnects. Delivery is best-effort: a client that falls
// behind the event queue loses events rather than stalling the engine.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	events := make(chan bus.Event, 256)
	control := make(chan interface{}, 8)
	quit := make(chan struct{})
	done := make(chan struct{})

	unsubscribe := h.bus.Subscribe(func(ev bus.Event) {
		select {
		case events <- ev:
		default:
			// Slow consumer; drop instead of blocking the publisher.
		}
	})

	// Single writer goroutine; gorilla connections allow one concurrent
	// writer, and pong replies go through the same channel path.
	go func() {
		defer close(done)
		for {
			select {
			case ev := <-events:
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			case msg := <-control:
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
			case <-quit:
				return
			}
		}
	}()

	control <- map[string]interface{}{
		"type":    "system",
		"message": "Connected to MockLab event feed",
	}

	for {
		var msg struct {
			Type string `json:"type"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		if msg.Type == "ping" {
			select {
			case control <- map[string]interface{}{"type": "pong", "timestamp": time.Now().Unix()}:
			case <-done:
			}
		}
	}

	unsubscribe()
	close(quit)
	<-done
}
