// Package ws streams kernel frame and health events to observers.
//
// Observers (editors, dashboards) connect once and receive a status
// event whenever the frame counter or health level moves. Client
// messages are a tiny request set: ping, status, health.
package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hearth-engine/hearth/internal/kernel"
	"github.com/hearth-engine/hearth/internal/shared/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The status surface is local tooling; origin checks are
		// delegated to the CORS layer.
		return true
	},
}

// Message is the client request envelope.
type Message struct {
	Type string `json:"type"`
}

// Handler manages observer WebSocket connections.
type Handler struct {
	kernel   *kernel.Kernel
	log      *zap.Logger
	interval time.Duration
}

// NewHandler creates a WebSocket handler polling the kernel at the
// given interval.
func NewHandler(k *kernel.Kernel, interval time.Duration, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Handler{kernel: k, log: log.Named("ws"), interval: interval}
}

// conn wraps a websocket connection with a write lock: events come from
// the poll goroutine while replies come from the read loop.
type conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *conn) send(v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// HandleConnection upgrades the request and serves events until the
// client goes away.
func (h *Handler) HandleConnection(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	h.kernel.Metrics().WSConnections.Inc()
	defer h.kernel.Metrics().WSConnections.Dec()

	cn := &conn{ws: ws}
	if err := cn.send(gin.H{"type": "hello", "status": h.kernel.Status()}); err != nil {
		return
	}

	done := make(chan struct{})
	defer close(done)
	go h.poll(cn, done)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg Message
		if err := sonic.Unmarshal(data, &msg); err != nil {
			_ = cn.send(gin.H{"type": "error", "error": "malformed message"})
			continue
		}

		switch msg.Type {
		case "ping":
			_ = cn.send(gin.H{"type": "pong"})
		case "status":
			_ = cn.send(gin.H{"type": "status", "status": h.kernel.Status()})
		case "health":
			_ = cn.send(gin.H{
				"type":    "health",
				"level":   h.kernel.HealthLevel(),
				"metrics": h.kernel.HealthMetrics(),
			})
		default:
			_ = cn.send(gin.H{"type": "error", "error": "unknown message type"})
		}
	}
}

// poll pushes a status event whenever the frame counter or health
// level changes. A paused kernel goes quiet instead of spamming
// identical frames.
func (h *Handler) poll(cn *conn, done <-chan struct{}) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var lastFrame uint64
	lastHealth := types.HealthHealthy
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			frame := h.kernel.Frame()
			health := h.kernel.HealthLevel()
			if frame == lastFrame && health == lastHealth {
				continue
			}
			lastFrame, lastHealth = frame, health
			if err := cn.send(gin.H{"type": "status", "status": h.kernel.Status()}); err != nil {
				return
			}
		}
	}
}
