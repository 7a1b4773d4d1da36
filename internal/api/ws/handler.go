package ws

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mentora/engine/internal/domain/events"
	"github.com/mentora/engine/internal/infrastructure/logging"
	"github.com/mentora/engine/internal/infrastructure/monitoring"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
	readLimit    = 4096
)

// Source hands out event subscriptions.
type Source interface {
	Subscribe(name string) events.Subscription
}

// Message is a client to server frame.
type Message struct {
	Type  string   `json:"type"`
	Types []string `json:"types,omitempty"`
}

// Handler streams bus events to WebSocket clients
type Handler struct {
	source   Source
	metrics  *monitoring.Metrics
	logger   *logging.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket handler. allowOrigins follows the
// CORS setting; "*" or an empty list accepts every origin.
func NewHandler(source Source, allowOrigins []string, metrics *monitoring.Metrics, logger *logging.Logger) *Handler {
	h := &Handler{
		source:  source,
		metrics: metrics,
		logger:  logging.OrNop(logger).Named("ws"),
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: originChecker(allowOrigins)}
	return h
}

func originChecker(allow []string) func(*http.Request) bool {
	for _, o := range allow {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	if len(allow) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allow {
			if strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// HandleConnection upgrades the request and forwards events until the
// client goes away. ?types=a,b limits the stream to those event types.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if h.metrics != nil {
		h.metrics.IncWSConnections()
		defer h.metrics.DecWSConnections()
	}

	sub := h.source.Subscribe("ws:" + c.ClientIP())
	defer sub.Close()

	filter := newFilter(splitTypes(c.Query("types")))
	controls := make(chan Message, 8)
	done := make(chan struct{})
	go h.read(conn, controls, done)

	h.logger.Debug("Event stream opened", zap.String("client", c.ClientIP()))
	defer h.logger.Debug("Event stream closed", zap.String("client", c.ClientIP()))

	if err := h.send(conn, map[string]any{
		"type":    "system",
		"message": "connected",
		"filter":  filter.list(),
	}); err != nil {
		return
	}

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-sub.Events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeWait))
				return
			}
			if !filter.match(ev.Type) {
				continue
			}
			if err := h.send(conn, map[string]any{"type": "event", "event": ev}); err != nil {
				return
			}
		case msg := <-controls:
			if err := h.control(conn, &filter, msg); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// read owns the read side of conn. Writes stay on the caller's goroutine.
func (h *Handler) read(conn *websocket.Conn, controls chan<- Message, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		select {
		case controls <- msg:
		default:
			h.logger.Warn("Dropping client message, queue full", zap.String("type", msg.Type))
		}
	}
}

func (h *Handler) control(conn *websocket.Conn, f *filter, msg Message) error {
	switch msg.Type {
	case "ping":
		return h.send(conn, map[string]any{"type": "pong"})
	case "subscribe":
		*f = newFilter(msg.Types)
		return h.send(conn, map[string]any{"type": "subscribed", "filter": f.list()})
	default:
		return h.sendError(conn, "unknown message type")
	}
}

func (h *Handler) send(conn *websocket.Conn, data any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(data); err != nil {
		h.logger.Debug("WebSocket send failed", zap.Error(err))
		return err
	}
	return nil
}

func (h *Handler) sendError(conn *websocket.Conn, message string) error {
	return h.send(conn, map[string]any{
		"type":    "error",
		"message": message,
	})
}

// filter selects event types; an empty filter passes everything.
type filter map[events.Type]struct{}

func newFilter(types []string) filter {
	f := filter{}
	for _, t := range types {
		if t = strings.TrimSpace(t); t != "" {
			f[events.Type(t)] = struct{}{}
		}
	}
	return f
}

func (f filter) match(t events.Type) bool {
	if len(f) == 0 {
		return true
	}
	_, ok := f[t]
	return ok
}

func (f filter) list() []string {
	out := make([]string, 0, len(f))
	for t := range f {
		out = append(out, string(t))
	}
	return out
}

func splitTypes(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}
