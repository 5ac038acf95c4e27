package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/GoPolymarket/feedgate/internal/config"
	"github.com/GoPolymarket/feedgate/internal/market"
	"github.com/GoPolymarket/feedgate/internal/middleware"
	"github.com/GoPolymarket/feedgate/internal/pkg/apperrors"
	"github.com/GoPolymarket/feedgate/internal/pkg/logger"
)

var (
	errClientClosed     = errors.New("client connection closed")
	errSendBufferFull   = errors.New("client send buffer full")
	closeHandshakeGrace = time.Second
)

// WSHandler upgrades market data connections and bridges them to the hub.
type WSHandler struct {
	hub      *market.Hub
	cfg      config.ServerConfig
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewWSHandler(hub *market.Hub, cfg config.ServerConfig, l *slog.Logger) *WSHandler {
	if cfg.PingPeriod <= 0 {
		cfg.PingPeriod = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	return &WSHandler{
		hub: hub,
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger.Component(l, "ws"),
	}
}

func (h *WSHandler) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already replied with an HTTP error
		h.logger.Warn("websocket upgrade failed", "client_ip", c.ClientIP(), "error", err)
		return
	}

	client := newWSClient(conn, h.cfg)
	sub, err := h.hub.Connect(client, middleware.Principal(c))
	if err != nil {
		h.logger.Warn("rejecting websocket client", "client_ip", c.ClientIP(), "error", err)
		reason := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, apperrors.Public(err))
		_ = conn.WriteControl(websocket.CloseMessage, reason, time.Now().Add(closeHandshakeGrace))
		_ = conn.Close()
		return
	}

	l := h.logger.With("subscriber", sub.ID, "principal", sub.Principal)
	l.Info("websocket client connected", "client_ip", c.ClientIP())

	go client.writePump()
	client.readPump(h.hub, sub, l)
	l.Info("websocket client disconnected")
}

// wsClient is the market.Transport of one WebSocket connection. Frames are
// queued on send and written by a single writePump goroutine.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	closeOnce    sync.Once
	writeTimeout time.Duration
	pingPeriod   time.Duration
	readLimit    int64
}

func newWSClient(conn *websocket.Conn, cfg config.ServerConfig) *wsClient {
	return &wsClient{
		conn:         conn,
		send:         make(chan []byte, cfg.SendBuffer),
		done:         make(chan struct{}),
		writeTimeout: cfg.WriteTimeout,
		pingPeriod:   cfg.PingPeriod,
		readLimit:    cfg.ReadLimit,
	}
}

// Send never blocks. A full queue means the client is too slow, and the
// error makes the hub drop it.
func (c *wsClient) Send(msg []byte) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return errSendBufferFull
	}
}

func (c *wsClient) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.flush()
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(closeHandshakeGrace))
			return
		}
	}
}

// flush writes whatever is still queued, e.g. the last error frame before a
// server-side disconnect.
func (c *wsClient) flush() {
	for {
		select {
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *wsClient) write(messageType int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

func (c *wsClient) readPump(hub *market.Hub, sub *market.Subscriber, l *slog.Logger) {
	defer hub.Disconnect(sub)

	if c.readLimit > 0 {
		c.conn.SetReadLimit(c.readLimit)
	}
	pongWait := c.pingPeriod + 10*time.Second
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				l.Warn("websocket read failed", "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		hub.HandleFrame(sub, data)
	}
}
