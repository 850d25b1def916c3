package wshub

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 65536
	clientSendBufferSize = 512
)

// originChecker allows every origin when ALLOWED_ORIGINS is unset or "*",
// and otherwise only the origins in that comma-separated allowlist.
// Requests without an Origin header are always allowed.
type originChecker struct {
	allowedOrigins map[string]struct{}
	allowAll       bool
}

var defaultOriginChecker = newOriginChecker()

func newOriginChecker() *originChecker {
	oc := &originChecker{allowedOrigins: make(map[string]struct{})}
	env := os.Getenv("ALLOWED_ORIGINS")
	if env == "" || env == "*" {
		oc.allowAll = true
		return oc
	}
	for _, origin := range strings.Split(env, ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			oc.allowedOrigins[origin] = struct{}{}
		}
	}
	return oc
}

func (oc *originChecker) check(origin string) bool {
	if origin == "" || oc.allowAll {
		return true
	}
	_, ok := oc.allowedOrigins[origin]
	return ok
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return defaultOriginChecker.check(r.Header.Get("Origin"))
	},
	EnableCompression: true,
}

// Client is one connected dashboard WebSocket connection.
type Client struct {
	conn *websocket.Conn
	hub  *Hub
	log  *zap.Logger
	send chan []byte
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("dashboard websocket read error", zap.Error(err))
			}
			break
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
		drainLoop:
			for {
				select {
				case msg, ok := <-c.send:
					if !ok {
						break drainLoop
					}
					w.Write([]byte{'\n'})
					w.Write(msg)
				default:
					break drainLoop
				}
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS upgrades an HTTP request to a dashboard WebSocket connection and
// registers it with hub.
func ServeWS(hub *Hub, log *zap.Logger, w http.ResponseWriter, r *http.Request) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("dashboard websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{conn: conn, hub: hub, log: log, send: make(chan []byte, clientSendBufferSize)}
	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}
