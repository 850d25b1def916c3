// Package wshub pushes eventbus events to connected dashboard clients over
// WebSocket. It is a thin mapper: no business logic lives here, it only
// broadcasts what internal/eventbus already published, adapted from the
// teacher's internal/websocket/hub.go connection-management core.
package wshub

import (
	"bytes"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"arbitrage-core/internal/eventbus"
)

var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// Message is the envelope every broadcast event is wrapped in.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub manages every connected dashboard WebSocket client and fans out
// eventbus events to all of them.
type Hub struct {
	clients map[*Client]bool

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu  sync.RWMutex
	log *zap.Logger
}

// NewHub creates a Hub. Call Run in its own goroutine before serving
// connections.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		log:        log,
	}
}

// Run is the hub's event loop. It takes no stop signal and never returns,
// so it runs in its own goroutine for the life of the process.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			var toRemove []*Client
			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					toRemove = append(toRemove, client)
				}
			}

			if len(toRemove) > 0 {
				h.mu.Lock()
				for _, client := range toRemove {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				h.mu.Unlock()
			}
		}
	}
}

// Broadcast serializes message and fans it out to every connected client.
func (h *Hub) Broadcast(message interface{}) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		h.log.Error("failed to marshal broadcast message", zap.Error(err))
		jsonBufferPool.Put(buf)
		return
	}

	data := buf.Bytes()
	if len(data) > 0 && data[len(data)-1] == '\n' {
		data = data[:len(data)-1]
	}
	msgCopy := make([]byte, len(data))
	copy(msgCopy, data)
	jsonBufferPool.Put(buf)

	h.broadcast <- msgCopy
}

// ClientCount reports the number of currently connected dashboard clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// eventTypes maps every forwarded eventbus.Name to the wire "type" field
// a dashboard client dispatches on.
var eventTypes = map[eventbus.Name]string{
	eventbus.PlatformHealthUpdated:      "platform.health.updated",
	eventbus.PlatformHealthDegraded:     "platform.health.degraded",
	eventbus.PlatformHealthRecovered:    "platform.health.recovered",
	eventbus.PlatformHealthDisconnected: "platform.health.disconnected",
	eventbus.OrderFilled:                "order.filled",
	eventbus.ExecutionFailed:                    "execution.failed",
	eventbus.ExecutionSingleLegExposure:         "execution.single_leg.exposure",
	eventbus.ExecutionSingleLegExposureReminder: "execution.single_leg.exposure_reminder",
	eventbus.ExecutionSingleLegResolved:         "execution.single_leg.resolved",
	eventbus.ExecutionExitTriggered:             "execution.exit.triggered",
	eventbus.LimitApproached: "limit.approached",
	eventbus.LimitBreached:   "limit.breached",
	eventbus.ReconciliationDiscrepancy: "reconciliation.discrepancy",
	eventbus.ReconciliationComplete:    "reconciliation.complete",
}

// Subscribe wires the hub onto every dashboard-relevant bus event, so
// main only has to call this once at startup.
func (h *Hub) Subscribe(bus *eventbus.Bus) {
	for name, wireType := range eventTypes {
		wt := wireType
		bus.Subscribe(name, func(event interface{}) {
			h.Broadcast(Message{Type: wt, Data: event})
		})
	}
}
