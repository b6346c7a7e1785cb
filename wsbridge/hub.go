package wsbridge

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"cellgrid/engine"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// sendBuffer is the number of messages queued per client before it is
	// dropped as too slow.
	sendBuffer = 256
	// busBuffer is the hub's subscription buffer on the engine bus.
	busBuffer  = 1024
	maxMessage = 64 * 1024
)

// Hub fans bus events out to websocket clients. A client receives every
// collection's events until it subscribes to one.
type Hub struct {
	engine   *engine.Engine
	upgrader websocket.Upgrader
	logger   hclog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// client is one websocket connection.
type client struct {
	hub  *Hub
	ws   *websocket.Conn
	send chan []byte

	mu           sync.Mutex
	collectionID string
}

func NewHub(eng *engine.Engine, checkOrigin func(*http.Request) bool, logger hclog.Logger) *Hub {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Hub{
		engine:   eng,
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
		logger:   logger.Named("hub"),
		clients:  make(map[*client]struct{}),
	}
}

// Run forwards bus events to clients until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	id, events := h.engine.Bus().Subscribe(busBuffer)
	defer h.engine.Bus().Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			env, err := eventEnvelope(ev)
			if err != nil {
				h.logger.Warn("dropping event", "type", ev.Type, "error", err)
				continue
			}
			if env != nil {
				h.Broadcast(env)
			}
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends env to every client watching its collection. Clients whose
// buffer is full are disconnected.
func (h *Hub) Broadcast(env *Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("marshal envelope", "type", env.Type, "error", err)
		return
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		if !c.wants(env.CollectionID) {
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("client too slow, disconnecting", "remote", c.ws.RemoteAddr().String())
		h.remove(c)
	}
}

// ServeWS upgrades the request and starts the client's pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("upgrade failed", "error", err)
		return
	}
	c := &client{hub: h, ws: ws, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	if id := r.URL.Query().Get("collection"); id != "" {
		c.subscribe(id)
	}
	h.logger.Debug("client connected", "remote", r.RemoteAddr, "collection", c.collection())

	go c.writePump()
	go c.readPump()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (c *client) wants(collectionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.collectionID == "" || c.collectionID == collectionID
}

func (c *client) collection() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.collectionID
}

// subscribe narrows the client to one collection and queues a snapshot of
// it.
func (c *client) subscribe(collectionID string) {
	c.mu.Lock()
	c.collectionID = collectionID
	c.mu.Unlock()

	col, ok := c.hub.engine.Collection(collectionID)
	if !ok {
		c.reply(TypeError, collectionID, ErrorPayload{Message: "unknown collection"})
		return
	}
	c.reply(TypeSnapshot, collectionID, SnapshotPayload{
		Collection: collectionView(col),
		Cells:      cellViews(col),
	})
}

func (c *client) reply(t MessageType, collectionID string, payload any) {
	env, err := NewEnvelope(t, collectionID, payload)
	if err != nil {
		c.hub.logger.Error("build reply", "type", t, "error", err)
		return
	}
	data, _ := json.Marshal(env)

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessage)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("read error", "error", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.reply(TypeError, "", ErrorPayload{Message: "invalid message"})
			continue
		}
		switch env.Type {
		case TypeSubscribe:
			c.subscribe(env.CollectionID)
		case TypeUnsubscribe:
			c.mu.Lock()
			c.collectionID = ""
			c.mu.Unlock()
		default:
			c.reply(TypeError, env.CollectionID, ErrorPayload{Message: "unknown message type " + string(env.Type)})
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
