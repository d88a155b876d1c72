package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/astroacademy/backend/core"
	"github.com/astroacademy/backend/core/notification"
)

// Events
const (
	EventConnected    = "connected"
	EventJoinRoom     = "join-room"
	EventUserJoined   = "user-joined"
	EventUserLeft     = "user-left"
	EventOffer        = "offer"
	EventAnswer       = "answer"
	EventIceCandidate = "ice-candidate"
)

// Envelope is the JSON text frame exchanged with clients.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Broker spreads emitted events to every API instance.
type Broker interface {
	Publish(ctx context.Context, payload []byte) error
	// Subscribe calls handle for every published payload until ctx is done.
	Subscribe(ctx context.Context, handle func(payload []byte)) error
}

type Option func(h *Hub)

// WithBroker makes Emit go through b, so clients connected to other instances receive the event too.
func WithBroker(b Broker) Option {
	return func(h *Hub) { h.broker = b }
}

// WithAllowedOrigins restricts websocket upgrades to the given origins. "*" allows any.
func WithAllowedOrigins(origins []string) Option {
	return func(h *Hub) {
		allowed := make(map[string]bool, len(origins))
		for _, o := range origins {
			allowed[o] = true
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed["*"] || allowed[origin]
		}
	}
}

// Hub owns the realtime connections: it fans events out to all of them and relays signaling between them.
type Hub struct {
	upgrader websocket.Upgrader
	logger   core.Logger
	rooms    *Rooms
	broker   Broker

	mu      sync.RWMutex
	clients map[string]*client
}

var _ notification.Publisher = (*Hub)(nil) // interface compliance check

func NewHub(logger core.Logger, opts ...Option) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		logger:   logger,
		rooms:    NewRooms(),
		clients:  make(map[string]*client),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run relays broker events to local clients until ctx is done. Without a broker it just waits.
func (h *Hub) Run(ctx context.Context) error {
	if h.broker == nil {
		<-ctx.Done()
		return nil
	}
	return h.broker.Subscribe(ctx, h.broadcastLocal)
}

func encode(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding %s payload", event)
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// Emit sends event to every connected client, on every instance when a broker is set.
func (h *Hub) Emit(event string, data interface{}) error {
	msg, err := encode(event, data)
	if err != nil {
		return err
	}
	if h.broker != nil {
		if err = h.broker.Publish(context.Background(), msg); err == nil {
			return nil
		}
		// at least reach the clients of this instance
		h.broadcastLocal(msg)
		return errors.Wrap(err, "publishing to broker")
	}
	h.broadcastLocal(msg)
	return nil
}

func (h *Hub) broadcastLocal(msg []byte) {
	var env Envelope
	if err := json.Unmarshal(msg, &env); err == nil {
		eventsEmitted.WithLabelValues(env.Event).Inc()
	}

	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.deliver(c, msg)
	}
}

// deliver queues msg for c, dropping c if it cannot keep up.
func (h *Hub) deliver(c *client, msg []byte) {
	if !c.enqueue(msg) {
		select {
		case <-c.done:
		default:
			clientsDropped.Inc()
			h.logger.Warn("realtime: dropping slow client " + c.id)
			c.close()
		}
	}
}

func (h *Hub) sendTo(id string, event string, data interface{}) {
	h.mu.RLock()
	c, ok := h.clients[id]
	h.mu.RUnlock()
	if !ok {
		return
	}
	msg, err := encode(event, data)
	if err != nil {
		h.logger.Error("realtime: "+err.Error(), err)
		return
	}
	eventsEmitted.WithLabelValues(event).Inc()
	h.deliver(c, msg)
}

// ClientCount returns the number of clients connected to this instance.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Rooms exposes the signaling room registry.
func (h *Hub) Rooms() *Rooms { return h.rooms }

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	connections.Inc()
}

// unregister drops c and tells the members of each room it was in that it left.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	delete(h.clients, c.id)
	h.mu.Unlock()
	c.close()
	if !ok {
		return
	}
	connections.Dec()

	for _, members := range h.rooms.LeaveAll(c.id) {
		for _, id := range members {
			h.sendTo(id, EventUserLeft, c.id)
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.close()
	}
}

// ServeHTTP upgrades the request to a websocket and serves the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already replied with an HTTP error
		h.logger.Debug(fmt.Sprintf("realtime: upgrade failed: %v", err))
		return
	}

	c := newClient(uuid.NewString(), h, conn)
	h.register(c)
	h.sendTo(c.id, EventConnected, map[string]string{"id": c.id})

	go c.writePump()
	c.readPump()
}

func (h *Hub) handle(c *client, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.logger.Debug(fmt.Sprintf("realtime: malformed frame from %s: %v", c.id, err))
		return
	}

	switch env.Event {
	case EventJoinRoom:
		h.joinRoom(c, env.Data)
	case EventOffer, EventAnswer, EventIceCandidate:
		h.relay(c, env.Event, env.Data)
	default:
		h.logger.Debug(fmt.Sprintf("realtime: unknown event %q from %s", env.Event, c.id))
	}
}

// joinRoom accepts the room id either as a bare string or as {"roomId": "..."}.
func (h *Hub) joinRoom(c *client, data json.RawMessage) {
	var room string
	if err := json.Unmarshal(data, &room); err != nil {
		var obj struct {
			RoomID string `json:"roomId"`
		}
		if err = json.Unmarshal(data, &obj); err != nil {
			h.logger.Debug(fmt.Sprintf("realtime: bad %s payload from %s", EventJoinRoom, c.id))
			return
		}
		room = obj.RoomID
	}
	if room == "" {
		return
	}

	// the joiner gets no roster: existing members announce themselves through offers
	for _, id := range h.rooms.Join(room, c.id) {
		h.sendTo(id, EventUserJoined, c.id)
	}
}

// relay forwards a signaling payload verbatim to its target, tagged with the sender.
// Room membership is not checked.
func (h *Hub) relay(c *client, event string, data json.RawMessage) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(data, &payload); err != nil {
		h.logger.Debug(fmt.Sprintf("realtime: bad %s payload from %s", event, c.id))
		return
	}
	var target string
	if err := json.Unmarshal(payload["target"], &target); err != nil || target == "" {
		return
	}
	sender, _ := json.Marshal(c.id)
	payload["sender"] = sender
	h.sendTo(target, event, payload)
}
