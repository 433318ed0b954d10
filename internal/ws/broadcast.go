package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const sendQueueCap = 64

// conn is the subset of *websocket.Conn the broadcaster needs. Tests
// substitute an in-memory implementation.
type conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type client struct {
	conn conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func newClient(c conn) *client {
	cl := &client{
		conn: c,
		send: make(chan []byte, sendQueueCap),
	}
	go cl.writePump()
	return cl
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// enqueue places data on the client's bounded send queue. When the queue is
// full the oldest message is dropped: a slow observer loses updates but
// never blocks fan-out, and it can always catch up from a fresh snapshot.
func (c *client) enqueue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	for {
		select {
		case c.send <- data:
			return
		default:
			select {
			case <-c.send:
			default:
			}
		}
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Broadcaster fans aggregated session updates out to every observer of a
// session. Rooms are keyed by session ID; a client observes at most one
// session at a time and switching rooms leaves the previous one. Delivery
// is best-effort per connected observer: a disconnected or lagging observer
// misses updates until it resubscribes and receives a fresh snapshot.
type Broadcaster struct {
	mu    sync.RWMutex
	rooms map[string]map[*client]bool
	room  map[*client]string
	log   *zap.Logger
}

func NewBroadcaster(log *zap.Logger) *Broadcaster {
	if log == nil {
		log = zap.NewNop()
	}
	return &Broadcaster{
		rooms: make(map[string]map[*client]bool),
		room:  make(map[*client]string),
		log:   log,
	}
}

// Register wraps the connection in a client with a running write pump.
func (b *Broadcaster) Register(c conn) *client {
	return newClient(c)
}

// Subscribe adds the client to the session's room. Idempotent: subscribing
// to the room it is already in is a no-op; subscribing to a different room
// leaves the old one first.
func (b *Broadcaster) Subscribe(c *client, sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if current, ok := b.room[c]; ok {
		if current == sessionID {
			return
		}
		b.leaveLocked(c, current)
	}

	members, ok := b.rooms[sessionID]
	if !ok {
		members = make(map[*client]bool)
		b.rooms[sessionID] = members
	}
	members[c] = true
	b.room[c] = sessionID
}

// Unsubscribe removes the client from its room, if any. Mandatory on
// disconnect so room membership cannot grow without bound.
func (b *Broadcaster) Unsubscribe(c *client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if current, ok := b.room[c]; ok {
		b.leaveLocked(c, current)
	}
}

func (b *Broadcaster) leaveLocked(c *client, sessionID string) {
	delete(b.room, c)
	if members, ok := b.rooms[sessionID]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(b.rooms, sessionID)
		}
	}
}

// Remove unsubscribes and closes the client. Safe to call more than once.
func (b *Broadcaster) Remove(c *client) {
	b.Unsubscribe(c)
	c.close()
}

// Publish delivers the message to every current subscriber of the session.
// The payload is marshaled once; enqueueing never blocks on any subscriber.
func (b *Broadcaster) Publish(sessionID string, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.log.Error("broadcast marshal failed", zap.Error(err))
		return
	}

	b.mu.RLock()
	members := make([]*client, 0, len(b.rooms[sessionID]))
	for c := range b.rooms[sessionID] {
		members = append(members, c)
	}
	b.mu.RUnlock()

	for _, c := range members {
		c.enqueue(data)
	}
}

// Send delivers a message to a single client (snapshots, errors).
func (b *Broadcaster) Send(c *client, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.log.Error("send marshal failed", zap.Error(err))
		return
	}
	c.enqueue(data)
}

// SubscriberCount returns the number of observers in the session's room.
func (b *Broadcaster) SubscriberCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms[sessionID])
}

// ClientCount returns the number of subscribed clients across all rooms.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.room)
}
