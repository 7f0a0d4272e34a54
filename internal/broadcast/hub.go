package broadcast

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"quiz-room-service/internal/domain"
	"quiz-room-service/internal/metrics"
)

const (
	// DefaultBufferSize is the per-connection outbound queue length.
	DefaultBufferSize = 64
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
)

// Conn is the write side of a live connection. *websocket.Conn satisfies it.
type Conn interface {
	WriteJSON(v interface{}) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Hub keeps the live connections of every room and fans events out to them.
// Each client has its own buffered queue and writer goroutine, so a slow or
// dead peer never blocks delivery to the rest of the room.
type Hub struct {
	logger     *zap.Logger
	bufferSize int

	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
}

func NewHub(logger *zap.Logger, bufferSize int) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		logger:     logger,
		bufferSize: bufferSize,
		rooms:      make(map[string]map[*Client]struct{}),
	}
}

// Client is one registered connection.
type Client struct {
	hub         *Hub
	room        string
	participant string
	conn        Conn

	sendMu sync.Mutex
	send   chan domain.Event

	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
}

// Register adds conn to the room and starts its writer.
func (h *Hub) Register(roomCode, participantID string, conn Conn) *Client {
	c := &Client{
		hub:         h,
		room:        roomCode,
		participant: participantID,
		conn:        conn,
		send:        make(chan domain.Event, h.bufferSize),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}

	h.mu.Lock()
	clients, ok := h.rooms[roomCode]
	if !ok {
		clients = make(map[*Client]struct{})
		h.rooms[roomCode] = clients
	}
	clients[c] = struct{}{}
	h.mu.Unlock()

	metrics.Connections.Inc()
	go c.writePump()
	return c
}

// Unregister removes the client from its room and stops its writer after
// flushing what is already queued. Safe to call more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if clients, ok := h.rooms[c.room]; ok {
		if _, present := clients[c]; present {
			delete(clients, c)
			metrics.Connections.Dec()
		}
		if len(clients) == 0 {
			delete(h.rooms, c.room)
		}
	}
	h.mu.Unlock()
	c.stop()
}

// Broadcast queues event for every connection of the room. It never blocks.
func (h *Hub) Broadcast(roomCode string, event domain.Event) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.rooms[roomCode]))
	for c := range h.rooms[roomCode] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Send(event)
	}
	metrics.BroadcastsSent.WithLabelValues(string(event.Type)).Inc()
}

// CloseRoom disconnects every client of the room after their queues drain.
func (h *Hub) CloseRoom(roomCode string) {
	h.mu.Lock()
	clients := h.rooms[roomCode]
	delete(h.rooms, roomCode)
	h.mu.Unlock()

	for c := range clients {
		metrics.Connections.Dec()
		c.stop()
	}
	if len(clients) > 0 {
		h.logger.Info("room connections closed", zap.String("room", roomCode), zap.Int("connections", len(clients)))
	}
}

// Count returns the number of live connections in a room.
func (h *Hub) Count(roomCode string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomCode])
}

// Send queues an event for this connection only. When the queue is full the
// oldest pending event is dropped. Returns false once the client is stopped.
func (c *Client) Send(event domain.Event) bool {
	select {
	case <-c.quit:
		return false
	default:
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	select {
	case c.send <- event:
		return true
	default:
	}
	select {
	case <-c.send:
		metrics.BroadcastDrops.WithLabelValues("buffer_full").Inc()
		c.hub.logger.Warn("dropping oldest queued event",
			zap.String("room", c.room),
			zap.String("participant", c.participant))
	default:
	}
	select {
	case c.send <- event:
		return true
	default:
		return false
	}
}

// Room returns the room code the client is registered in.
func (c *Client) Room() string { return c.room }

// Done is closed once the writer has exited and the connection is closed.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) stop() {
	c.quitOnce.Do(func() { close(c.quit) })
}

func (c *Client) writePump() {
	defer close(c.done)
	defer c.conn.Close()

	for {
		select {
		case event := <-c.send:
			if !c.write(event) {
				c.hub.Unregister(c)
				return
			}
		case <-c.quit:
			c.flush()
			return
		}
	}
}

// flush writes whatever is still queued, stopping at the first failure.
func (c *Client) flush() {
	for {
		select {
		case event := <-c.send:
			if !c.write(event) {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) write(event domain.Event) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(event); err != nil {
		metrics.BroadcastDrops.WithLabelValues("write_error").Inc()
		c.hub.logger.Warn("ws write failed, pruning connection",
			zap.String("room", c.room),
			zap.String("participant", c.participant),
			zap.String("event", string(event.Type)),
			zap.Error(err))
		return false
	}
	return true
}
