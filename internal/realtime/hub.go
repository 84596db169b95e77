package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultSweepInterval = 30 * time.Second
	defaultStaleAfter    = 90 * time.Second
	defaultSendBuffer    = 16
)

// ConnState tracks a connection through its lifecycle:
// Connecting → Active → (Closing|Stale) → Closed.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateActive
	StateClosing
	StateStale
	StateClosed
)

// Connection represents one client's live subscription to a topic.
type Connection struct {
	ID    string
	Topic string

	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    ConnState
	lastSeen time.Time

	closeOnce sync.Once
}

// Context is cancelled when the hub closes the connection; it unblocks
// any pending send and terminates the receive loop.
func (c *Connection) Context() context.Context {
	return c.ctx
}

// Outbound is the connection's send queue. The hub never closes it; the
// writer exits via Context cancellation.
func (c *Connection) Outbound() <-chan []byte {
	return c.send
}

// State reports the connection's current lifecycle state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastSeen reports the last heartbeat instant.
func (c *Connection) LastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

func (c *Connection) setState(state ConnState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

func (c *Connection) isActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateActive
}

// HubConfig configures the connection hub.
type HubConfig struct {
	SweepInterval time.Duration
	StaleAfter    time.Duration
	SendBuffer    int
	Clock         func() time.Time
	Logger        *zap.Logger
}

// Hub is the registry of live connections grouped by topic. Registry
// mutations take the lock; broadcast fan-out iterates a snapshot so a
// slow client never stalls delivery to others.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Connection

	sweepInterval time.Duration
	staleAfter    time.Duration
	sendBuffer    int
	clock         func() time.Time
	logger        *zap.Logger

	done     chan struct{}
	stopOnce sync.Once
}

// NewHub constructs a hub with the provided configuration.
func NewHub(cfg HubConfig) *Hub {
	sweepInterval := cfg.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}
	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	sendBuffer := cfg.SendBuffer
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		topics:        make(map[string]map[string]*Connection),
		sweepInterval: sweepInterval,
		staleAfter:    staleAfter,
		sendBuffer:    sendBuffer,
		clock:         clock,
		logger:        logger,
		done:          make(chan struct{}),
	}
}

// Register creates a connection under the topic and activates it.
func (h *Hub) Register(ctx context.Context, topic string) *Connection {
	connCtx, cancel := context.WithCancel(ctx)
	conn := &Connection{
		ID:       uuid.NewString(),
		Topic:    topic,
		send:     make(chan []byte, h.sendBuffer),
		ctx:      connCtx,
		cancel:   cancel,
		state:    StateConnecting,
		lastSeen: h.clock(),
	}

	h.mu.Lock()
	if _, ok := h.topics[topic]; !ok {
		h.topics[topic] = make(map[string]*Connection)
	}
	h.topics[topic][conn.ID] = conn
	h.mu.Unlock()

	conn.setState(StateActive)
	h.logger.Debug("connection registered",
		zap.String("connection_id", conn.ID),
		zap.String("topic", topic))
	return conn
}

// Heartbeat refreshes the connection's liveness and enqueues the pong
// acknowledgment.
func (h *Hub) Heartbeat(conn *Connection) {
	conn.mu.Lock()
	if conn.state != StateActive {
		conn.mu.Unlock()
		return
	}
	conn.lastSeen = h.clock()
	conn.mu.Unlock()

	select {
	case conn.send <- PongMessage():
	default:
	}
}

// Broadcast enqueues payload on every active connection subscribed to the
// topic. Enqueueing is non-blocking: a full queue drops the message for
// that connection only.
func (h *Hub) Broadcast(topic string, payload []byte) {
	h.mu.RLock()
	registered := h.topics[topic]
	if len(registered) == 0 {
		h.mu.RUnlock()
		return
	}
	snapshot := make([]*Connection, 0, len(registered))
	for _, conn := range registered {
		snapshot = append(snapshot, conn)
	}
	h.mu.RUnlock()

	for _, conn := range snapshot {
		if !conn.isActive() {
			continue
		}
		select {
		case conn.send <- payload:
		case <-conn.ctx.Done():
		default:
			h.logger.Warn("send queue full, dropping message",
				zap.String("connection_id", conn.ID),
				zap.String("topic", topic))
		}
	}
}

// Close transitions the connection to Closing and releases it. A second
// close is a no-op.
func (h *Hub) Close(conn *Connection) {
	h.closeWithState(conn, StateClosing)
}

func (h *Hub) closeWithState(conn *Connection, via ConnState) {
	conn.closeOnce.Do(func() {
		conn.setState(via)
		conn.cancel()
		h.unregister(conn)
		conn.setState(StateClosed)
		h.logger.Debug("connection closed",
			zap.String("connection_id", conn.ID),
			zap.String("topic", conn.Topic),
			zap.Bool("stale", via == StateStale))
	})
}

func (h *Hub) unregister(conn *Connection) {
	h.mu.Lock()
	registered := h.topics[conn.Topic]
	if registered != nil {
		delete(registered, conn.ID)
		if len(registered) == 0 {
			delete(h.topics, conn.Topic)
		}
	}
	h.mu.Unlock()
}

// RegisteredCount reports the number of registered connections for a
// topic, whatever their lifecycle state.
func (h *Hub) RegisteredCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Run sweeps for stale connections on the configured interval until the
// context is cancelled or Shutdown is called.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

// sweep retires every connection whose last heartbeat exceeds the
// staleness threshold. This reclaims resources from clients that vanished
// without a clean close.
func (h *Hub) sweep() {
	now := h.clock()

	h.mu.RLock()
	var stale []*Connection
	for _, registered := range h.topics {
		for _, conn := range registered {
			if now.Sub(conn.LastSeen()) > h.staleAfter {
				stale = append(stale, conn)
			}
		}
	}
	h.mu.RUnlock()

	for _, conn := range stale {
		h.logger.Info("reclaiming stale connection",
			zap.String("connection_id", conn.ID),
			zap.String("topic", conn.Topic),
			zap.Time("last_seen", conn.LastSeen()))
		h.closeWithState(conn, StateStale)
	}
}

// Shutdown stops the sweeper and closes every registered connection.
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() {
		close(h.done)
	})

	h.mu.RLock()
	var all []*Connection
	for _, registered := range h.topics {
		for _, conn := range registered {
			all = append(all, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range all {
		h.Close(conn)
	}
}
