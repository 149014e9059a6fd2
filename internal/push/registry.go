package push

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nanami404/meeting-assistant/internal/domain"
)

var activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "push_active_connections",
	Help: "Current number of registered push connections",
})

// defaultBuffer is the per-connection frame buffer size. A connection whose
// buffer fills up is dropped; storage remains the durability backstop, so
// the client recovers the backlog on reconnect.
const defaultBuffer = 64

// Conn is one live push channel owned by a single user. Frames are consumed
// by exactly one reader (the stream handler goroutine), which is the only
// writer to the wire.
type Conn struct {
	userID      string
	connectedAt time.Time
	frames      chan domain.Frame

	closeOnce sync.Once
	done      chan struct{}
}

// UserID returns the identity that owns this connection.
func (c *Conn) UserID() string { return c.userID }

// ConnectedAt returns when the connection was registered.
func (c *Conn) ConnectedAt() time.Time { return c.connectedAt }

// Frames returns the channel the stream handler reads frames from.
func (c *Conn) Frames() <-chan domain.Frame { return c.frames }

// Done is closed when the connection has been unregistered or evicted.
// The stream handler must stop writing once Done fires.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Registry maps user IDs to their live push connections. It is a pure
// addressing structure: it owns no message content and is allowed to lag
// reality briefly (eviction closes the gap, not a lock).
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]map[*Conn]struct{}
	buffer int
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]map[*Conn]struct{}),
		buffer: defaultBuffer,
	}
}

// Register creates and tracks a new connection for the user. A user may
// hold several connections at once (multi-device).
func (r *Registry) Register(userID string) *Conn {
	conn := &Conn{
		userID:      userID,
		connectedAt: time.Now().UTC(),
		frames:      make(chan domain.Frame, r.buffer),
		done:        make(chan struct{}),
	}

	r.mu.Lock()
	set, ok := r.conns[userID]
	if !ok {
		set = make(map[*Conn]struct{})
		r.conns[userID] = set
	}
	set[conn] = struct{}{}
	r.mu.Unlock()

	activeConnections.Inc()
	return conn
}

// Unregister removes the connection and closes it. Idempotent: a connection
// already removed (e.g. evicted concurrently with its own disconnect) is a
// no-op.
func (r *Registry) Unregister(conn *Conn) {
	r.mu.Lock()
	removed := false
	if set, ok := r.conns[conn.userID]; ok {
		if _, present := set[conn]; present {
			delete(set, conn)
			removed = true
			if len(set) == 0 {
				delete(r.conns, conn.userID)
			}
		}
	}
	r.mu.Unlock()

	conn.close()
	if removed {
		activeConnections.Dec()
	}
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID]) > 0
}

// Send fans the frame out to every live connection of the user and returns
// the number of connections it reached. A connection whose buffer is full
// is treated as dead and dropped.
func (r *Registry) Send(userID string, frame domain.Frame) int {
	r.mu.RLock()
	targets := make([]*Conn, 0, len(r.conns[userID]))
	for conn := range r.conns[userID] {
		targets = append(targets, conn)
	}
	r.mu.RUnlock()

	delivered := 0
	var dead []*Conn
	for _, conn := range targets {
		select {
		case conn.frames <- frame:
			delivered++
		default:
			dead = append(dead, conn)
		}
	}

	for _, conn := range dead {
		r.Unregister(conn)
	}
	return delivered
}

// EvictUser force-closes every connection of the user and returns how many
// were closed. Used on logout and on refresh-replay detection.
func (r *Registry) EvictUser(userID string) int {
	r.mu.Lock()
	set := r.conns[userID]
	delete(r.conns, userID)
	r.mu.Unlock()

	for conn := range set {
		conn.close()
		activeConnections.Dec()
	}
	return len(set)
}

// ConnectionCount returns the total number of live connections.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, set := range r.conns {
		n += len(set)
	}
	return n
}
