package gateway

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/gavel/go/internal/auction/metrics"
)

// Transport carries newline-free protocol lines for one bidder. ReadLine is
// called from a single reader goroutine and WriteLine from a single writer
// goroutine; Close may be called from anywhere.
type Transport interface {
	ReadLine() (string, error)
	WriteLine(line string, deadline time.Time) error
	Close() error
	RemoteAddr() string
}

// ConnectionConfig holds per-connection settings
type ConnectionConfig struct {
	SendBuffer     int
	WriteTimeout   time.Duration
	MaxMessageSize int64
}

// DefaultConnectionConfig returns default connection configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		SendBuffer:     256,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 4096,
	}
}

// Connection is one attached bidder.
type Connection struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time

	transport Transport

	// send is never closed; done signals the writer to stop.
	send      chan string
	done      chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	name string
}

// Name returns the display name from the bidder's JOIN, or empty.
func (c *Connection) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

func (c *Connection) setName(name string) {
	c.mu.Lock()
	c.name = name
	c.mu.Unlock()
}

// Done is closed once the connection has been removed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if err := c.transport.Close(); err != nil {
			log.Debug().Err(err).Str("connection_id", c.ID).Msg("transport close failed")
		}
	})
}

// enqueue reports false when the outbound queue is full.
func (c *Connection) enqueue(line string) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- line:
		return true
	default:
		return false
	}
}

// Stats describes the attached bidders
type Stats struct {
	TotalConnections int      `json:"total_connections"`
	NamedBidders     int      `json:"named_bidders"`
	Bidders          []string `json:"bidders"`
}

// Registry tracks live connections and fans lines out to them. A slow or
// failed peer is removed without affecting the others.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection

	config  ConnectionConfig
	metrics metrics.Collector
}

// NewRegistry creates an empty registry
func NewRegistry(config ConnectionConfig, collector metrics.Collector) *Registry {
	if config.SendBuffer <= 0 {
		config.SendBuffer = DefaultConnectionConfig().SendBuffer
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultConnectionConfig().WriteTimeout
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	return &Registry{
		connections: make(map[string]*Connection),
		config:      config,
		metrics:     collector,
	}
}

// Register attaches a transport and starts its writer.
func (r *Registry) Register(t Transport) *Connection {
	conn := &Connection{
		ID:          uuid.New().String(),
		RemoteAddr:  t.RemoteAddr(),
		ConnectedAt: time.Now(),
		transport:   t,
		send:        make(chan string, r.config.SendBuffer),
		done:        make(chan struct{}),
	}

	r.mu.Lock()
	r.connections[conn.ID] = conn
	total := len(r.connections)
	r.mu.Unlock()

	r.metrics.RecordConnectionOpened()
	go r.writePump(conn)

	log.Info().
		Str("connection_id", conn.ID).
		Str("remote_addr", conn.RemoteAddr).
		Int("total_connections", total).
		Msg("bidder connection registered")
	return conn
}

// Remove detaches and closes conn. It reports whether conn was still
// registered; later calls are no-ops.
func (r *Registry) Remove(conn *Connection) bool {
	r.mu.Lock()
	_, exists := r.connections[conn.ID]
	delete(r.connections, conn.ID)
	r.mu.Unlock()

	conn.close()
	if !exists {
		return false
	}

	r.metrics.RecordConnectionClosed()
	log.Info().
		Str("connection_id", conn.ID).
		Str("name", conn.Name()).
		Msg("bidder connection unregistered")
	return true
}

// Broadcast enqueues line for every connection without blocking.
func (r *Registry) Broadcast(line string) {
	targets := r.snapshot()

	for _, conn := range targets {
		if !conn.enqueue(line) {
			r.dropSlow(conn)
		}
	}

	r.metrics.RecordBroadcast(len(targets))
	log.Debug().
		Str("line", line).
		Int("connections", len(targets)).
		Msg("line broadcast")
}

// SendTo enqueues line for conn only.
func (r *Registry) SendTo(conn *Connection, line string) {
	if !conn.enqueue(line) {
		r.dropSlow(conn)
	}
}

// CloseAll removes every connection.
func (r *Registry) CloseAll() {
	for _, conn := range r.snapshot() {
		r.Remove(conn)
	}
}

// Len returns the number of live connections
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// Stats returns statistics about active connections
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{TotalConnections: len(r.connections), Bidders: []string{}}
	for _, conn := range r.connections {
		if name := conn.Name(); name != "" {
			stats.NamedBidders++
			stats.Bidders = append(stats.Bidders, name)
		}
	}
	sort.Strings(stats.Bidders)
	return stats
}

func (r *Registry) snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		out = append(out, conn)
	}
	return out
}

func (r *Registry) dropSlow(conn *Connection) {
	log.Warn().
		Str("connection_id", conn.ID).
		Str("name", conn.Name()).
		Msg("connection send buffer full, closing connection")
	if r.Remove(conn) {
		r.metrics.RecordSlowConsumerDropped()
	}
}

// writePump drains the outbound queue in order until the connection closes.
func (r *Registry) writePump(conn *Connection) {
	for {
		select {
		case line := <-conn.send:
			deadline := time.Now().Add(r.config.WriteTimeout)
			if err := conn.transport.WriteLine(line, deadline); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", conn.ID).
					Msg("failed to write line")
				r.Remove(conn)
				return
			}
		case <-conn.done:
			return
		}
	}
}
