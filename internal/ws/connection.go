package ws

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// ErrQueueFull is returned by Enqueue when the connection's outbound queue
// is full. The caller treats the connection as a slow consumer and closes it
// rather than letting it stall fanout for everyone else.
var ErrQueueFull = errors.New("ws: outbound queue full")

// Connection represents a single WebSocket client connection. Outbound
// frames go through a bounded queue drained by a dedicated writer goroutine;
// the write mutex serializes those writes with protocol-level pings from the
// heartbeat.
type Connection struct {
	ID        string    // connection ID (UUID)
	Conn      net.Conn  // underlying TCP connection
	Fd        int       // file descriptor for epoll lookups
	CreatedAt time.Time // when the connection was established
	LastPing  time.Time // last activity observed from the client

	writeMu    sync.Mutex // serializes writes to this connection
	processing int32      // atomic flag: 0 = idle, 1 = being read by handleConn
	authed     int32      // atomic flag: 1 once the auth handshake completed

	outbound  chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// newConnection wires up the outbound queue. The writer goroutine is started
// separately by the server once the connection is registered.
func newConnection(id string, conn net.Conn, fd int, queueSize int) *Connection {
	now := time.Now()
	return &Connection{
		ID:        id,
		Conn:      conn,
		Fd:        fd,
		CreatedAt: now,
		LastPing:  now,
		outbound:  make(chan []byte, queueSize),
		done:      make(chan struct{}),
	}
}

// Enqueue queues a text frame for delivery. It never blocks: when the queue
// is full it returns ErrQueueFull and the frame is dropped.
func (c *Connection) Enqueue(data []byte) error {
	select {
	case <-c.done:
		return errors.New("ws: connection closed")
	default:
	}
	select {
	case c.outbound <- data:
		return nil
	default:
		return ErrQueueFull
	}
}

// writeLoop drains the outbound queue until the connection is closed. Run by
// the server in its own goroutine, one per connection. A failed write closes
// the connection; the epoll loop's next read error completes the cleanup.
func (c *Connection) writeLoop(writeTimeout time.Duration) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.outbound:
			if err := c.writeMessage(data, writeTimeout); err != nil {
				c.Close()
				return
			}
		}
	}
}

func (c *Connection) writeMessage(data []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if timeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(timeout))
		defer c.Conn.SetWriteDeadline(time.Time{})
	}
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WriteMessage sends a WebSocket text frame synchronously, bypassing the
// queue. Used for the handful of frames that must reach the client even as
// the connection is torn down (auth errors, rate-limit notices).
func (c *Connection) WriteMessage(data []byte) error {
	return c.writeMessage(data, 0)
}

// MarkAuthenticated flips the connection into the authenticated state.
func (c *Connection) MarkAuthenticated() {
	atomic.StoreInt32(&c.authed, 1)
}

// Authenticated reports whether the auth handshake has completed.
func (c *Connection) Authenticated() bool {
	return atomic.LoadInt32(&c.authed) == 1
}

// Close terminates the connection and stops its writer goroutine. Safe to
// call multiple times.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.Conn.Close()
	})
	return err
}

// ConnectionManager is a thread-safe registry that maps connection IDs and
// file descriptors to their respective Connection objects. It supports O(1)
// lookups by both ID and fd.
type ConnectionManager struct {
	mu   sync.RWMutex
	byID map[string]*Connection // conn_id -> Connection
	byFd map[int]*Connection    // fd -> Connection
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID: make(map[string]*Connection),
		byFd: make(map[int]*Connection),
	}
}

// Add registers a new connection in both the ID and fd lookup maps.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.ID] = conn
	cm.byFd[conn.Fd] = conn
	cm.mu.Unlock()
}

// Remove removes a connection by ID, closes the underlying network
// connection, and removes it from both lookup maps. Returns true if the
// connection was found and removed, false if it was already gone.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	conn, ok := cm.byID[id]
	if ok {
		delete(cm.byID, id)
		delete(cm.byFd, conn.Fd)
	}
	cm.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// Get returns the connection for the given ID, or nil if not found.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	conn := cm.byID[id]
	cm.mu.RUnlock()
	return conn
}

// GetByFd returns the connection for the given file descriptor, or nil if
// not found.
func (cm *ConnectionManager) GetByFd(fd int) *Connection {
	cm.mu.RLock()
	conn := cm.byFd[fd]
	cm.mu.RUnlock()
	return conn
}

// GetByConn returns the connection for the given net.Conn by extracting
// its file descriptor. Returns nil if not found.
func (cm *ConnectionManager) GetByConn(c net.Conn) *Connection {
	fd := socketFD(c)
	return cm.GetByFd(fd)
}

// Count returns the current number of active connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	n := len(cm.byID)
	cm.mu.RUnlock()
	return n
}

// All returns a snapshot of all current connections. The returned slice is
// safe to iterate without holding the lock.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}
