package registry

import (
	"fmt"
	"net"
	"sync"
)

// ClientConn wraps a control connection's outbound side. The signaling
// handler and the billing engine can both push notices on the same
// connection; the mutex keeps their writes from interleaving.
type ClientConn struct {
	mu   sync.Mutex
	conn net.Conn
}

// NewClientConn wraps an accepted control connection.
func NewClientConn(conn net.Conn) *ClientConn {
	return &ClientConn{conn: conn}
}

// WriteLine sends one control line, appending the newline terminator.
func (c *ClientConn) WriteLine(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintf(c.conn, "%s\n", line); err != nil {
		return fmt.Errorf("control write failed: %w", err)
	}
	return nil
}

// RemoteAddr exposes the peer address for logging and channel keying.
func (c *ClientConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Close closes the underlying connection.
func (c *ClientConn) Close() error { return c.conn.Close() }
