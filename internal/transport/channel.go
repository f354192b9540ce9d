// Package transport provides the buffered, timeout-aware TCP channel
// abstraction shared by the HiSLIP synchronous and asynchronous
// connections: exact-length reads, serialized writes with partial-write
// retry, and a readiness primitive used for multiplexing and SRQ waits.
package transport

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// defaultReadBufSize sizes the bufio.Reader backing RecvExact/WaitReadable.
const defaultReadBufSize = 4096

// Channel wraps one TCP connection (either the HiSLIP sync or async
// channel) with the primitives the client needs: Send serializes
// concurrent writers and retries partial writes; RecvExact blocks for
// exactly n bytes or the configured timeout; WaitReadable peeks for
// readiness without consuming data.
type Channel struct {
	writeMu sync.Mutex
	conn    net.Conn
	br      *bufio.Reader

	timeoutMu sync.RWMutex
	timeout   time.Duration

	peer string
}

// New wraps conn as a Channel with the given default read/write timeout.
func New(conn net.Conn, timeout time.Duration) *Channel {
	peer := ""
	if conn.RemoteAddr() != nil {
		peer = conn.RemoteAddr().String()
	}
	return &Channel{
		conn:    conn,
		br:      bufio.NewReaderSize(conn, defaultReadBufSize),
		timeout: timeout,
		peer:    peer,
	}
}

// SetTimeout updates the default read/write timeout used by RecvExact and Send.
func (c *Channel) SetTimeout(d time.Duration) {
	c.timeoutMu.Lock()
	c.timeout = d
	c.timeoutMu.Unlock()
}

func (c *Channel) getTimeout() time.Duration {
	c.timeoutMu.RLock()
	defer c.timeoutMu.RUnlock()
	return c.timeout
}

// Peer returns the remote address recorded when the channel was
// created, so a fatal-error handler can reconnect to the same peer
// even after the connection itself has been closed.
func (c *Channel) Peer() string { return c.peer }

// Send writes b to the connection, retrying until every byte is
// committed or an error occurs. Concurrent callers are serialized.
func (c *Channel) Send(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.getTimeout())); err != nil {
		return err
	}
	for total := 0; total < len(b); {
		n, err := c.conn.Write(b[total:])
		if err != nil {
			return err
		}
		total += n
	}
	return nil
}

// RecvExact blocks until exactly n bytes have been read, the configured
// timeout elapses, or the connection errors.
func (c *Channel) RecvExact(n int) ([]byte, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.getTimeout())); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.br, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// RecvExactBlocking behaves like RecvExact but clears the read deadline
// first, so it blocks indefinitely rather than giving up after the
// channel's configured timeout. Used for the SRQ wait, which must
// block until a service request arrives or the connection is closed.
func (c *Channel) RecvExactBlocking(n int) ([]byte, error) {
	if err := c.conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.br, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WaitReadable blocks up to timeout for at least one byte to become
// available without consuming it, returning (true, nil) if data is
// ready, (false, nil) on timeout, or (false, err) on a non-timeout
// connection error.
func (c *Channel) WaitReadable(timeout time.Duration) (bool, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return false, err
	}
	defer c.conn.SetReadDeadline(time.Time{})
	if _, err := c.br.Peek(1); err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Close closes the underlying connection.
func (c *Channel) Close() error { return c.conn.Close() }
