package hislip

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RomainAlbert/go-hislip/internal/logging"
	"github.com/RomainAlbert/go-hislip/internal/session"
	"github.com/RomainAlbert/go-hislip/internal/transport"
)

// Protocol-level defaults (§6 EXTERNAL INTERFACES).
const (
	DefaultPort          = 4880
	DefaultSubAddress    = "hislip0"
	DefaultVendorID      = "ZL"
	ProtocolVersionMajor = 1
	ProtocolVersionMinor = 1
	// ProtocolVersion is <major><minor> packed as a single uint16, 0x0101.
	ProtocolVersion      uint16        = ProtocolVersionMajor<<8 | ProtocolVersionMinor
	DefaultSocketTimeout time.Duration = time.Second
	DefaultDialTimeout   time.Duration = 5 * time.Second
	DefaultAskWaitMS                   = 3000
)

// Client is a single HiSLIP session: one synchronous channel, one
// asynchronous channel, and the session state both share. A Client
// must only be used by one goroutine for foreground calls (Write, Ask,
// lock/status/clear operations); the SRQ wait runs on its own
// goroutine and is the only sanctioned concurrent use.
type Client struct {
	host       string
	port       int
	subAddress string
	vendorID   string

	dialTimeout   time.Duration
	socketTimeout time.Duration

	logger *slog.Logger

	sess *session.State

	connMu sync.Mutex // guards sync/async during (re)dial and Close
	sync   *transport.Channel
	async  *transport.Channel

	serverVersion  uint16
	serverVendorID string

	srqActive atomic.Bool
	srqWG     sync.WaitGroup

	closed atomic.Bool
}

// Option configures a Client at Connect time.
type Option func(*Client)

// WithVendorID overrides the two-ASCII-byte vendor id advertised at
// Initialize time (default "ZL").
func WithVendorID(id string) Option {
	return func(c *Client) {
		if id != "" {
			c.vendorID = id
		}
	}
}

// WithSubAddress overrides the HiSLIP sub-address (default "hislip0").
func WithSubAddress(sub string) Option {
	return func(c *Client) {
		if sub != "" {
			c.subAddress = sub
		}
	}
}

// WithDialTimeout overrides the TCP dial timeout for both channels.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

// WithSocketTimeout overrides the default per-call socket timeout
// (equivalent to calling SetTimeout right after Connect).
func WithSocketTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.socketTimeout = d
		}
	}
}

// WithLogger overrides the structured logger used for connect/reconnect/SRQ events.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// Connect dials host:port, completes the Initialize/AsyncInitialize
// handshake (§4.4), and returns a ready-to-use Client. port of 0 uses
// DefaultPort.
func Connect(ctx context.Context, host string, port int, opts ...Option) (*Client, error) {
	if port == 0 {
		port = DefaultPort
	}
	c := &Client{
		host:          host,
		port:          port,
		subAddress:    DefaultSubAddress,
		vendorID:      DefaultVendorID,
		dialTimeout:   DefaultDialTimeout,
		socketTimeout: DefaultSocketTimeout,
		logger:        logging.L(),
		sess:          session.New(),
	}
	for _, o := range opts {
		o(c)
	}
	if err := c.dial(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// addr returns the host:port string used to dial both channels.
func (c *Client) addr() string { return net.JoinHostPort(c.host, strconv.Itoa(c.port)) }

// SessionID returns the id the server assigned during Initialize.
func (c *Client) SessionID() uint16 { return c.sess.SessionID() }

// OverlapMode reports whether the session is running in overlapped
// (true) or synchronized (false) mode.
func (c *Client) OverlapMode() bool { return c.sess.OverlapMode() }

// ServerVersion returns the protocol version the server reported
// during Initialize, packed as <major><minor>.
func (c *Client) ServerVersion() uint16 { return c.serverVersion }

// ServerVendorID returns the vendor id the server reported during AsyncInitialize.
func (c *Client) ServerVendorID() string { return c.serverVendorID }

// MaxMessageSize returns the currently negotiated maximum message size.
func (c *Client) MaxMessageSize() uint64 { return c.sess.MaxMessageSize() }

// SetTimeout updates the per-call socket timeout on both channels.
func (c *Client) SetTimeout(d time.Duration) {
	c.socketTimeout = d
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.sync != nil {
		c.sync.SetTimeout(d)
	}
	if c.async != nil {
		c.async.SetTimeout(d)
	}
}

// SetLockTimeout overrides the lock-acquisition timeout sent with AsyncLock.
func (c *Client) SetLockTimeout(d time.Duration) {
	c.sess.SetLockTimeoutMS(uint32(d.Milliseconds()))
}

// PeerAddr returns the remembered host:port of the instrument, valid
// even after the channels have been closed by a fatal error.
func (c *Client) PeerAddr() string { return c.addr() }

// Close shuts down both channels and waits for any in-flight SRQ wait
// to observe the closure.
func (c *Client) Close() error {
	c.closed.Store(true)
	err := c.closeChannels()
	c.srqWG.Wait()
	return err
}

func (c *Client) closeChannels() error {
	c.connMu.Lock()
	sync, async := c.sync, c.async
	c.sync, c.async = nil, nil
	c.connMu.Unlock()
	var err error
	if sync != nil {
		if e := sync.Close(); e != nil {
			err = e
		}
	}
	if async != nil {
		if e := async.Close(); e != nil {
			err = e
		}
	}
	return err
}

func (c *Client) syncChannel() *transport.Channel {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.sync
}

func (c *Client) asyncChannel() *transport.Channel {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.async
}
