package hislip

import (
	"context"
	"strconv"

	"github.com/RomainAlbert/go-hislip/internal/frame"
	"github.com/RomainAlbert/go-hislip/internal/metrics"
)

// handleLocalFatal transmits a FatalError frame for a condition the
// client itself detected, tears down both channels, attempts a
// reconnect to the remembered peer, and returns FatalProtocolError
// (§4.7). The send is best-effort: a already-broken sync channel simply
// skips it.
func (c *Client) handleLocalFatal(code uint8) error {
	metrics.IncFatalError(strconv.Itoa(int(code)))
	if sync := c.syncChannel(); sync != nil {
		buf := frame.Encode(frame.FatalError, code, frame.NewUint32Param(0), nil)
		_ = sync.Send(buf)
	}
	c.closeChannels()
	c.reconnectBestEffort()
	return &FatalProtocolError{Code: code, Local: true}
}

// handleRemoteFatal reacts to a FatalError frame received from the
// server: tears down both channels and attempts a reconnect, exactly
// the same as a locally detected fatal error. This is stated
// explicitly for receipt as well as local detection; it deliberately
// reconnects on server-originated FatalError too, not only on
// locally-detected conditions.
func (c *Client) handleRemoteFatal(code uint8) error {
	metrics.IncFatalError(strconv.Itoa(int(code)))
	c.closeChannels()
	c.reconnectBestEffort()
	return &FatalProtocolError{Code: code, Local: false}
}

// reconnectBestEffort attempts one reconnect to the remembered peer
// after a fatal teardown. Failure is logged but not propagated: the
// caller already has a FatalProtocolError to report, and a further
// Write/Ask call will surface a fresh IoError if the peer is still
// unreachable.
func (c *Client) reconnectBestEffort() {
	if c.closed.Load() {
		return
	}
	metrics.IncReconnect()
	if err := c.dial(context.Background()); err != nil {
		c.logger.Warn("hislip_reconnect_failed", "addr", c.addr(), "error", err)
		metrics.IncError(metrics.ErrReconnect)
		return
	}
	c.logger.Info("hislip_reconnected", "addr", c.addr())
}

// Reconnect tears down both channels (if still open) and re-runs the
// handshake against the remembered peer. Callers use this to recover
// explicitly rather than waiting for the next fatal error.
func (c *Client) Reconnect(ctx context.Context) error {
	c.closeChannels()
	metrics.IncReconnect()
	if err := c.dial(ctx); err != nil {
		metrics.IncError(metrics.ErrReconnect)
		return err
	}
	return nil
}

// handleLocalRecoverable transmits an Error frame for a condition the
// client detected locally and returns ProtocolError; the connection is
// left open (§4.7).
func (c *Client) handleLocalRecoverable(code uint8, onSync bool) error {
	metrics.IncRecoverableError(strconv.Itoa(int(code)))
	ch := c.asyncChannel()
	if onSync {
		ch = c.syncChannel()
	}
	if ch != nil {
		buf := frame.Encode(frame.Error, code, frame.NewUint32Param(0), nil)
		_ = ch.Send(buf)
	}
	return &ProtocolError{Code: code, Local: true}
}

// handleRemoteRecoverable returns ProtocolError for an Error frame
// received from the server; the connection stays open.
func (c *Client) handleRemoteRecoverable(code uint8) error {
	metrics.IncRecoverableError(strconv.Itoa(int(code)))
	return &ProtocolError{Code: code, Local: false}
}

// checkReceivedFrameType maps an unexpected inbound frame during a
// request/response exchange to the fatal/recoverable taxonomy,
// surfacing FatalError/Error frames transparently when the server sent
// one instead of the expected response type.
func (c *Client) checkReceivedFrameType(hdr frame.Header, payload []byte, want frame.MessageType) error {
	switch hdr.Type {
	case want:
		return nil
	case frame.FatalError:
		return c.handleRemoteFatal(hdr.Control)
	case frame.Error:
		return c.handleRemoteRecoverable(hdr.Control)
	default:
		return c.handleLocalRecoverable(ErrUnrecognizedMessageType, false)
	}
}
