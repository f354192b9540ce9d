package hislip

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/RomainAlbert/go-hislip/internal/frame"
	"github.com/RomainAlbert/go-hislip/internal/metrics"
	"github.com/RomainAlbert/go-hislip/internal/transport"
)

// dial opens both TCP channels and completes the Initialize/AsyncInitialize
// handshake (§4.4), populating c.sess, c.serverVersion and c.serverVendorID.
func (c *Client) dial(ctx context.Context) error {
	addr := c.addr()
	d := net.Dialer{Timeout: c.dialTimeout}

	syncConn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		metrics.IncError(metrics.ErrHandshake)
		return &IoError{Err: fmt.Errorf("dial sync channel: %w", err)}
	}
	sync := transport.New(syncConn, c.socketTimeout)

	if err := c.sendInitialize(sync); err != nil {
		sync.Close()
		return err
	}
	if err := c.readInitializeResponse(sync); err != nil {
		sync.Close()
		return err
	}

	asyncConn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		sync.Close()
		metrics.IncError(metrics.ErrHandshake)
		return &IoError{Err: fmt.Errorf("dial async channel: %w", err)}
	}
	async := transport.New(asyncConn, c.socketTimeout)

	if err := c.sendAsyncInitialize(async); err != nil {
		sync.Close()
		async.Close()
		return err
	}
	if err := c.readAsyncInitializeResponse(async); err != nil {
		sync.Close()
		async.Close()
		return err
	}

	c.connMu.Lock()
	c.sync, c.async = sync, async
	c.connMu.Unlock()

	c.sess.SetRMT(false)
	c.logger.Info("hislip_connected",
		"addr", addr,
		"session_id", c.sess.SessionID(),
		"overlap_mode", c.sess.OverlapMode(),
		"server_version", c.serverVersion,
		"server_vendor_id", c.serverVendorID,
	)
	return nil
}

func (c *Client) sendInitialize(ch *transport.Channel) error {
	param := frame.NewPairParam(ProtocolVersion, vendorIDToPair(c.vendorID))
	buf := frame.Encode(frame.Initialize, 0, param, []byte(c.subAddress))
	if err := ch.Send(buf); err != nil {
		metrics.IncError(metrics.ErrHandshake)
		return &IoError{Err: fmt.Errorf("send Initialize: %w", err)}
	}
	metrics.IncSyncWritten(len(buf))
	return nil
}

func (c *Client) readInitializeResponse(ch *transport.Channel) error {
	hdr, payload, err := readFrame(ch)
	if err != nil {
		metrics.IncError(metrics.ErrHandshake)
		return err
	}
	metrics.IncSyncRead(frame.HeaderSize + len(payload))
	if err := c.postProcessFrame(hdr, payload, true); err != nil {
		return err
	}
	if hdr.Type != frame.InitializeResponse {
		return &ProtocolError{Code: ErrUnrecognizedMessageType, Local: true}
	}
	c.sess.SetOverlapMode(hdr.Control != 0)
	c.sess.SetSessionID(hdr.Parameter.Lo)
	c.serverVersion = hdr.Parameter.Hi
	return nil
}

func (c *Client) sendAsyncInitialize(ch *transport.Channel) error {
	param := frame.NewUint32Param(uint32(c.sess.SessionID()))
	buf := frame.Encode(frame.AsyncInitialize, 0, param, nil)
	if err := ch.Send(buf); err != nil {
		metrics.IncError(metrics.ErrHandshake)
		return &IoError{Err: fmt.Errorf("send AsyncInitialize: %w", err)}
	}
	metrics.IncAsyncWritten(len(buf))
	return nil
}

func (c *Client) readAsyncInitializeResponse(ch *transport.Channel) error {
	hdr, payload, err := readFrame(ch)
	if err != nil {
		metrics.IncError(metrics.ErrHandshake)
		return err
	}
	metrics.IncAsyncRead(frame.HeaderSize + len(payload))
	if err := c.postProcessFrame(hdr, payload, false); err != nil {
		return err
	}
	if hdr.Type != frame.AsyncInitializeResponse {
		return &ProtocolError{Code: ErrUnrecognizedMessageType, Local: true}
	}
	c.serverVendorID = vendorIDFromParam(hdr.Parameter.U32)
	return nil
}

// SetMaxMessageSize negotiates the effective maximum message size: sends
// AsyncMaximumMessageSize(n), reads the server's reply, and records
// min(n, server value) (§4.4).
func (c *Client) SetMaxMessageSize(ctx context.Context, n uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	ch := c.asyncChannel()
	if ch == nil {
		return 0, &IoError{Err: net.ErrClosed}
	}
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 {
			prev := c.socketTimeout
			ch.SetTimeout(d)
			defer ch.SetTimeout(prev)
		}
	}
	payload := make([]byte, 8)
	binary.BigEndian.PutUint64(payload, n)
	buf := frame.Encode(frame.AsyncMaximumMessageSize, 0, frame.NewUint32Param(0), payload)
	if err := ch.Send(buf); err != nil {
		return 0, c.classifyIOErr(err, false)
	}
	metrics.IncAsyncWritten(len(buf))

	hdr, respPayload, err := readFrame(ch)
	if err != nil {
		return 0, c.classifyIOErr(err, false)
	}
	metrics.IncAsyncRead(frame.HeaderSize + len(respPayload))
	if err := c.postProcessFrame(hdr, respPayload, false); err != nil {
		return 0, err
	}
	if hdr.Type != frame.AsyncMaximumMessageSizeResponse {
		return 0, &ProtocolError{Code: ErrUnrecognizedMessageType, Local: true}
	}
	serverVal := decodeUint64(respPayload)
	effective := n
	if serverVal < effective {
		effective = serverVal
	}
	c.sess.SetMaxMessageSize(effective)
	return effective, nil
}

// vendorIDToPair packs a two-ASCII-byte vendor id into a uint16 for the
// Initialize parameter's Lo (second) subfield position (high byte first
// char).
func vendorIDToPair(id string) uint16 {
	var b [2]byte
	copy(b[:], id)
	return uint16(b[0])<<8 | uint16(b[1])
}

// vendorIDFromParam extracts a two-ASCII-byte vendor id from the plain
// uint32 AsyncInitializeResponse parameter: the server packs it in the
// top 16 bits, one character per byte, mirroring vendorIDToPair.
func vendorIDFromParam(p uint32) string {
	hi := byte(p >> 24)
	lo := byte(p >> 16)
	return string([]byte{hi, lo})
}

// decodeUint64 reads a big-endian uint64, left-padding with zero bytes
// if the server sent a short payload rather than the expected 8 bytes.
func decodeUint64(b []byte) uint64 {
	if len(b) < 8 {
		padded := make([]byte, 8)
		copy(padded[8-len(b):], b)
		b = padded
	}
	return binary.BigEndian.Uint64(b)
}
