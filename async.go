package hislip

import (
	"net"

	"github.com/RomainAlbert/go-hislip/internal/frame"
	"github.com/RomainAlbert/go-hislip/internal/metrics"
)

// LockResult is the control_code carried by AsyncLockResponse (§4.6).
type LockResult uint8

const (
	LockFailure                 LockResult = 0
	LockSuccess                 LockResult = 1
	LockSuccessExclusiveAlready LockResult = 3
)

// StatusQuery sends AsyncStatusQuery and returns the Message-Available
// bit and the full status byte (§4.6).
func (c *Client) StatusQuery() (mav bool, statusByte uint8, err error) {
	ch := c.asyncChannel()
	if ch == nil {
		return false, 0, &IoError{Err: net.ErrClosed}
	}
	control := uint8(0)
	if c.sess.RMTDelivered() {
		control = 1
	}
	buf := frame.Encode(frame.AsyncStatusQuery, control, frame.NewUint32Param(c.sess.MostRecentMessageID()), nil)
	if err := ch.Send(buf); err != nil {
		return false, 0, c.classifyIOErr(err, false)
	}
	metrics.IncAsyncWritten(len(buf))

	hdr, body, err := readFrame(ch)
	if err != nil {
		return false, 0, c.classifyIOErr(err, false)
	}
	metrics.IncAsyncRead(frame.HeaderSize + len(body))
	if err := c.postProcessFrame(hdr, body, false); err != nil {
		return false, 0, err
	}
	if err := c.checkReceivedFrameType(hdr, body, frame.AsyncStatusResponse); err != nil {
		return false, 0, err
	}
	status := hdr.Control
	return status&0x10 != 0, status, nil
}

// RequestLock sends AsyncLock(control=1) to request a lock: an empty
// lockString requests exclusive, a nonempty one requests a shared lock
// identified by that string. It returns LockError if the server denied
// the request (§4.6, §7).
func (c *Client) RequestLock(lockString string) (LockResult, error) {
	ch := c.asyncChannel()
	if ch == nil {
		return LockFailure, &IoError{Err: net.ErrClosed}
	}
	buf := frame.Encode(frame.AsyncLock, 1, frame.NewUint32Param(c.sess.LockTimeoutMS()), []byte(lockString))
	if err := ch.Send(buf); err != nil {
		return LockFailure, c.classifyIOErr(err, false)
	}
	metrics.IncAsyncWritten(len(buf))

	hdr, body, err := readFrame(ch)
	if err != nil {
		return LockFailure, c.classifyIOErr(err, false)
	}
	metrics.IncAsyncRead(frame.HeaderSize + len(body))
	if err := c.postProcessFrame(hdr, body, false); err != nil {
		return LockFailure, err
	}
	if err := c.checkReceivedFrameType(hdr, body, frame.AsyncLockResponse); err != nil {
		return LockFailure, err
	}
	result := LockResult(hdr.Control)
	if result == LockFailure {
		metrics.IncLockFailure()
		return result, &LockError{Result: result}
	}
	metrics.IncLockSuccess()
	return result, nil
}

// ReleaseLock sends AsyncLock(control=0) with the message id the
// session's release_lock rule selects (§4.6, §4.8 open questions).
func (c *Client) ReleaseLock() (LockResult, error) {
	ch := c.asyncChannel()
	if ch == nil {
		return LockFailure, &IoError{Err: net.ErrClosed}
	}
	buf := frame.Encode(frame.AsyncLock, 0, frame.NewUint32Param(c.sess.ReleaseLockMessageID()), nil)
	if err := ch.Send(buf); err != nil {
		return LockFailure, c.classifyIOErr(err, false)
	}
	metrics.IncAsyncWritten(len(buf))

	hdr, body, err := readFrame(ch)
	if err != nil {
		return LockFailure, c.classifyIOErr(err, false)
	}
	metrics.IncAsyncRead(frame.HeaderSize + len(body))
	if err := c.postProcessFrame(hdr, body, false); err != nil {
		return LockFailure, err
	}
	if err := c.checkReceivedFrameType(hdr, body, frame.AsyncLockResponse); err != nil {
		return LockFailure, err
	}
	result := LockResult(hdr.Control)
	if result == LockFailure {
		metrics.IncLockFailure()
		return result, &LockError{Result: result}
	}
	metrics.IncLockSuccess()
	return result, nil
}

// LockInfo returns whether the server currently holds an exclusive
// lock and the count of shared-lock holders (§4.6).
func (c *Client) LockInfo() (exclusive bool, sharedCount uint32, err error) {
	ch := c.asyncChannel()
	if ch == nil {
		return false, 0, &IoError{Err: net.ErrClosed}
	}
	buf := frame.Encode(frame.AsyncLockInfo, 0, frame.NewUint32Param(0), nil)
	if err := ch.Send(buf); err != nil {
		return false, 0, c.classifyIOErr(err, false)
	}
	metrics.IncAsyncWritten(len(buf))

	hdr, body, err := readFrame(ch)
	if err != nil {
		return false, 0, c.classifyIOErr(err, false)
	}
	metrics.IncAsyncRead(frame.HeaderSize + len(body))
	if err := c.postProcessFrame(hdr, body, false); err != nil {
		return false, 0, err
	}
	if err := c.checkReceivedFrameType(hdr, body, frame.AsyncLockInfoResponse); err != nil {
		return false, 0, err
	}
	return hdr.Control != 0, hdr.Parameter.U32, nil
}

// DeviceClear runs the full device-clear exchange across both channels:
// AsyncDeviceClear/Acknowledge on the async channel negotiates a
// feature preference, DeviceClearComplete/Acknowledge on the sync
// channel confirms it and may change overlap_mode; ids and
// rmt_delivered are reset on success (§4.6).
func (c *Client) DeviceClear() error {
	asyncCh := c.asyncChannel()
	syncCh := c.syncChannel()
	if asyncCh == nil || syncCh == nil {
		return &IoError{Err: net.ErrClosed}
	}

	buf := frame.Encode(frame.AsyncDeviceClear, 0, frame.NewUint32Param(0), nil)
	if err := asyncCh.Send(buf); err != nil {
		return c.classifyIOErr(err, false)
	}
	metrics.IncAsyncWritten(len(buf))

	hdr, body, err := readFrame(asyncCh)
	if err != nil {
		return c.classifyIOErr(err, false)
	}
	metrics.IncAsyncRead(frame.HeaderSize + len(body))
	if err := c.postProcessFrame(hdr, body, false); err != nil {
		return err
	}
	if err := c.checkReceivedFrameType(hdr, body, frame.AsyncDeviceClearAcknowledge); err != nil {
		return err
	}
	negotiated := hdr.Control

	buf = frame.Encode(frame.DeviceClearComplete, negotiated, frame.NewUint32Param(0), nil)
	if err := syncCh.Send(buf); err != nil {
		return c.classifyIOErr(err, true)
	}
	metrics.IncSyncWritten(len(buf))

	hdr, body, err = readFrame(syncCh)
	if err != nil {
		return c.classifyIOErr(err, true)
	}
	metrics.IncSyncRead(frame.HeaderSize + len(body))
	if err := c.postProcessFrame(hdr, body, true); err != nil {
		return err
	}
	if err := c.checkReceivedFrameType(hdr, body, frame.DeviceClearAcknowledge); err != nil {
		return err
	}

	c.sess.SetOverlapMode(hdr.Control != 0)
	c.sess.ResetForDeviceClear()
	return nil
}

// Trigger sends Trigger on the sync channel and advances the message
// id; it does not wait for a response (fire-and-forget).
func (c *Client) Trigger() error {
	ch := c.syncChannel()
	if ch == nil {
		return &IoError{Err: net.ErrClosed}
	}
	control := uint8(0)
	if c.sess.RMTDelivered() {
		control = 1
	}
	id := c.sess.NextMessageID()
	buf := frame.Encode(frame.Trigger, control, frame.NewUint32Param(id), nil)
	if err := ch.Send(buf); err != nil {
		return c.classifyIOErr(err, true)
	}
	metrics.IncSyncWritten(len(buf))
	return nil
}

// RemoteLocal sends AsyncRemoteLocalControl with the given request code
// (0..6, e.g. go-to-remote/go-to-local/lock-out variants) and waits for
// the acknowledgement (§4.6).
func (c *Client) RemoteLocal(request uint8) error {
	ch := c.asyncChannel()
	if ch == nil {
		return &IoError{Err: net.ErrClosed}
	}
	buf := frame.Encode(frame.AsyncRemoteLocalControl, request, frame.NewUint32Param(c.sess.MostRecentMessageID()), nil)
	if err := ch.Send(buf); err != nil {
		return c.classifyIOErr(err, false)
	}
	metrics.IncAsyncWritten(len(buf))

	hdr, body, err := readFrame(ch)
	if err != nil {
		return c.classifyIOErr(err, false)
	}
	metrics.IncAsyncRead(frame.HeaderSize + len(body))
	if err := c.postProcessFrame(hdr, body, false); err != nil {
		return err
	}
	return c.checkReceivedFrameType(hdr, body, frame.AsyncRemoteLocalResponse)
}
