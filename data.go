package hislip

import (
	"net"
	"time"

	"github.com/RomainAlbert/go-hislip/internal/frame"
	"github.com/RomainAlbert/go-hislip/internal/metrics"
	"github.com/RomainAlbert/go-hislip/internal/session"
)

// Write sends payload on the sync channel, appending a trailing newline
// if absent and fragmenting across Data/DataEnd frames so no single
// message exceeds the negotiated maximum message size (§4.5).
func (c *Client) Write(payload []byte) error {
	ch := c.syncChannel()
	if ch == nil {
		return &IoError{Err: net.ErrClosed}
	}
	if len(payload) == 0 || payload[len(payload)-1] != '\n' {
		payload = append(append([]byte{}, payload...), '\n')
	}

	chunkLen := maxPayloadLen(c.sess.MaxMessageSize())
	for offset := 0; offset < len(payload); offset += chunkLen {
		end := offset + chunkLen
		last := end >= len(payload)
		if last {
			end = len(payload)
		}
		chunk := payload[offset:end]

		id := c.sess.NextMessageID()
		typ := frame.Data
		if last {
			typ = frame.DataEnd
		}
		control := uint8(0)
		if c.sess.RMTDelivered() {
			control = 1
		}
		buf := frame.Encode(typ, control, frame.NewUint32Param(id), chunk)
		if err := ch.Send(buf); err != nil {
			return c.classifyIOErr(err, true)
		}
		metrics.IncSyncWritten(len(buf))
	}
	return nil
}

// RawAsk is Ask without UTF-8 decoding assumptions: it returns the
// matched Data*/DataEnd payload bytes verbatim, for binary transfers
// (waveform/block data) where the caller must not assume text.
func (c *Client) RawAsk(payload []byte, waitMs int) ([]byte, error) {
	if err := c.Write(payload); err != nil {
		return nil, err
	}
	ch := c.syncChannel()
	if ch == nil {
		return nil, &IoError{Err: net.ErrClosed}
	}
	wait := time.Duration(waitMs) * time.Millisecond
	if wait <= 0 {
		wait = DefaultAskWaitMS * time.Millisecond
	}

	ready, err := ch.WaitReadable(wait)
	if err != nil {
		return nil, c.classifyIOErr(err, true)
	}
	if !ready {
		metrics.IncTimeout()
		return nil, &TimeoutError{Waited: wait}
	}

	var out []byte
	wantID := c.sess.MostRecentMessageID()
	for {
		hdr, body, err := readFrame(ch)
		if err != nil {
			return nil, c.classifyIOErr(err, true)
		}
		metrics.IncSyncRead(frame.HeaderSize + len(body))
		if err := c.postProcessFrame(hdr, body, true); err != nil {
			return nil, err
		}

		switch hdr.Type {
		case frame.Data, frame.DataEnd:
			if !c.acceptsSyncResponseID(hdr.Parameter.U32, wantID) {
				// Stale response for an abandoned prior query: discard and
				// report an empty result rather than erroring (§4.5, §7).
				return nil, nil
			}
			out = append(out, body...)
			if hdr.Type == frame.DataEnd {
				return out, nil
			}
			continue
		case frame.FatalError:
			return nil, c.handleRemoteFatal(hdr.Control)
		case frame.Error:
			return nil, c.handleRemoteRecoverable(hdr.Control)
		default:
			return nil, c.handleLocalRecoverable(ErrUnrecognizedMessageType, true)
		}
	}
}

// Ask writes payload and returns the assembled response as a string
// (§4.5). For binary-safe transfers use RawAsk.
func (c *Client) Ask(payload string, waitMs int) (string, error) {
	b, err := c.RawAsk([]byte(payload), waitMs)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// acceptsSyncResponseID implements the §4.5 acceptance predicate: the
// parameter must equal the most-recently issued id, or, in
// synchronized mode only, the unknown-id sentinel is also accepted.
func (c *Client) acceptsSyncResponseID(got, want uint32) bool {
	if got == want {
		return true
	}
	if !c.sess.OverlapMode() && got == session.UnknownMessageID {
		return true
	}
	return false
}
