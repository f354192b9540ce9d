package hislip

import (
	"errors"
	"fmt"
	"net"

	"github.com/RomainAlbert/go-hislip/internal/frame"
	"github.com/RomainAlbert/go-hislip/internal/metrics"
	"github.com/RomainAlbert/go-hislip/internal/transport"
)

// readFrame reads one complete HiSLIP message off ch: the fixed header,
// then exactly PayloadLength bytes of payload. A header read that times
// out or errors is returned unwrapped so callers can classify it
// (incomplete header reads are treated as fatal per the error model).
func readFrame(ch *transport.Channel) (frame.Header, []byte, error) {
	raw, err := ch.RecvExact(frame.HeaderSize)
	if err != nil {
		return frame.Header{}, nil, err
	}
	hdr, err := frame.DecodeHeader(raw)
	if err != nil {
		return frame.Header{}, nil, &FatalProtocolError{Code: FatalPoorlyFormedHeader, Local: true}
	}
	var payload []byte
	if hdr.PayloadLength > 0 {
		payload, err = ch.RecvExact(int(hdr.PayloadLength))
		if err != nil {
			return frame.Header{}, nil, err
		}
	}
	return hdr, payload, nil
}

// readFrameBlocking is readFrame without a deadline: it waits
// indefinitely for the header and payload instead of giving up after
// the channel's configured socket timeout. Used for the SRQ wait
// (§4.6, §5), which blocks until a service request arrives.
func readFrameBlocking(ch *transport.Channel) (frame.Header, []byte, error) {
	raw, err := ch.RecvExactBlocking(frame.HeaderSize)
	if err != nil {
		return frame.Header{}, nil, err
	}
	hdr, err := frame.DecodeHeader(raw)
	if err != nil {
		return frame.Header{}, nil, &FatalProtocolError{Code: FatalPoorlyFormedHeader, Local: true}
	}
	var payload []byte
	if hdr.PayloadLength > 0 {
		payload, err = ch.RecvExactBlocking(int(hdr.PayloadLength))
		if err != nil {
			return frame.Header{}, nil, err
		}
	}
	return hdr, payload, nil
}

// postProcessFrame applies the bookkeeping the reference client performs
// on every successfully read inbound frame, regardless of message type
// (§4.5, §4.7, §9): a payload exceeding the negotiated maximum message
// size raises recoverable error code 4 before anything else runs, and
// otherwise rmt_delivered is recomputed unconditionally (true only for a
// DataEnd frame whose payload ends in '\n', false for every other type),
// not just when Ask's id-matching logic accepts the frame.
func (c *Client) postProcessFrame(hdr frame.Header, payload []byte, onSync bool) error {
	if hdr.PayloadLength > c.sess.MaxMessageSize() {
		return c.handleLocalRecoverable(ErrMessageTooLarge, onSync)
	}
	c.sess.SetRMT(hdr.Type == frame.DataEnd && len(payload) > 0 && payload[len(payload)-1] == '\n')
	return nil
}

// classifyIOErr turns a raw socket error from Send/RecvExact into the
// public error taxonomy: a timeout without a complete header is fatal
// (code 1, §4.7); any other network error is IoError. isSync selects
// which channel's error counter is incremented.
func (c *Client) classifyIOErr(err error, isSync bool) error {
	var fpe *FatalProtocolError
	if errors.As(err, &fpe) {
		return c.handleLocalFatal(fpe.Code)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return c.handleLocalFatal(FatalPoorlyFormedHeader)
	}
	if isSync {
		metrics.IncError(metrics.ErrSyncRead)
	} else {
		metrics.IncError(metrics.ErrAsyncRead)
	}
	return &IoError{Err: fmt.Errorf("hislip: channel io: %w", err)}
}

func maxPayloadLen(maxMessageSize uint64) int {
	if maxMessageSize <= frame.HeaderSize {
		return 1
	}
	return int(maxMessageSize) - frame.HeaderSize
}
