package hislip

import (
	"errors"
	"net"

	"github.com/RomainAlbert/go-hislip/internal/frame"
	"github.com/RomainAlbert/go-hislip/internal/metrics"
)

// StartSRQWait launches a background goroutine that blocks on the
// async channel until one AsyncServiceRequest frame arrives, invoking
// callback with its payload, then releasing the latch so a concurrent
// JoinSRQ call returns (§4.6, §5). A second call while one is already
// in flight is a no-op: only one SRQ wait may be outstanding at a time.
func (c *Client) StartSRQWait(callback func(payload []byte)) {
	if !c.srqActive.CompareAndSwap(false, true) {
		return
	}
	c.srqWG.Add(1)
	go func() {
		defer c.srqWG.Done()
		defer c.srqActive.Store(false)
		c.runSRQWait(callback)
	}()
}

func (c *Client) runSRQWait(callback func(payload []byte)) {
	ch := c.asyncChannel()
	if ch == nil {
		return
	}
	hdr, body, err := readFrameBlocking(ch)
	if err != nil {
		// Channel closed out from under the wait (Client.Close) is the
		// expected cancellation path; any other error is logged but not
		// otherwise surfaced since there is no caller left to return to.
		if errors.Is(err, net.ErrClosed) {
			c.logger.Debug("hislip_srq_cancelled")
			return
		}
		c.logger.Warn("hislip_srq_read_error", "error", err)
		metrics.IncError(metrics.ErrSRQ)
		return
	}
	metrics.IncAsyncRead(frame.HeaderSize + len(body))
	if err := c.postProcessFrame(hdr, body, false); err != nil {
		c.logger.Warn("hislip_srq_read_error", "error", err)
		metrics.IncError(metrics.ErrSRQ)
		return
	}
	if hdr.Type != frame.AsyncServiceRequest {
		c.logger.Warn("hislip_srq_unexpected_frame", "type", hdr.Type.String())
		return
	}
	metrics.IncSRQEvent()
	if callback != nil {
		callback(body)
	}
}

// JoinSRQ blocks until any in-flight SRQ wait started by StartSRQWait
// completes (or there is none), then returns.
func (c *Client) JoinSRQ() {
	c.srqWG.Wait()
}
