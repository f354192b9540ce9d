package hislip

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/RomainAlbert/go-hislip/internal/frame"
)

// handshakeOpts configures the canned server-side handshake helper used
// by every test below, so each test only states what differs.
type handshakeOpts struct {
	overlap       uint8
	sessionID     uint16
	serverVersion uint16
	serverVendor  uint32
}

// serveHandshake accepts the sync then the async connection off ln and
// completes Initialize/AsyncInitialize exactly as a real instrument
// would, returning both raw connections for the test to drive further.
func serveHandshake(t *testing.T, ln net.Listener, opts handshakeOpts) (sync, async net.Conn) {
	t.Helper()

	sync, err := ln.Accept()
	if err != nil {
		t.Fatalf("accept sync: %v", err)
	}
	hdr := readRawHeader(t, sync)
	if hdr.Type != frame.Initialize {
		t.Fatalf("expected Initialize, got %s", hdr.Type)
	}
	if hdr.PayloadLength > 0 {
		discard(t, sync, int(hdr.PayloadLength))
	}
	resp := frame.Encode(frame.InitializeResponse, opts.overlap,
		frame.NewPairParam(opts.serverVersion, opts.sessionID), nil)
	if _, err := sync.Write(resp); err != nil {
		t.Fatalf("write InitializeResponse: %v", err)
	}

	async, err = ln.Accept()
	if err != nil {
		t.Fatalf("accept async: %v", err)
	}
	hdr = readRawHeader(t, async)
	if hdr.Type != frame.AsyncInitialize {
		t.Fatalf("expected AsyncInitialize, got %s", hdr.Type)
	}
	resp = frame.Encode(frame.AsyncInitializeResponse, 0, frame.NewUint32Param(opts.serverVendor), nil)
	if _, err := async.Write(resp); err != nil {
		t.Fatalf("write AsyncInitializeResponse: %v", err)
	}
	return sync, async
}

func readRawHeader(t *testing.T, conn net.Conn) frame.Header {
	t.Helper()
	buf := make([]byte, frame.HeaderSize)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("read header: %v", err)
	}
	hdr, err := frame.DecodeHeader(buf)
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	return hdr
}

func readRawFrame(t *testing.T, conn net.Conn) (frame.Header, []byte) {
	t.Helper()
	hdr := readRawHeader(t, conn)
	if hdr.PayloadLength == 0 {
		return hdr, nil
	}
	buf := make([]byte, hdr.PayloadLength)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("read payload: %v", err)
	}
	return hdr, buf
}

func discard(t *testing.T, conn net.Conn, n int) {
	t.Helper()
	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("discard %d bytes: %v", n, err)
	}
}

func listen(t *testing.T) (net.Listener, string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	return ln, addr.IP.String(), addr.Port
}

func TestConnect_NegotiatesSessionAndOverlapMode(t *testing.T) {
	ln, host, port := listen(t)
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		sync, async := serveHandshake(t, ln, handshakeOpts{
			overlap: 1, sessionID: 0x1234, serverVersion: ProtocolVersion, serverVendor: 0,
		})
		defer sync.Close()
		defer async.Close()
	}()

	c, err := Connect(context.Background(), host, port)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()
	<-done

	if !c.OverlapMode() {
		t.Fatal("expected overlap_mode == true")
	}
	if c.SessionID() != 0x1234 {
		t.Fatalf("session id = %#x, want 0x1234", c.SessionID())
	}
}

func TestSetMaxMessageSize_NegotiatesMinimum(t *testing.T) {
	ln, host, port := listen(t)
	defer ln.Close()

	serverDone := make(chan struct{})
	var async net.Conn
	go func() {
		defer close(serverDone)
		var sync net.Conn
		sync, async = serveHandshake(t, ln, handshakeOpts{overlap: 0, sessionID: 1, serverVersion: ProtocolVersion})
		defer sync.Close()
	}()

	c, err := Connect(context.Background(), host, port)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()
	<-serverDone

	replyDone := make(chan struct{})
	go func() {
		defer close(replyDone)
		hdr, body := readRawFrame(t, async)
		if hdr.Type != frame.AsyncMaximumMessageSize {
			t.Errorf("expected AsyncMaximumMessageSize, got %s", hdr.Type)
		}
		_ = body
		payload := make([]byte, 8)
		putTestUint64(payload, 2048)
		resp := frame.Encode(frame.AsyncMaximumMessageSizeResponse, 0, frame.NewUint32Param(0), payload)
		if _, err := async.Write(resp); err != nil {
			t.Errorf("write response: %v", err)
		}
	}()

	got, err := c.SetMaxMessageSize(context.Background(), 4096)
	if err != nil {
		t.Fatalf("SetMaxMessageSize: %v", err)
	}
	<-replyDone
	if got != 2048 {
		t.Fatalf("effective max = %d, want 2048", got)
	}
	if c.MaxMessageSize() != 2048 {
		t.Fatalf("session max = %d, want 2048", c.MaxMessageSize())
	}
}

func putTestUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[7-i] = byte(v >> (8 * i))
	}
}

func TestWrite_SingleFrameWhenPayloadFits(t *testing.T) {
	ln, host, port := listen(t)
	defer ln.Close()

	var syncConn net.Conn
	handshakeDone := make(chan struct{})
	go func() {
		defer close(handshakeDone)
		var async net.Conn
		syncConn, async = serveHandshake(t, ln, handshakeOpts{overlap: 0, sessionID: 1, serverVersion: ProtocolVersion})
		defer async.Close()
	}()

	c, err := Connect(context.Background(), host, port)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()
	<-handshakeDone

	if err := c.Write([]byte("*IDN?\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	hdr, body := readRawFrame(t, syncConn)
	if hdr.Type != frame.DataEnd {
		t.Fatalf("expected DataEnd, got %s", hdr.Type)
	}
	if hdr.Parameter.U32 != 0xFFFFFF00 {
		t.Fatalf("id = %#x, want 0xFFFFFF00", hdr.Parameter.U32)
	}
	if string(body) != "*IDN?\n" {
		t.Fatalf("body = %q", body)
	}
	if c.sess.MostRecentMessageID() != 0xFFFFFF00 {
		t.Fatalf("most_recent_message_id = %#x", c.sess.MostRecentMessageID())
	}
}

func TestWrite_FragmentsAcrossMaxMessageSize(t *testing.T) {
	ln, host, port := listen(t)
	defer ln.Close()

	var syncConn net.Conn
	handshakeDone := make(chan struct{})
	go func() {
		defer close(handshakeDone)
		var async net.Conn
		syncConn, async = serveHandshake(t, ln, handshakeOpts{overlap: 0, sessionID: 1, serverVersion: ProtocolVersion})
		defer async.Close()
	}()

	c, err := Connect(context.Background(), host, port)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()
	<-handshakeDone

	// maximum_message_size - 16 == 4, so "ABCDEFGHIJ\n" (11 bytes) splits
	// into Data("ABCD"), Data("EFGH"), DataEnd("IJ\n").
	c.sess.SetMaxMessageSize(20)

	writeErr := make(chan error, 1)
	go func() { writeErr <- c.Write([]byte("ABCDEFGHIJ")) }()

	firstID := uint32(0xFFFFFF00)
	hdr, body := readRawFrame(t, syncConn)
	if hdr.Type != frame.Data || string(body) != "ABCD" || hdr.Parameter.U32 != firstID {
		t.Fatalf("frame 1: type=%s body=%q id=%#x", hdr.Type, body, hdr.Parameter.U32)
	}
	hdr, body = readRawFrame(t, syncConn)
	if hdr.Type != frame.Data || string(body) != "EFGH" || hdr.Parameter.U32 != firstID+2 {
		t.Fatalf("frame 2: type=%s body=%q id=%#x", hdr.Type, body, hdr.Parameter.U32)
	}
	hdr, body = readRawFrame(t, syncConn)
	if hdr.Type != frame.DataEnd || string(body) != "IJ\n" || hdr.Parameter.U32 != firstID+4 {
		t.Fatalf("frame 3: type=%s body=%q id=%#x", hdr.Type, body, hdr.Parameter.U32)
	}

	if err := <-writeErr; err != nil {
		t.Fatalf("Write: %v", err)
	}
	if c.sess.MostRecentMessageID() != firstID+4 {
		t.Fatalf("most_recent_message_id = %#x, want %#x", c.sess.MostRecentMessageID(), firstID+4)
	}
}

func TestAsk_AssemblesMatchedDataAndDataEnd(t *testing.T) {
	ln, host, port := listen(t)
	defer ln.Close()

	var syncConn net.Conn
	handshakeDone := make(chan struct{})
	go func() {
		defer close(handshakeDone)
		var async net.Conn
		syncConn, async = serveHandshake(t, ln, handshakeOpts{overlap: 0, sessionID: 1, serverVersion: ProtocolVersion})
		defer async.Close()
	}()

	c, err := Connect(context.Background(), host, port)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()
	<-handshakeDone

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		hdr, _ := readRawFrame(t, syncConn) // the write's DataEnd
		id := hdr.Parameter.U32
		d1 := frame.Encode(frame.Data, 0, frame.NewUint32Param(id), []byte("ACME,"))
		syncConn.Write(d1)
		d2 := frame.Encode(frame.DataEnd, 0, frame.NewUint32Param(id), []byte("X1\n"))
		syncConn.Write(d2)
	}()

	got, err := c.Ask("*IDN?", 1000)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	<-serverDone
	if got != "ACME,X1\n" {
		t.Fatalf("got %q", got)
	}
	if !c.sess.RMTDelivered() {
		t.Fatal("expected rmt_delivered == true after DataEnd ending in newline")
	}
}

func TestAsk_UnknownIDSentinel(t *testing.T) {
	for _, tc := range []struct {
		name       string
		overlap    uint8
		wantEmpty  bool
	}{
		{"synchronizedAccepts", 0, false},
		{"overlapRejects", 1, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ln, host, port := listen(t)
			defer ln.Close()

			var syncConn net.Conn
			handshakeDone := make(chan struct{})
			go func() {
				defer close(handshakeDone)
				var async net.Conn
				syncConn, async = serveHandshake(t, ln, handshakeOpts{overlap: tc.overlap, sessionID: 1, serverVersion: ProtocolVersion})
				defer async.Close()
			}()

			c, err := Connect(context.Background(), host, port)
			if err != nil {
				t.Fatalf("Connect: %v", err)
			}
			defer c.Close()
			<-handshakeDone

			serverDone := make(chan struct{})
			go func() {
				defer close(serverDone)
				readRawFrame(t, syncConn) // the write's DataEnd
				resp := frame.Encode(frame.DataEnd, 0, frame.NewUint32Param(0xFFFFFFFF), []byte("X\n"))
				syncConn.Write(resp)
			}()

			got, err := c.Ask("*IDN?", 1000)
			if err != nil {
				t.Fatalf("Ask: %v", err)
			}
			<-serverDone
			if tc.wantEmpty && got != "" {
				t.Fatalf("got %q, want empty (stale id discarded)", got)
			}
			if !tc.wantEmpty && got != "X\n" {
				t.Fatalf("got %q, want \"X\\n\"", got)
			}
		})
	}
}

func TestLockSequence(t *testing.T) {
	ln, host, port := listen(t)
	defer ln.Close()

	var async net.Conn
	handshakeDone := make(chan struct{})
	go func() {
		defer close(handshakeDone)
		var sync net.Conn
		sync, async = serveHandshake(t, ln, handshakeOpts{overlap: 1, sessionID: 1, serverVersion: ProtocolVersion})
		defer sync.Close()
	}()

	c, err := Connect(context.Background(), host, port)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()
	<-handshakeDone

	// Scripted server interleaves request_lock("") -> success exclusive (1),
	// a LockInfo query, request_lock("SHARED") -> success shared (1),
	// another LockInfo query, release, a third LockInfo query, release,
	// and a final LockInfo query: exercises the (1,0)->(1,1)->(0,1)->(0,0)
	// transitions.
	type step struct {
		wantType frame.MessageType
		respType frame.MessageType
		control  uint8
		param    uint32
	}
	steps := []step{
		{frame.AsyncLock, frame.AsyncLockResponse, 1, 0},
		{frame.AsyncLockInfo, frame.AsyncLockInfoResponse, 1, 0},
		{frame.AsyncLock, frame.AsyncLockResponse, 1, 0},
		{frame.AsyncLockInfo, frame.AsyncLockInfoResponse, 1, 1},
		{frame.AsyncLock, frame.AsyncLockResponse, 1, 0},
		{frame.AsyncLockInfo, frame.AsyncLockInfoResponse, 0, 1},
		{frame.AsyncLock, frame.AsyncLockResponse, 1, 0},
		{frame.AsyncLockInfo, frame.AsyncLockInfoResponse, 0, 0},
	}
	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		for _, s := range steps {
			hdr, _ := readRawFrame(t, async)
			if hdr.Type != s.wantType {
				t.Errorf("expected %s, got %s", s.wantType, hdr.Type)
			}
			resp := frame.Encode(s.respType, s.control, frame.NewUint32Param(s.param), nil)
			async.Write(resp)
		}
	}()

	if _, err := c.RequestLock(""); err != nil {
		t.Fatalf("RequestLock exclusive: %v", err)
	}
	if excl, shared, err := c.LockInfo(); err != nil || !excl || shared != 0 {
		t.Fatalf("LockInfo after exclusive lock: excl=%v shared=%d err=%v", excl, shared, err)
	}
	if _, err := c.RequestLock("SHARED"); err != nil {
		t.Fatalf("RequestLock shared: %v", err)
	}
	if excl, shared, err := c.LockInfo(); err != nil || !excl || shared != 1 {
		t.Fatalf("LockInfo after shared lock: excl=%v shared=%d err=%v", excl, shared, err)
	}
	if _, err := c.ReleaseLock(); err != nil {
		t.Fatalf("ReleaseLock 1: %v", err)
	}
	if excl, shared, err := c.LockInfo(); err != nil || excl || shared != 1 {
		t.Fatalf("LockInfo after first release: excl=%v shared=%d err=%v", excl, shared, err)
	}
	if _, err := c.ReleaseLock(); err != nil {
		t.Fatalf("ReleaseLock 2: %v", err)
	}
	if excl, shared, err := c.LockInfo(); err != nil || excl || shared != 0 {
		t.Fatalf("LockInfo after second release: excl=%v shared=%d err=%v", excl, shared, err)
	}
	<-serverDone
}

func TestFatalError_ClosesAndReconnects(t *testing.T) {
	ln, host, port := listen(t)
	defer ln.Close()

	var firstSync net.Conn
	firstHandshake := make(chan struct{})
	go func() {
		defer close(firstHandshake)
		var async net.Conn
		firstSync, async = serveHandshake(t, ln, handshakeOpts{overlap: 0, sessionID: 1, serverVersion: ProtocolVersion})
		defer async.Close()
	}()

	c, err := Connect(context.Background(), host, port)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()
	<-firstHandshake

	secondHandshake := make(chan struct{})
	go func() {
		defer close(secondHandshake)
		sync, async := serveHandshake(t, ln, handshakeOpts{overlap: 0, sessionID: 2, serverVersion: ProtocolVersion})
		defer sync.Close()
		defer async.Close()
	}()

	serverSendsFatal := make(chan struct{})
	go func() {
		defer close(serverSendsFatal)
		resp := frame.Encode(frame.FatalError, FatalInvalidInitSequence, frame.NewUint32Param(0), nil)
		firstSync.Write(resp)
	}()
	<-serverSendsFatal

	_, err = c.Ask("*IDN?", 1000)
	var fpe *FatalProtocolError
	if err == nil {
		t.Fatal("expected FatalProtocolError")
	}
	if fe, ok := err.(*FatalProtocolError); !ok {
		t.Fatalf("expected *FatalProtocolError, got %T: %v", err, err)
	} else {
		fpe = fe
	}
	if fpe.Code != FatalInvalidInitSequence {
		t.Fatalf("code = %d, want %d", fpe.Code, FatalInvalidInitSequence)
	}

	select {
	case <-secondHandshake:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reconnect handshake")
	}
	if c.SessionID() != 2 {
		t.Fatalf("session id after reconnect = %d, want 2", c.SessionID())
	}
}

// TestSRQWait_BlocksPastSocketTimeout proves the SRQ wait does not give
// up after the channel's configured socket timeout: the server holds
// off sending AsyncServiceRequest until well past DefaultSocketTimeout,
// and StartSRQWait's callback must still fire rather than the
// background goroutine bailing out early.
func TestSRQWait_BlocksPastSocketTimeout(t *testing.T) {
	ln, host, port := listen(t)
	defer ln.Close()

	var async net.Conn
	handshakeDone := make(chan struct{})
	go func() {
		defer close(handshakeDone)
		var sync net.Conn
		sync, async = serveHandshake(t, ln, handshakeOpts{overlap: 1, sessionID: 1, serverVersion: ProtocolVersion})
		defer sync.Close()
	}()

	c, err := Connect(context.Background(), host, port)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()
	<-handshakeDone

	if DefaultSocketTimeout >= 2*time.Second {
		t.Fatalf("test assumes DefaultSocketTimeout is well under 2s, got %v", DefaultSocketTimeout)
	}

	srqPayload := []byte{0x42}
	received := make(chan []byte, 1)
	c.StartSRQWait(func(payload []byte) {
		received <- append([]byte(nil), payload...)
	})

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		time.Sleep(2 * DefaultSocketTimeout)
		resp := frame.Encode(frame.AsyncServiceRequest, 0, frame.NewUint32Param(0), srqPayload)
		async.Write(resp)
	}()

	select {
	case payload := <-received:
		if string(payload) != string(srqPayload) {
			t.Fatalf("srq payload = %q, want %q", payload, srqPayload)
		}
	case <-time.After(4 * DefaultSocketTimeout):
		t.Fatal("timed out waiting for delayed SRQ callback; wait did not block indefinitely")
	}
	c.JoinSRQ()
	<-serverDone
}
