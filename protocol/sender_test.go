package protocol

import (
	"context"
	"testing"
	"time"

	"github.com/dropgate/dropgate/internal/clock"
)

func testOptions() Options {
	o := NewOptions()
	o.ChunkSize = 8
	o.WindowMax = 2
	o.HeartbeatPeriod = 0
	o.EndAckTimeout = 50 * time.Millisecond
	o.EndAckRetries = 3
	o.CloseGrace = 20 * time.Millisecond
	return o
}

func newTestSender(t *testing.T, data []byte) (*Sender, *pipeChannel, *pipeChannel) {
	t.Helper()
	a, b := newPipe()
	sess := NewSession("sess-1", ProtocolVersion)
	sess.SetMeta(Metadata{Name: "f.bin", Size: int64(len(data)), Mime: "application/octet-stream"})
	clk := clock.New()
	s := NewSender(sess, newMemSource(data), a, testOptions(), clk, nil, nil)
	return s, a, b
}

func drainControl(t *testing.T, b *pipeChannel) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	f, err := b.Recv(ctx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if f.Kind != FrameControl {
		t.Fatalf("expected control frame, got binary of len %d", len(f.Binary))
	}
	return f.Control
}

func TestSenderOnHelloSendsMetaAndAdvances(t *testing.T) {
	s, _, b := newTestSender(t, []byte("hello world"))
	ctx := context.Background()

	if err := s.onHello(ctx, &Hello{ProtocolVersion: ProtocolVersion, SessionID: "peer"}); err != nil {
		t.Fatalf("onHello: %v", err)
	}
	if s.State() != SenderAwaitingReady {
		t.Fatalf("expected AwaitingReady, got %v", s.State())
	}
	msg := drainControl(t, b)
	meta, ok := msg.(*Meta)
	if !ok {
		t.Fatalf("expected *Meta, got %T", msg)
	}
	if meta.Size != int64(len("hello world")) {
		t.Fatalf("meta size = %d, want %d", meta.Size, len("hello world"))
	}
}

func TestSenderOnHelloVersionMismatchFails(t *testing.T) {
	s, _, _ := newTestSender(t, []byte("x"))
	err := s.onHello(context.Background(), &Hello{ProtocolVersion: ProtocolVersion + 1})
	if err == nil {
		t.Fatal("expected protocol mismatch error")
	}
}

func TestSenderPumpChunksRespectsWindow(t *testing.T) {
	data := make([]byte, 40) // 5 chunks of 8 bytes at ChunkSize=8, WindowMax=2
	s, _, b := newTestSender(t, data)
	ctx := context.Background()

	s.state = SenderSending
	if err := s.pumpChunks(ctx); err != nil {
		t.Fatalf("pumpChunks: %v", err)
	}
	if s.win.Unacked() != 2 {
		t.Fatalf("expected window to cap in-flight chunks at 2, got %d", s.win.Unacked())
	}

	// First chunk header + binary, second chunk header + binary.
	for i := 0; i < 2; i++ {
		hdrMsg := drainControl(t, b)
		hdr, ok := hdrMsg.(*Chunk)
		if !ok {
			t.Fatalf("expected *Chunk, got %T", hdrMsg)
		}
		if hdr.Seq != i {
			t.Fatalf("chunk %d: seq = %d, want %d", i, hdr.Seq, i)
		}
		ctx2, cancel := context.WithTimeout(context.Background(), time.Second)
		f, err := b.Recv(ctx2)
		cancel()
		if err != nil || f.Kind != FrameBinary {
			t.Fatalf("expected binary frame after chunk header: %v %v", f, err)
		}
	}
}

func TestSenderPumpChunksSendsEndWhenComplete(t *testing.T) {
	data := []byte("12345678") // exactly one chunk
	s, _, b := newTestSender(t, data)
	ctx := context.Background()
	s.state = SenderSending

	if err := s.pumpChunks(ctx); err != nil {
		t.Fatalf("pumpChunks: %v", err)
	}
	drainControl(t, b) // chunk header
	ctx2, cancel := context.WithTimeout(context.Background(), time.Second)
	if _, err := b.Recv(ctx2); err != nil {
		t.Fatalf("recv binary: %v", err)
	}
	cancel()

	endMsg := drainControl(t, b)
	if _, ok := endMsg.(*End); !ok {
		t.Fatalf("expected *End, got %T", endMsg)
	}
	if s.State() != SenderAwaitingEndAck {
		t.Fatalf("expected AwaitingEndAck, got %v", s.State())
	}
}

func TestSenderHandleFrameChunkAckReleasesWindow(t *testing.T) {
	s, _, _ := newTestSender(t, make([]byte, 8))
	s.win.MarkSent(0)
	if s.win.Unacked() != 1 {
		t.Fatalf("setup: expected 1 unacked")
	}
	frame := Frame{Kind: FrameControl, Control: &ChunkAck{Seq: 0, Received: 8}}
	if err := s.handleFrame(context.Background(), frame, s.clk.NewTimer(time.Second)); err != nil {
		t.Fatalf("handleFrame: %v", err)
	}
	if s.win.Unacked() != 0 {
		t.Fatalf("expected window cleared after ack, got %d unacked", s.win.Unacked())
	}
}

func TestSenderHandleFrameEndAckCompleteMarksDone(t *testing.T) {
	s, _, _ := newTestSender(t, make([]byte, 8))
	s.totalSize = 8
	s.state = SenderAwaitingEndAck
	timer := s.clk.NewTimer(time.Second)
	frame := Frame{Kind: FrameControl, Control: &EndAck{Received: 8, Total: 8}}
	if err := s.handleFrame(context.Background(), frame, timer); err != nil {
		t.Fatalf("handleFrame: %v", err)
	}
	if s.State() != SenderDone {
		t.Fatalf("expected Done, got %v", s.State())
	}
}

func TestSenderHandleFrameEndAckIncompleteFails(t *testing.T) {
	s, _, _ := newTestSender(t, make([]byte, 8))
	s.totalSize = 8
	s.state = SenderAwaitingEndAck
	timer := s.clk.NewTimer(time.Second)
	frame := Frame{Kind: FrameControl, Control: &EndAck{Received: 4, Total: 8}}
	if err := s.handleFrame(context.Background(), frame, timer); err == nil {
		t.Fatal("expected incomplete error")
	}
}

func TestSenderHandleFrameCancelledSetsState(t *testing.T) {
	s, _, _ := newTestSender(t, make([]byte, 8))
	timer := s.clk.NewTimer(time.Second)
	frame := Frame{Kind: FrameControl, Control: &Cancelled{Reason: "user abort"}}
	if err := s.handleFrame(context.Background(), frame, timer); err != nil {
		t.Fatalf("handleFrame: %v", err)
	}
	if s.State() != SenderCancelled {
		t.Fatalf("expected Cancelled, got %v", s.State())
	}
}

func TestSenderOnResumeRequestOutsideAwaitingReadyIsMalformed(t *testing.T) {
	s, _, _ := newTestSender(t, make([]byte, 16))
	s.state = SenderSending
	err := s.onResumeRequest(context.Background(), &Resume{SessionID: "sess-1", ReceivedBytes: 8})
	if err == nil {
		t.Fatal("expected malformed frame error for resume during active send")
	}
}

func TestSenderOnResumeRequestAcceptsKnownBoundary(t *testing.T) {
	s, _, b := newTestSender(t, make([]byte, 32))
	s.state = SenderAwaitingReady
	s.totalSize = 32
	s.resumes.RecordChunkStart(0, 0)
	s.resumes.RecordChunkStart(1, 8)
	s.resumes.RecordChunkStart(2, 16)

	if err := s.onResumeRequest(context.Background(), &Resume{SessionID: "sess-1", ReceivedBytes: 16}); err != nil {
		t.Fatalf("onResumeRequest: %v", err)
	}
	if s.State() != SenderSending {
		t.Fatalf("expected Sending after accepted resume, got %v", s.State())
	}
	if s.offset != 16 || s.nextSeq != 2 {
		t.Fatalf("expected offset=16 nextSeq=2, got offset=%d nextSeq=%d", s.offset, s.nextSeq)
	}
	ack := drainControl(t, b).(*ResumeAck)
	if !ack.Accepted || ack.ResumeFromOffset != 16 {
		t.Fatalf("unexpected resume_ack: %+v", ack)
	}
}

func TestSenderOnResumeRequestRejectsUnknownBoundary(t *testing.T) {
	s, _, b := newTestSender(t, make([]byte, 32))
	s.state = SenderAwaitingReady
	s.totalSize = 32

	err := s.onResumeRequest(context.Background(), &Resume{SessionID: "sess-1", ReceivedBytes: 16})
	if err == nil {
		t.Fatal("expected resume rejected error")
	}
	ack := drainControl(t, b).(*ResumeAck)
	if ack.Accepted {
		t.Fatalf("expected resume_ack to deny the request, got %+v", ack)
	}
}

func TestSenderReconnectPreservesResumeBookkeeping(t *testing.T) {
	s, a, _ := newTestSender(t, make([]byte, 32))
	s.resumes.RecordChunkStart(1, 8)
	s.offset = 16
	s.nextSeq = 2
	s.state = SenderDone

	newA, _ := newPipe()
	_ = a.Close()
	s.Reconnect(newA)

	if s.State() != SenderAwaitingHello {
		t.Fatalf("expected AwaitingHello after reconnect, got %v", s.State())
	}
	if _, _, ok := s.resumes.ResumeOffsetFor(10, 32); !ok {
		t.Fatal("expected resume bookkeeping to survive Reconnect")
	}
}

func TestSenderCancelEmitsCancelledAndStopsRun(t *testing.T) {
	s, _, b := newTestSender(t, make([]byte, 32))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	runErrs := make(chan error, 1)
	go func() { runErrs <- s.Run(ctx) }()

	if _, ok := drainControl(t, b).(*Hello); !ok {
		t.Fatal("expected hello from Run")
	}

	if err := s.Cancel(ctx, "user abort"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	msg := drainControl(t, b)
	cancelled, ok := msg.(*Cancelled)
	if !ok || cancelled.Reason != "user abort" {
		t.Fatalf("expected cancelled frame with reason, got %+v", msg)
	}

	err := <-runErrs
	if err == nil {
		t.Fatal("expected Run to return a cancelled error")
	}
	if s.State() != SenderCancelled {
		t.Fatalf("expected Cancelled, got %v", s.State())
	}
}
