package protocol

import (
	"context"
	"testing"
	"time"

	"github.com/dropgate/dropgate/internal/clock"
)

func TestSenderCloseGraceAllowsInFlightCancelledFrameToComplete(t *testing.T) {
	a, b := newCtxIgnoringPipe()
	sess := NewSession("sess-1", ProtocolVersion)
	sess.SetMeta(Metadata{Name: "f.bin", Size: 8, Mime: "application/octet-stream"})
	opts := testOptions()
	opts.CloseGrace = 200 * time.Millisecond
	s := NewSender(sess, newMemSource(make([]byte, 8)), a, opts, clock.New(), nil, nil)

	ctx, cancelCtx := context.WithCancel(context.Background())
	runErrs := make(chan error, 1)
	go func() { runErrs <- s.Run(ctx) }()

	<-b.recv // hello

	cancelCtx()
	b.send <- Frame{Kind: FrameControl, Control: NewCancelled("peer abort")}

	err := <-runErrs
	if err == nil {
		t.Fatal("expected a cancelled error")
	}
	if s.State() != SenderCancelled {
		t.Fatalf("expected Cancelled despite ctx cancellation, got %v", s.State())
	}
}

func TestSenderCloseGraceElapsesToFailedWithoutRecovery(t *testing.T) {
	a, b := newCtxIgnoringPipe()
	sess := NewSession("sess-1", ProtocolVersion)
	sess.SetMeta(Metadata{Name: "f.bin", Size: 8, Mime: "application/octet-stream"})
	opts := testOptions()
	opts.CloseGrace = 30 * time.Millisecond
	s := NewSender(sess, newMemSource(make([]byte, 8)), a, opts, clock.New(), nil, nil)

	ctx, cancelCtx := context.WithCancel(context.Background())
	runErrs := make(chan error, 1)
	go func() { runErrs <- s.Run(ctx) }()

	<-b.recv // hello
	cancelCtx()

	err := <-runErrs
	if err == nil {
		t.Fatal("expected failure once the close grace window elapses")
	}
	if s.State() != SenderFailed {
		t.Fatalf("expected Failed after grace window elapses, got %v", s.State())
	}
}

func TestReceiverCloseGraceAllowsInFlightEndToComplete(t *testing.T) {
	a, b := newCtxIgnoringPipe()
	sess := NewSession("sess-1", ProtocolVersion)
	sink := newMemSink()
	opts := testOptions()
	opts.CloseGrace = 200 * time.Millisecond
	r := NewReceiver(sess, sink, a, opts, clock.New(), nil, nil)
	r.state = ReceiverReceiving
	r.total = 0
	r.received = 0
	r.opts.EndAckRetries = 1 // one end_ack reaches Done immediately, no retry race against the grace timer

	ctx, cancelCtx := context.WithCancel(context.Background())
	runErrs := make(chan error, 1)
	go func() { runErrs <- r.Run(ctx) }()

	<-b.recv // hello

	cancelCtx()
	b.send <- Frame{Kind: FrameControl, Control: NewEnd(0)}

	err := <-runErrs
	if err != nil {
		t.Fatalf("expected the in-flight end to complete the transfer, got %v", err)
	}
	if r.State() != ReceiverDone {
		t.Fatalf("expected Done despite ctx cancellation, got %v", r.State())
	}
}
