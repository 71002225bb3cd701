package protocol

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dropgate/dropgate/internal/clock"
	dgerrors "github.com/dropgate/dropgate/internal/errors"
	"github.com/dropgate/dropgate/internal/logger"
)

// Receiver drives the receiver side of a transfer: AwaitingHello →
// AwaitingMeta → Receiving → Completing → Done, with Failed/Cancelled as
// terminal off-ramps. Single-owner, like Sender: Run's goroutine is the
// only mutator of state.
type Receiver struct {
	session *Session
	ch      Channel
	sink    Sink
	opts    Options
	clk     clock.Clock
	log     *slog.Logger
	hooks   Hooks

	state     ReceiverState
	hb        *heartbeat
	cancelReq chan string

	received     int64
	total        int64
	pendingChunk *Chunk

	endAckSent  int
	endAckTimer clock.Timer
	failureErr  error

	resumeRequested     bool
	resumeReceivedBytes int64
}

// NewReceiver constructs a Receiver for session, delivering verified chunk
// payloads to sink and exchanging frames over ch.
func NewReceiver(session *Session, sink Sink, ch Channel, opts Options, clk clock.Clock, log *slog.Logger, hooks Hooks) *Receiver {
	opts = opts.applyDefaults()
	if log == nil {
		log = logger.Logger()
	}
	r := &Receiver{
		session:   session,
		ch:        ch,
		sink:      sink,
		opts:      opts,
		clk:       clk,
		log:       logger.WithPeer(log, "receiver", session.ID()),
		hooks:     hooks,
		state:     ReceiverAwaitingHello,
		cancelReq: make(chan string, 1),
	}
	r.hb = newHeartbeat(clk, int64(opts.HeartbeatPeriod/time.Millisecond), opts.MissedHeartbeatThreshold)
	return r
}

// State returns the receiver's current lifecycle state.
func (r *Receiver) State() ReceiverState { return r.state }

// Reconnect rearms the receiver for a freshly dialed channel after the
// previous one broke mid-transfer. receivedBytes is what the receiver had
// durably written before the break; once the hello exchange completes the
// receiver requests resume from that point instead of waiting for a fresh
// meta frame. The session (and its already-exchanged metadata) carries
// over unchanged.
func (r *Receiver) Reconnect(ch Channel, receivedBytes int64) {
	r.ch = ch
	r.state = ReceiverAwaitingHello
	r.received = receivedBytes
	r.resumeReceivedBytes = receivedBytes
	r.resumeRequested = true
	r.pendingChunk = nil
}

// Cancel requests cooperative cancellation of an in-progress transfer: the
// receiver emits a cancelled frame to the peer and transitions to Cancelled
// on Run's next loop iteration. Safe to call concurrently with Run from
// another goroutine; returns ctx.Err() if Run is not consuming the request
// before ctx is done.
func (r *Receiver) Cancel(ctx context.Context, reason string) error {
	select {
	case r.cancelReq <- reason:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Receiver) cancel(ctx context.Context, reason string) error {
	if err := r.ch.SendControl(ctx, NewCancelled(reason)); err != nil {
		return fmt.Errorf("receiver: send cancelled: %w", err)
	}
	r.state = ReceiverCancelled
	fire(r.hooks, "session_cancelled", map[string]any{"session_id": r.session.ID(), "reason": reason})
	return nil
}

// Run executes the receiver state machine to a terminal state.
//
// A break in the channel (or the caller's ctx being cancelled out from
// under it) does not fail the transfer immediately: Run waits out
// opts.CloseGrace for a final end/cancelled frame that may already be in
// flight before declaring ReceiverFailed, per the close grace period.
func (r *Receiver) Run(ctx context.Context) error {
	if err := r.ch.SendControl(ctx, NewHello(r.session.Version(), r.session.ID())); err != nil {
		return fmt.Errorf("receiver: send hello: %w", err)
	}

	frames := make(chan Frame)
	recvErrs := make(chan error, 1)
	recvCtx, cancelRecv := context.WithCancel(ctx)
	defer cancelRecv()
	runDone := make(chan struct{})
	defer close(runDone)
	go r.recvLoop(recvCtx, frames, recvErrs, runDone)

	r.endAckTimer = r.clk.NewTimer(r.opts.EndAckRetryDelay)
	r.endAckTimer.Stop()
	defer r.endAckTimer.Stop()

	heartbeatTick := r.clk.NewTicker(heartbeatPollInterval(r.opts))
	defer heartbeatTick.Stop()

	graceTimer := r.clk.NewTimer(r.opts.CloseGrace)
	graceTimer.Stop()
	defer graceTimer.Stop()

	ctxDone := ctx.Done()
	var closeCause error

	for {
		switch r.state {
		case ReceiverDone:
			return nil
		case ReceiverCancelled:
			return dgerrors.NewCancelledError("receiver", nil)
		case ReceiverFailed:
			return r.failureErr
		}

		select {
		case <-ctxDone:
			ctxDone = nil
			recvErrs = nil
			closeCause = fmt.Errorf("receiver: %w", ctx.Err())
			graceTimer.Reset(r.opts.CloseGrace)

		case err := <-recvErrs:
			ctxDone = nil
			recvErrs = nil
			closeCause = fmt.Errorf("receiver: channel closed: %w", err)
			graceTimer.Reset(r.opts.CloseGrace)

		case <-graceTimer.Chan():
			return r.fail(ctx, closeCause)

		case reason := <-r.cancelReq:
			if err := r.cancel(ctx, reason); err != nil {
				return r.fail(ctx, err)
			}

		case frame := <-frames:
			if err := r.handleFrame(ctx, frame); err != nil {
				return r.fail(ctx, err)
			}

		case <-r.endAckTimer.Chan():
			if err := r.onEndAckRetry(ctx); err != nil {
				return r.fail(ctx, err)
			}

		case <-heartbeatTick.Chan():
			if err := r.onHeartbeatTick(ctx); err != nil {
				return r.fail(ctx, err)
			}
		}
	}
}

// recvLoop pumps frames off ch onto frames/errs until the channel breaks or
// done closes. done fires only when Run itself returns (not merely when
// ctx is cancelled) so that a frame already read off the wire is still
// delivered to Run during the close grace window instead of racing ctx's
// cancellation and being dropped.
func (r *Receiver) recvLoop(ctx context.Context, frames chan<- Frame, errs chan<- error, done <-chan struct{}) {
	for {
		frame, err := r.ch.Recv(ctx)
		if err != nil {
			select {
			case errs <- err:
			case <-done:
			}
			return
		}
		select {
		case frames <- frame:
		case <-done:
			return
		}
	}
}

func (r *Receiver) fail(ctx context.Context, cause error) error {
	if r.state == ReceiverFailed || r.state == ReceiverDone || r.state == ReceiverCancelled {
		return cause
	}
	r.state = ReceiverFailed
	r.failureErr = cause
	r.log.Error("receiver failed", "error", cause, "state", r.state.String())
	_ = r.ch.SendControl(ctx, NewErrorMsg(cause.Error(), wireCodeFor(cause)))
	fire(r.hooks, "session_failed", map[string]any{"session_id": r.session.ID(), "error": cause.Error()})
	return cause
}

func (r *Receiver) handleFrame(ctx context.Context, frame Frame) error {
	if frame.Kind == FrameBinary {
		return r.onBinary(ctx, frame.Binary)
	}

	switch msg := frame.Control.(type) {
	case *Hello:
		return r.onHello(ctx, msg)
	case *Meta:
		return r.onMeta(ctx, msg)
	case *Chunk:
		return r.onChunkHeader(msg)
	case *End:
		return r.onEnd(ctx, msg)
	case *Ping:
		return r.ch.SendControl(ctx, NewPong(msg.Timestamp))
	case *Pong:
		r.hb.onPong()
		return nil
	case *ErrorMsg:
		return fmt.Errorf("receiver: peer reported error: %s (%s)", msg.Message, msg.Code)
	case *Cancelled:
		r.state = ReceiverCancelled
		fire(r.hooks, "session_cancelled", map[string]any{"session_id": r.session.ID(), "reason": msg.Reason})
		return nil
	case *ResumeAck:
		return r.onResumeAck(msg)
	case *Resume:
		// The receiver is the party that emits resume; seeing one arrive
		// means the peer is confused about roles.
		return dgerrors.NewMalformedFrameError("receiver.unexpectedResume", nil)
	default:
		return dgerrors.NewMalformedFrameError(fmt.Sprintf("receiver.unexpectedFrame(%T)", msg), nil)
	}
}

func (r *Receiver) onHello(ctx context.Context, peer *Hello) error {
	if r.state != ReceiverAwaitingHello {
		return nil
	}
	if peer.ProtocolVersion != r.session.Version() {
		return dgerrors.NewProtocolMismatchError("receiver.hello", nil)
	}
	if peer.SessionID != "" {
		r.session.id = peer.SessionID
	}
	r.state = ReceiverAwaitingMeta
	if r.resumeRequested {
		if err := r.ch.SendControl(ctx, NewResume(r.session.ID(), r.resumeReceivedBytes)); err != nil {
			return fmt.Errorf("receiver: send resume: %w", err)
		}
	}
	return nil
}

// onResumeAck completes a receiver-initiated resume. It can arrive either
// before or after the sender's re-sent Meta/Ready exchange settles the
// receiver into ReceiverReceiving — the resume frame and the meta frame
// travel on independent legs of the handshake — so this only requires a
// resume to be outstanding, not a specific state.
func (r *Receiver) onResumeAck(msg *ResumeAck) error {
	if !r.resumeRequested {
		return dgerrors.NewMalformedFrameError("receiver.unexpectedResumeAck", nil)
	}
	if !msg.Accepted {
		return dgerrors.NewResumeRejectedError("receiver.resumeAck", nil)
	}
	r.received = msg.ResumeFromOffset
	r.resumeRequested = false
	if r.state == ReceiverAwaitingMeta {
		r.state = ReceiverReceiving
	}
	fire(r.hooks, "resume_accepted", map[string]any{"session_id": r.session.ID(), "offset": msg.ResumeFromOffset})
	return nil
}

func (r *Receiver) onMeta(ctx context.Context, meta *Meta) error {
	if r.state != ReceiverAwaitingMeta {
		return dgerrors.NewMalformedFrameError("receiver.metaOutOfOrder", nil)
	}
	r.session.SetMeta(Metadata{Name: meta.Name, Size: meta.Size, Mime: meta.Mime})
	r.total = meta.Size
	if err := r.ch.SendControl(ctx, NewReady()); err != nil {
		return fmt.Errorf("receiver: send ready: %w", err)
	}
	r.state = ReceiverReceiving
	fire(r.hooks, "session_started", map[string]any{"session_id": r.session.ID(), "file_name": meta.Name})
	return nil
}

func (r *Receiver) onChunkHeader(hdr *Chunk) error {
	if r.state != ReceiverReceiving {
		return dgerrors.NewMalformedFrameError("receiver.chunkOutOfOrder", nil)
	}
	if r.pendingChunk != nil {
		return dgerrors.NewMalformedFrameError("receiver.chunkWithoutPriorBinary", nil)
	}
	r.pendingChunk = hdr
	return nil
}

func (r *Receiver) onBinary(ctx context.Context, p []byte) error {
	hdr := r.pendingChunk
	if hdr == nil {
		return dgerrors.NewMalformedFrameError("receiver.binaryWithoutChunkHeader", nil)
	}
	if int64(len(p)) != hdr.Size {
		return dgerrors.NewMalformedFrameError("receiver.binarySizeMismatch", nil)
	}

	if err := r.sink.Write(ctx, hdr.Offset, p); err != nil {
		return dgerrors.NewSinkFailureError("receiver.sinkWrite", err)
	}

	r.received += hdr.Size
	r.pendingChunk = nil

	if err := r.ch.SendControl(ctx, NewChunkAck(hdr.Seq, r.received)); err != nil {
		return fmt.Errorf("receiver: send chunk_ack: %w", err)
	}
	return nil
}

func (r *Receiver) onEnd(ctx context.Context, msg *End) error {
	switch r.state {
	case ReceiverReceiving:
		if r.received != r.total {
			return dgerrors.NewIncompleteError("receiver.end", r.received, r.total, nil)
		}
		if err := r.sink.Close(ctx); err != nil {
			return dgerrors.NewSinkFailureError("receiver.sinkClose", err)
		}
		r.state = ReceiverCompleting
		return r.emitEndAck(ctx)

	case ReceiverCompleting:
		// Duplicate end from a sender retry: re-emit end_ack per the
		// idempotent-completion invariant, but don't reopen the sink.
		r.log.Debug("duplicate end received", "attempt", msg.EffectiveAttempt())
		return r.emitEndAck(ctx)

	default:
		return dgerrors.NewMalformedFrameError("receiver.endOutOfOrder", nil)
	}
}

// emitEndAck sends one end_ack and, the first time, arms the proactive
// retransmission timer so the receiver re-sends up to EndAckRetries total
// end_acks spaced EndAckRetryDelay apart even if the sender's first end_ack
// was lost to a closing channel. A duplicate end from a sender retry calls
// this too but does not re-arm — the existing schedule keeps running.
func (r *Receiver) emitEndAck(ctx context.Context) error {
	if err := r.ch.SendControl(ctx, NewEndAck(r.received, r.total)); err != nil {
		return fmt.Errorf("receiver: send end_ack: %w", err)
	}
	r.endAckSent++
	if r.endAckSent == 1 {
		fire(r.hooks, "session_completed", map[string]any{"session_id": r.session.ID()})
	}
	if r.endAckSent >= r.opts.EndAckRetries {
		r.state = ReceiverDone
		r.endAckTimer.Stop()
		return nil
	}
	r.endAckTimer.Reset(r.opts.EndAckRetryDelay)
	return nil
}

func (r *Receiver) onEndAckRetry(ctx context.Context) error {
	if r.state != ReceiverCompleting {
		return nil
	}
	return r.emitEndAck(ctx)
}

func (r *Receiver) onHeartbeatTick(ctx context.Context) error {
	if r.hb.duePing() {
		if err := r.ch.SendControl(ctx, NewPing(r.clk.NowMillis())); err != nil {
			return fmt.Errorf("receiver: send ping: %w", err)
		}
	}
	if missed, dead := r.hb.checkTimeout(); missed && dead {
		return dgerrors.NewTimeoutError("receiver.heartbeat", r.opts.HeartbeatPeriod, nil)
	}
	return nil
}
