package protocol

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/dropgate/dropgate/internal/bufpool"
	"github.com/dropgate/dropgate/internal/clock"
	dgerrors "github.com/dropgate/dropgate/internal/errors"
	"github.com/dropgate/dropgate/internal/logger"
)

// Sender drives the sender side of a transfer: AwaitingHello → AwaitingReady
// → Sending → AwaitingEndAck → Done, with Failed/Cancelled as terminal
// off-ramps. One Sender owns exactly one Session and is single-owner: all
// state is touched only from the goroutine running Run, mirroring the
// teacher's connection-scoped read/write loop discipline.
type Sender struct {
	session *Session
	ch      Channel
	src     Source
	opts    Options
	clk     clock.Clock
	log     *slog.Logger
	hooks   Hooks

	state     SenderState
	win       *window
	hb        *heartbeat
	resumes   *resumeTracker
	limiter   *rate.Limiter
	cancelReq chan string

	offset     int64
	nextSeq    int
	totalSize  int64
	endAttempt int
	failureErr error
}

// NewSender constructs a Sender for session, reading chunk payloads from src
// and exchanging frames over ch. session.SetMeta must be called before
// NewSender — the sender is the source of truth for metadata and captures
// the declared size at construction time.
func NewSender(session *Session, src Source, ch Channel, opts Options, clk clock.Clock, log *slog.Logger, hooks Hooks) *Sender {
	opts = opts.applyDefaults()
	if log == nil {
		log = logger.Logger()
	}
	s := &Sender{
		session:   session,
		ch:        ch,
		src:       src,
		opts:      opts,
		clk:       clk,
		log:       logger.WithPeer(log, "sender", session.ID()),
		hooks:     hooks,
		state:     SenderAwaitingHello,
		win:       newWindow(opts.WindowMax),
		resumes:   newResumeTracker(),
		cancelReq: make(chan string, 1),
		totalSize: session.Meta().Size,
	}
	s.hb = newHeartbeat(clk, int64(opts.HeartbeatPeriod/time.Millisecond), opts.MissedHeartbeatThreshold)
	if opts.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	return s
}

// State returns the sender's current lifecycle state.
func (s *Sender) State() SenderState { return s.state }

// Reconnect rearms the sender for a freshly dialed channel after a break,
// preserving resume bookkeeping and the declared offset/sequence so a
// subsequent Resume request from the peer can be honored. Run must be
// called again after Reconnect.
func (s *Sender) Reconnect(ch Channel) {
	s.ch = ch
	s.state = SenderAwaitingHello
	s.win = newWindow(s.opts.WindowMax)
	s.endAttempt = 0
	s.failureErr = nil
}

// Cancel requests cooperative cancellation of an in-progress transfer: the
// sender emits a cancelled frame to the peer and transitions to Cancelled
// on Run's next loop iteration. Safe to call concurrently with Run from
// another goroutine; returns ctx.Err() if Run is not consuming the request
// before ctx is done.
func (s *Sender) Cancel(ctx context.Context, reason string) error {
	select {
	case s.cancelReq <- reason:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sender) cancel(ctx context.Context, reason string) error {
	if err := s.ch.SendControl(ctx, NewCancelled(reason)); err != nil {
		return fmt.Errorf("sender: send cancelled: %w", err)
	}
	s.state = SenderCancelled
	fire(s.hooks, "session_cancelled", map[string]any{"session_id": s.session.ID(), "reason": reason})
	return nil
}

// Run executes the sender state machine to a terminal state. It returns nil
// on Done, dgerrors.NewCancelledError-wrapped on Cancelled, and the failure
// cause otherwise.
//
// A break in the channel (or the caller's ctx being cancelled out from
// under it) does not fail the transfer immediately: Run waits out
// opts.CloseGrace for a final end_ack or cancelled frame that may already
// be in flight before declaring SenderFailed, per the close grace period.
func (s *Sender) Run(ctx context.Context) error {
	if err := s.ch.SendControl(ctx, NewHello(s.session.Version(), s.session.ID())); err != nil {
		return fmt.Errorf("sender: send hello: %w", err)
	}

	frames := make(chan Frame)
	recvErrs := make(chan error, 1)
	recvCtx, cancelRecv := context.WithCancel(ctx)
	defer cancelRecv()
	runDone := make(chan struct{})
	defer close(runDone)
	go s.recvLoop(recvCtx, frames, recvErrs, runDone)

	endAckTimer := s.clk.NewTimer(s.opts.EndAckTimeout)
	endAckTimer.Stop()
	defer endAckTimer.Stop()

	heartbeatTick := s.clk.NewTicker(heartbeatPollInterval(s.opts))
	defer heartbeatTick.Stop()

	graceTimer := s.clk.NewTimer(s.opts.CloseGrace)
	graceTimer.Stop()
	defer graceTimer.Stop()

	ctxDone := ctx.Done()
	var closeCause error

	for {
		switch s.state {
		case SenderDone:
			return nil
		case SenderCancelled:
			return dgerrors.NewCancelledError("sender", nil)
		case SenderFailed:
			return s.failureErr
		}

		select {
		case <-ctxDone:
			ctxDone = nil
			recvErrs = nil
			closeCause = fmt.Errorf("sender: %w", ctx.Err())
			graceTimer.Reset(s.opts.CloseGrace)

		case err := <-recvErrs:
			ctxDone = nil
			recvErrs = nil
			closeCause = fmt.Errorf("sender: channel closed: %w", err)
			graceTimer.Reset(s.opts.CloseGrace)

		case <-graceTimer.Chan():
			return s.fail(ctx, closeCause)

		case reason := <-s.cancelReq:
			if err := s.cancel(ctx, reason); err != nil {
				return s.fail(ctx, err)
			}

		case frame := <-frames:
			if err := s.handleFrame(ctx, frame, endAckTimer); err != nil {
				return s.fail(ctx, err)
			}

		case <-endAckTimer.Chan():
			if err := s.onEndAckTimeout(ctx, endAckTimer); err != nil {
				return s.fail(ctx, err)
			}

		case <-heartbeatTick.Chan():
			if err := s.onHeartbeatTick(ctx); err != nil {
				return s.fail(ctx, err)
			}
		}

		if s.state == SenderSending {
			if err := s.pumpChunks(ctx); err != nil {
				return s.fail(ctx, err)
			}
			if s.state == SenderAwaitingEndAck {
				s.endAttempt = 1
				endAckTimer.Reset(s.opts.EndAckTimeout)
			}
		}
	}
}

// recvLoop pumps frames off ch onto frames/errs until the channel breaks or
// done closes. done fires only when Run itself returns (not merely when
// ctx is cancelled) so that a frame already read off the wire is still
// delivered to Run during the close grace window instead of racing ctx's
// cancellation and being dropped.
func (s *Sender) recvLoop(ctx context.Context, frames chan<- Frame, errs chan<- error, done <-chan struct{}) {
	for {
		frame, err := s.ch.Recv(ctx)
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

func (s *Sender) fail(ctx context.Context, cause error) error {
	if s.state == SenderFailed || s.state == SenderDone || s.state == SenderCancelled {
		return cause
	}
	s.state = SenderFailed
	s.failureErr = cause
	s.log.Error("sender failed", "error", cause, "state", s.state.String())
	_ = s.ch.SendControl(ctx, NewErrorMsg(cause.Error(), wireCodeFor(cause)))
	fire(s.hooks, "session_failed", map[string]any{"session_id": s.session.ID(), "error": cause.Error()})
	return cause
}

func (s *Sender) handleFrame(ctx context.Context, frame Frame, endAckTimer clock.Timer) error {
	if frame.Kind != FrameControl {
		return dgerrors.NewMalformedFrameError("sender.unexpectedBinary", nil)
	}

	switch msg := frame.Control.(type) {
	case *Hello:
		return s.onHello(ctx, msg)
	case *Ready:
		return s.onReady(ctx)
	case *ChunkAck:
		s.win.AckUpTo(msg.Seq)
		fire(s.hooks, "chunk_acked", map[string]any{"session_id": s.session.ID(), "seq": msg.Seq, "received": msg.Received})
		return nil
	case *EndAck:
		if msg.Received == s.totalSize && msg.Total == s.totalSize {
			endAckTimer.Stop()
			s.state = SenderDone
			fire(s.hooks, "session_completed", map[string]any{"session_id": s.session.ID()})
			return nil
		}
		return dgerrors.NewIncompleteError("sender.endAck", msg.Received, s.totalSize, nil)
	case *Ping:
		return s.ch.SendControl(ctx, NewPong(msg.Timestamp))
	case *Pong:
		s.hb.onPong()
		return nil
	case *ErrorMsg:
		return fmt.Errorf("sender: peer reported error: %s (%s)", msg.Message, msg.Code)
	case *Cancelled:
		s.state = SenderCancelled
		fire(s.hooks, "session_cancelled", map[string]any{"session_id": s.session.ID(), "reason": msg.Reason})
		return nil
	case *Resume:
		return s.onResumeRequest(ctx, msg)
	default:
		return dgerrors.NewMalformedFrameError(fmt.Sprintf("sender.unexpectedFrame(%T)", msg), nil)
	}
}

func (s *Sender) onHello(ctx context.Context, peer *Hello) error {
	if s.state != SenderAwaitingHello {
		return nil
	}
	if peer.ProtocolVersion != s.session.Version() {
		_ = s.ch.SendControl(ctx, NewErrorMsg("protocol version mismatch", CodeProtocolMismatch))
		return dgerrors.NewProtocolMismatchError("sender.hello", nil)
	}
	meta := s.session.Meta()
	if err := s.ch.SendControl(ctx, NewMeta(s.session.ID(), meta.Name, meta.Size, meta.Mime)); err != nil {
		return fmt.Errorf("sender: send meta: %w", err)
	}
	s.state = SenderAwaitingReady
	fire(s.hooks, "session_started", map[string]any{"session_id": s.session.ID(), "file_name": meta.Name})
	return nil
}

func (s *Sender) onReady(ctx context.Context) error {
	if s.state != SenderAwaitingReady {
		return nil
	}
	s.state = SenderSending
	return nil
}

// onResumeRequest handles a receiver-initiated resume after a reconnect. A
// request arriving outside AwaitingReady means the peer is trying to rewind
// an already-active transfer, which this protocol does not support.
func (s *Sender) onResumeRequest(ctx context.Context, msg *Resume) error {
	if s.state != SenderAwaitingReady {
		return dgerrors.NewMalformedFrameError("sender.resumeDuringActiveSend", nil)
	}
	offset, seq, ok := s.resumes.ResumeOffsetFor(msg.ReceivedBytes, s.totalSize)
	if !ok {
		if err := s.ch.SendControl(ctx, NewResumeAck(0, false)); err != nil {
			return fmt.Errorf("sender: send resume_ack: %w", err)
		}
		return dgerrors.NewResumeRejectedError("sender.resume", nil)
	}
	if err := s.ch.SendControl(ctx, NewResumeAck(offset, true)); err != nil {
		return fmt.Errorf("sender: send resume_ack: %w", err)
	}
	s.offset = offset
	s.nextSeq = seq
	s.state = SenderSending
	fire(s.hooks, "resume_accepted", map[string]any{"session_id": s.session.ID(), "offset": offset})
	return nil
}

// pumpChunks emits as many chunks as the window and (optional) rate limiter
// allow in one pass, then returns control to the select loop so acks and
// heartbeats keep flowing while large files transfer.
func (s *Sender) pumpChunks(ctx context.Context) error {
	for s.state == SenderSending && s.offset < s.totalSize && s.win.HasRoom() {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("sender: rate limiter: %w", err)
			}
		}

		size := int64(s.opts.ChunkSize)
		if remaining := s.totalSize - s.offset; remaining < size {
			size = remaining
		}

		buf := bufpool.Get(int(size))
		n, err := s.src.ReadAt(buf, s.offset)
		if err != nil && int64(n) < size {
			bufpool.Put(buf)
			return dgerrors.NewSourceFailureError("sender.readAt", err)
		}

		seq := s.nextSeq
		s.resumes.RecordChunkStart(seq, s.offset)
		if err := s.ch.SendControl(ctx, NewChunk(seq, s.offset, size, s.totalSize)); err != nil {
			bufpool.Put(buf)
			return fmt.Errorf("sender: send chunk header: %w", err)
		}
		if err := s.ch.SendBinary(ctx, buf[:size]); err != nil {
			bufpool.Put(buf)
			return fmt.Errorf("sender: send chunk body: %w", err)
		}
		bufpool.Put(buf)

		s.win.MarkSent(seq)
		s.log.Debug("chunk sent", "seq", seq, "offset", s.offset, "size", size)

		s.offset += size
		s.nextSeq++
	}

	if s.state == SenderSending && s.offset >= s.totalSize {
		if err := s.ch.SendControl(ctx, NewEnd(0)); err != nil {
			return fmt.Errorf("sender: send end: %w", err)
		}
		s.state = SenderAwaitingEndAck
	}
	return nil
}

func (s *Sender) onEndAckTimeout(ctx context.Context, endAckTimer clock.Timer) error {
	if s.state != SenderAwaitingEndAck {
		return nil
	}
	if s.endAttempt >= s.opts.EndAckRetries {
		return dgerrors.NewTimeoutError("sender.endAck", s.opts.EndAckTimeout, nil)
	}
	s.endAttempt++
	if err := s.ch.SendControl(ctx, NewEnd(s.endAttempt)); err != nil {
		return fmt.Errorf("sender: resend end: %w", err)
	}
	endAckTimer.Reset(s.opts.EndAckTimeout)
	return nil
}

func (s *Sender) onHeartbeatTick(ctx context.Context) error {
	if s.hb.duePing() {
		if err := s.ch.SendControl(ctx, NewPing(s.clk.NowMillis())); err != nil {
			return fmt.Errorf("sender: send ping: %w", err)
		}
	}
	if missed, dead := s.hb.checkTimeout(); missed && dead {
		return dgerrors.NewTimeoutError("sender.heartbeat", s.opts.HeartbeatPeriod, nil)
	}
	return nil
}

func heartbeatPollInterval(opts Options) time.Duration {
	if opts.HeartbeatPeriod <= 0 {
		return time.Hour
	}
	return opts.HeartbeatPeriod / 4
}
