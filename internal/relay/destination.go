// Package relay fans a single outbound transfer out to several destination
// channels concurrently, isolating one destination's failure from the rest.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dropgate/dropgate/internal/clock"
	"github.com/dropgate/dropgate/internal/sessionid"
	"github.com/dropgate/dropgate/protocol"
)

// Dialer opens a protocol.Channel to a destination. Supplied by the
// embedder — the relay package never dials transport itself.
type Dialer func(ctx context.Context) (protocol.Channel, error)

// Status is the connection/transfer state of a single destination.
type Status int

const (
	StatusPending Status = iota
	StatusConnecting
	StatusSending
	StatusDone
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusConnecting:
		return "connecting"
	case StatusSending:
		return "sending"
	case StatusDone:
		return "done"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Metrics tracks a destination's observable progress for status reporting.
type Metrics struct {
	Attempts   int
	ConnectErr error
	SendErr    error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Destination is one fan-out target: a dialer plus retry policy, driving its
// own protocol.Sender independently of every other destination. ID is the
// human-readable target (an address, typically) used for Status/Metrics
// lookups; SessionID is the opaque wire-level session id the sender chooses
// for this destination's transfer, independent of ID.
type Destination struct {
	ID        string
	SessionID string
	dial      Dialer
	clk       clock.Clock
	log       *slog.Logger
	retries   int
	backoff   time.Duration

	mu      sync.RWMutex
	status  Status
	metrics Metrics
}

// NewDestination constructs a Destination identified by id, dialing via
// dial when the relay starts sending, making at most retries dial attempts
// (at least one) with a fixed backoff between attempts. A fresh opaque session id is minted for
// this destination so concurrent fan-out sends never collide even though
// they share one Source and Meta.
func NewDestination(id string, dial Dialer, retries int, backoff time.Duration, clk clock.Clock, log *slog.Logger) *Destination {
	if retries < 1 {
		retries = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Destination{
		ID:        id,
		SessionID: sessionid.New(),
		dial:      dial,
		clk:       clk,
		log:       log.With("destination", id),
		retries:   retries,
		backoff:   backoff,
		status:    StatusPending,
	}
}

// send connects (retrying per the destination's policy) then drives sender
// against the resulting channel until the transfer reaches a terminal
// state. newSender builds a fresh protocol.Sender bound to the dialed
// channel — the relay needs one Sender per destination since each Channel
// has its own peer and its own resume bookkeeping.
func (d *Destination) send(ctx context.Context, newSender func(ch protocol.Channel) *protocol.Sender) error {
	d.setStatus(StatusConnecting)
	d.mu.Lock()
	d.metrics.StartedAt = time.Now()
	d.mu.Unlock()

	var ch protocol.Channel
	var err error
	for attempt := 1; attempt <= d.retries; attempt++ {
		d.mu.Lock()
		d.metrics.Attempts = attempt
		d.mu.Unlock()

		ch, err = d.dial(ctx)
		if err == nil {
			break
		}
		d.log.Warn("destination dial failed", "attempt", attempt, "error", err)
		d.recordConnectErr(err)
		if attempt == d.retries {
			d.setStatus(StatusFailed)
			return fmt.Errorf("relay: dial %s: %w", d.ID, err)
		}
		if d.backoff > 0 {
			d.clk.Sleep(d.backoff)
		}
	}

	d.setStatus(StatusSending)
	sender := newSender(ch)
	if err := sender.Run(ctx); err != nil {
		d.recordSendErr(err)
		d.setStatus(StatusFailed)
		return fmt.Errorf("relay: send to %s: %w", d.ID, err)
	}

	d.mu.Lock()
	d.metrics.FinishedAt = time.Now()
	d.mu.Unlock()
	d.setStatus(StatusDone)
	return nil
}

func (d *Destination) setStatus(s Status) {
	d.mu.Lock()
	d.status = s
	d.mu.Unlock()
}

func (d *Destination) recordConnectErr(err error) {
	d.mu.Lock()
	d.metrics.ConnectErr = err
	d.mu.Unlock()
}

func (d *Destination) recordSendErr(err error) {
	d.mu.Lock()
	d.metrics.SendErr = err
	d.mu.Unlock()
}

// Status returns the destination's current state.
func (d *Destination) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}

// Metrics returns a copy of the destination's current metrics.
func (d *Destination) Metrics() Metrics {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.metrics
}
