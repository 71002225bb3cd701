// Package clock provides the Clock collaborator used by the protocol package
// for timeouts and heartbeats, backed by github.com/jonboulle/clockwork so
// tests can substitute a fake clock instead of sleeping in real time.
package clock

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is the seam the protocol state machines use instead of calling
// time.Now/time.Sleep/time.After directly.
type Clock interface {
	NowMillis() int64
	After(d time.Duration) <-chan time.Time
	NewTimer(d time.Duration) Timer
	NewTicker(d time.Duration) Ticker
	Sleep(d time.Duration)
}

// Timer mirrors the subset of time.Timer the protocol package needs.
type Timer interface {
	Chan() <-chan time.Time
	Stop() bool
	Reset(d time.Duration) bool
}

// Ticker mirrors the subset of time.Ticker the protocol package needs.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

// real wraps clockwork.Clock, the production implementation.
type real struct {
	inner clockwork.Clock
}

// New returns the production Clock backed by the real wall clock.
func New() Clock {
	return &real{inner: clockwork.NewRealClock()}
}

// NewFake returns a Clock whose time only advances when the caller tells it
// to, for deterministic tests of end-ack timeouts, heartbeats, and the close
// grace period.
func NewFake() (Clock, clockwork.FakeClock) {
	fc := clockwork.NewFakeClock()
	return &real{inner: fc}, fc
}

func (r *real) NowMillis() int64 { return r.inner.Now().UnixMilli() }

func (r *real) After(d time.Duration) <-chan time.Time { return r.inner.After(d) }

func (r *real) Sleep(d time.Duration) { r.inner.Sleep(d) }

func (r *real) NewTimer(d time.Duration) Timer {
	return &timerAdapter{t: r.inner.NewTimer(d)}
}

func (r *real) NewTicker(d time.Duration) Ticker {
	return &tickerAdapter{t: r.inner.NewTicker(d)}
}

type timerAdapter struct{ t clockwork.Timer }

func (a *timerAdapter) Chan() <-chan time.Time   { return a.t.Chan() }
func (a *timerAdapter) Stop() bool                { return a.t.Stop() }
func (a *timerAdapter) Reset(d time.Duration) bool { return a.t.Reset(d) }

type tickerAdapter struct{ t clockwork.Ticker }

func (a *tickerAdapter) Chan() <-chan time.Time { return a.t.Chan() }
func (a *tickerAdapter) Stop()                  { a.t.Stop() }
