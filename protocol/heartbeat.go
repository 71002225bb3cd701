package protocol

import "github.com/dropgate/dropgate/internal/clock"

// heartbeat tracks ping/pong liveness on one side of a transfer. A ping is
// due every period of silence; missing missedThreshold consecutive pongs
// means the peer is gone and the session should fail with a TimeoutError.
//
// Mirrors the RTMP User Control Ping Request/Response exchange: send a
// timestamped probe, expect the same timestamp echoed back.
type heartbeat struct {
	clk             clock.Clock
	period          int64 // milliseconds; zero disables heartbeating
	missedThreshold int
	lastPongAt      int64
	pendingSince    int64 // zero when no ping is outstanding
	missed          int
}

func newHeartbeat(clk clock.Clock, periodMillis int64, missedThreshold int) *heartbeat {
	return &heartbeat{
		clk:             clk,
		period:          periodMillis,
		missedThreshold: missedThreshold,
		lastPongAt:      clk.NowMillis(),
	}
}

func (h *heartbeat) enabled() bool {
	return h.period > 0
}

// duePing reports whether it is time to emit a new ping. It marks one as
// outstanding as a side effect when it returns true.
func (h *heartbeat) duePing() bool {
	if !h.enabled() || h.pendingSince != 0 {
		return false
	}
	now := h.clk.NowMillis()
	if now-h.lastPongAt < h.period {
		return false
	}
	h.pendingSince = now
	return true
}

// onPong clears the outstanding ping and resets the missed counter.
func (h *heartbeat) onPong() {
	h.lastPongAt = h.clk.NowMillis()
	h.pendingSince = 0
	h.missed = 0
}

// checkTimeout reports whether the outstanding ping has gone unanswered
// long enough to count as missed, and whether that pushes the peer past
// missedThreshold (dead).
func (h *heartbeat) checkTimeout() (missedOne, dead bool) {
	if !h.enabled() || h.pendingSince == 0 {
		return false, false
	}
	now := h.clk.NowMillis()
	if now-h.pendingSince < h.period {
		return false, false
	}
	h.missed++
	h.pendingSince = 0
	h.lastPongAt = now
	return true, h.missed >= h.missedThreshold
}
