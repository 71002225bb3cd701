package protocol

import (
	"testing"
	"time"

	"github.com/dropgate/dropgate/internal/clock"
)

func TestHeartbeatDisabledWhenPeriodZero(t *testing.T) {
	clk, _ := clock.NewFake()
	hb := newHeartbeat(clk, 0, 2)
	if hb.enabled() {
		t.Fatal("expected heartbeat with zero period to be disabled")
	}
	if hb.duePing() {
		t.Fatal("disabled heartbeat must never request a ping")
	}
}

func TestHeartbeatDuePingOncePerOutstandingProbe(t *testing.T) {
	clk, fake := clock.NewFake()
	hb := newHeartbeat(clk, 1000, 2)

	fake.Advance(1000 * time.Millisecond)
	if !hb.duePing() {
		t.Fatal("expected a ping to be due after the period elapses")
	}
	if hb.duePing() {
		t.Fatal("expected no second ping while one is outstanding")
	}
}

func TestHeartbeatOnPongResetsMissedCount(t *testing.T) {
	clk, fake := clock.NewFake()
	hb := newHeartbeat(clk, 1000, 2)

	fake.Advance(1000 * time.Millisecond)
	hb.duePing()
	fake.Advance(1000 * time.Millisecond)
	missed, dead := hb.checkTimeout()
	if !missed || dead {
		t.Fatalf("expected one missed pong, not dead yet: missed=%v dead=%v", missed, dead)
	}

	hb.onPong()
	if hb.missed != 0 {
		t.Fatalf("expected onPong to reset missed count, got %d", hb.missed)
	}
}

func TestHeartbeatDeadAfterThresholdMissed(t *testing.T) {
	clk, fake := clock.NewFake()
	hb := newHeartbeat(clk, 1000, 2)

	dead := false
	for i := 0; i < 2; i++ {
		fake.Advance(1000 * time.Millisecond)
		hb.duePing()
		fake.Advance(1000 * time.Millisecond)
		_, dead = hb.checkTimeout()
		if dead && i == 0 {
			t.Fatal("should not be dead after only one missed pong")
		}
	}
	if !dead {
		t.Fatal("expected heartbeat to report dead after threshold consecutive misses")
	}
}
