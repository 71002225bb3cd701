package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"testing"
	"time"
)

// fakeTimeoutErr simulates a net.Error with Timeout semantics (we don't need full net.Error here).
type fakeTimeoutErr struct{}

func (fakeTimeoutErr) Error() string { return "fake timeout" }
func (fakeTimeoutErr) Timeout() bool { return true }

func TestIsProtocolErrorClassification(t *testing.T) {
	root := stdErrors.New("root")
	wrapped := fmt.Errorf("adding context: %w", root)
	mm := NewProtocolMismatchError("hello.version", wrapped)
	if !IsProtocolError(mm) {
		t.Fatalf("expected IsProtocolError=true for mismatch error")
	}
	if !stdErrors.Is(mm, root) {
		t.Fatalf("expected errors.Is to find root cause")
	}
	var pe *ProtocolMismatchError
	if !stdErrors.As(mm, &pe) {
		t.Fatalf("expected errors.As to *ProtocolMismatchError")
	}
	if pe.Op != "hello.version" {
		t.Fatalf("unexpected op: %s", pe.Op)
	}

	mf := NewMalformedFrameError("decode.chunk", nil)
	if !IsProtocolError(mf) {
		t.Fatalf("expected malformed frame error classified as protocol")
	}
	inc := NewIncompleteError("receiver.end", 10, 20, nil)
	if !IsProtocolError(inc) {
		t.Fatalf("expected incomplete error classified as protocol")
	}
	rr := NewResumeRejectedError("resume.offset", stdErrors.New("offset mismatch"))
	if !IsProtocolError(rr) {
		t.Fatalf("expected resume rejected error classified")
	}
}

func TestIsTimeout(t *testing.T) {
	root := fakeTimeoutErr{}
	to := NewTimeoutError("sender.endAck", 5*time.Second, root)
	if !IsTimeout(to) {
		t.Fatalf("expected TimeoutError recognized")
	}
	if IsProtocolError(to) {
		t.Fatalf("timeout should NOT be protocol error")
	}
	if !IsTimeout(context.DeadlineExceeded) {
		t.Fatalf("expected context deadline recognized")
	}
	var ne error = root
	if !IsTimeout(ne) {
		t.Fatalf("expected net-like timeout recognized")
	}
}

func TestUnwrapChains(t *testing.T) {
	base := stdErrors.New("channel closed")
	l1 := fmt.Errorf("read: %w", base)
	l2 := NewMalformedFrameError("decode.frame", l1)
	if !stdErrors.Is(l2, base) {
		t.Fatalf("errors.Is should reach base cause")
	}
	var pm protocolMarker
	if !stdErrors.As(l2, &pm) {
		t.Fatalf("expected to match protocolMarker via As")
	}
}

func TestIsCancelled(t *testing.T) {
	ce := NewCancelledError("receiver.run", nil)
	if !IsCancelled(ce) {
		t.Fatalf("expected CancelledError recognized")
	}
	if !IsProtocolError(ce) {
		t.Fatalf("cancelled error should classify as protocol")
	}
	if IsCancelled(stdErrors.New("plain")) {
		t.Fatalf("plain error should not be cancelled")
	}
}

func TestSinkAndSourceFailure(t *testing.T) {
	sk := NewSinkFailureError("sink.write", stdErrors.New("disk full"))
	if !IsProtocolError(sk) {
		t.Fatalf("expected sink failure classified as protocol")
	}
	if sk.(*SinkFailureError).Unwrap() == nil {
		t.Fatalf("expected sink failure cause preserved")
	}

	sr := NewSourceFailureError("source.read", nil)
	if s := sr.Error(); s == "" {
		t.Fatalf("empty source failure string")
	}
}

func TestNilSafety(t *testing.T) {
	if IsProtocolError(nil) {
		t.Fatalf("nil should not be protocol error")
	}
	if IsTimeout(nil) {
		t.Fatalf("nil should not be timeout")
	}
	if IsCancelled(nil) {
		t.Fatalf("nil should not be cancelled")
	}
}

func TestNilErrBranchesAndStrings(t *testing.T) {
	mm := NewProtocolMismatchError("op1", nil)
	if mm == nil {
		t.Fatalf("nil mismatch error")
	}
	if !IsProtocolError(mm) {
		t.Fatalf("expected protocol classification")
	}
	if s := mm.Error(); s == "" || s == "protocol mismatch:" {
		t.Fatalf("unexpected mismatch error string: %q", s)
	}

	mf := NewMalformedFrameError("op2", nil)
	if s := mf.Error(); s == "" || s == "malformed frame:" {
		t.Fatalf("bad malformed frame error string: %q", s)
	}

	inc := NewIncompleteError("op3", 1, 2, nil)
	if s := inc.Error(); s == "" {
		t.Fatalf("empty incomplete error string")
	}

	rr := NewResumeRejectedError("op4", nil)
	if s := rr.Error(); s == "" {
		t.Fatalf("empty resume rejected error string")
	}

	to := NewTimeoutError("op5", 100*time.Millisecond, nil)
	if !IsTimeout(to) {
		t.Fatalf("timeout classification failed")
	}
	if IsProtocolError(to) {
		t.Fatalf("timeout misclassified as protocol")
	}
	if s := to.Error(); s == "" {
		t.Fatalf("empty timeout error string")
	}
}

func TestNegativePredicates(t *testing.T) {
	if IsProtocolError(stdErrors.New("plain")) {
		t.Fatalf("plain error shouldn't be protocol")
	}
	if IsTimeout(stdErrors.New("plain")) {
		t.Fatalf("plain error shouldn't be timeout")
	}
}
