package sessionid

import "testing"

func TestNewProducesUniqueOpaqueStrings(t *testing.T) {
	a := New()
	b := New()
	if a == "" || b == "" {
		t.Fatalf("expected non-empty session ids")
	}
	if a == b {
		t.Fatalf("expected distinct session ids, got %q twice", a)
	}
}
