package requestid

import "testing"

func TestNewIsUnique(t *testing.T) {
	a, b := New(), New()
	if a == "" || a == b {
		t.Fatalf("expected distinct ids, got %q and %q", a, b)
	}
	if len(a) != 32 {
		t.Fatalf("expected 32 hex chars, got %d", len(a))
	}
}

func TestSanitize(t *testing.T) {
	if got := Sanitize(" req-1 "); got != "req-1" {
		t.Fatalf("Sanitize()=%q, want req-1", got)
	}
	if got := Sanitize("bad id\n"); got != "" {
		t.Fatalf("expected control characters rejected, got %q", got)
	}
}
