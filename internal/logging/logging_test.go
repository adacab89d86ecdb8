package logging

import "testing"

func TestNew(t *testing.T) {
	for _, lvl := range []string{"debug", "INFO", " warn "} {
		l, err := New(lvl, false)
		if err != nil {
			t.Fatalf("New(%q): %v", lvl, err)
		}
		_ = l.Sync()
	}
	if _, err := New("loud", true); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
