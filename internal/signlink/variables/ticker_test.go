package variables

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

func TestTicker_Frames(t *testing.T) {
	tickers := []Ticker{
		NewTicker(TickerLeft, 1, 1),
		NewTicker(TickerRight, 1, 1),
		NewTicker(TickerBlink, 2, 0),
	}
	var sb strings.Builder
	for _, tk := range tickers {
		fmt.Fprintf(&sb, "mode=%s interval=%d pause=%d\n", tk.Mode, tk.Interval, tk.Pause)
		for step := 0; step < 8; step++ {
			fmt.Fprintf(&sb, "%02d %q\n", step, tk.Apply("ABCD"))
			tk.Step()
		}
	}
	g := goldie.New(t)
	g.Assert(t, "ticker_frames", []byte(sb.String()))
}

func TestTicker_NoneAndShortText(t *testing.T) {
	tk := NewTicker(TickerNone, 1, 0)
	tk.Step()
	if got := tk.Apply("hello"); got != "hello" {
		t.Fatalf("none ticker changed text: %q", got)
	}
	left := NewTicker(TickerLeft, 1, 0)
	left.Step()
	if got := left.Apply("x"); got != "x" {
		t.Fatalf("single rune must not scroll: %q", got)
	}
}

func TestTicker_Deterministic(t *testing.T) {
	a := NewTicker(TickerLeft, 3, 2)
	b := NewTicker(TickerLeft, 3, 2)
	for i := 0; i < 50; i++ {
		a.Step()
	}
	for i := 0; i < 50; i++ {
		b.Step()
	}
	if a.Apply("marquee ") != b.Apply("marquee ") {
		t.Fatalf("same step count must render the same frame")
	}
}

func TestParseTickerMode(t *testing.T) {
	for _, s := range []string{"none", "LEFT", " right ", "blink", ""} {
		if _, err := ParseTickerMode(s); err != nil {
			t.Fatalf("ParseTickerMode(%q): %v", s, err)
		}
	}
	if _, err := ParseTickerMode("spin"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
