package variables

import (
	"fmt"
	"strings"
)

type TickerMode uint8

const (
	TickerNone TickerMode = iota
	TickerLeft
	TickerRight
	TickerBlink
)

func (m TickerMode) String() string {
	switch m {
	case TickerLeft:
		return "left"
	case TickerRight:
		return "right"
	case TickerBlink:
		return "blink"
	default:
		return "none"
	}
}

func ParseTickerMode(s string) (TickerMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return TickerNone, nil
	case "left":
		return TickerLeft, nil
	case "right":
		return TickerRight, nil
	case "blink":
		return TickerBlink, nil
	}
	return TickerNone, fmt.Errorf("unknown ticker mode %q", s)
}

// Ticker animates a variable's text. It advances one step per ticker pass and
// the frame it renders depends only on the number of steps taken.
type Ticker struct {
	Mode     TickerMode
	Interval int // steps per frame
	Pause    int // frames held at offset 0 after each full scroll

	steps uint64
}

func NewTicker(mode TickerMode, interval, pause int) Ticker {
	return Ticker{Mode: mode, Interval: interval, Pause: pause}
}

func (t *Ticker) Step() { t.steps++ }

func (t *Ticker) Reset() { t.steps = 0 }

func (t Ticker) Steps() uint64 { return t.steps }

func (t Ticker) frame() uint64 {
	iv := t.Interval
	if iv < 1 {
		iv = 1
	}
	return t.steps / uint64(iv)
}

// Apply renders text at the ticker's current frame.
func (t Ticker) Apply(text string) string {
	switch t.Mode {
	case TickerLeft, TickerRight:
		r := []rune(text)
		n := len(r)
		if n <= 1 {
			return text
		}
		pause := t.Pause
		if pause < 0 {
			pause = 0
		}
		f := int(t.frame() % uint64(n+pause))
		off := 0
		if f < n {
			off = f
		}
		if t.Mode == TickerRight {
			off = (n - off) % n
		}
		return string(r[off:]) + string(r[:off])
	case TickerBlink:
		if t.frame()%2 == 1 {
			return ""
		}
		return text
	default:
		return text
	}
}
