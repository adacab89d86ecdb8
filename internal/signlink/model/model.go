package model

import (
	"fmt"
	"strings"
)

// LineCount is the number of text lines on one side of a sign.
const LineCount = 4

type Side uint8

const (
	Front Side = iota
	Back
)

// Sides lists every side in index order.
var Sides = [...]Side{Front, Back}

func (s Side) String() string {
	switch s {
	case Front:
		return "FRONT"
	case Back:
		return "BACK"
	default:
		return fmt.Sprintf("SIDE(%d)", uint8(s))
	}
}

func (s Side) Valid() bool { return s == Front || s == Back }

func ParseSide(v string) (Side, bool) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "", "FRONT":
		return Front, true
	case "BACK":
		return Back, true
	}
	return Front, false
}

// Location identifies one physical sign.
type Location struct {
	World string
	X     int
	Y     int
	Z     int
}

func (l Location) String() string {
	return fmt.Sprintf("%s@%d,%d,%d", l.World, l.X, l.Y, l.Z)
}

func (l Location) ToArray() [3]int { return [3]int{l.X, l.Y, l.Z} }

// Less orders locations by world, then x, y, z.
func (l Location) Less(o Location) bool {
	if l.World != o.World {
		return l.World < o.World
	}
	if l.X != o.X {
		return l.X < o.X
	}
	if l.Y != o.Y {
		return l.Y < o.Y
	}
	return l.Z < o.Z
}

type Lines [LineCount]string

// Binding ties one line of one sign side to a variable.
type Binding struct {
	Loc  Location
	Side Side
	Line int
}

func (b Binding) String() string {
	return fmt.Sprintf("%s/%s/%d", b.Loc, b.Side, b.Line)
}

// Less orders bindings by location, then side, then line.
func (b Binding) Less(o Binding) bool {
	if b.Loc != o.Loc {
		return b.Loc.Less(o.Loc)
	}
	if b.Side != o.Side {
		return b.Side < o.Side
	}
	return b.Line < o.Line
}

func ValidLine(line int) bool { return line >= 0 && line < LineCount }
