package main

import (
	"fmt"
	"unicode/utf8"

	"github.com/gdamore/tcell/v2"

	"signlink.ai/internal/protocol"
	"signlink.ai/internal/transport/ws"
)

const (
	moveStep    = 4
	maxLineLen  = 384
	columnWidth = 20
)

type actionKind int

const (
	actMove actionKind = iota + 1
	actPlace
	actBreak
	actEdit
	actInteract
)

type action struct {
	kind  actionKind
	pos   [3]int
	side  string
	lines [4]string
}

// ui is the viewer's screen state. It holds no connection; key handling
// returns the request to send.
type ui struct {
	pos      [3]int
	signs    []ws.SignView
	selected int

	editing  bool
	editSide string
	editLine int
	draft    [4]string

	status string
	quit   bool
}

func newUI(spawn [3]int) *ui { return &ui{pos: spawn} }

// setSigns replaces the visible signs, keeping the selection on the same
// position when it is still there.
func (u *ui) setSigns(signs []ws.SignView) {
	var keep [3]int
	hadSel := u.selected < len(u.signs)
	if hadSel {
		keep = u.signs[u.selected].Pos
	}
	u.signs = signs
	u.selected = 0
	if !hadSel {
		return
	}
	for i, s := range signs {
		if s.Pos == keep {
			u.selected = i
			return
		}
	}
}

func (u *ui) current() (ws.SignView, bool) {
	if u.selected < 0 || u.selected >= len(u.signs) {
		return ws.SignView{}, false
	}
	return u.signs[u.selected], true
}

func (u *ui) onEvent(ev ws.Event) {
	if ev.Type == protocol.TypeNotice {
		u.status = fmt.Sprintf("%s %s: %s", ev.Notice.Level, ev.Notice.Code, ev.Notice.Text)
	}
}

func (u *ui) handleKey(k tcell.Key, r rune) *action {
	if k == tcell.KeyCtrlC {
		u.quit = true
		return nil
	}
	if u.editing {
		return u.editKey(k, r)
	}

	switch k {
	case tcell.KeyEscape:
		u.quit = true
	case tcell.KeyLeft:
		return u.move(-moveStep, 0)
	case tcell.KeyRight:
		return u.move(moveStep, 0)
	case tcell.KeyUp:
		return u.move(0, -moveStep)
	case tcell.KeyDown:
		return u.move(0, moveStep)
	case tcell.KeyTab:
		u.cycle(1)
	case tcell.KeyBacktab:
		u.cycle(-1)
	case tcell.KeyRune:
		return u.runeKey(r)
	}
	return nil
}

func (u *ui) runeKey(r rune) *action {
	switch r {
	case 'q':
		u.quit = true
	case 'n':
		u.cycle(1)
	case 'N':
		u.cycle(-1)
	case 'p':
		u.status = fmt.Sprintf("placing sign at %v", u.pos)
		return &action{kind: actPlace, pos: u.pos}
	case 'x':
		if s, ok := u.current(); ok {
			return &action{kind: actBreak, pos: s.Pos}
		}
	case 'f', 'b':
		if s, ok := u.current(); ok {
			return &action{kind: actInteract, pos: s.Pos, side: sideFor(r)}
		}
	case 'e', 'E':
		if s, ok := u.current(); ok {
			u.editing = true
			u.editLine = 0
			u.editSide = "front"
			u.draft = s.Front
			if r == 'E' {
				u.editSide = "back"
				u.draft = s.Back
			}
		}
	}
	return nil
}

func (u *ui) editKey(k tcell.Key, r rune) *action {
	switch k {
	case tcell.KeyEscape:
		u.editing = false
	case tcell.KeyEnter:
		u.editing = false
		s, ok := u.current()
		if !ok {
			return nil
		}
		return &action{kind: actEdit, pos: s.Pos, side: u.editSide, lines: u.draft}
	case tcell.KeyUp:
		u.editLine = (u.editLine + 3) % 4
	case tcell.KeyDown, tcell.KeyTab:
		u.editLine = (u.editLine + 1) % 4
	case tcell.KeyBackspace, tcell.KeyBackspace2:
		line := u.draft[u.editLine]
		if line != "" {
			_, size := utf8.DecodeLastRuneInString(line)
			u.draft[u.editLine] = line[:len(line)-size]
		}
	case tcell.KeyRune:
		if len(u.draft[u.editLine]) < maxLineLen {
			u.draft[u.editLine] += string(r)
		}
	}
	return nil
}

func (u *ui) move(dx, dz int) *action {
	u.pos[0] += dx
	u.pos[2] += dz
	return &action{kind: actMove, pos: u.pos}
}

func (u *ui) cycle(d int) {
	if len(u.signs) == 0 {
		return
	}
	u.selected = (u.selected + d + len(u.signs)) % len(u.signs)
}

func sideFor(r rune) string {
	if r == 'b' {
		return "back"
	}
	return "front"
}

// canvas is the part of tcell.Screen the viewer draws on.
type canvas interface {
	Clear()
	Size() (int, int)
	SetContent(x, y int, mainc rune, combc []rune, style tcell.Style)
	Show()
}

func (u *ui) draw(s canvas, header string) {
	s.Clear()
	plain := tcell.StyleDefault
	dim := plain.Foreground(tcell.ColorGray)
	sel := plain.Reverse(true)

	drawText(s, 0, 0, plain.Bold(true), fmt.Sprintf("%s  pos=%v  signs=%d", header, u.pos, len(u.signs)))
	drawText(s, 0, 1, dim, "arrows move  tab select  f/b use  e/E edit  p place  x break  q quit")
	drawText(s, 0, 2, plain.Foreground(tcell.ColorYellow), u.status)

	_, height := s.Size()
	y := 4
	for i, sign := range u.signs {
		if y+5 > height {
			drawText(s, 0, y, dim, fmt.Sprintf("... %d more", len(u.signs)-i))
			break
		}
		style := plain
		if i == u.selected {
			style = sel
		}
		drawText(s, 0, y, style, fmt.Sprintf("(%d,%d,%d)", sign.Pos[0], sign.Pos[1], sign.Pos[2]))
		front, back := sign.Front, sign.Back
		if u.editing && i == u.selected {
			if u.editSide == "back" {
				back = u.draft
			} else {
				front = u.draft
			}
		}
		for l := 0; l < 4; l++ {
			drawText(s, 2, y+1+l, plain, fmt.Sprintf("|%-*s|", columnWidth-2, front[l]))
			drawText(s, 2+columnWidth+2, y+1+l, dim, fmt.Sprintf("|%-*s|", columnWidth-2, back[l]))
		}
		if u.editing && i == u.selected {
			x := 2
			if u.editSide == "back" {
				x += columnWidth + 2
			}
			drawText(s, x+columnWidth+1, y+1+u.editLine, sel, "<")
		}
		y += 6
	}
	s.Show()
}

func drawText(s canvas, x, y int, style tcell.Style, text string) {
	for _, r := range text {
		s.SetContent(x, y, r, nil, style)
		x++
	}
}
