package world

import (
	"fmt"

	"go.uber.org/zap"

	"signlink.ai/internal/protocol"
	"signlink.ai/internal/signlink"
	"signlink.ai/internal/signlink/model"
	"signlink.ai/internal/sim/world/terrain/store"
)

func (w *World) apply(v *Viewer, msg any, now uint64) {
	switch m := msg.(type) {
	case *protocol.MoveMsg:
		w.handleMove(v, m.Pos)
	case *protocol.EditSignMsg:
		w.handleEdit(v, m, now)
	case *protocol.PlaceSignMsg:
		w.handlePlace(v, m.Pos, now)
	case *protocol.BreakSignMsg:
		w.handleBreak(v, m.Pos, now)
	case *protocol.InteractMsg:
		w.handleInteract(v, m, now)
	default:
		v.notice(protocol.NoticeError, protocol.ErrBadRequest, fmt.Sprintf("unsupported message %T", msg))
	}
}

// reachable reports whether pos lies in a chunk the viewer can see.
func (w *World) reachable(v *Viewer, pos [3]int) bool {
	return store.Within(v.center, w.signs.KeyOf(pos[0], pos[2]), w.cfg.ViewRadiusChunks)
}

func (w *World) allowEdit(v *Viewer, now uint64) bool {
	rl := w.cfg.RateLimits
	if v.edits.allow(now, rl.EditWindowTicks, rl.EditMax) {
		return true
	}
	v.notice(protocol.NoticeWarn, protocol.ErrRateLimit, "Too many sign changes; slow down.")
	return false
}

func (w *World) handleEdit(v *Viewer, m *protocol.EditSignMsg, now uint64) {
	if !w.allowEdit(v, now) {
		return
	}
	side, ok := model.ParseSide(m.Side)
	if !ok {
		v.notice(protocol.NoticeError, protocol.ErrBadRequest, fmt.Sprintf("unknown side %q", m.Side))
		return
	}
	if !w.reachable(v, m.Pos) {
		v.notice(protocol.NoticeWarn, protocol.ErrInvalidTarget, "That sign is out of reach.")
		return
	}
	lines := model.Lines(m.Lines)
	if !w.signs.SetSignSide(m.Pos, side, lines, v.name, now) {
		v.notice(protocol.NoticeWarn, protocol.ErrInvalidTarget, "There is no sign there.")
		return
	}
	loc := w.signs.Location(m.Pos)
	w.audit(v.name, signlink.ActionSignEdit, m.Pos, sideName(side), "")

	// Everyone sees the new text until the engine renders it next tick.
	worldTransport{w: w}.Broadcast(loc, side, lines)
	for _, warn := range w.engine.OnSurfaceEdited(loc, side, lines, v.name) {
		v.notice(protocol.NoticeWarn, protocol.ErrConflict, warn.Message)
	}
}

func (w *World) handlePlace(v *Viewer, pos [3]int, now uint64) {
	if !w.allowEdit(v, now) {
		return
	}
	if !w.reachable(v, pos) {
		v.notice(protocol.NoticeWarn, protocol.ErrInvalidTarget, "That spot is out of reach.")
		return
	}
	if _, created := w.signs.PutSign(pos, v.name, now); !created {
		v.notice(protocol.NoticeWarn, protocol.ErrConflict, "A sign is already there.")
		return
	}
	loc := w.signs.Location(pos)
	w.audit(v.name, signlink.ActionSignPlace, pos, "", "")

	if err := w.engine.OnRegionLoad([]model.Location{loc}); err != nil {
		w.log.Error("placed sign load", zap.Stringer("loc", loc), zap.Error(err))
	}
	t := worldTransport{w: w}
	for _, side := range model.Sides {
		t.Broadcast(loc, side, model.Lines{})
	}
}

func (w *World) handleBreak(v *Viewer, pos [3]int, now uint64) {
	if !w.allowEdit(v, now) {
		return
	}
	if !w.reachable(v, pos) {
		v.notice(protocol.NoticeWarn, protocol.ErrInvalidTarget, "That sign is out of reach.")
		return
	}
	if !w.signs.RemoveSign(pos) {
		v.notice(protocol.NoticeWarn, protocol.ErrInvalidTarget, "There is no sign there.")
		return
	}
	loc := w.signs.Location(pos)
	w.engine.OnSurfaceDestroyed(loc, v.name)
	w.audit(v.name, signlink.ActionSignBreak, pos, "", "")

	k := w.signs.KeyOf(pos[0], pos[2])
	for _, o := range w.sortedViewers() {
		if o.sees(k) {
			_ = o.sendRemoved(loc)
		}
	}
}

func (w *World) handleInteract(v *Viewer, m *protocol.InteractMsg, now uint64) {
	rl := w.cfg.RateLimits
	if !v.interacts.allow(now, rl.InteractWindowTicks, rl.InteractMax) {
		v.notice(protocol.NoticeWarn, protocol.ErrRateLimit, "Too many interactions; slow down.")
		return
	}
	side, ok := model.ParseSide(m.Side)
	if !ok {
		v.notice(protocol.NoticeError, protocol.ErrBadRequest, fmt.Sprintf("unknown side %q", m.Side))
		return
	}
	if !w.reachable(v, m.Pos) {
		v.notice(protocol.NoticeWarn, protocol.ErrInvalidTarget, "That sign is out of reach.")
		return
	}
	if _, ok := w.signs.GetSign(m.Pos); !ok {
		v.notice(protocol.NoticeWarn, protocol.ErrInvalidTarget, "There is no sign there.")
		return
	}
	w.engine.OnViewerInteraction(w.signs.Location(m.Pos), side, v.name)
}
