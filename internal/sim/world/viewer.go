package world

import (
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"

	"signlink.ai/internal/protocol"
	"signlink.ai/internal/signlink/model"
	"signlink.ai/internal/sim/world/terrain/store"
)

var ErrSlowViewer = errors.New("viewer outbound queue full")

// Viewer is one connected session. Only the world loop mutates it; Name and
// SendSign may be called by the engine from that same goroutine.
type Viewer struct {
	ID   string
	name string
	Pos  [3]int

	w       *World
	out     chan []byte
	center  store.ChunkKey
	visible map[store.ChunkKey]bool

	edits     rateWindow
	interacts rateWindow
}

func (v *Viewer) Name() string { return v.name }

func (v *Viewer) SendSign(loc model.Location, side model.Side, lines model.Lines) error {
	return v.sendJSON(protocol.SignLinesMsg{
		Type:            protocol.TypeSignLines,
		ProtocolVersion: protocol.Version,
		Tick:            v.w.tick.Load(),
		WorldID:         loc.World,
		Pos:             loc.ToArray(),
		Side:            sideName(side),
		Lines:           lines,
	})
}

func (v *Viewer) sendRemoved(loc model.Location) error {
	return v.sendJSON(protocol.SignRemovedMsg{
		Type:            protocol.TypeSignRemoved,
		ProtocolVersion: protocol.Version,
		Tick:            v.w.tick.Load(),
		WorldID:         loc.World,
		Pos:             loc.ToArray(),
	})
}

func (v *Viewer) notice(level, code, text string) {
	_ = v.sendJSON(protocol.NewNotice(level, code, text))
}

func (v *Viewer) sendJSON(msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if v.out == nil {
		return nil
	}
	select {
	case v.out <- b:
		return nil
	default:
		v.w.dropped.Add(1)
		return ErrSlowViewer
	}
}

func (v *Viewer) sees(k store.ChunkKey) bool { return v.visible[k] }

func sideName(s model.Side) string { return strings.ToLower(s.String()) }

// rateWindow counts requests in a fixed window of ticks.
type rateWindow struct {
	start uint64
	n     int
}

func (r *rateWindow) allow(now uint64, window, max int) bool {
	if window <= 0 || max <= 0 {
		return true
	}
	if now-r.start >= uint64(window) || r.n == 0 {
		r.start = now
		r.n = 0
	}
	if r.n >= max {
		return false
	}
	r.n++
	return true
}

// worldTransport delivers rendered lines to every viewer whose view covers
// the sign's chunk.
type worldTransport struct{ w *World }

func (t worldTransport) Broadcast(loc model.Location, side model.Side, lines model.Lines) {
	k := t.w.signs.KeyOf(loc.X, loc.Z)
	for _, v := range t.w.sortedViewers() {
		if !v.sees(k) {
			continue
		}
		if err := v.SendSign(loc, side, lines); err != nil {
			t.w.log.Debug("sign broadcast dropped", zap.String("viewer", v.name), zap.Stringer("loc", loc), zap.Error(err))
		}
	}
}
