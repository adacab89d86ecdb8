package world

import (
	"strings"

	"go.uber.org/zap"

	"signlink.ai/internal/protocol"
	"signlink.ai/internal/signlink/model"
	"signlink.ai/internal/sim/world/terrain/store"
)

var spawnPos = [3]int{0, 64, 0}

func (w *World) handleJoin(req JoinRequest) JoinResponse {
	name := strings.TrimSpace(req.Name)
	if name == "" || req.SessionID == "" {
		return JoinResponse{Code: protocol.ErrBadRequest, Message: "viewer name and session required"}
	}
	if _, ok := w.viewers[req.SessionID]; ok {
		return JoinResponse{Code: protocol.ErrConflict, Message: "session already joined"}
	}
	key := model.FoldName(name)
	for _, v := range w.viewers {
		if model.FoldName(v.name) == key {
			return JoinResponse{Code: protocol.ErrConflict, Message: "viewer name in use"}
		}
	}

	v := &Viewer{
		ID:      req.SessionID,
		name:    name,
		Pos:     spawnPos,
		w:       w,
		out:     req.Out,
		center:  w.signs.KeyOf(spawnPos[0], spawnPos[2]),
		visible: map[store.ChunkKey]bool{},
	}
	w.viewers[v.ID] = v
	w.engine.OnViewerJoin(v)
	w.log.Info("viewer joined", zap.String("viewer", name), zap.String("session", v.ID))

	resp := JoinResponse{Welcome: protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       v.ID,
		ViewerName:      name,
		WorldID:         w.cfg.ID,
		TickRateHz:      w.cfg.TickRateHz,
		ChunkSize:       w.cfg.ChunkSize,
		ViewRadius:      w.cfg.ViewRadiusChunks,
		MaxLineWidth:    w.cfg.MaxLineWidth,
	}}
	w.streamRegions()
	return resp
}

func (w *World) handleLeave(id string) {
	v, ok := w.viewers[id]
	if !ok {
		return
	}
	delete(w.viewers, id)
	w.engine.OnViewerLeave(v.name)
	w.log.Info("viewer left", zap.String("viewer", v.name), zap.String("session", id))
	w.streamRegions()
}

func (w *World) handleMove(v *Viewer, pos [3]int) {
	v.Pos = pos
	k := w.signs.KeyOf(pos[0], pos[2])
	if k == v.center {
		return
	}
	v.center = k
	w.streamRegions()
}

// streamRegions keeps loaded exactly the chunks some viewer can see, tells
// the engine about the signs that came and went, and sends every viewer the
// signs of chunks that just entered its view.
func (w *World) streamRegions() {
	r := w.cfg.ViewRadiusChunks
	vs := w.sortedViewers()

	need := map[store.ChunkKey]bool{}
	for _, v := range vs {
		for _, k := range store.KeysAround(v.center, r) {
			need[k] = true
		}
	}

	var gone []model.Location
	for _, k := range w.signs.LoadedChunkKeys() {
		if need[k] {
			continue
		}
		gone = append(gone, w.signs.SignsIn(k)...)
		w.signs.Unload(k)
	}
	if len(gone) > 0 {
		w.engine.OnRegionUnload(gone)
	}

	var fresh []model.Location
	for _, v := range vs {
		for _, k := range store.KeysAround(v.center, r) {
			if w.signs.Load(k) {
				fresh = append(fresh, w.signs.SignsIn(k)...)
			}
		}
	}
	if len(fresh) > 0 {
		if err := w.engine.OnRegionLoad(fresh); err != nil {
			w.log.Error("region load", zap.Int("signs", len(fresh)), zap.Error(err))
		}
	}

	for _, v := range vs {
		next := map[store.ChunkKey]bool{}
		for _, k := range store.KeysAround(v.center, r) {
			next[k] = true
			if !v.visible[k] {
				w.sendChunk(v, k)
			}
		}
		v.visible = next
	}
}

// sendChunk sends one viewer what every sign in chunk k shows to it.
func (w *World) sendChunk(v *Viewer, k store.ChunkKey) {
	for _, loc := range w.signs.SignsIn(k) {
		ok, err := w.engine.SendCurrent(loc, v)
		if err != nil {
			w.log.Debug("send sign", zap.String("viewer", v.name), zap.Stringer("loc", loc), zap.Error(err))
			continue
		}
		if ok {
			continue
		}
		sg, found := w.signs.GetSign(loc.ToArray())
		if !found {
			continue
		}
		for _, side := range model.Sides {
			_ = v.SendSign(loc, side, sg.Side(side))
		}
	}
}
