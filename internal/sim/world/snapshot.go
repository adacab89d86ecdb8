package world

import (
	"fmt"

	snapv1 "signlink.ai/internal/persistence/snapshot"
	"signlink.ai/internal/signlink"
	"signlink.ai/internal/sim/world/terrain/store"
)

func (w *World) ExportSnapshot(tick uint64) snapv1.SnapshotV1 {
	defs := w.engine.Definitions()
	vars := make([]snapv1.VariableV1, 0, len(defs))
	for _, d := range defs {
		vars = append(vars, variableV1(d))
	}
	return snapv1.SnapshotV1{
		Header: snapv1.Header{
			Version: snapv1.Version,
			WorldID: w.cfg.ID,
			Tick:    tick,
		},
		TickRate:         w.cfg.TickRateHz,
		ChunkSize:        w.cfg.ChunkSize,
		ViewRadiusChunks: w.cfg.ViewRadiusChunks,
		AutoUpdate:       w.engine.AutoUpdate(),
		Signs:            store.ExportSigns(w.signs),
		Variables:        vars,
	}
}

// ImportSnapshot restores signs, variables and the auto-update switch. It
// must be called before Run.
func (w *World) ImportSnapshot(snap snapv1.SnapshotV1) error {
	if snap.Header.WorldID != "" && snap.Header.WorldID != w.cfg.ID {
		return fmt.Errorf("snapshot world %q does not match %q", snap.Header.WorldID, w.cfg.ID)
	}
	signs, err := store.ImportSigns(w.cfg.ID, w.cfg.ChunkSize, snap.Signs)
	if err != nil {
		return err
	}
	defs := make([]signlink.Definition, 0, len(snap.Variables))
	for _, v := range snap.Variables {
		defs = append(defs, definition(v))
	}
	if err := w.engine.ApplyDefinitions(defs); err != nil {
		return err
	}
	w.signs = signs
	w.engine.SetAutoUpdate(snap.AutoUpdate)
	w.tick.Store(snap.Header.Tick + 1)
	return nil
}

// LoadDefinitions seeds variables for a fresh world. It must be called
// before Run.
func (w *World) LoadDefinitions(defs []signlink.Definition) error {
	return w.engine.ApplyDefinitions(defs)
}

func variableV1(d signlink.Definition) snapv1.VariableV1 {
	v := snapv1.VariableV1{Name: d.Name, Value: d.Value, PerViewer: d.PerViewer}
	if d.Ticker != nil {
		v.TickerMode = d.Ticker.Mode
		v.TickerInterval = d.Ticker.Interval
		v.TickerPause = d.Ticker.Pause
	}
	return v
}

func definition(v snapv1.VariableV1) signlink.Definition {
	d := signlink.Definition{Name: v.Name, Value: v.Value, PerViewer: v.PerViewer}
	if v.TickerMode != "" {
		d.Ticker = &signlink.TickerInfo{Mode: v.TickerMode, Interval: v.TickerInterval, Pause: v.TickerPause}
	}
	return d
}
