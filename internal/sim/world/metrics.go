package world

import (
	"time"

	"signlink.ai/internal/signlink"
)

type WorldMetrics struct {
	Tick         uint64  `json:"tick"`
	Viewers      int     `json:"viewers"`
	LoadedChunks int     `json:"loaded_chunks"`
	Signs        int     `json:"signs"`
	InboxDepth   int     `json:"inbox_depth"`
	JoinDepth    int     `json:"join_depth"`
	LeaveDepth   int     `json:"leave_depth"`
	Dropped      uint64  `json:"dropped_messages"`
	StepMS       float64 `json:"step_ms"`

	Engine signlink.Stats `json:"engine"`
}

func (w *World) publishMetrics(step time.Duration) {
	w.metrics.Store(WorldMetrics{
		Tick:         w.tick.Load(),
		Viewers:      len(w.viewers),
		LoadedChunks: len(w.signs.LoadedChunkKeys()),
		Signs:        w.signs.SignCount(),
		InboxDepth:   len(w.inbox),
		JoinDepth:    len(w.join),
		LeaveDepth:   len(w.leave),
		Dropped:      w.dropped.Load(),
		StepMS:       float64(step.Microseconds()) / 1000,
		Engine:       w.engine.Stats(),
	})
}

// Metrics returns the values published at the end of the last tick. Safe
// for concurrent use.
func (w *World) Metrics() WorldMetrics {
	if v := w.metrics.Load(); v != nil {
		return v.(WorldMetrics)
	}
	return WorldMetrics{}
}
