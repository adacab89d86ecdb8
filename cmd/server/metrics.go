package main

import (
	"fmt"
	"io"

	"signlink.ai/internal/persistence/indexdb"
	"signlink.ai/internal/persistence/objstore"
	"signlink.ai/internal/sim/world"
)

// writeMetrics renders the minimal Prometheus exposition format.
func writeMetrics(out io.Writer, worldID string, m world.WorldMetrics, idx *indexdb.SQLiteIndex, mirror objstore.MirrorStats) {
	gauge := func(name, help string) {
		fmt.Fprintf(out, "# HELP %s %s\n", name, help)
		fmt.Fprintf(out, "# TYPE %s gauge\n", name)
	}
	counter := func(name, help string) {
		fmt.Fprintf(out, "# HELP %s %s\n", name, help)
		fmt.Fprintf(out, "# TYPE %s counter\n", name)
	}

	gauge("signlink_world_tick", "Current world tick.")
	fmt.Fprintf(out, "signlink_world_tick{world=%q} %d\n", worldID, m.Tick)

	gauge("signlink_world_viewers", "Connected viewers.")
	fmt.Fprintf(out, "signlink_world_viewers{world=%q} %d\n", worldID, m.Viewers)

	gauge("signlink_world_loaded_chunks", "Loaded chunk count.")
	fmt.Fprintf(out, "signlink_world_loaded_chunks{world=%q} %d\n", worldID, m.LoadedChunks)

	gauge("signlink_world_signs", "Signs in loaded chunks.")
	fmt.Fprintf(out, "signlink_world_signs{world=%q} %d\n", worldID, m.Signs)

	gauge("signlink_world_queue_depth", "Channel backlog depth.")
	fmt.Fprintf(out, "signlink_world_queue_depth{world=%q,queue=%q} %d\n", worldID, "inbox", m.InboxDepth)
	fmt.Fprintf(out, "signlink_world_queue_depth{world=%q,queue=%q} %d\n", worldID, "join", m.JoinDepth)
	fmt.Fprintf(out, "signlink_world_queue_depth{world=%q,queue=%q} %d\n", worldID, "leave", m.LeaveDepth)

	counter("signlink_world_dropped_messages_total", "Messages dropped for slow viewers.")
	fmt.Fprintf(out, "signlink_world_dropped_messages_total{world=%q} %d\n", worldID, m.Dropped)

	gauge("signlink_world_step_ms", "Last tick step duration in milliseconds.")
	fmt.Fprintf(out, "signlink_world_step_ms{world=%q} %.3f\n", worldID, m.StepMS)

	e := m.Engine
	autoUpdate := 0
	if e.AutoUpdate {
		autoUpdate = 1
	}
	gauge("signlink_engine_auto_update", "1 when rendered lines are delivered to viewers.")
	fmt.Fprintf(out, "signlink_engine_auto_update{world=%q} %d\n", worldID, autoUpdate)

	gauge("signlink_engine_size", "Engine table sizes.")
	fmt.Fprintf(out, "signlink_engine_size{world=%q,table=%q} %d\n", worldID, "variables", e.Variables)
	fmt.Fprintf(out, "signlink_engine_size{world=%q,table=%q} %d\n", worldID, "bindings", e.Bindings)
	fmt.Fprintf(out, "signlink_engine_size{world=%q,table=%q} %d\n", worldID, "virtual_signs", e.Signs)
	fmt.Fprintf(out, "signlink_engine_size{world=%q,table=%q} %d\n", worldID, "pending_restores", e.PendingRestores)
	fmt.Fprintf(out, "signlink_engine_size{world=%q,table=%q} %d\n", worldID, "viewer_cache", e.ViewerCache)

	counter("signlink_engine_viewer_cache_total", "Viewer cache lookups by result.")
	fmt.Fprintf(out, "signlink_engine_viewer_cache_total{world=%q,result=%q} %d\n", worldID, "hit", e.CacheHits)
	fmt.Fprintf(out, "signlink_engine_viewer_cache_total{world=%q,result=%q} %d\n", worldID, "miss", e.CacheMisses)

	counter("signlink_engine_text_passes_total", "Text passes run.")
	fmt.Fprintf(out, "signlink_engine_text_passes_total{world=%q} %d\n", worldID, e.TextPasses)

	counter("signlink_engine_failures_total", "Engine failures by kind.")
	fmt.Fprintf(out, "signlink_engine_failures_total{world=%q,kind=%q} %d\n", worldID, "text_pass", e.PassFailures)
	fmt.Fprintf(out, "signlink_engine_failures_total{world=%q,kind=%q} %d\n", worldID, "region_load", e.LoadFaults)

	if idx != nil {
		s := idx.Stats()
		gauge("signlink_index_queue_depth", "Index writer queue depth.")
		fmt.Fprintf(out, "signlink_index_queue_depth %d\n", s.QueueDepth)
		gauge("signlink_index_queue_capacity", "Index writer queue capacity.")
		fmt.Fprintf(out, "signlink_index_queue_capacity %d\n", s.QueueCapacity)
		counter("signlink_index_dropped_total", "Index writes dropped because the queue was full.")
		fmt.Fprintf(out, "signlink_index_dropped_total{kind=%q} %d\n", "audit", s.DropAuditTotal)
		fmt.Fprintf(out, "signlink_index_dropped_total{kind=%q} %d\n", "snapshot", s.DropSnapshotTotal)
	}

	// A zero capacity means mirroring is off.
	if mirror.QueueCapacity == 0 {
		return
	}
	gauge("signlink_mirror_queue_depth", "Mirror upload queue depth.")
	fmt.Fprintf(out, "signlink_mirror_queue_depth %d\n", mirror.QueueDepth)
	gauge("signlink_mirror_queue_capacity", "Mirror upload queue capacity.")
	fmt.Fprintf(out, "signlink_mirror_queue_capacity %d\n", mirror.QueueCapacity)
	counter("signlink_mirror_files_total", "Mirrored files by outcome.")
	fmt.Fprintf(out, "signlink_mirror_files_total{result=%q} %d\n", "enqueued", mirror.Enqueued)
	fmt.Fprintf(out, "signlink_mirror_files_total{result=%q} %d\n", "dropped", mirror.Dropped)
	fmt.Fprintf(out, "signlink_mirror_files_total{result=%q} %d\n", "uploaded", mirror.Uploaded)
	fmt.Fprintf(out, "signlink_mirror_files_total{result=%q} %d\n", "failed", mirror.Failed)
	gauge("signlink_mirror_last_upload_unix", "Unix time of the last successful upload.")
	fmt.Fprintf(out, "signlink_mirror_last_upload_unix %d\n", mirror.LastUploadUnix)
}
