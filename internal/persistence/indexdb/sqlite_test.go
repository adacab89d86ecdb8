package indexdb

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"

	"signlink.ai/internal/persistence/snapshot"
	"signlink.ai/internal/signlink"
)

func openTemp(t *testing.T) *SQLiteIndex {
	t.Helper()
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return idx
}

func TestSQLiteIndex_QueryAudit(t *testing.T) {
	defer goleak.VerifyNone(t)
	idx := openTemp(t)
	defer idx.Close()

	entries := []signlink.AuditEntry{
		{Tick: 5, Actor: "alice", Action: signlink.ActionBind, World: "w", Pos: [3]int{1, 64, 2}, Side: "FRONT", Line: 1, Variable: "score"},
		{Tick: 5, Actor: "alice", Action: signlink.ActionConflict, World: "w", Pos: [3]int{1, 64, 2}, Side: "FRONT", Line: 1, Variable: "rank", Reason: "score"},
		{Tick: 9, Actor: "admin", Action: signlink.ActionVarSet, Variable: "score"},
	}
	for _, e := range entries {
		if err := idx.WriteAudit(e); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := idx.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	all, err := idx.QueryAudit(ctx, AuditFilter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(all) != 3 || all[0].Action != signlink.ActionVarSet {
		t.Fatalf("expected newest first, got %+v", all)
	}
	if all[2].Pos != [3]int{1, 64, 2} || all[2].Line != 1 {
		t.Fatalf("position lost: %+v", all[2])
	}

	byVar, err := idx.QueryAudit(ctx, AuditFilter{Variable: "score"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(byVar) != 2 {
		t.Fatalf("variable filter: %+v", byVar)
	}

	conflicts, err := idx.QueryAudit(ctx, AuditFilter{Actor: "alice", Action: "conflict"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(conflicts) != 1 || conflicts[0].Reason != "score" {
		t.Fatalf("action filter: %+v", conflicts)
	}

	recent, err := idx.QueryAudit(ctx, AuditFilter{SinceTick: 6, Limit: 10})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("since filter: %+v", recent)
	}
}

func TestSQLiteIndex_RecordSnapshot(t *testing.T) {
	defer goleak.VerifyNone(t)
	idx := openTemp(t)
	defer idx.Close()

	for _, tick := range []uint64{100, 200} {
		idx.RecordSnapshot("/data/snapshots/x.snap.zst", snapshot.SnapshotV1{
			Header:     snapshot.Header{Version: snapshot.Version, WorldID: "w", Tick: tick},
			AutoUpdate: tick == 200,
			Signs:      []snapshot.SignV1{{Pos: [3]int{1, 2, 3}}},
			Variables: []snapshot.VariableV1{
				{Name: "score", Value: fmt.Sprintf("v%d", tick/100), TickerMode: "left", PerViewer: map[string]string{"bob": "x"}},
			},
		})
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := idx.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	snaps, err := idx.Snapshots(ctx, 0)
	if err != nil {
		t.Fatalf("snapshots: %v", err)
	}
	if len(snaps) != 2 || snaps[0].Tick != 200 || !snaps[0].AutoUpdate || snaps[1].AutoUpdate || snaps[0].Signs != 1 {
		t.Fatalf("unexpected snapshots: %+v", snaps)
	}

	hist, err := idx.VariableHistory(ctx, "score", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 2 || hist[0].Value != "v2" || hist[1].Value != "v1" || hist[0].PerViewer["bob"] != "x" {
		t.Fatalf("unexpected history: %+v", hist)
	}
}

func TestSQLiteIndex_DropsWhenQueueFull(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqAudit}

	_ = s.WriteAudit(signlink.AuditEntry{Tick: 2})
	s.RecordSnapshot("/tmp/2.snap.zst", snapshot.SnapshotV1{})

	st := s.Stats()
	if st.DropAuditTotal != 1 || st.DropSnapshotTotal != 1 {
		t.Fatalf("drop stats: %+v", st)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_NilIsNoop(t *testing.T) {
	var s *SQLiteIndex
	if err := s.WriteAudit(signlink.AuditEntry{}); err != nil {
		t.Fatalf("nil write: %v", err)
	}
	s.RecordSnapshot("", snapshot.SnapshotV1{})
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("nil flush: %v", err)
	}
	if s.Stats() != (Stats{}) {
		t.Fatalf("nil stats")
	}
}
