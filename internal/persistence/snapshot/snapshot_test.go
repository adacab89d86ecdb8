package snapshot

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteReadSnapshot(t *testing.T) {
	dir := t.TempDir()
	snap := SnapshotV1{
		Header:     Header{Version: Version, WorldID: "world", Tick: 120},
		TickRate:   20,
		ChunkSize:  16,
		AutoUpdate: true,
		Signs: []SignV1{
			{Pos: [3]int{1, 64, -2}, Front: [4]string{"Score:", "%score%"}, UpdatedBy: "alice"},
		},
		Variables: []VariableV1{
			{Name: "score", Value: "42", TickerMode: "left", TickerInterval: 2, PerViewer: map[string]string{"bob": "7"}},
		},
	}
	path := PathFor(dir, snap.Header.Tick)
	if err := WriteSnapshot(path, snap); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Header != snap.Header || len(got.Signs) != 1 || got.Signs[0].Front[1] != "%score%" {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
	if got.Variables[0].PerViewer["bob"] != "7" || got.Variables[0].TickerInterval != 2 {
		t.Fatalf("variables lost: %+v", got.Variables)
	}

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	if h.Tick != 120 || h.WorldID != "world" {
		t.Fatalf("unexpected header: %+v", h)
	}
}

func TestLatest(t *testing.T) {
	dir := t.TempDir()
	if Latest(dir) != "" {
		t.Fatalf("expected no snapshot in empty dir")
	}
	for _, tick := range []uint64{9, 100, 20} {
		if err := WriteSnapshot(PathFor(dir, tick), SnapshotV1{Header: Header{Version: Version, Tick: tick}}); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "snapshots", "junk.snap.zst"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := Latest(dir); filepath.Base(got) != "100.snap.zst" {
		t.Fatalf("latest: %s", got)
	}
}

func TestReadSnapshotRejectsUnknownVersion(t *testing.T) {
	path := PathFor(t.TempDir(), 1)
	if err := WriteSnapshot(path, SnapshotV1{Header: Header{Version: 99, Tick: 1}}); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadSnapshot(path); err == nil {
		t.Fatalf("expected version error")
	}
}
