package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"signlink.ai/internal/persistence/snapshot"
	"signlink.ai/internal/signlink"
)

// SQLiteIndex is a queryable copy of the audit trail and snapshot history.
// Writes are queued and applied by one goroutine in batched transactions;
// the JSONL logs and snapshot files remain the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropAudit    atomic.Uint64
	dropSnapshot atomic.Uint64
}

type reqKind int

const (
	reqAudit reqKind = iota + 1
	reqSnapshot
	reqFlush
)

type req struct {
	kind reqKind

	audit    signlink.AuditEntry
	snapshot snapshotRow
	done     chan struct{}
}

type snapshotRow struct {
	Tick       uint64
	Path       string
	World      string
	Signs      int
	Variables  int
	AutoUpdate bool
	RecordedAt string
	Vars       []snapshot.VariableV1
}

// SnapshotInfo describes one recorded snapshot.
type SnapshotInfo struct {
	Tick       uint64 `json:"tick"`
	Path       string `json:"path"`
	World      string `json:"world"`
	Signs      int    `json:"signs"`
	Variables  int    `json:"variables"`
	AutoUpdate bool   `json:"auto_update"`
	RecordedAt string `json:"recorded_at"`
}

// AuditFilter selects audit entries. Zero fields match everything.
type AuditFilter struct {
	Actor     string
	Action    string
	Variable  string
	SinceTick uint64
	Limit     int
}

type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropAuditTotal    uint64 `json:"drop_audit_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// Bursty edits (many viewers relinking signs) must not stall the world loop.
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS audits (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			world TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			side TEXT NOT NULL,
			line INTEGER NOT NULL,
			variable TEXT NOT NULL,
			reason TEXT,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_actor_tick ON audits(actor, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_variable_tick ON audits(variable, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_pos_tick ON audits(x, z, y, tick);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			world TEXT NOT NULL,
			signs INTEGER NOT NULL,
			variables INTEGER NOT NULL,
			auto_update INTEGER NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS snapshot_variables (
			tick INTEGER NOT NULL,
			name TEXT NOT NULL,
			value TEXT NOT NULL,
			ticker_mode TEXT NOT NULL,
			per_viewer_json TEXT NOT NULL,
			PRIMARY KEY (tick, name)
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) WriteAudit(entry signlink.AuditEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqAudit, audit: entry}:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
		s.dropAudit.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		Tick:       snap.Header.Tick,
		Path:       path,
		World:      snap.Header.WorldID,
		Signs:      len(snap.Signs),
		Variables:  len(snap.Variables),
		AutoUpdate: snap.AutoUpdate,
		RecordedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Vars:       snap.Variables,
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshot.Add(1)
	}
}

// Flush waits until every queued write is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropAuditTotal:    s.dropAudit.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
	}
}

// QueryAudit returns matching entries, newest first.
func (s *SQLiteIndex) QueryAudit(ctx context.Context, f AuditFilter) ([]signlink.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.Actor != "" {
		where = append(where, "actor = ?")
		args = append(args, f.Actor)
	}
	if f.Action != "" {
		where = append(where, "action = ?")
		args = append(args, strings.ToUpper(f.Action))
	}
	if f.Variable != "" {
		where = append(where, "variable = ?")
		args = append(args, f.Variable)
	}
	if f.SinceTick > 0 {
		where = append(where, "tick >= ?")
		args = append(args, int64(f.SinceTick))
	}
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	q := "SELECT raw_json FROM audits"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY tick DESC, seq DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []signlink.AuditEntry
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var e signlink.AuditEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Snapshots lists recorded snapshots, newest first.
func (s *SQLiteIndex) Snapshots(ctx context.Context, limit int) ([]SnapshotInfo, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT tick,path,world,signs,variables,auto_update,recorded_at FROM snapshots ORDER BY tick DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SnapshotInfo
	for rows.Next() {
		var (
			si   SnapshotInfo
			tick int64
			auto int
		)
		if err := rows.Scan(&tick, &si.Path, &si.World, &si.Signs, &si.Variables, &auto, &si.RecordedAt); err != nil {
			return nil, err
		}
		si.Tick = uint64(tick)
		si.AutoUpdate = auto != 0
		out = append(out, si)
	}
	return out, rows.Err()
}

// VariableHistory returns the value of a variable in each recorded
// snapshot, newest first.
func (s *SQLiteIndex) VariableHistory(ctx context.Context, name string, limit int) ([]VariableRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT tick,value,ticker_mode,per_viewer_json FROM snapshot_variables WHERE name = ? ORDER BY tick DESC LIMIT ?`, name, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []VariableRecord
	for rows.Next() {
		var (
			r    VariableRecord
			tick int64
			pv   string
		)
		if err := rows.Scan(&tick, &r.Value, &r.TickerMode, &pv); err != nil {
			return nil, err
		}
		r.Tick = uint64(tick)
		r.Name = name
		if pv != "" && pv != "null" {
			if err := json.Unmarshal([]byte(pv), &r.PerViewer); err != nil {
				return nil, err
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type VariableRecord struct {
	Tick       uint64            `json:"tick"`
	Name       string            `json:"name"`
	Value      string            `json:"value"`
	TickerMode string            `json:"ticker_mode,omitempty"`
	PerViewer  map[string]string `json:"per_viewer,omitempty"`
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertAudit, _ := s.db.Prepare(`INSERT OR REPLACE INTO audits(tick,seq,actor,action,world,x,y,z,side,line,variable,reason,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(tick,path,world,signs,variables,auto_update,recorded_at) VALUES(?,?,?,?,?,?,?)`)
	insertVariable, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshot_variables(tick,name,value,ticker_mode,per_viewer_json) VALUES(?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertAudit, insertSnapshot, insertVariable} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 500 * time.Millisecond

		lastAuditTick uint64
		auditSeq      int
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	// Idle commits release the single connection to readers.
	idle := time.NewTicker(commitMaxWait)
	defer idle.Stop()

	for {
		var r req
		select {
		case rr, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			r = rr
		case <-idle.C:
			if tx != nil && time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
			continue
		}

		if r.kind == reqFlush {
			commit()
			close(r.done)
			continue
		}

		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqAudit:
			a := r.audit
			if a.Tick != lastAuditTick {
				lastAuditTick = a.Tick
				auditSeq = 0
			}
			seq := auditSeq
			auditSeq++
			raw, _ := json.Marshal(a)
			if insertAudit != nil {
				if _, err := tx.Stmt(insertAudit).Exec(
					int64(a.Tick),
					seq,
					a.Actor,
					a.Action,
					a.World,
					a.Pos[0], a.Pos[1], a.Pos[2],
					a.Side,
					a.Line,
					a.Variable,
					a.Reason,
					string(raw),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqSnapshot:
			sn := r.snapshot
			if insertSnapshot != nil {
				auto := 0
				if sn.AutoUpdate {
					auto = 1
				}
				if _, err := tx.Stmt(insertSnapshot).Exec(
					int64(sn.Tick),
					sn.Path,
					sn.World,
					sn.Signs,
					sn.Variables,
					auto,
					sn.RecordedAt,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
			for _, v := range sn.Vars {
				if insertVariable == nil {
					break
				}
				pv, _ := json.Marshal(v.PerViewer)
				if _, err := tx.Stmt(insertVariable).Exec(int64(sn.Tick), v.Name, v.Value, v.TickerMode, string(pv)); err != nil {
					rollback()
					break
				}
				opCount++
			}
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}
}
