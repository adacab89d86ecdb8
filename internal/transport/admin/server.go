// Package admin serves the loopback-only HTTP API for operating the sign
// engine: state, the auto-update switch, rescans, variables and audit.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"signlink.ai/internal/persistence/indexdb"
	persistlog "signlink.ai/internal/persistence/log"
	"signlink.ai/internal/signlink"
	"signlink.ai/internal/sim/world"
)

const requestTimeout = 5 * time.Second

// Index is the queryable history. *indexdb.SQLiteIndex implements it.
type Index interface {
	QueryAudit(ctx context.Context, f indexdb.AuditFilter) ([]signlink.AuditEntry, error)
	Snapshots(ctx context.Context, limit int) ([]indexdb.SnapshotInfo, error)
	VariableHistory(ctx context.Context, name string, limit int) ([]indexdb.VariableRecord, error)
}

type Options struct {
	// Index answers audit and history queries. When nil, audit queries
	// scan the JSONL files under AuditDir instead.
	Index    Index
	AuditDir string

	// LoadVariables re-reads the variables file on reload (optional).
	LoadVariables func() ([]signlink.Definition, error)
	// SaveVariables persists definitions after every admin change (optional).
	SaveVariables func([]signlink.Definition) error

	Logger *zap.Logger
}

type Server struct {
	world *world.World
	opts  Options
	log   *zap.Logger
}

func NewServer(w *world.World, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{world: w, opts: opts, log: logger}
}

func (s *Server) Register(mux *http.ServeMux) {
	handle := func(pattern string, h http.HandlerFunc) { mux.Handle(pattern, loopbackOnly(h)) }

	handle("GET /admin/v1/state", s.handleState)
	handle("POST /admin/v1/snapshot", s.handleSnapshot)
	handle("GET /admin/v1/snapshots", s.handleSnapshots)
	handle("POST /admin/v1/autoupdate", s.handleAutoUpdate)
	handle("POST /admin/v1/reload", s.handleReload)
	handle("GET /admin/v1/audit", s.handleAudit)

	handle("GET /admin/v1/variables", s.handleListVariables)
	handle("POST /admin/v1/variables", s.handleCreateVariable)
	handle("GET /admin/v1/variables/{name}", s.handleGetVariable)
	handle("PUT /admin/v1/variables/{name}", s.handleSetVariable)
	handle("DELETE /admin/v1/variables/{name}", s.handleRemoveVariable)
	handle("PUT /admin/v1/variables/{name}/ticker", s.handleSetTicker)
	handle("DELETE /admin/v1/variables/{name}/viewers/{viewer}", s.handleClearOverride)
	handle("GET /admin/v1/variables/{name}/history", s.handleHistory)
}

type stateResponse struct {
	WorldID string             `json:"world_id"`
	Tick    uint64             `json:"tick"`
	Metrics world.WorldMetrics `json:"metrics"`
}

func (s *Server) handleState(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, stateResponse{
		WorldID: s.world.ID(),
		Tick:    s.world.CurrentTick(),
		Metrics: s.world.Metrics(),
	})
}

func (s *Server) handleSnapshot(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	tick, err := s.world.RequestSnapshot(ctx)
	if err != nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "tick": tick, "error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "tick": tick})
}

func (s *Server) handleSnapshots(rw http.ResponseWriter, r *http.Request) {
	if s.opts.Index == nil {
		writeError(rw, http.StatusNotImplemented, errors.New("index disabled"))
		return
	}
	out, err := s.opts.Index.Snapshots(r.Context(), queryInt(r, "limit"))
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err)
		return
	}
	writeJSON(rw, http.StatusOK, out)
}

type autoUpdateRequest struct {
	On *bool `json:"on"`
}

func (s *Server) handleAutoUpdate(rw http.ResponseWriter, r *http.Request) {
	var body autoUpdateRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(rw, http.StatusBadRequest, err)
			return
		}
	}
	var on bool
	err := s.do(r, func(e *signlink.Engine) error {
		if body.On == nil {
			on = e.ToggleAutoUpdate()
			return nil
		}
		e.SetAutoUpdate(*body.On)
		on = e.AutoUpdate()
		return nil
	})
	if err != nil {
		writeError(rw, http.StatusServiceUnavailable, err)
		return
	}
	s.log.Info("auto update switched", zap.Bool("on", on))
	writeJSON(rw, http.StatusOK, map[string]bool{"auto_update": on})
}

func (s *Server) handleReload(rw http.ResponseWriter, r *http.Request) {
	var defs []signlink.Definition
	if s.opts.LoadVariables != nil {
		var err error
		if defs, err = s.opts.LoadVariables(); err != nil {
			writeError(rw, http.StatusBadRequest, err)
			return
		}
	}
	var stats signlink.Stats
	err := s.do(r, func(e *signlink.Engine) error {
		if defs != nil {
			if err := e.ApplyDefinitions(defs); err != nil {
				return err
			}
		}
		if err := e.Reload(); err != nil {
			return err
		}
		stats = e.Stats()
		return nil
	})
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err)
		return
	}
	writeJSON(rw, http.StatusOK, stats)
}

func (s *Server) handleAudit(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := indexdb.AuditFilter{
		Actor:     q.Get("actor"),
		Action:    q.Get("action"),
		Variable:  q.Get("variable"),
		SinceTick: uint64(queryInt(r, "since")),
		Limit:     queryInt(r, "limit"),
	}
	if s.opts.Index != nil {
		out, err := s.opts.Index.QueryAudit(r.Context(), f)
		if err != nil {
			writeError(rw, http.StatusInternalServerError, err)
			return
		}
		writeJSON(rw, http.StatusOK, out)
		return
	}
	if s.opts.AuditDir == "" {
		writeError(rw, http.StatusNotImplemented, errors.New("audit log disabled"))
		return
	}
	all, err := persistlog.ReadAudit(s.opts.AuditDir)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err)
		return
	}
	matched := persistlog.FilterAudit(all, f.Actor, f.Action, f.Variable)
	out := make([]signlink.AuditEntry, 0, len(matched))
	for i := len(matched) - 1; i >= 0; i-- {
		if matched[i].Tick < f.SinceTick {
			continue
		}
		out = append(out, matched[i])
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	writeJSON(rw, http.StatusOK, out)
}

func (s *Server) handleListVariables(rw http.ResponseWriter, r *http.Request) {
	var out []signlink.VariableInfo
	if err := s.do(r, func(e *signlink.Engine) error {
		out = e.Variables()
		return nil
	}); err != nil {
		writeError(rw, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(rw, http.StatusOK, out)
}

type createRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateVariable(rw http.ResponseWriter, r *http.Request) {
	var body createRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	var (
		info    signlink.VariableInfo
		created bool
	)
	err := s.mutate(r, func(e *signlink.Engine) error {
		var err error
		info, created, err = e.CreateVariable(body.Name)
		return err
	})
	if err != nil {
		writeError(rw, statusFor(err), err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(rw, status, info)
}

func (s *Server) handleGetVariable(rw http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var (
		info signlink.VariableInfo
		ok   bool
	)
	if err := s.do(r, func(e *signlink.Engine) error {
		info, ok = e.Variable(name)
		return nil
	}); err != nil {
		writeError(rw, http.StatusServiceUnavailable, err)
		return
	}
	if !ok {
		writeError(rw, http.StatusNotFound, signlink.ErrUnknownVariable)
		return
	}
	writeJSON(rw, http.StatusOK, info)
}

type setRequest struct {
	Value  string `json:"value"`
	Viewer string `json:"viewer,omitempty"`
}

func (s *Server) handleSetVariable(rw http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var body setRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	var info signlink.VariableInfo
	err := s.mutate(r, func(e *signlink.Engine) error {
		var err error
		if body.Viewer != "" {
			err = e.SetVariableFor(name, body.Viewer, body.Value)
		} else {
			err = e.SetVariable(name, body.Value)
		}
		if err != nil {
			return err
		}
		info, _ = e.Variable(name)
		return nil
	})
	if err != nil {
		writeError(rw, statusFor(err), err)
		return
	}
	writeJSON(rw, http.StatusOK, info)
}

func (s *Server) handleRemoveVariable(rw http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var removed bool
	if err := s.mutate(r, func(e *signlink.Engine) error {
		removed = e.RemoveVariable(name)
		return nil
	}); err != nil {
		writeError(rw, statusFor(err), err)
		return
	}
	if !removed {
		writeError(rw, http.StatusNotFound, signlink.ErrUnknownVariable)
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetTicker(rw http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var body signlink.TickerInfo
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(rw, http.StatusBadRequest, err)
		return
	}
	var info signlink.VariableInfo
	err := s.mutate(r, func(e *signlink.Engine) error {
		if err := e.SetTicker(name, body); err != nil {
			return err
		}
		info, _ = e.Variable(name)
		return nil
	})
	if err != nil {
		writeError(rw, statusFor(err), err)
		return
	}
	writeJSON(rw, http.StatusOK, info)
}

func (s *Server) handleClearOverride(rw http.ResponseWriter, r *http.Request) {
	name, viewer := r.PathValue("name"), r.PathValue("viewer")
	var cleared bool
	err := s.mutate(r, func(e *signlink.Engine) error {
		var err error
		cleared, err = e.ClearVariableFor(name, viewer)
		return err
	})
	if err != nil {
		writeError(rw, statusFor(err), err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]bool{"cleared": cleared})
}

func (s *Server) handleHistory(rw http.ResponseWriter, r *http.Request) {
	if s.opts.Index == nil {
		writeError(rw, http.StatusNotImplemented, errors.New("index disabled"))
		return
	}
	out, err := s.opts.Index.VariableHistory(r.Context(), r.PathValue("name"), queryInt(r, "limit"))
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err)
		return
	}
	writeJSON(rw, http.StatusOK, out)
}

func (s *Server) do(r *http.Request, fn func(*signlink.Engine) error) error {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	return s.world.Do(ctx, fn)
}

// mutate runs fn and, when it succeeds, persists the resulting definitions.
func (s *Server) mutate(r *http.Request, fn func(*signlink.Engine) error) error {
	var defs []signlink.Definition
	err := s.do(r, func(e *signlink.Engine) error {
		if err := fn(e); err != nil {
			return err
		}
		if s.opts.SaveVariables != nil {
			defs = e.Definitions()
		}
		return nil
	})
	if err != nil || s.opts.SaveVariables == nil {
		return err
	}
	if err := s.opts.SaveVariables(defs); err != nil {
		s.log.Warn("save variables", zap.Error(err))
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, signlink.ErrUnknownVariable):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, err error) {
	writeJSON(rw, status, map[string]string{"error": err.Error()})
}

func loopbackOnly(h http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if !IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h.ServeHTTP(rw, r)
	})
}

func IsLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
