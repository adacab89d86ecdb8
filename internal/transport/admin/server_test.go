package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	persistlog "signlink.ai/internal/persistence/log"
	"signlink.ai/internal/signlink"
	"signlink.ai/internal/sim/world"
)

type fixture struct {
	url string

	mu    sync.Mutex
	saved [][]signlink.Definition
}

func (f *fixture) saves() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	w, err := world.New(world.WorldConfig{ID: "world", TickRateHz: 50, ChunkSize: 16, Engine: signlink.DefaultConfig()}, zaptest.NewLogger(t))
	require.NoError(t, err)

	dir := t.TempDir()
	auditLog := persistlog.NewAuditLogger(dir)
	w.SetAuditLogger(auditLog)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	f := &fixture{}
	mux := http.NewServeMux()
	NewServer(w, Options{
		AuditDir: persistlog.AuditDir(dir),
		LoadVariables: func() ([]signlink.Definition, error) {
			return []signlink.Definition{{Name: "motd", Value: "welcome"}}, nil
		},
		SaveVariables: func(defs []signlink.Definition) error {
			f.mu.Lock()
			f.saved = append(f.saved, defs)
			f.mu.Unlock()
			return nil
		},
		Logger: zaptest.NewLogger(t),
	}).Register(mux)
	srv := httptest.NewServer(mux)
	f.url = srv.URL

	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
		_ = auditLog.Close()
	})
	return f
}

func (f *fixture) call(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.url+path, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestAdmin_VariableLifecycle(t *testing.T) {
	f := newFixture(t)

	var info signlink.VariableInfo
	assert.Equal(t, http.StatusCreated, f.call(t, "POST", "/admin/v1/variables", map[string]string{"name": "score"}, &info))
	assert.Equal(t, "%score%", info.Value)
	assert.Equal(t, http.StatusOK, f.call(t, "POST", "/admin/v1/variables", map[string]string{"name": "score"}, nil))

	assert.Equal(t, http.StatusOK, f.call(t, "PUT", "/admin/v1/variables/score", map[string]string{"value": "10"}, &info))
	assert.Equal(t, "10", info.Value)

	assert.Equal(t, http.StatusOK, f.call(t, "PUT", "/admin/v1/variables/score", map[string]string{"value": "99", "viewer": "Bob"}, &info))
	require.Len(t, info.Overrides, 1)
	assert.Equal(t, "99", info.Overrides[0].Value)

	var cleared map[string]bool
	assert.Equal(t, http.StatusOK, f.call(t, "DELETE", "/admin/v1/variables/score/viewers/bob", nil, &cleared))
	assert.True(t, cleared["cleared"])

	assert.Equal(t, http.StatusOK, f.call(t, "PUT", "/admin/v1/variables/score/ticker", signlink.TickerInfo{Mode: "left", Interval: 2}, &info))
	assert.Equal(t, "left", info.Ticker.Mode)
	assert.Equal(t, http.StatusBadRequest, f.call(t, "PUT", "/admin/v1/variables/score/ticker", signlink.TickerInfo{Mode: "spin"}, nil))
	assert.Equal(t, http.StatusNotFound, f.call(t, "PUT", "/admin/v1/variables/nope/ticker", signlink.TickerInfo{Mode: "left"}, nil))

	var list []signlink.VariableInfo
	assert.Equal(t, http.StatusOK, f.call(t, "GET", "/admin/v1/variables", nil, &list))
	require.Len(t, list, 1)

	assert.Equal(t, http.StatusNoContent, f.call(t, "DELETE", "/admin/v1/variables/score", nil, nil))
	assert.Equal(t, http.StatusNotFound, f.call(t, "GET", "/admin/v1/variables/score", nil, nil))
	assert.Equal(t, http.StatusNotFound, f.call(t, "DELETE", "/admin/v1/variables/score", nil, nil))

	assert.GreaterOrEqual(t, f.saves(), 5)
}

func TestAdmin_AutoUpdateAndReload(t *testing.T) {
	f := newFixture(t)

	var state map[string]bool
	assert.Equal(t, http.StatusOK, f.call(t, "POST", "/admin/v1/autoupdate", nil, &state))
	assert.False(t, state["auto_update"])
	assert.Equal(t, http.StatusOK, f.call(t, "POST", "/admin/v1/autoupdate", map[string]bool{"on": true}, &state))
	assert.True(t, state["auto_update"])

	var stats signlink.Stats
	assert.Equal(t, http.StatusOK, f.call(t, "POST", "/admin/v1/reload", nil, &stats))
	assert.Equal(t, 1, stats.Variables)

	var info signlink.VariableInfo
	assert.Equal(t, http.StatusOK, f.call(t, "GET", "/admin/v1/variables/motd", nil, &info))
	assert.Equal(t, "welcome", info.Value)

	var entries []signlink.AuditEntry
	assert.Equal(t, http.StatusOK, f.call(t, "GET", "/admin/v1/audit?action=toggle", nil, &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "on", entries[0].Reason, "newest first")

	assert.Equal(t, http.StatusOK, f.call(t, "GET", "/admin/v1/audit?action=RELOAD&limit=1", nil, &entries))
	assert.Len(t, entries, 1)
}

func TestAdmin_StateAndSnapshot(t *testing.T) {
	f := newFixture(t)

	var state stateResponse
	assert.Equal(t, http.StatusOK, f.call(t, "GET", "/admin/v1/state", nil, &state))
	assert.Equal(t, "world", state.WorldID)

	assert.Equal(t, http.StatusServiceUnavailable, f.call(t, "POST", "/admin/v1/snapshot", nil, nil), "no sink configured")
	assert.Equal(t, http.StatusNotImplemented, f.call(t, "GET", "/admin/v1/snapshots", nil, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, f.call(t, "GET", "/admin/v1/reload", nil, nil))
}

func TestAdmin_RejectsRemoteCallers(t *testing.T) {
	h := loopbackOnly(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) { rw.WriteHeader(http.StatusOK) }))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/admin/v1/state", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	for _, addr := range []string{"127.0.0.1:80", "[::1]:80", "::1"} {
		assert.True(t, IsLoopbackRemote(addr), addr)
	}
	assert.False(t, IsLoopbackRemote("example.com:80"))
}
