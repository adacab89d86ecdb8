package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	persistlog "signlink.ai/internal/persistence/log"
	"signlink.ai/internal/persistence/snapshot"
	"signlink.ai/internal/signlink"
)

type seenRequest struct {
	Method string
	Path   string
	Query  string
	Body   string
}

type fakeServer struct {
	mu   sync.Mutex
	seen []seenRequest
	url  string
}

func (f *fakeServer) last() seenRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[len(f.seen)-1]
}

func newFakeServer(t *testing.T, routes map[string]func(rw http.ResponseWriter)) *fakeServer {
	t.Helper()
	f := &fakeServer{}
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.seen = append(f.seen, seenRequest{Method: r.Method, Path: r.URL.EscapedPath(), Query: r.URL.RawQuery, Body: string(b)})
		f.mu.Unlock()
		h, ok := routes[r.Method+" "+r.URL.EscapedPath()]
		if !ok {
			rw.WriteHeader(http.StatusNotFound)
			_, _ = rw.Write([]byte(`{"error":"signlink: unknown variable"}`))
			return
		}
		h(rw)
	}))
	t.Cleanup(srv.Close)
	f.url = srv.URL
	return f
}

func reply(v any) func(http.ResponseWriter) {
	return func(rw http.ResponseWriter) {
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(v)
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, path := range [][]string{
		{"state"}, {"autoupdate"}, {"reload"}, {"snapshot"}, {"snapshot", "list"}, {"snapshot", "inspect"},
		{"audit"}, {"var", "list"}, {"var", "get"}, {"var", "create"}, {"var", "set"}, {"var", "clear"},
		{"var", "ticker"}, {"var", "remove"}, {"var", "history"},
	} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err, "%v", path)
		assert.Equal(t, path[len(path)-1], sub.Name())
	}
}

func TestInvalidFormat(t *testing.T) {
	_, err := run(t, "--format", "xml", "state")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestVarSetForViewer(t *testing.T) {
	f := newFakeServer(t, map[string]func(http.ResponseWriter){
		"PUT /admin/v1/variables/score": reply(signlink.VariableInfo{Name: "score", Value: "1"}),
	})
	out, err := run(t, "--url", f.url, "var", "set", "score", "99", "--viewer", "Bob")
	require.NoError(t, err)
	assert.Contains(t, out, `"1"`)

	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(f.last().Body), &body))
	assert.Equal(t, map[string]string{"value": "99", "viewer": "Bob"}, body)
}

func TestVarTickerAndClearPaths(t *testing.T) {
	f := newFakeServer(t, map[string]func(http.ResponseWriter){
		"PUT /admin/v1/variables/motd/ticker":          reply(signlink.VariableInfo{Name: "motd", Ticker: signlink.TickerInfo{Mode: "left"}}),
		"DELETE /admin/v1/variables/motd/viewers/alice": reply(map[string]bool{"cleared": true}),
	})
	_, err := run(t, "--url", f.url, "var", "ticker", "motd", "left", "--interval", "3")
	require.NoError(t, err)
	var ticker signlink.TickerInfo
	require.NoError(t, json.Unmarshal([]byte(f.last().Body), &ticker))
	assert.Equal(t, signlink.TickerInfo{Mode: "left", Interval: 3}, ticker)

	out, err := run(t, "--url", f.url, "var", "clear", "motd", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "cleared motd for alice")
}

func TestServerRefusalExitsWithFailure(t *testing.T) {
	f := newFakeServer(t, nil)
	_, err := run(t, "--url", f.url, "var", "get", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "unknown variable")
}

func TestUnreachableServer(t *testing.T) {
	_, err := run(t, "--url", "http://127.0.0.1:1", "state")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestAutoUpdate(t *testing.T) {
	f := newFakeServer(t, map[string]func(http.ResponseWriter){
		"POST /admin/v1/autoupdate": reply(map[string]bool{"auto_update": false}),
	})
	out, err := run(t, "--url", f.url, "autoupdate", "off")
	require.NoError(t, err)
	assert.Equal(t, "auto update off\n", out)
	assert.JSONEq(t, `{"on":false}`, f.last().Body)

	_, err = run(t, "--url", f.url, "autoupdate")
	require.NoError(t, err)
	assert.Empty(t, f.last().Body, "toggle sends no body")

	_, err = run(t, "--url", f.url, "autoupdate", "maybe")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestAuditQuery(t *testing.T) {
	f := newFakeServer(t, map[string]func(http.ResponseWriter){
		"GET /admin/v1/audit": reply([]signlink.AuditEntry{{Tick: 9, Actor: "alice", Action: signlink.ActionConflict, Variable: "rank", Reason: "score"}}),
	})
	out, err := run(t, "--url", f.url, "audit", "--action", "CONFLICT", "--since", "5", "--limit", "10")
	require.NoError(t, err)
	assert.Contains(t, out, "CONFLICT")
	assert.Contains(t, out, "rank")
	assert.Equal(t, "action=CONFLICT&limit=10&since=5", f.last().Query)
}

func TestAuditFromDir(t *testing.T) {
	dir := t.TempDir()
	l := persistlog.NewAuditLogger(dir)
	for i, e := range []signlink.AuditEntry{
		{Tick: 1, Actor: "alice", Action: signlink.ActionBind, Variable: "score"},
		{Tick: 2, Actor: "bob", Action: signlink.ActionBind, Variable: "rank"},
		{Tick: 3, Actor: "alice", Action: signlink.ActionUnbind, Variable: "score"},
	} {
		require.NoError(t, l.WriteAudit(e), "entry %d", i)
	}
	require.NoError(t, l.Close())

	out, err := run(t, "--format", "json", "audit", "--dir", persistlog.AuditDir(dir), "--actor", "ALICE")
	require.NoError(t, err)
	var got []signlink.AuditEntry
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 2)
	assert.Equal(t, uint64(3), got[0].Tick)
	assert.Equal(t, uint64(1), got[1].Tick)
}

func TestSnapshotInspect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "40.snap.zst")
	require.NoError(t, snapshot.WriteSnapshot(path, snapshot.SnapshotV1{
		Header:    snapshot.Header{Version: snapshot.Version, WorldID: "w1", Tick: 40},
		Signs:     []snapshot.SignV1{{Pos: [3]int{1, 64, 1}}},
		Variables: []snapshot.VariableV1{{Name: "score", Value: "42"}},
	}))
	out, err := run(t, "snapshot", "inspect", path)
	require.NoError(t, err)
	assert.Contains(t, out, "w1")
	assert.Contains(t, out, `"42"`)

	_, err = run(t, "snapshot", "inspect", filepath.Join(t.TempDir(), "missing.snap.zst"))
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
