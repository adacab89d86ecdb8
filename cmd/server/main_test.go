package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"signlink.ai/internal/persistence/objstore"
	"signlink.ai/internal/signlink"
	"signlink.ai/internal/sim/world"
)

func TestWriteMetrics(t *testing.T) {
	var buf bytes.Buffer
	writeMetrics(&buf, "w1", world.WorldMetrics{
		Tick:    42,
		Viewers: 3,
		StepMS:  1.25,
		Engine:  signlink.Stats{AutoUpdate: true, Variables: 2, CacheHits: 7},
	}, nil, objstore.MirrorStats{})
	out := buf.String()
	assert.Contains(t, out, `signlink_world_tick{world="w1"} 42`)
	assert.Contains(t, out, `signlink_world_viewers{world="w1"} 3`)
	assert.Contains(t, out, `signlink_world_step_ms{world="w1"} 1.250`)
	assert.Contains(t, out, `signlink_engine_auto_update{world="w1"} 1`)
	assert.Contains(t, out, `signlink_engine_size{world="w1",table="variables"} 2`)
	assert.Contains(t, out, `signlink_engine_viewer_cache_total{world="w1",result="hit"} 7`)
	assert.Contains(t, out, "# TYPE signlink_engine_text_passes_total counter")
	assert.NotContains(t, out, "signlink_index_", "index metrics need an index")
	assert.NotContains(t, out, "signlink_mirror_", "mirror metrics need a mirror")
}

func TestWriteMetrics_Mirror(t *testing.T) {
	var buf bytes.Buffer
	writeMetrics(&buf, "w1", world.WorldMetrics{}, nil, objstore.MirrorStats{QueueCapacity: 256, Uploaded: 4, Dropped: 1})
	out := buf.String()
	assert.Contains(t, out, "signlink_mirror_queue_capacity 256")
	assert.Contains(t, out, `signlink_mirror_files_total{result="uploaded"} 4`)
	assert.Contains(t, out, `signlink_mirror_files_total{result="dropped"} 1`)
}

func TestOpenMirror(t *testing.T) {
	t.Setenv("SL_MIRROR", "")
	m, err := openMirror(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Nil(t, m)

	t.Setenv("SL_MIRROR", "true")
	t.Setenv("SL_MIRROR_ENDPOINT", "r2.example")
	t.Setenv("SL_MIRROR_BUCKET", "")
	_, err = openMirror(t.TempDir(), zaptest.NewLogger(t))
	assert.ErrorIs(t, err, objstore.ErrIncompleteCredentials)

	t.Setenv("SL_MIRROR_BUCKET", "b")
	t.Setenv("SL_MIRROR_ACCESS_KEY_ID", "k")
	t.Setenv("SL_MIRROR_SECRET_ACCESS_KEY", "s")
	t.Setenv("SL_MIRROR_WORKERS", "bogus")
	m, err = openMirror(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, m)
	m.Close()
	assert.Equal(t, 256, m.Stats().QueueCapacity)
}

func TestEnvBool(t *testing.T) {
	t.Setenv("SL_TEST_FLAG", "")
	assert.True(t, envBool("SL_TEST_FLAG", true))
	t.Setenv("SL_TEST_FLAG", "false")
	assert.False(t, envBool("SL_TEST_FLAG", true))
	t.Setenv("SL_TEST_FLAG", "nope")
	assert.True(t, envBool("SL_TEST_FLAG", true))
}

func TestDefaultEnableAdminHTTP(t *testing.T) {
	t.Setenv("DEPLOY_ENV", "")
	assert.True(t, defaultEnableAdminHTTP())
	t.Setenv("DEPLOY_ENV", " Production ")
	assert.False(t, defaultEnableAdminHTTP())
	t.Setenv("DEPLOY_ENV", "staging")
	assert.False(t, defaultEnableAdminHTTP())
}

type recordingAudit struct{ n int }

func (r *recordingAudit) WriteAudit(signlink.AuditEntry) error { r.n++; return nil }

func TestMultiAuditLogger(t *testing.T) {
	a, b := &recordingAudit{}, &recordingAudit{}
	m := multiAuditLogger{a: a, b: b}
	assert.NoError(t, m.WriteAudit(signlink.AuditEntry{Action: signlink.ActionBind}))
	assert.Equal(t, 1, a.n)
	assert.Equal(t, 1, b.n)

	assert.NoError(t, multiAuditLogger{a: a}.WriteAudit(signlink.AuditEntry{}))
	assert.Equal(t, 2, a.n)
}
