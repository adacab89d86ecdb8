package log

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signlink.ai/internal/signlink"
)

func TestAuditLogger_WriteRead(t *testing.T) {
	dir := t.TempDir()
	l := NewAuditLogger(dir)

	require.NoError(t, l.WriteAudit(signlink.AuditEntry{Tick: 1, Actor: "alice", Action: signlink.ActionBind, Variable: "score", Pos: [3]int{1, 2, 3}}))
	require.NoError(t, l.WriteAudit(signlink.AuditEntry{Tick: 2, Actor: "admin", Action: signlink.ActionToggle, Reason: "off"}))

	// The open file is readable before Close.
	got, err := ReadAudit(AuditDir(dir))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, [3]int{1, 2, 3}, got[0].Pos)

	require.NoError(t, l.Close())
	got, err = ReadAudit(AuditDir(dir))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "off", got[1].Reason)

	binds := FilterAudit(got, "ALICE", "bind", "")
	require.Len(t, binds, 1)
	assert.Equal(t, "score", binds[0].Variable)
	assert.Empty(t, FilterAudit(got, "", "", "rank"))
}

func TestReadAudit_EmptyDir(t *testing.T) {
	got, err := ReadAudit(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAuditLogger_OnCloseReportsSegment(t *testing.T) {
	dir := t.TempDir()
	var closed []string
	l := NewAuditLoggerWithOptions(dir, LoggerOptions{OnClose: func(path string) { closed = append(closed, path) }})

	require.NoError(t, l.WriteAudit(signlink.AuditEntry{Tick: 1, Actor: "admin", Action: signlink.ActionReload}))
	assert.Empty(t, closed)
	require.NoError(t, l.Close())

	require.Len(t, closed, 1)
	assert.Equal(t, AuditDir(dir), filepath.Dir(closed[0]))
	assert.True(t, strings.HasPrefix(filepath.Base(closed[0]), "audit-"))
	assert.True(t, strings.HasSuffix(closed[0], ".jsonl.zst"))

	// Closing again has no open segment to report.
	require.NoError(t, l.Close())
	assert.Len(t, closed, 1)
}
