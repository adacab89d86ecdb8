package objstore

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func writeFile(t *testing.T, path, body string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	_, err := NewClient(Credentials{Endpoint: "r2.example", Bucket: "b", AccessKeyID: "k"})
	assert.ErrorIs(t, err, ErrIncompleteCredentials)

	c, err := NewClient(Credentials{Endpoint: "r2.example/", Bucket: "b", AccessKeyID: "k", SecretAccessKey: "s"})
	require.NoError(t, err)
	assert.Equal(t, "https://r2.example", c.endpoint)
	assert.Equal(t, "auto", c.creds.Region)
}

func TestClient_PutFileSigned(t *testing.T) {
	var (
		gotPath, gotAuth, gotDate, gotBody string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		gotPath = r.URL.EscapedPath()
		gotAuth = r.Header.Get("Authorization")
		gotDate = r.Header.Get("x-amz-date")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		rw.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewClient(Credentials{Endpoint: srv.URL, Bucket: "snaps", AccessKeyID: "AKID", SecretAccessKey: "secret"})
	require.NoError(t, err)
	c.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	src := writeFile(t, filepath.Join(t.TempDir(), "a b.snap.zst"), "payload")
	require.NoError(t, c.PutFile(context.Background(), "/worlds/w1/a b.snap.zst", src))

	assert.Equal(t, "/snaps/worlds/w1/a%20b.snap.zst", gotPath)
	assert.Equal(t, "payload", gotBody)
	assert.Equal(t, "20260301T120000Z", gotDate)
	assert.True(t, strings.HasPrefix(gotAuth, "AWS4-HMAC-SHA256 Credential=AKID/20260301/auto/s3/aws4_request, SignedHeaders=host;x-amz-content-sha256;x-amz-date, Signature="), gotAuth)
}

func TestClient_PutFileError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		http.Error(rw, "AccessDenied", http.StatusForbidden)
	}))
	defer srv.Close()

	c, err := NewClient(Credentials{Endpoint: srv.URL, Bucket: "b", AccessKeyID: "k", SecretAccessKey: "s"})
	require.NoError(t, err)
	src := writeFile(t, filepath.Join(t.TempDir(), "x"), "1")

	err = c.PutFile(context.Background(), "x", src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
	assert.Contains(t, err.Error(), "AccessDenied")

	assert.Error(t, c.PutFile(context.Background(), " / ", src))
}

func TestCleanKey(t *testing.T) {
	assert.Equal(t, "a/b", cleanKey(`\a\b`))
	assert.Equal(t, "b", cleanKey("/a/../b"))
	assert.Equal(t, "", cleanKey(" "))
	assert.Equal(t, "", cleanKey("/"))
}

type fakeUploader struct {
	mu    sync.Mutex
	fails int
	keys  []string
	calls int
}

func (f *fakeUploader) PutFile(_ context.Context, key, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fails > 0 {
		f.fails--
		return errors.New("transient")
	}
	f.keys = append(f.keys, key)
	return nil
}

func TestMirror_UploadsWithPrefixAndRetries(t *testing.T) {
	defer goleak.VerifyNone(t)

	root := t.TempDir()
	snap := writeFile(t, filepath.Join(root, "worlds", "w1", "snapshots", "100.snap.zst"), "s")
	up := &fakeUploader{fails: 2}
	m := NewMirror(up, MirrorOptions{Root: root, Prefix: "/backups/", Backoff: time.Millisecond}, zaptest.NewLogger(t))

	m.Enqueue(snap)
	m.Enqueue(filepath.Join(root, "missing"))
	m.Enqueue(filepath.Join(t.TempDir(), "outside"))
	m.Close()
	m.Close()

	assert.Equal(t, []string{"backups/worlds/w1/snapshots/100.snap.zst"}, up.keys)
	assert.Equal(t, 3, up.calls)
	st := m.Stats()
	assert.Equal(t, uint64(3), st.Enqueued)
	assert.Equal(t, uint64(1), st.Uploaded)
	assert.Equal(t, uint64(2), st.Failed)
	assert.NotZero(t, st.LastUploadUnix)
}

func TestMirror_GivesUpAfterAttempts(t *testing.T) {
	defer goleak.VerifyNone(t)

	root := t.TempDir()
	p := writeFile(t, filepath.Join(root, "audit", "audit-2026-03-01-12.jsonl.zst"), "a")
	up := &fakeUploader{fails: 10}
	m := NewMirror(up, MirrorOptions{Root: root, Attempts: 2, Backoff: time.Millisecond}, nil)
	m.Enqueue(p)
	m.Close()

	assert.Equal(t, 2, up.calls)
	assert.Empty(t, up.keys)
	assert.Equal(t, uint64(1), m.Stats().Failed)
}

type blockingUploader struct{ release chan struct{} }

func (b blockingUploader) PutFile(ctx context.Context, _, _ string) error {
	<-b.release
	return nil
}

func TestMirror_DropsWhenSaturated(t *testing.T) {
	defer goleak.VerifyNone(t)

	root := t.TempDir()
	p := writeFile(t, filepath.Join(root, "f"), "x")
	up := blockingUploader{release: make(chan struct{})}
	m := NewMirror(up, MirrorOptions{Root: root, QueueCapacity: 1, EnqueueWait: time.Millisecond}, zaptest.NewLogger(t))

	// One upload in flight, one queued, the rest dropped.
	m.Enqueue(p)
	require.Eventually(t, func() bool { return m.Stats().QueueDepth == 0 }, time.Second, time.Millisecond)
	m.Enqueue(p)
	m.Enqueue(p)
	m.Enqueue(p)

	st := m.Stats()
	assert.Equal(t, 1, st.QueueCapacity)
	assert.Equal(t, uint64(2), st.Dropped)
	assert.Equal(t, uint64(2), st.Saturated)

	close(up.release)
	m.Close()
	assert.Equal(t, uint64(2), m.Stats().Uploaded)
}

func TestMirror_NilIsInert(t *testing.T) {
	var m *Mirror
	m.Enqueue("x")
	m.Close()
	assert.Equal(t, MirrorStats{}, m.Stats())
}
