package objstore

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Uploader is the part of Client the mirror needs.
type Uploader interface {
	PutFile(ctx context.Context, key, localPath string) error
}

type MirrorOptions struct {
	// Root is the local directory keys are computed relative to.
	Root   string
	Prefix string

	Workers       int
	QueueCapacity int

	// EnqueueWait bounds how long Enqueue blocks on a full queue before it
	// drops the file.
	EnqueueWait time.Duration
	Attempts    int
	Backoff     time.Duration
}

type MirrorStats struct {
	QueueDepth     int
	QueueCapacity  int
	Enqueued       uint64
	Saturated      uint64
	Dropped        uint64
	Uploaded       uint64
	Failed         uint64
	LastUploadUnix int64
	LastErrorUnix  int64
}

// Mirror copies closed files to the bucket from a small worker pool.
type Mirror struct {
	up     Uploader
	opts   MirrorOptions
	logger *zap.Logger

	jobs chan string
	wg   sync.WaitGroup
	once sync.Once

	enqueued  atomic.Uint64
	saturated atomic.Uint64
	dropped   atomic.Uint64
	uploaded  atomic.Uint64
	failed    atomic.Uint64
	lastOK    atomic.Int64
	lastErr   atomic.Int64
}

func NewMirror(up Uploader, opts MirrorOptions, logger *zap.Logger) *Mirror {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 256
	}
	if opts.EnqueueWait <= 0 {
		opts.EnqueueWait = 25 * time.Millisecond
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 4
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	opts.Prefix = strings.Trim(strings.ReplaceAll(opts.Prefix, "\\", "/"), "/")
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Mirror{
		up:     up,
		opts:   opts,
		logger: logger,
		jobs:   make(chan string, opts.QueueCapacity),
	}
	for i := 0; i < opts.Workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for p := range m.jobs {
				m.upload(p)
			}
		}()
	}
	return m
}

// Enqueue schedules localPath for upload. It never blocks longer than
// EnqueueWait. A nil Mirror ignores the call.
func (m *Mirror) Enqueue(localPath string) {
	if m == nil {
		return
	}
	m.enqueued.Add(1)
	select {
	case m.jobs <- localPath:
		return
	default:
	}

	m.saturated.Add(1)
	timer := time.NewTimer(m.opts.EnqueueWait)
	defer timer.Stop()
	select {
	case m.jobs <- localPath:
	case <-timer.C:
		m.dropped.Add(1)
		m.logger.Warn("mirror queue full; dropping file", zap.String("path", localPath))
	}
}

// Close drains the queue and waits for in-flight uploads.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.once.Do(func() { close(m.jobs) })
	m.wg.Wait()
}

func (m *Mirror) Stats() MirrorStats {
	if m == nil {
		return MirrorStats{}
	}
	return MirrorStats{
		QueueDepth:     len(m.jobs),
		QueueCapacity:  cap(m.jobs),
		Enqueued:       m.enqueued.Load(),
		Saturated:      m.saturated.Load(),
		Dropped:        m.dropped.Load(),
		Uploaded:       m.uploaded.Load(),
		Failed:         m.failed.Load(),
		LastUploadUnix: m.lastOK.Load(),
		LastErrorUnix:  m.lastErr.Load(),
	}
}

func (m *Mirror) upload(localPath string) {
	key, err := m.KeyFor(localPath)
	if err != nil {
		m.failed.Add(1)
		m.lastErr.Store(time.Now().Unix())
		m.logger.Warn("mirror skip", zap.String("path", localPath), zap.Error(err))
		return
	}
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err = m.up.PutFile(ctx, key, localPath)
		cancel()
		if err == nil {
			break
		}
		if attempt >= m.opts.Attempts {
			m.failed.Add(1)
			m.lastErr.Store(time.Now().Unix())
			m.logger.Error("mirror upload failed", zap.String("key", key), zap.Int("attempts", attempt), zap.Error(err))
			return
		}
		time.Sleep(time.Duration(attempt*attempt) * m.opts.Backoff)
	}
	m.uploaded.Add(1)
	m.lastOK.Store(time.Now().Unix())
	m.logger.Debug("mirrored", zap.String("key", key))
}

// KeyFor maps a file under Root to its object key.
func (m *Mirror) KeyFor(localPath string) (string, error) {
	if localPath == "" {
		return "", fmt.Errorf("empty path")
	}
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}
	root, err := filepath.Abs(m.opts.Root)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside %s", abs, root)
	}
	if m.opts.Prefix != "" {
		rel = path.Join(m.opts.Prefix, rel)
	}
	return rel, nil
}
