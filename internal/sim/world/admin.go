package world

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"signlink.ai/internal/persistence/snapshot"
	"signlink.ai/internal/signlink"
)

var ErrNoSnapshotSink = errors.New("snapshot sink not configured")

type adminReq struct {
	fn   func() error
	resp chan error
}

func (w *World) handleAdmin(req adminReq) {
	req.resp <- w.safeCall(req.fn)
}

func (w *World) safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("admin request panicked", zap.Any("panic", r))
			err = fmt.Errorf("admin request panicked: %v", r)
		}
	}()
	return fn()
}

// call runs fn on the world loop and waits for it.
func (w *World) call(ctx context.Context, fn func() error) error {
	resp := make(chan error, 1)
	select {
	case w.admin <- adminReq{fn: fn, resp: resp}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn with exclusive access to the engine, between ticks.
func (w *World) Do(ctx context.Context, fn func(*signlink.Engine) error) error {
	return w.call(ctx, func() error { return fn(w.engine) })
}

// RequestSnapshot hands a snapshot of the current tick to the snapshot sink
// and returns that tick.
func (w *World) RequestSnapshot(ctx context.Context) (uint64, error) {
	if w.snapshotSink == nil {
		return 0, ErrNoSnapshotSink
	}
	var tick uint64
	err := w.call(ctx, func() error {
		tick = w.tick.Load()
		snap := w.ExportSnapshot(tick)
		select {
		case w.snapshotSink <- snap:
			return nil
		default:
			return errors.New("snapshot sink busy")
		}
	})
	return tick, err
}

// Snapshot returns a snapshot of the current tick without persisting it.
func (w *World) Snapshot(ctx context.Context) (snapshot.SnapshotV1, error) {
	var snap snapshot.SnapshotV1
	err := w.call(ctx, func() error {
		snap = w.ExportSnapshot(w.tick.Load())
		return nil
	})
	return snap, err
}
