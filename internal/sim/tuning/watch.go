package tuning

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"signlink.ai/internal/signlink"
)

const watchDebounce = 200 * time.Millisecond

// Watch calls apply with the parsed definitions every time the variables
// file changes, until ctx is done. The parent directory is watched so that
// editors that replace the file are seen too. Parse errors are logged and
// the previous definitions stay in effect.
func Watch(ctx context.Context, path string, logger *zap.Logger, apply func([]signlink.Definition)) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(watchDebounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("variables watch", zap.Error(err))
		case <-timer.C:
			defs, err := LoadVariables(abs)
			if err != nil {
				logger.Warn("variables reload skipped", zap.String("path", abs), zap.Error(err))
				continue
			}
			logger.Info("variables reloaded", zap.String("path", abs), zap.Int("count", len(defs)))
			apply(defs)
		}
	}
}
