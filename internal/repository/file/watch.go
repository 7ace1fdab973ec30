package file

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const DefaultSettle = 250 * time.Millisecond

// Watch calls onChange after path was written or replaced and no further
// event arrived for settle. The parent directory is watched so that atomic
// renames are seen. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, settle time.Duration, log *zap.Logger, onChange func()) error {
	if log == nil {
		log = zap.NewNop()
	}
	if settle <= 0 {
		settle = DefaultSettle
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	target := filepath.Clean(path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}
	log = log.With(zap.String("component", "file.watch"), zap.String("path", target))
	log.Debug("watching")

	timer := time.NewTimer(settle)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				timer.Reset(settle)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("watcher error", zap.Error(err))
		case <-timer.C:
			onChange()
		}
	}
}
