package registry

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch follows CURRENT for promotions made by other processes (for example
// the promote command) until ctx is cancelled.
func (r *Registry) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(r.dir); err != nil {
		_ = w.Close()
		return err
	}
	r.logger.Debug("watching current pointer", zap.String("dir", r.dir))

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != currentFile || !(ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write)) {
					continue
				}
				if err := r.reloadCurrent(ctx); err != nil {
					r.logger.Warn("failed to reload current pointer", zap.Error(err))
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				r.logger.Debug("pointer watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
