package registry

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/Azure/iot-hub-device-update-core/pkg/errors"
	"github.com/Azure/iot-hub-device-update-core/pkg/logging"
)

// Watch watches the top-level extensions directory (not its
// subdirectories) and clears every cached handler on any create, write or
// remove event there. Changes to registration records or staged modules
// inside the per-kind subdirectories do not trigger it. It blocks until ctx
// is cancelled.
func (r *Registry) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.New(errors.CodeInternal, "registry", "failed to create extensions watcher", err)
	}
	defer w.Close()

	extDir := filepath.Join(r.dataDir, "extensions")
	if err := w.Add(extDir); err != nil {
		return errors.New(errors.CodeInternal, "registry", "failed to watch extensions directory", err)
	}

	log := logging.Component("registry.watch")
	log.Info().Str("dir", extDir).Msg("watching extensions directory for registration changes")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) != 0 {
				log.Debug().Str("path", ev.Name).Str("op", ev.Op.String()).Msg("extension registration changed, invalidating cache")
				r.invalidateAll()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("extensions watcher error")
		}
	}
}

func (r *Registry) invalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = map[string]ContentHandler{}
}
