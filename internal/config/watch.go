package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/teng-lin/beamcode/internal/logging"
)

// Watch applies log-level changes from the config file without a restart.
// Returns a stop function; a watcher that cannot start degrades to a no-op.
func Watch(dir string) func() {
	path := Path(dir)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Warn().Err(err).Msg("config watcher unavailable")
		return func() {}
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		logging.Warn().Err(err).Str("path", path).Msg("config watch failed")
		watcher.Close()
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != path || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				cfg, err := Load(dir)
				if err != nil {
					logging.Warn().Err(err).Msg("config reload failed")
					continue
				}
				logging.SetLevel(logging.ParseLevel(cfg.LogLevel))
				logging.Info().Str("logLevel", cfg.LogLevel).Msg("config reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Warn().Err(err).Msg("config watcher error")
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}
}
