package config

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// WatchFile watches path for writes and re-loads it into c via ReplaceFrom
// on every change, so a running gateway picks up edits without a restart.
// Parse failures are logged and the in-memory config is left untouched —
// a bad edit should never take down an already-running process. The
// returned watcher must be closed by the caller when done.
func WatchFile(path string, c *Config) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				reloaded, err := Load(path)
				if err != nil {
					slog.Warn("config: hot-reload failed, keeping previous config", "path", path, "error", err)
					continue
				}
				c.ReplaceFrom(reloaded)
				slog.Info("config: reloaded from disk", "path", path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("config: watcher error", "error", err)
			}
		}
	}()

	return watcher, nil
}
