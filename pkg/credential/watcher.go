package credential

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/quotabar/quotabar/pkg/provider"
)

// Watcher invalidates cache entries when a provider's credential file
// changes on disk (the provider's own CLI re-authenticating, the user
// logging out). It watches parent directories to catch atomic
// write-then-rename updates.
type Watcher struct {
	cache  *Cache
	files  map[string]provider.ID
	stopCh chan struct{}
	// OnChange, when set, runs after the cache entry is dropped. The
	// orchestrator uses it to nudge blocked gates into a re-check.
	OnChange func(id provider.ID)
}

// NewWatcher maps credential file paths to the providers they belong to.
func NewWatcher(cache *Cache, files map[provider.ID]string) *Watcher {
	byPath := make(map[string]provider.ID, len(files))
	for id, path := range files {
		if path != "" {
			byPath[filepath.Clean(path)] = id
		}
	}
	return &Watcher{cache: cache, files: byPath, stopCh: make(chan struct{})}
}

// Start begins watching. It returns an error only when the watcher
// cannot be created at all; missing directories are skipped with a log
// line, since a provider may not be installed yet.
func (w *Watcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dirs := make(map[string]bool)
	for path := range w.files {
		dirs[filepath.Dir(path)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			log.WithError(err).WithField("dir", dir).Debug("credential dir not watchable")
		}
	}

	go w.run(watcher)
	return nil
}

func (w *Watcher) run(watcher *fsnotify.Watcher) {
	defer watcher.Close()

	// Debounce per file: editors and CLIs often emit several events for
	// one logical update.
	timers := make(map[string]*time.Timer)
	const debounce = 200 * time.Millisecond

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			path := filepath.Clean(event.Name)
			id, ok := w.files[path]
			if !ok {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if t := timers[path]; t != nil {
				t.Stop()
			}
			timers[path] = time.AfterFunc(debounce, func() {
				log.WithField("provider", id).Debug("credential file changed, invalidating cache")
				w.cache.Invalidate(id)
				if w.OnChange != nil {
					w.OnChange(id)
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("credential watcher error")

		case <-w.stopCh:
			for _, t := range timers {
				t.Stop()
			}
			return
		}
	}
}

// Stop terminates the watch loop.
func (w *Watcher) Stop() {
	close(w.stopCh)
}
