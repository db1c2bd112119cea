package config

import (
	"log"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// TaxonomyHolder hands out the current taxonomy and swaps it atomically when
// the backing file changes. Pipelines read through Current on every firing, so
// an edited taxonomy file takes effect without a restart.
type TaxonomyHolder struct {
	path    string
	current atomic.Pointer[Taxonomy]
	watcher *fsnotify.Watcher
}

// NewTaxonomyHolder loads the taxonomy file and returns a holder for it.
func NewTaxonomyHolder(path string) (*TaxonomyHolder, error) {
	t, err := LoadTaxonomy(path)
	if err != nil {
		return nil, err
	}
	h := &TaxonomyHolder{path: path}
	h.current.Store(t)
	return h, nil
}

// Current returns the taxonomy in effect right now.
func (h *TaxonomyHolder) Current() *Taxonomy {
	return h.current.Load()
}

// Watch starts watching the taxonomy file's directory for changes. Editors
// replace files with rename-then-create, so the watch is on the directory and
// events are filtered by name. Reload is debounced because one save emits
// several events.
func (h *TaxonomyHolder) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	h.watcher = watcher

	dir := filepath.Dir(h.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		var debounce *time.Timer
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(h.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, h.reload)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("⚠️ [TAXONOMY] Watcher error: %v", err)
			}
		}
	}()

	log.Printf("👀 [TAXONOMY] Watching %s for changes", h.path)
	return nil
}

// Close stops the watcher.
func (h *TaxonomyHolder) Close() error {
	if h.watcher != nil {
		return h.watcher.Close()
	}
	return nil
}

func (h *TaxonomyHolder) reload() {
	t, err := LoadTaxonomy(h.path)
	if err != nil {
		log.Printf("⚠️ [TAXONOMY] Reload failed, keeping previous taxonomy: %v", err)
		return
	}
	h.current.Store(t)
	log.Printf("🔄 [TAXONOMY] Reloaded %s (%d categories)", h.path, len(t.Categories))
}
