package monitor

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/presift/presift/events"
	"github.com/presift/presift/scanner"
)

// watchState tracks a per-directory watcher through its lifecycle.
type watchState int32

const (
	stateStarting watchState = iota
	stateWatching
	stateStopping
	stateStopped
)

// dirWatcher owns one fsnotify handle for one monitored root. Raw events go
// through a debounce buffer keyed by path, last event wins, flushed on a fixed
// tick and drained once more on stop.
type dirWatcher struct {
	monitor      *Monitor
	dir          string
	isBundleRoot bool
	debounce     time.Duration

	fsw   *fsnotify.Watcher
	state watchState
	stop  chan struct{}
	done  chan struct{}
}

// StartMonitoring installs a fresh watch set over the snapshot's monitored
// directories. Any previous watch set is stopped first; two sets never coexist.
func (m *Monitor) StartMonitoring(ctx context.Context) error {
	m.StopMonitoring()

	snap := m.snapshotRef()
	if snap == nil {
		return fmt.Errorf("no configuration loaded")
	}

	m.watchMu.Lock()
	defer m.watchMu.Unlock()

	for _, dir := range snap.monitoredDirs {
		if snap.blacklist.Contains(dir) {
			continue
		}
		if _, err := os.Stat(dir); err != nil {
			log.Printf("skipping unwatchable directory %s: %v", dir, err)
			continue
		}

		w := &dirWatcher{
			monitor:      m,
			dir:          dir,
			isBundleRoot: snap.bundles.IsBundle(dir),
			debounce:     m.cfg.Debounce(),
			stop:         make(chan struct{}),
			done:         make(chan struct{}),
			state:        stateStarting,
		}
		if err := w.install(snap); err != nil {
			log.Printf("failed to watch %s: %v", dir, err)
			m.events.Publish(events.FileMonitorError, fmt.Sprintf("watch %s: %v", dir, err))
			continue
		}
		m.watchers = append(m.watchers, w)
		go w.run(ctx)
	}

	log.Printf("monitoring %d directories", len(m.watchers))
	return nil
}

// StopMonitoring signals every per-directory watcher and waits for each loop
// to drain its buffer and exit.
func (m *Monitor) StopMonitoring() {
	m.watchMu.Lock()
	watchers := m.watchers
	m.watchers = nil
	m.watchMu.Unlock()

	for _, w := range watchers {
		close(w.stop)
	}
	for _, w := range watchers {
		<-w.done
	}
}

// install creates the fsnotify handle and registers paths. A bundle root gets
// a single non-recursive watch; an ordinary root has its subdirectories added
// by walking, skipping hidden, blacklisted and bundle subtrees.
func (w *dirWatcher) install(snap *snapshot) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %v", err)
	}
	if err := fsw.Add(w.dir); err != nil {
		fsw.Close()
		return fmt.Errorf("add %s: %v", w.dir, err)
	}
	w.fsw = fsw

	if w.isBundleRoot {
		return nil
	}

	err = filepath.WalkDir(w.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() || path == w.dir {
			return nil
		}
		if scanner.IsHidden(path) || snap.blacklist.Contains(path) || snap.bundles.IsBundle(path) {
			return filepath.SkipDir
		}
		if werr := fsw.Add(path); werr != nil {
			log.Printf("failed to add subdirectory watch %s: %v", path, werr)
		}
		return nil
	})
	if err != nil {
		log.Printf("walking %s for watches: %v", w.dir, err)
	}
	return nil
}

// classify maps a raw fsnotify event to the public two-valued kind. Create and
// Remove pass through; Rename is the source side of a move, so it counts as a
// removal (the destination shows up as a separate Create). Anything else is
// resolved by probing current existence.
func classify(ev fsnotify.Event) EventKind {
	switch {
	case ev.Op.Has(fsnotify.Create):
		return Added
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		return Removed
	default:
		if _, err := os.Stat(ev.Name); err != nil {
			return Removed
		}
		return Added
	}
}

func (w *dirWatcher) run(ctx context.Context) {
	defer close(w.done)
	defer w.fsw.Close()

	w.state = stateWatching
	pending := make(map[string]fsnotify.Event)
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	flush := func(flushCtx context.Context) {
		for path, ev := range pending {
			delete(pending, path)
			kind := classify(ev)
			if _, err := w.monitor.ProcessFileEvent(flushCtx, FileEvent{Path: path, Kind: kind}); err != nil {
				log.Printf("processing %s event for %s: %v", kind, path, err)
			}
		}
	}

	for {
		select {
		case <-w.stop:
			// The run context is usually canceled by now (signal shutdown);
			// the final drain must still reach the service.
			w.state = stateStopping
			flush(context.Background())
			w.state = stateStopped
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				flush(context.Background())
				w.state = stateStopped
				return
			}
			pending[ev.Name] = ev
			w.maybeWatchNewDir(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				continue
			}
			log.Printf("watcher error on %s: %v", w.dir, err)
			w.monitor.events.Publish(events.FileMonitorError, fmt.Sprintf("%s: %v", w.dir, err))
			w.monitor.addError()

		case <-ticker.C:
			flush(ctx)
		}
	}
}

// maybeWatchNewDir extends the watch set when a directory appears under an
// ordinary root. Hidden, blacklisted and bundle directories stay unwatched.
func (w *dirWatcher) maybeWatchNewDir(ev fsnotify.Event) {
	if w.isBundleRoot || !ev.Op.Has(fsnotify.Create) {
		return
	}
	info, err := os.Stat(ev.Name)
	if err != nil || !info.IsDir() {
		return
	}
	snap := w.monitor.snapshotRef()
	if snap == nil {
		return
	}
	if scanner.IsHidden(ev.Name) || snap.blacklist.Contains(ev.Name) || snap.bundles.IsBundle(ev.Name) {
		return
	}
	if err := w.fsw.Add(ev.Name); err != nil {
		log.Printf("failed to watch new directory %s: %v", ev.Name, err)
	}
}
