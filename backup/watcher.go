package backup

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher drives the synchronizer from file-system change events. Repeat
// events for the same path inside the debounce window are ignored, and a
// pending path is synchronized only after it has been quiet for the settle
// delay, so a burst of flushes triggers one pass.
type Watcher struct {
	sync *Synchronizer
	cfg  Config
	fsw  *fsnotify.Watcher

	mu        sync.Mutex
	pending   map[string]time.Time // path -> pending-since
	lastEvent map[string]time.Time // path -> last accepted event

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWatcher attaches a file-system watch to the synchronizer's data
// directory. Call Start to begin processing events.
func NewWatcher(s *Synchronizer) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(s.cfg.DataDir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", s.cfg.DataDir, err)
	}
	return &Watcher{
		sync:      s,
		cfg:       s.cfg,
		fsw:       fsw,
		pending:   make(map[string]time.Time),
		lastEvent: make(map[string]time.Time),
		done:      make(chan struct{}),
	}, nil
}

// Start runs an initial full pass so pre-existing files are consolidated,
// then processes change events until Stop.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.sync.SyncAll()
		w.run()
	}()
}

// Stop shuts the watcher down and waits for the event loop to exit. A pass
// already in flight finishes; pending paths that have not settled are
// dropped and will be picked up by the next startup pass.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.fsw.Close()
	})
	w.wg.Wait()
}

func (w *Watcher) run() {
	ticker := time.NewTicker(w.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.sync.report(false, fmt.Sprintf("watch error: %v", err))
		case <-ticker.C:
			if batch := w.settled(); len(batch) > 0 {
				w.sync.SyncPaths(batch)
			}
		}
	}
}

// handleEvent marks a record file pending unless an event for the same path
// was already accepted inside the debounce window.
func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) {
		return
	}
	base := filepath.Base(ev.Name)
	if !strings.HasPrefix(base, "session_") || !strings.HasSuffix(base, ".csv") {
		return
	}

	now := w.cfg.Now()
	w.mu.Lock()
	defer w.mu.Unlock()

	if last, ok := w.lastEvent[ev.Name]; ok && now.Sub(last) < w.cfg.DebounceWindow {
		return
	}
	w.lastEvent[ev.Name] = now
	if _, ok := w.pending[ev.Name]; !ok {
		w.pending[ev.Name] = now
	}
}

// settled removes and returns the pending paths whose settle delay has
// elapsed.
func (w *Watcher) settled() []string {
	now := w.cfg.Now()
	w.mu.Lock()
	defer w.mu.Unlock()

	var batch []string
	for path, since := range w.pending {
		if now.Sub(since) >= w.cfg.SettleDelay {
			batch = append(batch, path)
			delete(w.pending, path)
		}
	}
	return batch
}
