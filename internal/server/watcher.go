package server

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/livetemplate/labkit"
	"github.com/livetemplate/labkit/internal/security"
)

// watchDebounce coalesces the burst of events an editor save produces.
const watchDebounce = 150 * time.Millisecond

// Watcher reports edits to lab bundles under a labs directory. The callback
// receives the lab name, once per burst of changes.
type Watcher struct {
	watcher  *fsnotify.Watcher
	labsDir  string
	onChange func(lab string)
	logger   *zap.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer

	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher watches labsDir and every lab directory beneath it.
func NewWatcher(labsDir string, onChange func(lab string), logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:  fsWatcher,
		labsDir:  labsDir,
		onChange: onChange,
		logger:   logger.Named("watch"),
		pending:  make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}

	if err := w.addDir(labsDir); err != nil {
		fsWatcher.Close()
		return nil, err
	}
	entries, err := os.ReadDir(labsDir)
	if err != nil {
		fsWatcher.Close()
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			if err := w.addDir(filepath.Join(labsDir, e.Name())); err != nil {
				fsWatcher.Close()
				return nil, err
			}
		}
	}

	return w, nil
}

func (w *Watcher) addDir(dir string) error {
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	w.logger.Debug("watching directory", zap.String("dir", dir))
	return nil
}

// labFor maps an event path to the lab it belongs to. Only the five bundle
// resources count; editor swap files and stray files are ignored.
func (w *Watcher) labFor(path string) (string, bool) {
	rel, err := filepath.Rel(w.labsDir, path)
	if err != nil {
		return "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 2 || !security.ValidLabName(parts[0]) {
		return "", false
	}
	for _, r := range labkit.Resources {
		if parts[1] == r {
			return parts[0], true
		}
	}
	return "", false
}

// Start begins delivering change notifications.
func (w *Watcher) Start() {
	go func() {
		for {
			select {
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				w.handle(event)

			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("watch error", zap.Error(err))

			case <-w.done:
				return
			}
		}
	}()
}

func (w *Watcher) handle(event fsnotify.Event) {
	// New lab directories are picked up as they appear.
	if event.Has(fsnotify.Create) && filepath.Dir(event.Name) == filepath.Clean(w.labsDir) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addDir(event.Name); err != nil {
				w.logger.Warn("failed to watch new lab", zap.String("dir", event.Name), zap.Error(err))
			}
			return
		}
	}

	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}
	lab, ok := w.labFor(event.Name)
	if !ok {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[lab]; ok {
		t.Reset(watchDebounce)
		return
	}
	w.pending[lab] = time.AfterFunc(watchDebounce, func() {
		w.mu.Lock()
		delete(w.pending, lab)
		w.mu.Unlock()

		select {
		case <-w.done:
			return
		default:
		}
		w.logger.Info("lab changed", zap.String("lab", lab))
		w.onChange(lab)
	})
}

// Stop stops the watcher. It is safe to call more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		for lab, t := range w.pending {
			t.Stop()
			delete(w.pending, lab)
		}
		w.mu.Unlock()
		err = w.watcher.Close()
	})
	return err
}
