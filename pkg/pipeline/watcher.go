package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce is how long a file must be quiet before it is imported.
const DefaultDebounce = 2 * time.Second

// Watcher imports workbooks written to a set of directories.
type Watcher struct {
	importer *Importer
	dirs     []string
	opts     Options
	debounce time.Duration
	existing bool
	logger   zerolog.Logger
	onResult func(path string, res *Result, err error)

	mu      sync.Mutex
	pending map[string]*pendingImport
}

// pendingImport is a debounced import waiting for its timer.
type pendingImport struct {
	timer *time.Timer
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the quiet period before a changed file is imported.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithExisting imports the workbooks already present when Run starts.
func WithExisting(existing bool) WatcherOption {
	return func(w *Watcher) { w.existing = existing }
}

// OnResult is called after every import attempt.
func OnResult(fn func(path string, res *Result, err error)) WatcherOption {
	return func(w *Watcher) { w.onResult = fn }
}

// NewWatcher creates a watcher importing into im with opts.
func NewWatcher(im *Importer, dirs []string, opts Options, wopts ...WatcherOption) *Watcher {
	w := &Watcher{
		importer: im,
		dirs:     dirs,
		opts:     opts,
		debounce: DefaultDebounce,
		logger:   im.logger.With().Str("component", "watcher").Logger(),
		pending:  make(map[string]*pendingImport),
	}
	for _, opt := range wopts {
		opt(w)
	}
	return w
}

// IsWorkbook reports whether path names a workbook the watcher imports.
// Office lock files (~$name.xlsx) and hidden files are ignored.
func IsWorkbook(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, "~$") || strings.HasPrefix(base, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".xlsx", ".xlsm":
		return true
	}
	return false
}

// Run watches until ctx is done. Imports in progress are cancelled with ctx.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	for _, dir := range w.dirs {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("watch %s: not a directory", dir)
		}
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	ready := make(chan string, 64)
	var wg sync.WaitGroup
	for i := 0; i < w.importer.maxParallel; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case path := <-ready:
					w.importFile(ctx, path)
				}
			}
		}()
	}

	if w.existing {
		w.scanExisting(ctx, ready)
	}

	w.logger.Info().Strs("dirs", w.dirs).Dur("debounce", w.debounce).Msg("Watching for workbooks")
	err = w.processEvents(ctx, watcher, ready)

	w.mu.Lock()
	for path, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()

	wg.Wait()
	return err
}

func (w *Watcher) scanExisting(ctx context.Context, ready chan<- string) {
	for _, dir := range w.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			w.logger.Warn().Err(err).Str("dir", dir).Msg("Failed to list directory")
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !IsWorkbook(e.Name()) {
				continue
			}
			select {
			case ready <- filepath.Join(dir, e.Name()):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (w *Watcher) processEvents(ctx context.Context, watcher *fsnotify.Watcher, ready chan<- string) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher closed")
			}
			if !IsWorkbook(event.Name) {
				continue
			}

			switch {
			case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
				w.logger.Debug().
					Str("file", event.Name).
					Str("op", event.Op.String()).
					Msg("Workbook changed")
				w.schedule(ctx, event.Name, ready)
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				w.cancel(event.Name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher closed")
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// schedule queues path once it has been quiet for the debounce period.
func (w *Watcher) schedule(ctx context.Context, path string, ready chan<- string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if prev, ok := w.pending[path]; ok {
		prev.timer.Stop()
	}
	p := &pendingImport{}
	p.timer = time.AfterFunc(w.debounce, func() { w.fire(ctx, path, p, ready) })
	w.pending[path] = p
}

// fire queues path if p is still its pending import. A timer that fired
// while being replaced or cancelled is dropped.
func (w *Watcher) fire(ctx context.Context, path string, p *pendingImport, ready chan<- string) {
	w.mu.Lock()
	current := w.pending[path] == p
	if current {
		delete(w.pending, path)
	}
	w.mu.Unlock()
	if !current {
		return
	}

	select {
	case ready <- path:
	case <-ctx.Done():
	}
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.pending[path]; ok {
		p.timer.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) importFile(ctx context.Context, path string) {
	_ = w.importer.tel.Events.PublishWorkbookChanged(path)

	res, err := w.importer.Import(ctx, path, w.opts)
	if err != nil {
		w.logger.Error().Err(err).Str("file", path).Msg("Import failed")
	}
	if w.onResult != nil {
		w.onResult(path, res, err)
	}
}
