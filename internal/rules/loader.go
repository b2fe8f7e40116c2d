package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/faeln1/membersync/internal/metrics"
	"github.com/fsnotify/fsnotify"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// Loader reads a rules override file and watches it for changes.
type Loader struct {
	path     string
	log      waLog.Logger
	mu       sync.RWMutex
	current  *Set
	onChange []func(*Set)
}

// NewLoader creates a Loader and performs the initial load.
func NewLoader(path string, log waLog.Logger) (*Loader, error) {
	if log == nil {
		log = waLog.Noop
	}
	l := &Loader{path: path, log: log}
	set, err := l.load()
	if err != nil {
		return nil, err
	}
	l.current = set
	return l, nil
}

// Rules returns the latest compiled rule set.
func (l *Loader) Rules() *Set {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback invoked after every successful reload.
func (l *Loader) OnChange(fn func(*Set)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch hot-reloads the rules when the file changes. The parent directory is
// watched so editors that replace the file by rename are picked up too.
func (l *Loader) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("rules watcher: %w", err)
	}
	dir := filepath.Dir(l.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("rules watcher add %s: %w", dir, err)
	}
	target := filepath.Clean(l.path)

	done := make(chan struct{})
	var once sync.Once
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					if _, err := l.Reload(); err != nil {
						l.log.Warnf("Keeping previous rules: %v", err)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.log.Warnf("Rules watcher error: %v", err)
			case <-done:
				return
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }, nil
}

// Reload forces an immediate re-read of the rules file. On error the current
// set stays in effect.
func (l *Loader) Reload() (*Set, error) {
	set, err := l.load()
	if err != nil {
		metrics.RulesReloads.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.RulesReloads.WithLabelValues("ok").Inc()
	l.mu.Lock()
	l.current = set
	callbacks := make([]func(*Set), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()
	l.log.Infof("Rules reloaded from %s", l.path)
	for _, fn := range callbacks {
		fn(set)
	}
	return set, nil
}

func (l *Loader) load() (*Set, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", l.path, err)
	}
	set, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", l.path, err)
	}
	return set, nil
}
