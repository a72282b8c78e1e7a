// Package crossctx reacts to storage-level change signals raised by sibling
// processes sharing the same device store, so same-machine contexts converge
// without a relay round trip.
package crossctx

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const debounceWindow = 50 * time.Millisecond

// Listener watches the store's signal file and invokes a refresh callback
// when another process rewrites it. The writer process also sees its own
// signal; callbacks must therefore be idempotent.
type Listener struct {
	watcher  *fsnotify.Watcher
	path     string
	onChange func()
	logger   *zap.Logger

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewListener constructs a Listener for the given signal file path. The
// file does not need to exist yet; its directory is watched.
func NewListener(path string, onChange func(), logger *zap.Logger) (*Listener, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{
		watcher:  watcher,
		path:     filepath.Clean(path),
		onChange: onChange,
		logger:   logger,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching and dispatching. Events for unrelated files in the
// same directory are ignored; bursts of writes are debounced into a single
// callback invocation.
func (l *Listener) Start() error {
	if err := l.watcher.Add(filepath.Dir(l.path)); err != nil {
		return err
	}

	l.wg.Add(1)
	go l.run()
	return nil
}

// Stop releases the watcher. Idempotent; no callback is invoked after Stop
// returns.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() {
		close(l.done)
		l.watcher.Close() //nolint:errcheck
	})
	l.wg.Wait()
}

func (l *Listener) run() {
	defer l.wg.Done()

	var debounce *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case <-l.done:
			return
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != l.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(debounceWindow)
				debounceC = debounce.C
			} else {
				debounce.Reset(debounceWindow)
			}
		case <-debounceC:
			debounce = nil
			debounceC = nil
			l.onChange()
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn("change signal watch error", zap.Error(err))
		}
	}
}
