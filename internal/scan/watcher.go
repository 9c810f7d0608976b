package scan

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"

	"shelftamer/internal/identity"
	"shelftamer/internal/logging"
)

// Watcher nudges the workflow when book files land in the input directory,
// so continuous mode reacts faster than the periodic scan interval. Events
// are debounced by the settle window; the scanner remains the source of
// truth for what is actually ingestible.
type Watcher struct {
	inputDir string
	settle   time.Duration
	logger   *slog.Logger
}

// NewWatcher builds a watcher over inputDir.
func NewWatcher(inputDir string, settle time.Duration, logger *slog.Logger) *Watcher {
	return &Watcher{
		inputDir: inputDir,
		settle:   settle,
		logger:   logging.NewComponentLogger(logger, "watcher"),
	}
}

// Run watches until the context ends, sending on notify after file activity
// has settled. Sends never block; a pending notification is enough.
func (w *Watcher) Run(ctx context.Context, notify chan<- struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(w.inputDir); err != nil {
		return err
	}

	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	settle := w.settle
	if settle <= 0 {
		settle = 100 * time.Millisecond
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			if _, known := identity.KindForPath(event.Name); !known {
				continue
			}
			w.logger.Debug("input activity", logging.String("path", event.Name))
			debounce.Reset(settle)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", logging.Error(err))
		case <-debounce.C:
			select {
			case notify <- struct{}{}:
			default:
			}
		}
	}
}
