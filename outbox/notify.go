/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package outbox

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/acronis/go-crptclient/log"
)

// DefaultNotifyDebounce is a default delay between the last file event and the outbox pass.
const DefaultNotifyDebounce = 200 * time.Millisecond

// NotifyWorkerOpts represents an options for NotifyWorker.
type NotifyWorkerOpts struct {
	Logger log.FieldLogger

	// Debounce delays the pass until no new events arrive for this time. DefaultNotifyDebounce is used by default.
	Debounce time.Duration
}

// NotifyWorker makes an outbox pass when documents appear in the outbox directory.
// It implements service.Worker.
type NotifyWorker struct {
	outbox   *Outbox
	logger   log.FieldLogger
	debounce time.Duration
}

// NewNotifyWorker creates a new NotifyWorker.
func NewNotifyWorker(outbox *Outbox, opts NotifyWorkerOpts) *NotifyWorker {
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultNotifyDebounce
	}
	return &NotifyWorker{outbox: outbox, logger: opts.Logger, debounce: opts.Debounce}
}

// Run watches the outbox directory until ctx is done.
func (w *NotifyWorker) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer func() {
		if closeErr := watcher.Close(); closeErr != nil {
			w.logger.Error("failed to close fsnotify watcher", log.Error(closeErr))
		}
	}()
	if err = watcher.Add(w.outbox.Dir()); err != nil {
		return fmt.Errorf("watch outbox directory: %w", err)
	}
	w.logger.Info("watching outbox directory", log.String("outbox", w.outbox.Dir()))

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("fsnotify events channel closed")
			}
			if !isDocumentEvent(event) {
				continue
			}
			w.logger.Debug("outbox document event",
				log.String("document", filepath.Base(event.Name)), log.String("op", event.Op.String()))
			timer.Reset(w.debounce)

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return errors.New("fsnotify errors channel closed")
			}
			w.logger.Error("outbox watcher error", log.Error(watchErr))

		case <-timer.C:
			if runErr := w.outbox.Run(ctx); runErr != nil {
				w.logger.Error("outbox pass failed", log.Error(runErr))
			}
		}
	}
}

func isDocumentEvent(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Base(event.Name)
	return isDocumentFile(name) || filepath.Ext(name) == SignatureExt
}
