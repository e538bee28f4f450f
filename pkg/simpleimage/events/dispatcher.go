package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tendant/simple-image/pkg/simpleimage"
)

// LocalDispatcher is a simpleimage.EventSink that runs a Processor in
// process, one goroutine per notification. It stands in for the external
// trigger of cloud object stores and does not retry.
type LocalDispatcher struct {
	processor Processor
	logger    *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewLocalDispatcher creates a dispatcher for processor
func NewLocalDispatcher(processor Processor, logger *slog.Logger) *LocalDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalDispatcher{processor: processor, logger: logger}
}

// ObjectFinalized schedules finalize handling. The request context is
// detached so the pipeline outlives the upload request.
func (d *LocalDispatcher) ObjectFinalized(ctx context.Context, event simpleimage.FinalizeEvent) {
	d.dispatch(ctx, event.ID, func(ctx context.Context) {
		d.processor.HandleFinalize(ctx, event)
	})
}

// ObjectDeleted schedules delete handling
func (d *LocalDispatcher) ObjectDeleted(ctx context.Context, event simpleimage.DeleteEvent) {
	d.dispatch(ctx, event.ID, func(ctx context.Context) {
		d.processor.HandleDelete(ctx, event)
	})
}

func (d *LocalDispatcher) dispatch(ctx context.Context, id string, fn func(context.Context)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.logger.Warn("Dispatcher closed, dropping event", "event_id", id)
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn(context.WithoutCancel(ctx))
	}()
}

// Wait blocks until every scheduled event has been handled
func (d *LocalDispatcher) Wait() {
	d.wg.Wait()
}

// Close stops accepting events and waits for the in-flight ones
func (d *LocalDispatcher) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
	return nil
}
