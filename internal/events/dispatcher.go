package events

import (
	"context"
	"log/slog"

	"github.com/roach88/referral/internal/metrics"
	"github.com/roach88/referral/internal/model"
)

// Handler consumes trigger events.
type Handler interface {
	HandleTrigger(ctx context.Context, ev model.TriggerEvent) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev model.TriggerEvent) error

func (f HandlerFunc) HandleTrigger(ctx context.Context, ev model.TriggerEvent) error {
	return f(ctx, ev)
}

// Dispatcher delivers trigger events to a Handler asynchronously, one at
// a time, in publication order.
//
// Thread-safety model:
//   - HandleTrigger / Publish: safe from any goroutine
//   - Run: must be called from exactly one goroutine
type Dispatcher struct {
	handler Handler
	queue   *eventQueue
	metrics *metrics.Metrics
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherMetrics reports the queue depth.
func WithDispatcherMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// NewDispatcher creates a Dispatcher delivering to h.
func NewDispatcher(h Handler, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		handler: h,
		queue:   newEventQueue(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Publish queues ev. Returns false if the dispatcher has been stopped.
func (d *Dispatcher) Publish(ev model.TriggerEvent) bool {
	ok := d.queue.Enqueue(ev)
	d.metrics.SetQueueDepth(d.queue.Len())
	return ok
}

// HandleTrigger queues ev, so a Dispatcher can stand in for the handler
// of a Source. It never reports the handler's error; Run logs those.
func (d *Dispatcher) HandleTrigger(_ context.Context, ev model.TriggerEvent) error {
	if !d.Publish(ev) {
		slog.Warn("dispatcher stopped: trigger event dropped", "event_id", ev.EventID)
	}
	return nil
}

// Pending returns the number of queued events.
func (d *Dispatcher) Pending() int {
	return d.queue.Len()
}

// Run delivers queued events until ctx is cancelled or Stop is called and
// the queue has drained.
//
// A handler error is logged with the event context and delivery continues.
// Events are retry-safe, so an operator can re-ingest the logged record.
func (d *Dispatcher) Run(ctx context.Context) error {
	slog.Info("dispatcher starting")

	for {
		ev, ok := d.queue.TryDequeue()
		if ok {
			d.metrics.SetQueueDepth(d.queue.Len())
			if err := d.handler.HandleTrigger(ctx, ev); err != nil {
				logEventError(ev, err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("dispatcher stopping: context cancelled")
			d.queue.Close()
			return ctx.Err()

		case <-d.queue.Wait():
			// The signal channel is closed with the queue, so this fires
			// immediately once stopped.
			if d.queue.Len() == 0 && d.stopped() {
				slog.Info("dispatcher stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue. Run returns after delivering what is queued.
func (d *Dispatcher) Stop() {
	d.queue.Close()
}

func (d *Dispatcher) stopped() bool {
	d.queue.mu.Lock()
	defer d.queue.mu.Unlock()
	return d.queue.closed
}

func logEventError(ev model.TriggerEvent, err error) {
	slog.Error("trigger event processing failed",
		"event_id", ev.EventID,
		"trigger", ev.Trigger,
		"program_id", ev.ProgramID,
		"promoter_id", ev.PromoterID,
		"error", err,
	)
}
