package eventbus

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/exportlens/eventd/internal/idgen"
	"github.com/exportlens/eventd/internal/schema"
)

// Handler consumes one event. Returning an error is the only failure signal
// the bus understands; errors never reach the producer.
type Handler func(ctx context.Context, evt Event) error

// Store is the durable event history the bus appends to. Implementations
// live in internal/store. Store failures are logged and never block
// delivery.
type Store interface {
	Insert(ctx context.Context, evt Event, status schema.Status) error
	UpdateStatus(ctx context.Context, eventID string, status schema.Status, processedAt time.Time) error
	Get(ctx context.Context, eventID string) (StoredEvent, bool, error)
	ListByType(ctx context.Context, eventType string, q Query) ([]StoredEvent, error)
}

const (
	defaultTick           = 100 * time.Millisecond
	defaultBaseRetryDelay = time.Second

	// DefaultSource marks events published without an explicit source.
	DefaultSource = "system"
)

// Bus is an in-process publish/subscribe event bus with priority scheduling,
// per-subscription filtering, and bounded retry. Each Bus owns its own queue,
// registry, and dispatch goroutine; independent buses can coexist.
type Bus struct {
	store Store

	queue *pendingQueue
	reg   *registry

	logger         *slog.Logger
	tick           time.Duration
	baseRetryDelay time.Duration

	nowFn   func() time.Time
	newIDFn func() string

	stampMu   sync.Mutex
	lastStamp time.Time

	dispatchCtx    context.Context
	cancelDispatch context.CancelFunc
	stopCh         chan struct{}
	closed         atomic.Bool
	wg             sync.WaitGroup

	stats busStats
}

type Option func(*Bus)

// WithLogger routes bus logging to the given logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithClock overrides the bus clock. Issued timestamps are still clamped to
// be non-decreasing.
func WithClock(nowFn func() time.Time) Option {
	return func(b *Bus) {
		if nowFn != nil {
			b.nowFn = nowFn
		}
	}
}

// WithIDGenerator overrides event id generation.
func WithIDGenerator(newIDFn func() string) Option {
	return func(b *Bus) {
		if newIDFn != nil {
			b.newIDFn = newIDFn
		}
	}
}

// WithTickInterval changes the periodic dispatch cadence.
func WithTickInterval(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.tick = d
		}
	}
}

// WithBaseRetryDelay changes the first exponential backoff step.
func WithBaseRetryDelay(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.baseRetryDelay = d
		}
	}
}

// New builds a bus around the given store and starts its dispatch loop. A
// nil store yields a purely in-memory bus.
func New(store Store, opts ...Option) *Bus {
	b := &Bus{
		store:          store,
		queue:          &pendingQueue{},
		reg:            newRegistry(),
		logger:         slog.Default(),
		tick:           defaultTick,
		baseRetryDelay: defaultBaseRetryDelay,
		nowFn:          func() time.Time { return time.Now().UTC() },
		newIDFn:        idgen.NewEventID,
		stopCh:         make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	b.dispatchCtx, b.cancelDispatch = context.WithCancel(context.Background())
	b.wg.Add(1)
	go b.run()
	return b
}

// Publish stamps the event, appends it to the store (unless ephemeral), and
// enqueues it for dispatch. High and critical events dispatch immediately
// instead of waiting for the next tick. Publish never waits on handlers; a
// store failure is logged and the event still dispatches.
func (b *Bus) Publish(ctx context.Context, input PublishInput) (Event, error) {
	if b.closed.Load() {
		return Event{}, ErrBusClosed
	}
	if strings.TrimSpace(input.Type) == "" {
		return Event{}, ErrEmptyEventType
	}

	priority := input.Priority
	if priority == "" {
		priority = schema.PriorityMedium
	} else {
		priority = schema.ParsePriority(string(priority))
	}
	source := input.Source
	if source == "" {
		source = DefaultSource
	}

	evt := Event{
		ID:        b.newIDFn(),
		Type:      input.Type,
		Payload:   input.Payload,
		Metadata:  input.Metadata,
		Source:    source,
		Priority:  priority,
		Timestamp: b.stamp(),
	}
	b.stats.published.Add(1)

	persisted := false
	if !input.Ephemeral && b.store != nil {
		if err := b.store.Insert(ctx, evt, schema.StatusPending); err != nil {
			b.stats.persistFailures.Add(1)
			b.logger.Error("append event",
				"event_id", evt.ID,
				"event_type", evt.Type,
				"error", err)
		} else {
			persisted = true
			b.stats.persisted.Add(1)
		}
	}

	qe := queuedEvent{Event: evt, persisted: persisted}
	b.queue.push(qe)

	if priority.Urgent() {
		// Claim the event back off the queue; if the periodic loop got
		// there first it is already being processed.
		if b.queue.take(evt.ID, priority) {
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.processEvent(b.dispatchCtx, qe)
			}()
		}
	}
	return evt, nil
}

// stamp issues creation timestamps that never move backwards, so publish
// order within one bus is reflected in timestamps even if the clock steps.
func (b *Bus) stamp() time.Time {
	b.stampMu.Lock()
	defer b.stampMu.Unlock()
	now := b.nowFn().UTC()
	if now.Before(b.lastStamp) {
		now = b.lastStamp
	}
	b.lastStamp = now
	return now
}

// Subscribe registers a handler for an exact event type and returns the
// subscription id used for cancellation.
func (b *Bus) Subscribe(eventType string, handler Handler, opts ...SubscribeOption) (string, error) {
	if b.closed.Load() {
		return "", ErrBusClosed
	}
	if strings.TrimSpace(eventType) == "" {
		return "", ErrEmptyEventType
	}
	if handler == nil {
		return "", ErrNilHandler
	}
	sub := &subscription{
		id:        idgen.New(),
		eventType: eventType,
		handler:   handler,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(sub)
		}
	}
	b.reg.add(sub)
	return sub.id, nil
}

// Unsubscribe removes a subscription, reporting whether the id was
// registered. It never interrupts deliveries already in flight.
func (b *Bus) Unsubscribe(subscriptionID string) bool {
	return b.reg.remove(subscriptionID)
}

// GetEvent looks up an event by id: the pending queue first (events not yet
// dispatched, including ones whose store append failed), then the durable
// store. Store errors degrade to not-found.
func (b *Bus) GetEvent(ctx context.Context, id string) (Event, bool) {
	if evt, ok := b.queue.get(id); ok {
		return evt, true
	}
	if b.store == nil {
		return Event{}, false
	}
	stored, ok, err := b.store.Get(ctx, id)
	if err != nil {
		b.logger.Error("load event", "event_id", id, "error", err)
		return Event{}, false
	}
	if !ok {
		return Event{}, false
	}
	return stored.Event, true
}

// EventsByType returns persisted history for a type, newest first. It never
// sees queued-but-unpersisted events; store errors degrade to an empty
// result.
func (b *Bus) EventsByType(ctx context.Context, eventType string, q Query) []StoredEvent {
	if b.store == nil {
		return nil
	}
	out, err := b.store.ListByType(ctx, eventType, q)
	if err != nil {
		b.logger.Error("list events", "event_type", eventType, "error", err)
		return nil
	}
	return out
}

// Stop shuts down the dispatch loop and waits for in-flight deliveries to
// finish; pending backoff waits are abandoned. If ctx expires first, the
// context handed to running handlers is cancelled and ctx's error returned.
// Safe to call more than once. Events still queued stay pending.
func (b *Bus) Stop(ctx context.Context) error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(b.stopCh)

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.cancelDispatch()
		return nil
	case <-ctx.Done():
		b.cancelDispatch()
		return ctx.Err()
	}
}

// PendingCount reports how many events are queued awaiting dispatch.
func (b *Bus) PendingCount() int {
	return b.queue.len()
}

// SubscriptionCount reports the number of live subscriptions.
func (b *Bus) SubscriptionCount() int {
	return b.reg.count()
}

// Stats returns a snapshot of the bus counters.
func (b *Bus) Stats() Stats {
	return b.stats.snapshot()
}
