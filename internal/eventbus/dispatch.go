package eventbus

import (
	"context"
	"math"
	"runtime/debug"
	"sync"
	"time"

	"github.com/exportlens/eventd/internal/schema"
)

// run is the periodic dispatch loop: one event per tick, processed inline,
// so at most one periodic cycle is ever active and ticks landing during a
// slow cycle coalesce. Urgent publishes dispatch on their own goroutines and
// may overlap a cycle; the queue mutex keeps the two paths from taking the
// same event twice.
func (b *Bus) run() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.tick)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			qe, ok := b.queue.pop()
			if !ok {
				continue
			}
			b.processEvent(b.dispatchCtx, qe)
		}
	}
}

// processEvent fans one event out to every matching subscription and waits
// for all pairings to reach succeeded or exhausted before recording the
// event as processed. Handler outcomes never affect completion.
func (b *Bus) processEvent(ctx context.Context, qe queuedEvent) {
	evt := qe.Event

	var wg sync.WaitGroup
	for _, sub := range b.reg.matching(evt.Type) {
		if !sub.matches(evt) {
			continue
		}
		sub := sub
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.deliver(ctx, evt, sub)
		}()
	}
	wg.Wait()

	if qe.persisted && b.store != nil {
		if err := b.store.UpdateStatus(ctx, evt.ID, schema.StatusProcessed, b.nowFn().UTC()); err != nil {
			b.logger.Error("update event status",
				"event_id", evt.ID,
				"event_type", evt.Type,
				"error", err)
		}
	}
	b.stats.processed.Add(1)
}

// deliver drives the retry state machine for one (subscription, event)
// pairing: attempt 1 is the initial invocation, then up to maxRetries
// re-invocations separated by the subscription's fixed delay or exponential
// backoff. Failures stay local to the pairing.
func (b *Bus) deliver(ctx context.Context, evt Event, sub *subscription) {
	attempts := sub.maxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		err := b.invoke(ctx, evt, sub)
		if err == nil {
			b.stats.delivered.Add(1)
			if attempt > 1 {
				b.logger.Info("handler recovered",
					"event_id", evt.ID,
					"event_type", evt.Type,
					"subscription_id", sub.id,
					"attempt", attempt)
			}
			return
		}
		b.stats.handlerFailures.Add(1)

		if attempt == attempts {
			b.stats.exhausted.Add(1)
			b.logger.Error("handler failed permanently",
				"event_id", evt.ID,
				"event_type", evt.Type,
				"subscription_id", sub.id,
				"attempts", attempt,
				"error", err)
			return
		}

		delay := sub.retryDelay
		if delay <= 0 {
			delay = backoffDelay(b.baseRetryDelay, attempt)
		}
		b.logger.Warn("handler failed, retrying",
			"event_id", evt.ID,
			"event_type", evt.Type,
			"subscription_id", sub.id,
			"attempt", attempt,
			"delay", delay,
			"error", err)
		b.stats.retries.Add(1)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-b.stopCh:
			timer.Stop()
			b.logger.Warn("retry abandoned at shutdown",
				"event_id", evt.ID,
				"subscription_id", sub.id)
			return
		}
	}
}

// invoke runs the handler with panic isolation; a panic is logged with its
// stack and surfaces as an ordinary failure.
func (b *Bus) invoke(ctx context.Context, evt Event, sub *subscription) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			err = &panicError{value: r, stack: stack}
			b.logger.Error("handler panic",
				"event_id", evt.ID,
				"event_type", evt.Type,
				"subscription_id", sub.id,
				"panic", r,
				"stack", string(stack))
		}
	}()
	return sub.handler(ctx, evt)
}

// backoffDelay doubles per attempt: base, 2*base, 4*base, ...
func backoffDelay(base time.Duration, attempt int) time.Duration {
	return time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
}
