package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/exportlens/eventd/internal/schema"
)

// recordingHandler fails a fixed number of times before succeeding and
// records when each attempt happened.
type recordingHandler struct {
	mu       sync.Mutex
	failures int
	calls    []time.Time
	done     chan struct{}
}

func newRecordingHandler(failures int) *recordingHandler {
	return &recordingHandler{failures: failures, done: make(chan struct{}, 16)}
}

func (h *recordingHandler) handle(ctx context.Context, evt Event) error {
	h.mu.Lock()
	h.calls = append(h.calls, time.Now())
	n := len(h.calls)
	h.mu.Unlock()
	h.done <- struct{}{}
	if n <= h.failures {
		return errors.New("transient failure")
	}
	return nil
}

func (h *recordingHandler) callTimes() []time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]time.Time, len(h.calls))
	copy(out, h.calls)
	return out
}

func (h *recordingHandler) waitCalls(t *testing.T, n int, timeout time.Duration) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-h.done:
		case <-time.After(timeout):
			t.Fatalf("timeout waiting for attempt %d of %d", i+1, n)
		}
	}
}

func TestRetryExponentialBackoff(t *testing.T) {
	bus := New(nil, WithTickInterval(time.Hour), WithBaseRetryDelay(60*time.Millisecond))
	defer stopBus(t, bus)

	handler := newRecordingHandler(3) // never succeeds within the budget
	if _, err := bus.Subscribe("business.verified", handler.handle, WithMaxRetries(2)); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if _, err := bus.Publish(context.Background(), PublishInput{Type: "business.verified", Priority: schema.PriorityCritical}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	handler.waitCalls(t, 3, 2*time.Second)
	// Give a would-be fourth attempt room to show up.
	time.Sleep(300 * time.Millisecond)

	calls := handler.callTimes()
	if len(calls) != 3 {
		t.Fatalf("expected exactly 3 attempts with maxRetries=2, got %d", len(calls))
	}

	gap1 := calls[1].Sub(calls[0])
	gap2 := calls[2].Sub(calls[1])
	if gap1 < 50*time.Millisecond {
		t.Fatalf("first retry fired after %v, want >= base delay", gap1)
	}
	if gap2 < 100*time.Millisecond {
		t.Fatalf("second retry fired after %v, want >= doubled delay", gap2)
	}
	if gap2 <= gap1 {
		t.Fatalf("expected backoff to grow: first gap %v, second gap %v", gap1, gap2)
	}

	stats := bus.Stats()
	if stats.Retries != 2 {
		t.Fatalf("expected 2 retries, got %d", stats.Retries)
	}
	if stats.Exhausted != 1 {
		t.Fatalf("expected 1 exhausted pairing, got %d", stats.Exhausted)
	}
	if stats.HandlerFailures != 3 {
		t.Fatalf("expected 3 handler failures, got %d", stats.HandlerFailures)
	}
}

func TestRetryFixedDelay(t *testing.T) {
	bus := New(nil, WithTickInterval(time.Hour))
	defer stopBus(t, bus)

	handler := newRecordingHandler(3)
	if _, err := bus.Subscribe("notification.queued", handler.handle,
		WithMaxRetries(2),
		WithRetryDelay(40*time.Millisecond),
	); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if _, err := bus.Publish(context.Background(), PublishInput{Type: "notification.queued", Priority: schema.PriorityHigh}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	handler.waitCalls(t, 3, 2*time.Second)
	calls := handler.callTimes()
	for i := 1; i < len(calls); i++ {
		gap := calls[i].Sub(calls[i-1])
		if gap < 35*time.Millisecond {
			t.Fatalf("retry %d fired after %v, want the configured delay", i, gap)
		}
		if gap > time.Second {
			t.Fatalf("retry %d took %v, fixed delay should not grow", i, gap)
		}
	}
}

func TestNoRetriesByDefault(t *testing.T) {
	bus := New(nil, WithTickInterval(time.Hour), WithBaseRetryDelay(20*time.Millisecond))
	defer stopBus(t, bus)

	handler := newRecordingHandler(5)
	if _, err := bus.Subscribe("assessment.completed", handler.handle); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if _, err := bus.Publish(context.Background(), PublishInput{Type: "assessment.completed", Priority: schema.PriorityCritical}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	handler.waitCalls(t, 1, 2*time.Second)
	time.Sleep(200 * time.Millisecond)

	if calls := handler.callTimes(); len(calls) != 1 {
		t.Fatalf("expected a single attempt without retries, got %d", len(calls))
	}
	stats := bus.Stats()
	if stats.Exhausted != 1 || stats.Retries != 0 {
		t.Fatalf("expected exhaustion without retries, got %+v", stats)
	}
}

func TestRetrySucceedsMidway(t *testing.T) {
	bus := New(nil, WithTickInterval(time.Hour))
	defer stopBus(t, bus)

	handler := newRecordingHandler(2)
	if _, err := bus.Subscribe("business.verified", handler.handle,
		WithMaxRetries(5),
		WithRetryDelay(15*time.Millisecond),
	); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if _, err := bus.Publish(context.Background(), PublishInput{Type: "business.verified", Priority: schema.PriorityHigh}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	handler.waitCalls(t, 3, 2*time.Second)
	time.Sleep(150 * time.Millisecond)

	if calls := handler.callTimes(); len(calls) != 3 {
		t.Fatalf("expected attempts to stop after success, got %d", len(calls))
	}
	stats := bus.Stats()
	if stats.Delivered != 1 {
		t.Fatalf("expected 1 delivery, got %d", stats.Delivered)
	}
	if stats.Exhausted != 0 {
		t.Fatalf("expected no exhaustion after recovery, got %d", stats.Exhausted)
	}
}

func TestHandlerPanicIsIsolated(t *testing.T) {
	st := newFakeStore()
	bus := New(st, WithTickInterval(time.Hour))
	defer stopBus(t, bus)

	if _, err := bus.Subscribe("pattern.detected", func(ctx context.Context, evt Event) error {
		panic("handler exploded")
	}); err != nil {
		t.Fatalf("subscribe panicking: %v", err)
	}
	done := make(chan struct{}, 1)
	if _, err := bus.Subscribe("pattern.detected", func(ctx context.Context, evt Event) error {
		done <- struct{}{}
		return nil
	}); err != nil {
		t.Fatalf("subscribe healthy: %v", err)
	}

	evt, err := bus.Publish(context.Background(), PublishInput{Type: "pattern.detected", Priority: schema.PriorityCritical})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("panic in sibling handler blocked delivery")
	}

	// The cycle still completes and the event is still marked processed.
	waitUntil(t, 2*time.Second, func() bool {
		up, ok := st.updateFor(evt.ID)
		return ok && up.status == schema.StatusProcessed
	})
	stats := bus.Stats()
	if stats.HandlerFailures == 0 {
		t.Fatalf("expected the panic to count as a handler failure")
	}
	if stats.Delivered != 1 {
		t.Fatalf("expected 1 successful delivery, got %d", stats.Delivered)
	}
}

func TestProcessedMarkedAfterAllHandlersFinish(t *testing.T) {
	st := newFakeStore()
	bus := New(st, WithTickInterval(time.Hour))
	defer stopBus(t, bus)

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	if _, err := bus.Subscribe("assessment.started", func(ctx context.Context, evt Event) error {
		started <- struct{}{}
		<-release
		return nil
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	evt, err := bus.Publish(context.Background(), PublishInput{Type: "assessment.started", Priority: schema.PriorityCritical})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("handler never started")
	}
	if _, ok := st.updateFor(evt.ID); ok {
		t.Fatalf("event marked processed while a handler was still running")
	}

	close(release)
	waitUntil(t, 2*time.Second, func() bool {
		up, ok := st.updateFor(evt.ID)
		return ok && up.status == schema.StatusProcessed && !up.processedAt.IsZero()
	})
}

func TestFiltersGateDelivery(t *testing.T) {
	bus := New(nil, WithTickInterval(10*time.Millisecond))
	defer stopBus(t, bus)

	var mu sync.Mutex
	var filteredCalls int
	if _, err := bus.Subscribe("business.verified", func(ctx context.Context, evt Event) error {
		mu.Lock()
		filteredCalls++
		mu.Unlock()
		return nil
	}, WithPriorities(schema.PriorityHigh)); err != nil {
		t.Fatalf("subscribe filtered: %v", err)
	}

	done := make(chan struct{}, 1)
	if _, err := bus.Subscribe("business.verified", func(ctx context.Context, evt Event) error {
		done <- struct{}{}
		return nil
	}); err != nil {
		t.Fatalf("subscribe open: %v", err)
	}

	if _, err := bus.Publish(context.Background(), PublishInput{Type: "business.verified", Priority: schema.PriorityMedium}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for unfiltered delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	if filteredCalls != 0 {
		t.Fatalf("priority filter let a medium event through")
	}
}

func TestStopAbandonsRetryBackoff(t *testing.T) {
	bus := New(nil, WithTickInterval(time.Hour))

	handler := newRecordingHandler(10)
	if _, err := bus.Subscribe("notification.queued", handler.handle,
		WithMaxRetries(3),
		WithRetryDelay(time.Hour),
	); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if _, err := bus.Publish(context.Background(), PublishInput{Type: "notification.queued", Priority: schema.PriorityCritical}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	handler.waitCalls(t, 1, 2*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	start := time.Now()
	if err := bus.Stop(ctx); err != nil {
		t.Fatalf("stop should not wait out the backoff: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("stop took %v, expected the backoff wait to abort", elapsed)
	}
	if calls := handler.callTimes(); len(calls) != 1 {
		t.Fatalf("expected no retry after shutdown, got %d attempts", len(calls))
	}
}
