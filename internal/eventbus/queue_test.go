package eventbus

import (
	"testing"

	"github.com/exportlens/eventd/internal/schema"
)

func queued(id string, p schema.Priority) queuedEvent {
	return queuedEvent{Event: Event{ID: id, Type: "assessment.started", Priority: p}}
}

func TestQueueDrainsByPriority(t *testing.T) {
	q := &pendingQueue{}
	q.push(queued("low-1", schema.PriorityLow))
	q.push(queued("med-1", schema.PriorityMedium))
	q.push(queued("crit-1", schema.PriorityCritical))
	q.push(queued("high-1", schema.PriorityHigh))

	want := []string{"crit-1", "high-1", "med-1", "low-1"}
	for _, id := range want {
		qe, ok := q.pop()
		if !ok {
			t.Fatalf("expected event %s, queue empty", id)
		}
		if qe.ID != id {
			t.Fatalf("expected %s, got %s", id, qe.ID)
		}
	}
	if _, ok := q.pop(); ok {
		t.Fatalf("expected empty queue")
	}
	if q.len() != 0 {
		t.Fatalf("expected size 0, got %d", q.len())
	}
}

func TestQueueKeepsArrivalOrderWithinTier(t *testing.T) {
	q := &pendingQueue{}
	for _, id := range []string{"a", "b", "c"} {
		q.push(queued(id, schema.PriorityMedium))
	}
	for _, want := range []string{"a", "b", "c"} {
		qe, ok := q.pop()
		if !ok || qe.ID != want {
			t.Fatalf("expected %s, got %s (ok=%v)", want, qe.ID, ok)
		}
	}
}

func TestQueueTakeClaimsExactlyOnce(t *testing.T) {
	q := &pendingQueue{}
	q.push(queued("a", schema.PriorityHigh))
	q.push(queued("b", schema.PriorityHigh))
	q.push(queued("c", schema.PriorityHigh))

	if !q.take("b", schema.PriorityHigh) {
		t.Fatalf("expected take to claim queued event")
	}
	if q.take("b", schema.PriorityHigh) {
		t.Fatalf("expected second take of same id to fail")
	}
	if q.len() != 2 {
		t.Fatalf("expected 2 left, got %d", q.len())
	}

	// Removal from the middle must not disturb the order of the rest.
	first, _ := q.pop()
	second, _ := q.pop()
	if first.ID != "a" || second.ID != "c" {
		t.Fatalf("expected order [a c], got [%s %s]", first.ID, second.ID)
	}

	if q.take("missing", schema.PriorityHigh) {
		t.Fatalf("expected take of unknown id to fail")
	}
}

func TestQueueGetDoesNotRemove(t *testing.T) {
	q := &pendingQueue{}
	q.push(queued("a", schema.PriorityLow))

	evt, ok := q.get("a")
	if !ok || evt.ID != "a" {
		t.Fatalf("expected lookup to find queued event")
	}
	if q.len() != 1 {
		t.Fatalf("lookup should not consume the event")
	}
	if _, ok := q.get("zzz"); ok {
		t.Fatalf("expected unknown id to miss")
	}
}
