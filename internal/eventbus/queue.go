package eventbus

import (
	"sync"

	"github.com/exportlens/eventd/internal/schema"
)

// queuedEvent is an event awaiting dispatch, together with whether its
// pending row made it into the store. A failed append must not trigger a
// status update after processing.
type queuedEvent struct {
	Event
	persisted bool
}

// pendingQueue holds not-yet-dispatched events in per-priority FIFO tiers.
// More urgent tiers are always drained first; within a tier events keep
// arrival order.
type pendingQueue struct {
	mu    sync.Mutex
	tiers [schema.RankCount][]queuedEvent
	size  int
}

func (q *pendingQueue) push(qe queuedEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r := qe.Priority.Rank()
	q.tiers[r] = append(q.tiers[r], qe)
	q.size++
}

// pop removes and returns the oldest event from the most urgent non-empty
// tier.
func (q *pendingQueue) pop() (queuedEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for r := range q.tiers {
		tier := q.tiers[r]
		if len(tier) == 0 {
			continue
		}
		qe := tier[0]
		tier[0] = queuedEvent{}
		q.tiers[r] = tier[1:]
		q.size--
		return qe, true
	}
	return queuedEvent{}, false
}

// take removes the event with the given id from its tier, reporting whether
// it was still queued. Immediate dispatch uses it to claim an event the
// periodic loop might be racing for; only one side ever wins.
func (q *pendingQueue) take(id string, p schema.Priority) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	r := p.Rank()
	tier := q.tiers[r]
	for i := len(tier) - 1; i >= 0; i-- {
		if tier[i].ID != id {
			continue
		}
		copy(tier[i:], tier[i+1:])
		tier[len(tier)-1] = queuedEvent{}
		q.tiers[r] = tier[:len(tier)-1]
		q.size--
		return true
	}
	return false
}

// get returns a queued event by id without removing it.
func (q *pendingQueue) get(id string) (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for r := range q.tiers {
		for _, qe := range q.tiers[r] {
			if qe.ID == id {
				return qe.Event, true
			}
		}
	}
	return Event{}, false
}

func (q *pendingQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}
