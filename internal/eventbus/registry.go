package eventbus

import "sync"

// registry owns the event-type to subscription mapping. Insertion order per
// type is preserved; removing the last subscription for a type drops the
// type's entry entirely.
type registry struct {
	mu     sync.RWMutex
	byType map[string][]*subscription
	byID   map[string]*subscription
}

func newRegistry() *registry {
	return &registry{
		byType: map[string][]*subscription{},
		byID:   map[string]*subscription{},
	}
}

func (r *registry) add(sub *subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[sub.eventType] = append(r.byType[sub.eventType], sub)
	r.byID[sub.id] = sub
}

func (r *registry) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)
	subs := r.byType[sub.eventType]
	for i, s := range subs {
		if s.id != id {
			continue
		}
		subs = append(subs[:i], subs[i+1:]...)
		break
	}
	if len(subs) == 0 {
		delete(r.byType, sub.eventType)
	} else {
		r.byType[sub.eventType] = subs
	}
	return true
}

// matching returns a snapshot of the subscriptions registered for a type.
// Dispatch works off the snapshot, so an unsubscribe during delivery lets
// in-flight invocations finish undisturbed.
func (r *registry) matching(eventType string) []*subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subs := r.byType[eventType]
	if len(subs) == 0 {
		return nil
	}
	out := make([]*subscription, len(subs))
	copy(out, subs)
	return out
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
