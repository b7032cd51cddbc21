package eventbus

import "sync/atomic"

// Stats is a point-in-time snapshot of the bus counters.
type Stats struct {
	Published       uint64
	Persisted       uint64
	PersistFailures uint64
	Processed       uint64
	Delivered       uint64
	HandlerFailures uint64
	Retries         uint64
	Exhausted       uint64
}

type busStats struct {
	published       atomic.Uint64
	persisted       atomic.Uint64
	persistFailures atomic.Uint64
	processed       atomic.Uint64
	delivered       atomic.Uint64
	handlerFailures atomic.Uint64
	retries         atomic.Uint64
	exhausted       atomic.Uint64
}

func (s *busStats) snapshot() Stats {
	return Stats{
		Published:       s.published.Load(),
		Persisted:       s.persisted.Load(),
		PersistFailures: s.persistFailures.Load(),
		Processed:       s.processed.Load(),
		Delivered:       s.delivered.Load(),
		HandlerFailures: s.handlerFailures.Load(),
		Retries:         s.retries.Load(),
		Exhausted:       s.exhausted.Load(),
	}
}
