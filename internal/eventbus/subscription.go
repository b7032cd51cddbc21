package eventbus

import (
	"time"

	"github.com/exportlens/eventd/internal/schema"
)

// subscription is a registered interest in one event type. The bus owns it;
// callers only ever hold the id.
type subscription struct {
	id         string
	eventType  string
	handler    Handler
	priorities map[schema.Priority]struct{}
	sources    map[string]struct{}
	match      func(Event) bool
	maxRetries int
	retryDelay time.Duration
}

// SubscribeOption configures filtering and retry for a single subscription.
type SubscribeOption func(*subscription)

// WithPriorities restricts delivery to events carrying one of the given
// priorities.
func WithPriorities(priorities ...schema.Priority) SubscribeOption {
	return func(s *subscription) {
		if len(priorities) == 0 {
			return
		}
		s.priorities = make(map[schema.Priority]struct{}, len(priorities))
		for _, p := range priorities {
			s.priorities[schema.ParsePriority(string(p))] = struct{}{}
		}
	}
}

// WithSources restricts delivery to events produced by one of the given
// sources.
func WithSources(sources ...string) SubscribeOption {
	return func(s *subscription) {
		if len(sources) == 0 {
			return
		}
		s.sources = make(map[string]struct{}, len(sources))
		for _, src := range sources {
			s.sources[src] = struct{}{}
		}
	}
}

// WithMatch adds a custom predicate evaluated after the allow-lists.
func WithMatch(fn func(Event) bool) SubscribeOption {
	return func(s *subscription) {
		s.match = fn
	}
}

// WithMaxRetries enables bounded retry for failed deliveries. The default is
// a single attempt.
func WithMaxRetries(n int) SubscribeOption {
	return func(s *subscription) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// WithRetryDelay fixes the wait between attempts instead of exponential
// backoff.
func WithRetryDelay(d time.Duration) SubscribeOption {
	return func(s *subscription) {
		if d > 0 {
			s.retryDelay = d
		}
	}
}
