package eventbus

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// matches evaluates every configured filter dimension against an event. All
// dimensions must pass; an unset dimension always passes.
func (s *subscription) matches(evt Event) bool {
	if len(s.priorities) > 0 {
		if _, ok := s.priorities[evt.Priority]; !ok {
			return false
		}
	}
	if len(s.sources) > 0 {
		if _, ok := s.sources[evt.Source]; !ok {
			return false
		}
	}
	if s.match != nil && !s.match(evt) {
		return false
	}
	return true
}

// MatchPayloadPath returns a predicate for WithMatch that compares the
// payload value at a gjson path against want. The payload is serialized per
// evaluation; meant for low-volume coordination events, not hot paths.
func MatchPayloadPath(path, want string) func(Event) bool {
	return func(evt Event) bool {
		data, err := json.Marshal(evt.Payload)
		if err != nil {
			return false
		}
		res := gjson.GetBytes(data, path)
		return res.Exists() && res.String() == want
	}
}

// HasPayloadPath returns a predicate that passes when the payload carries
// any value at the given gjson path.
func HasPayloadPath(path string) func(Event) bool {
	return func(evt Event) bool {
		data, err := json.Marshal(evt.Payload)
		if err != nil {
			return false
		}
		return gjson.GetBytes(data, path).Exists()
	}
}

// PayloadString extracts the string value at a gjson path from the event
// payload, or "" when the path is absent.
func PayloadString(evt Event, path string) string {
	data, err := json.Marshal(evt.Payload)
	if err != nil {
		return ""
	}
	return gjson.GetBytes(data, path).String()
}

// MatchAll combines predicates with AND semantics.
func MatchAll(fns ...func(Event) bool) func(Event) bool {
	return func(evt Event) bool {
		for _, fn := range fns {
			if fn != nil && !fn(evt) {
				return false
			}
		}
		return true
	}
}

// MatchAny combines predicates with OR semantics.
func MatchAny(fns ...func(Event) bool) func(Event) bool {
	return func(evt Event) bool {
		for _, fn := range fns {
			if fn != nil && fn(evt) {
				return true
			}
		}
		return false
	}
}
