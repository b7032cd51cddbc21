package schema

// Status tracks an event's dispatch lifecycle in the durable store.
type Status string

const (
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
)

// CanTransition reports whether an event status may advance from one value
// to another. Status only moves forward: pending -> processed.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	return from == StatusPending && to == StatusProcessed
}
