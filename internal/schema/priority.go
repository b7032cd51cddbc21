package schema

import "strings"

// Priority represents a validated event priority level.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// RankCount is the number of distinct priority tiers.
const RankCount = 4

// ParsePriority validates a raw string. Defaults to PriorityMedium.
func ParsePriority(raw string) Priority {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "critical":
		return PriorityCritical
	case "high":
		return PriorityHigh
	case "medium":
		return PriorityMedium
	case "low":
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// Rank returns numeric priority (lower = more urgent).
// critical=0, high=1, medium=2, low=3.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// Urgent returns true if this priority bypasses the periodic dispatch cycle.
func (p Priority) Urgent() bool {
	return p == PriorityCritical || p == PriorityHigh
}
