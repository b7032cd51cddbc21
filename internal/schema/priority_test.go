package schema

import "testing"

func TestParsePriority(t *testing.T) {
	tests := []struct {
		raw  string
		want Priority
	}{
		{"critical", PriorityCritical},
		{"CRITICAL", PriorityCritical},
		{" high ", PriorityHigh},
		{"medium", PriorityMedium},
		{"low", PriorityLow},
		{"", PriorityMedium},
		{"urgent", PriorityMedium},
	}
	for _, tc := range tests {
		if got := ParsePriority(tc.raw); got != tc.want {
			t.Fatalf("ParsePriority(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestPriorityRankOrdering(t *testing.T) {
	ordered := []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}
	for i := 1; i < len(ordered); i++ {
		if ordered[i-1].Rank() >= ordered[i].Rank() {
			t.Fatalf("expected %s to outrank %s", ordered[i-1], ordered[i])
		}
	}
	if Priority("bogus").Rank() != PriorityMedium.Rank() {
		t.Fatalf("unknown priority should rank as medium")
	}
	if RankCount != len(ordered) {
		t.Fatalf("RankCount = %d, want %d", RankCount, len(ordered))
	}
}

func TestPriorityUrgent(t *testing.T) {
	if !PriorityCritical.Urgent() || !PriorityHigh.Urgent() {
		t.Fatalf("critical and high must bypass the periodic cycle")
	}
	if PriorityMedium.Urgent() || PriorityLow.Urgent() {
		t.Fatalf("medium and low must wait for the periodic cycle")
	}
}
