package store_test

import (
	"slices"
	"testing"

	"github.com/dantte-lp/gotrack/internal/store"
)

// TestTransitionAllowed verifies every entry of the command status
// transition table: pending -> sent -> acknowledged, failed reachable from
// pending and sent, terminal states immutable.
func TestTransitionAllowed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		from store.CommandStatus
		to   store.CommandStatus
		want bool
	}{
		// Forward path.
		{"pending->sent", store.StatusPending, store.StatusSent, true},
		{"sent->acknowledged", store.StatusSent, store.StatusAcknowledged, true},
		{"pending->failed", store.StatusPending, store.StatusFailed, true},
		{"sent->failed", store.StatusSent, store.StatusFailed, true},

		// Skipping states is not allowed.
		{"pending->acknowledged", store.StatusPending, store.StatusAcknowledged, false},

		// Terminal states are immutable.
		{"acknowledged->failed", store.StatusAcknowledged, store.StatusFailed, false},
		{"acknowledged->sent", store.StatusAcknowledged, store.StatusSent, false},
		{"failed->sent", store.StatusFailed, store.StatusSent, false},
		{"failed->acknowledged", store.StatusFailed, store.StatusAcknowledged, false},

		// Nothing moves back to pending.
		{"sent->pending", store.StatusSent, store.StatusPending, false},
		{"failed->pending", store.StatusFailed, store.StatusPending, false},
		{"acknowledged->pending", store.StatusAcknowledged, store.StatusPending, false},

		// Self-loops are not transitions.
		{"pending->pending", store.StatusPending, store.StatusPending, false},
		{"sent->sent", store.StatusSent, store.StatusSent, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := store.TransitionAllowed(tt.from, tt.to); got != tt.want {
				t.Errorf("TransitionAllowed(%s, %s) = %v, want %v",
					tt.from, tt.to, got, tt.want)
			}
		})
	}
}

// TestAllowedFrom verifies the guard sets the adapter embeds in its
// conditional UPDATE statements.
func TestAllowedFrom(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		target store.CommandStatus
		want   []store.CommandStatus
	}{
		{"sent", store.StatusSent, []store.CommandStatus{store.StatusPending}},
		{"acknowledged", store.StatusAcknowledged, []store.CommandStatus{store.StatusSent}},
		{"failed", store.StatusFailed, []store.CommandStatus{store.StatusPending, store.StatusSent}},
		{"pending is not a target", store.StatusPending, nil},
		{"unknown is not a target", store.CommandStatus("bogus"), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := store.AllowedFrom(tt.target)
			if !slices.Equal(got, tt.want) {
				t.Errorf("AllowedFrom(%s) = %v, want %v", tt.target, got, tt.want)
			}
		})
	}
}

// TestCommandLifecycle walks a full command through the table:
// pending -> sent -> acknowledged, verifying each hop and that the terminal
// state rejects everything.
func TestCommandLifecycle(t *testing.T) {
	t.Parallel()

	status := store.StatusPending

	if !store.TransitionAllowed(status, store.StatusSent) {
		t.Fatal("pending -> sent rejected")
	}
	status = store.StatusSent

	if !store.TransitionAllowed(status, store.StatusAcknowledged) {
		t.Fatal("sent -> acknowledged rejected")
	}
	status = store.StatusAcknowledged

	for _, target := range []store.CommandStatus{
		store.StatusPending, store.StatusSent, store.StatusFailed, store.StatusAcknowledged,
	} {
		if store.TransitionAllowed(status, target) {
			t.Errorf("acknowledged -> %s allowed, want rejected (terminal)", target)
		}
	}
}
