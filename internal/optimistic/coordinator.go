// Package optimistic implements the apply/write/rollback protocol shared by
// every mutating operation in the engine: capture the prior value, apply
// locally so callers see the change before any network round-trip, issue
// the remote write, and restore the captured value if the write fails.
package optimistic

import (
	"context"
	"fmt"
	"log"

	"thread-sync/internal/observability"
)

// Mutation describes one optimistic state change.
type Mutation struct {
	// Name labels the mutation in metrics and logs.
	Name string

	// Apply performs the local change and returns a rollback restoring the
	// captured prior value. A nil rollback means there is nothing to undo.
	Apply func() (rollback func())

	// Write issues the remote write. It runs to completion once started.
	Write func(ctx context.Context) error

	// KeepOnFailure suppresses rollback when the write fails. Used for
	// read receipts (a resurrected unread badge is worse than a stale
	// zero) and message sends (loss is worse than a visible failed entry).
	KeepOnFailure bool
}

// Coordinator runs mutations. It is stateless and safe for concurrent use;
// serialization of the underlying state is the owner's concern.
type Coordinator struct{}

// NewCoordinator constructs a Coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{}
}

// Run executes the mutation contract. Local state reflects the change when
// Run returns nil; on error the state was either restored or, for
// KeepOnFailure mutations, deliberately left applied.
func (c *Coordinator) Run(ctx context.Context, m Mutation) error {
	rollback := m.Apply()

	if err := m.Write(ctx); err != nil {
		if m.KeepOnFailure {
			observability.IncMutation(m.Name, "kept")
			log.Printf("mutation %s: write failed, keeping local state: %v", m.Name, err)
			return fmt.Errorf("%s: %w", m.Name, err)
		}
		if rollback != nil {
			rollback()
		}
		observability.IncMutation(m.Name, "rolled_back")
		log.Printf("mutation %s: write failed, rolled back: %v", m.Name, err)
		return fmt.Errorf("%s: %w", m.Name, err)
	}

	observability.IncMutation(m.Name, "applied")
	return nil
}
