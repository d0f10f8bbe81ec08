// Package branch implements the append-only execution record kept for each
// sub-task. A Branch is an immutable value: every update returns a new Branch
// sharing the old event prefix, so holding two references to one branch forks
// it into independent continuations without copying or locking.
package branch

import (
	"context"
	"time"
)

// RetrievalStore is an externally-owned lookup resource a branch may
// reference. The branch stores and forwards the handle but never calls it.
type RetrievalStore interface {
	// Lookup returns up to limit stored items matching query.
	Lookup(ctx context.Context, query string, limit int) ([]string, error)
}

// DataSource is an externally-owned data handle a branch may reference.
type DataSource interface {
	// Fetch returns the raw contents of the named reference.
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// Branch is one sub-task's execution record: an ordered event sequence plus
// references to resources owned elsewhere. The zero value is unusable; start
// with New.
type Branch struct {
	id     string
	events []Event
	store  RetrievalStore
	source DataSource
}

// New returns an empty branch with the given id.
func New(id string) Branch {
	return Branch{id: id}
}

// ID returns the branch identifier.
func (b Branch) ID() string { return b.id }

// WithEvent returns a new branch with e appended. The receiver is unchanged
// and remains independently usable. The three-index append caps the shared
// prefix so divergent continuations never overwrite each other.
func (b Branch) WithEvent(e Event) Branch {
	nb := b
	nb.events = append(b.events[:len(b.events):len(b.events)], e)
	return nb
}

// WithReasoningStep appends a ReasoningStep with a fresh id and timestamp.
func (b Branch) WithReasoningStep(kind, stateSnapshot, prompt string) Branch {
	return b.WithEvent(ReasoningStep{
		ID:            NewEventID(),
		Kind:          kind,
		StateSnapshot: stateSnapshot,
		Prompt:        prompt,
		Timestamp:     time.Now().UTC(),
	})
}

// WithIngest appends an IngestEvent with a fresh id and timestamp. The items
// slice is copied so later caller mutation cannot reach the record.
func (b Branch) WithIngest(source string, items []string) Branch {
	copied := make([]string, len(items))
	copy(copied, items)
	return b.WithEvent(IngestEvent{
		ID:        NewEventID(),
		Source:    source,
		Items:     copied,
		Timestamp: time.Now().UTC(),
	})
}

// WithStore returns a new branch referencing the given retrieval store.
func (b Branch) WithStore(s RetrievalStore) Branch {
	nb := b
	nb.store = s
	return nb
}

// WithSource returns a new branch referencing the given data source.
func (b Branch) WithSource(s DataSource) Branch {
	nb := b
	nb.source = s
	return nb
}

// Store returns the referenced retrieval store, or nil.
func (b Branch) Store() RetrievalStore { return b.store }

// Source returns the referenced data source, or nil.
func (b Branch) Source() DataSource { return b.source }

// Events returns the event sequence in append order. The slice is a copy;
// mutating it does not affect the branch.
func (b Branch) Events() []Event {
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// Len returns the number of recorded events.
func (b Branch) Len() int { return len(b.events) }
