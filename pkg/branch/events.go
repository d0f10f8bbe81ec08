package branch

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Event is one immutable, timestamped entry in a branch's record. The set of
// variants is closed: only types in this package satisfy the interface, so
// Replay can match them exhaustively.
type Event interface {
	// EventID returns the event's unique, lexically sortable id.
	EventID() string
	// OccurredAt returns when the event was recorded.
	OccurredAt() time.Time

	branchEvent()
}

// ReasoningStep records one reasoning pass taken while working a sub-task.
type ReasoningStep struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`
	// Kind labels the step, e.g. "plan" or "model_response".
	Kind string `json:"kind"`
	// StateSnapshot is the working state captured after the step.
	StateSnapshot string `json:"state_snapshot"`
	// Prompt is the input that produced the step.
	Prompt string `json:"prompt,omitempty"`
	// Timestamp is when the step was recorded.
	Timestamp time.Time `json:"timestamp"`
}

// EventID returns the event's unique id.
func (e ReasoningStep) EventID() string { return e.ID }

// OccurredAt returns when the step was recorded.
func (e ReasoningStep) OccurredAt() time.Time { return e.Timestamp }

func (ReasoningStep) branchEvent() {}

// IngestEvent records material pulled into the branch from an external source.
type IngestEvent struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`
	// Source names where the items came from.
	Source string `json:"source"`
	// Items are the ingested references or snippets.
	Items []string `json:"items"`
	// Timestamp is when the ingest was recorded.
	Timestamp time.Time `json:"timestamp"`
}

// EventID returns the event's unique id.
func (e IngestEvent) EventID() string { return e.ID }

// OccurredAt returns when the ingest was recorded.
func (e IngestEvent) OccurredAt() time.Time { return e.Timestamp }

func (IngestEvent) branchEvent() {}

// NewEventID returns a fresh ULID for use as an event id.
func NewEventID() string {
	return ulid.Make().String()
}
