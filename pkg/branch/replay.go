package branch

import "time"

// State is the materialized view of a branch, rebuilt by folding its events
// in append order. It exists for inspection and debugging, not the hot path.
type State struct {
	// BranchID is the id of the replayed branch.
	BranchID string `json:"branch_id"`
	// StepCount is the number of reasoning steps recorded.
	StepCount int `json:"step_count"`
	// IngestCount is the number of ingest events recorded.
	IngestCount int `json:"ingest_count"`
	// LastKind is the kind of the most recent reasoning step.
	LastKind string `json:"last_kind,omitempty"`
	// LastSnapshot is the working state after the most recent reasoning step.
	LastSnapshot string `json:"last_snapshot,omitempty"`
	// Prompts lists every prompt seen, in order.
	Prompts []string `json:"prompts,omitempty"`
	// Sources lists each ingest source, in order.
	Sources []string `json:"sources,omitempty"`
	// Items lists every ingested item, in order.
	Items []string `json:"items,omitempty"`
	// LastEventAt is the timestamp of the newest event.
	LastEventAt time.Time `json:"last_event_at"`
}

// Replay folds the event sequence left to right into a State. Replaying the
// same branch twice yields equal states; replaying a fork shares the prefix's
// contribution.
func (b Branch) Replay() State {
	st := State{BranchID: b.id}
	for _, e := range b.events {
		switch ev := e.(type) {
		case ReasoningStep:
			st.StepCount++
			st.LastKind = ev.Kind
			st.LastSnapshot = ev.StateSnapshot
			if ev.Prompt != "" {
				st.Prompts = append(st.Prompts, ev.Prompt)
			}
		case IngestEvent:
			st.IngestCount++
			st.Sources = append(st.Sources, ev.Source)
			st.Items = append(st.Items, ev.Items...)
		}
		if ts := e.OccurredAt(); ts.After(st.LastEventAt) {
			st.LastEventAt = ts
		}
	}
	return st
}
