package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/warrenlabs/warren/internal/epic"
	"github.com/warrenlabs/warren/pkg/models"
)

// SimulatedWork returns a work function that performs no network calls: it
// waits for delay, appends a synthetic reasoning step, and completes. Used
// for dry runs and demos.
func SimulatedWork(delay time.Duration) epic.Work {
	return epic.Work{
		Fn: func(ctx context.Context, a models.SubIssueAssignment) (models.SubIssueAssignment, error) {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return a, ctx.Err()
				}
			}
			if a.Branch != nil {
				snapshot := fmt.Sprintf("simulated completion of sub-task %s", a.SubTaskID)
				b := a.Branch.WithReasoningStep("simulated", snapshot, "")
				a.Branch = &b
			}
			return a, nil
		},
	}
}
