package epic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/warrenlabs/warren/pkg/models"
	"github.com/warrenlabs/warren/pkg/permission"
)

// appendingWork returns a Work whose function appends one reasoning step to
// the assignment's branch.
func appendingWork() Work {
	return Work{
		Requires: []permission.Operation{permission.OpInspect},
		Fn: func(ctx context.Context, a models.SubIssueAssignment) (models.SubIssueAssignment, error) {
			if a.Branch != nil {
				b := a.Branch.WithReasoningStep("work", "done", "prompt")
				a.Branch = &b
			}
			return a, nil
		},
	}
}

func TestExecuteSubTaskSuccess(t *testing.T) {
	c, _ := newTestCoordinator(t, DefaultConfig())
	if _, err := c.RegisterEpic("E1", "T", "", []string{"A"}); err != nil {
		t.Fatalf("RegisterEpic failed: %v", err)
	}

	a, err := c.ExecuteSubTask(context.Background(), "E1", "A", appendingWork())
	if err != nil {
		t.Fatalf("ExecuteSubTask failed: %v", err)
	}
	if a.Status != models.StatusCompleted {
		t.Errorf("status = %q, want completed", a.Status)
	}
	if a.CompletedAt == nil {
		t.Error("completed assignment must carry CompletedAt")
	}
	if a.Branch == nil || a.Branch.Len() != 1 {
		t.Errorf("branch should carry the work function's event, got %v", a.Branch)
	}

	stored, _ := c.GetAssignment("E1", "A")
	if stored.Status != models.StatusCompleted || stored.Branch.Len() != 1 {
		t.Errorf("stored assignment = %+v, want completed with updated branch", stored)
	}
}

func TestExecuteSubTaskWorkFailure(t *testing.T) {
	c, _ := newTestCoordinator(t, DefaultConfig())
	if _, err := c.RegisterEpic("E1", "T", "", []string{"A"}); err != nil {
		t.Fatalf("RegisterEpic failed: %v", err)
	}
	before, _ := c.GetAssignment("E1", "A")

	boom := errors.New("deliberate failure")
	work := Work{Fn: func(ctx context.Context, a models.SubIssueAssignment) (models.SubIssueAssignment, error) {
		b := a.Branch.WithReasoningStep("work", "partial", "")
		a.Branch = &b
		return a, boom
	}}

	a, err := c.ExecuteSubTask(context.Background(), "E1", "A", work)
	if !errors.Is(err, ErrWorkFailure) {
		t.Fatalf("error = %v, want ErrWorkFailure", err)
	}
	var we *WorkError
	if !errors.As(err, &we) || !errors.Is(we, boom) {
		t.Errorf("error %v should wrap the work function's cause", err)
	}
	if a.Status != models.StatusFailed {
		t.Errorf("status = %q, want failed", a.Status)
	}
	if a.ErrorMessage == "" {
		t.Error("failed assignment must carry an error message")
	}
	// The branch stays at its pre-call value on failure.
	if a.Branch.Len() != before.Branch.Len() {
		t.Errorf("branch grew to %d events on failure, want %d", a.Branch.Len(), before.Branch.Len())
	}
}

func TestExecuteSubTaskUnknownAssignment(t *testing.T) {
	c, _ := newTestCoordinator(t, DefaultConfig())
	_, err := c.ExecuteSubTask(context.Background(), "nope", "A", appendingWork())
	if !errors.Is(err, ErrUnknownAssignment) {
		t.Errorf("error = %v, want ErrUnknownAssignment", err)
	}
}

func TestExecuteSubTaskNilWorkFunc(t *testing.T) {
	c, _ := newTestCoordinator(t, DefaultConfig())
	if _, err := c.ExecuteSubTask(context.Background(), "E1", "A", Work{}); err == nil {
		t.Error("nil work function should be rejected")
	}
}

func TestExecuteSubTaskPermissionDenied(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultPermissionLevel = permission.Isolated
	c, _ := newTestCoordinator(t, cfg)
	if _, err := c.RegisterEpic("E1", "T", "", []string{"A"}); err != nil {
		t.Fatalf("RegisterEpic failed: %v", err)
	}

	ran := false
	work := Work{
		Requires: []permission.Operation{permission.OpInspect, permission.OpHostExec},
		Fn: func(ctx context.Context, a models.SubIssueAssignment) (models.SubIssueAssignment, error) {
			ran = true
			return a, nil
		},
	}

	a, err := c.ExecuteSubTask(context.Background(), "E1", "A", work)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("error = %v, want ErrPermissionDenied", err)
	}
	var pe *PermissionDeniedError
	if !errors.As(err, &pe) {
		t.Fatalf("error %v should be a *PermissionDeniedError", err)
	}
	if pe.Op != permission.OpHostExec || pe.Level != permission.Isolated {
		t.Errorf("denial = %+v, want exec denied at isolated", pe)
	}
	if ran {
		t.Error("denied work function must never run")
	}
	if a.Status != models.StatusFailed || a.ErrorMessage == "" {
		t.Errorf("assignment = %+v, want failed with message, never in_progress", a)
	}
}

func TestExecuteSubTaskPreCancelledSkips(t *testing.T) {
	c, _ := newTestCoordinator(t, DefaultConfig())
	if _, err := c.RegisterEpic("E1", "T", "", []string{"A"}); err != nil {
		t.Fatalf("RegisterEpic failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	work := Work{Fn: func(ctx context.Context, a models.SubIssueAssignment) (models.SubIssueAssignment, error) {
		ran = true
		return a, nil
	}}

	a, err := c.ExecuteSubTask(ctx, "E1", "A", work)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("error = %v, want ErrCancelled", err)
	}
	if ran {
		t.Error("work function must not run after cancellation")
	}
	if a.Status != models.StatusFailed || a.ErrorMessage == "" {
		t.Errorf("skipped assignment = %+v, want failed with message", a)
	}
}

func TestExecuteSubTaskMidFlightCancellation(t *testing.T) {
	c, _ := newTestCoordinator(t, DefaultConfig())
	if _, err := c.RegisterEpic("E1", "T", "", []string{"A"}); err != nil {
		t.Fatalf("RegisterEpic failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	work := Work{Fn: func(ctx context.Context, a models.SubIssueAssignment) (models.SubIssueAssignment, error) {
		close(started)
		<-ctx.Done()
		return a, ctx.Err()
	}}

	go func() {
		<-started
		cancel()
	}()

	a, err := c.ExecuteSubTask(ctx, "E1", "A", work)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("error = %v, want ErrCancelled", err)
	}
	if a.Status != models.StatusFailed || a.ErrorMessage == "" {
		t.Errorf("cancelled assignment = %+v, want failed with message", a)
	}
}

func TestExecuteSubTaskTerminalRejected(t *testing.T) {
	c, _ := newTestCoordinator(t, DefaultConfig())
	if _, err := c.RegisterEpic("E1", "T", "", []string{"A"}); err != nil {
		t.Fatalf("RegisterEpic failed: %v", err)
	}
	if _, err := c.ExecuteSubTask(context.Background(), "E1", "A", appendingWork()); err != nil {
		t.Fatalf("first execution failed: %v", err)
	}

	_, err := c.ExecuteSubTask(context.Background(), "E1", "A", appendingWork())
	if !errors.Is(err, ErrInvalidStatusTransition) {
		t.Errorf("re-executing a completed sub-task error = %v, want ErrInvalidStatusTransition", err)
	}
}

func TestExecuteManyConcurrentlyBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentSubTasks = 3
	c, _ := newTestCoordinator(t, cfg)

	ids := make([]string, 12)
	for i := range ids {
		ids[i] = fmt.Sprintf("t%d", i)
	}
	if _, err := c.RegisterEpic("E1", "T", "", ids); err != nil {
		t.Fatalf("RegisterEpic failed: %v", err)
	}

	var inFlight, peak atomic.Int64
	var mu sync.Mutex
	work := Work{Fn: func(ctx context.Context, a models.SubIssueAssignment) (models.SubIssueAssignment, error) {
		n := inFlight.Add(1)
		mu.Lock()
		if n > peak.Load() {
			peak.Store(n)
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return a, nil
	}}

	results := c.ExecuteManyConcurrently(context.Background(), "E1", ids, work)
	if len(results) != len(ids) {
		t.Fatalf("got %d results, want %d", len(results), len(ids))
	}
	for _, r := range results {
		if r.Err != nil {
			t.Errorf("sub-task %s failed: %v", r.SubTaskID, r.Err)
		}
	}
	if got := peak.Load(); got > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", got)
	}
}

func TestExecuteManyConcurrentlyPartialFailure(t *testing.T) {
	c, _ := newTestCoordinator(t, DefaultConfig())

	ids := []string{"t1", "t2", "t3", "t4", "t5"}
	if _, err := c.RegisterEpic("E1", "T", "", ids); err != nil {
		t.Fatalf("RegisterEpic failed: %v", err)
	}

	work := Work{Fn: func(ctx context.Context, a models.SubIssueAssignment) (models.SubIssueAssignment, error) {
		if a.SubTaskID == "t3" {
			return a, errors.New("deliberate failure")
		}
		return a, nil
	}}

	results := c.ExecuteManyConcurrently(context.Background(), "E1", ids, work)
	if len(results) != 5 {
		t.Fatalf("got %d results, want 5", len(results))
	}

	var completed, failed int
	for i, r := range results {
		if r.SubTaskID != ids[i] {
			t.Errorf("result %d is for %q, want input position order %q", i, r.SubTaskID, ids[i])
		}
		switch {
		case r.Err == nil:
			completed++
			if r.Assignment.Status != models.StatusCompleted {
				t.Errorf("successful sub-task %s status = %q", r.SubTaskID, r.Assignment.Status)
			}
		default:
			failed++
			if r.SubTaskID != "t3" {
				t.Errorf("unexpected failure for %s: %v", r.SubTaskID, r.Err)
			}
			if r.Assignment.Status != models.StatusFailed || r.Assignment.ErrorMessage == "" {
				t.Errorf("failed assignment = %+v, want failed with message", r.Assignment)
			}
		}
	}
	if completed != 4 || failed != 1 {
		t.Errorf("completed/failed = %d/%d, want 4/1", completed, failed)
	}
}

func TestExecuteManyConcurrentlyCancelledContext(t *testing.T) {
	c, _ := newTestCoordinator(t, DefaultConfig())

	ids := []string{"a", "b", "c"}
	if _, err := c.RegisterEpic("E1", "T", "", ids); err != nil {
		t.Fatalf("RegisterEpic failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := c.ExecuteManyConcurrently(ctx, "E1", ids, appendingWork())
	if len(results) != len(ids) {
		t.Fatalf("got %d results, want %d", len(results), len(ids))
	}
	for _, r := range results {
		if !errors.Is(r.Err, ErrCancelled) {
			t.Errorf("sub-task %s error = %v, want ErrCancelled", r.SubTaskID, r.Err)
		}
		if r.Assignment.Status != models.StatusFailed {
			t.Errorf("sub-task %s status = %q, want failed", r.SubTaskID, r.Assignment.Status)
		}
	}
}

func TestExecuteSubTaskPulsesHeartbeats(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HeartbeatInterval = 5 * time.Millisecond
	c, reg := newTestCoordinator(t, cfg)
	if _, err := c.RegisterEpic("E1", "T", "", []string{"A"}); err != nil {
		t.Fatalf("RegisterEpic failed: %v", err)
	}

	before, _ := reg.Get("warren-E1-A")
	work := Work{Fn: func(ctx context.Context, a models.SubIssueAssignment) (models.SubIssueAssignment, error) {
		time.Sleep(30 * time.Millisecond)
		return a, nil
	}}
	if _, err := c.ExecuteSubTask(context.Background(), "E1", "A", work); err != nil {
		t.Fatalf("ExecuteSubTask failed: %v", err)
	}

	after, _ := reg.Get("warren-E1-A")
	if !after.LastHeartbeat.After(before.LastHeartbeat) {
		t.Error("agent should have heartbeated during execution")
	}
}
