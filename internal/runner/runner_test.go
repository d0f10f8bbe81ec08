package runner

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/warrenlabs/warren/pkg/branch"
	"github.com/warrenlabs/warren/pkg/models"
	"github.com/warrenlabs/warren/pkg/permission"
)

// fakeAPI scripts Messages.New responses for tests.
type fakeAPI struct {
	calls     int
	failTimes int
	failWith  error
	text      string
	block     bool
}

func (f *fakeAPI) New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.calls <= f.failTimes {
		return nil, f.failWith
	}
	return textMessage(f.text), nil
}

// textMessage builds a Message through the SDK's own JSON decoding so the
// content blocks behave like real responses.
func textMessage(text string) *anthropic.Message {
	payload, _ := json.Marshal(map[string]any{
		"type": "message",
		"role": "assistant",
		"content": []map[string]any{
			{"type": "text", "text": text},
		},
		"usage": map[string]any{"input_tokens": 10, "output_tokens": 20},
	})
	var msg anthropic.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		panic(err)
	}
	return &msg
}

func testAssignment() models.SubIssueAssignment {
	b := branch.New("epic-E1/sub-task-A")
	return models.SubIssueAssignment{
		EpicID:      "E1",
		SubTaskID:   "A",
		Title:       "Extract ledger",
		Description: "Split the ledger out of payments.",
		BranchName:  b.ID(),
		Branch:      &b,
		Status:      models.StatusInProgress,
	}
}

func TestWorkAppendsReasoningStep(t *testing.T) {
	api := &fakeAPI{text: "ledger extracted"}
	r := New(api, WithMaxAttempts(1))

	work := r.Work(nil)
	got, err := work.Fn(context.Background(), testAssignment())
	if err != nil {
		t.Fatalf("work failed: %v", err)
	}
	if api.calls != 1 {
		t.Errorf("API calls = %d, want 1", api.calls)
	}
	if got.Branch.Len() != 1 {
		t.Fatalf("branch has %d events, want 1", got.Branch.Len())
	}

	st := got.Branch.Replay()
	if st.LastKind != "model_response" {
		t.Errorf("last kind = %q, want model_response", st.LastKind)
	}
	if st.LastSnapshot != "ledger extracted" {
		t.Errorf("snapshot = %q, want model text", st.LastSnapshot)
	}
	if len(st.Prompts) != 1 || !strings.Contains(st.Prompts[0], "Extract ledger") {
		t.Errorf("prompt should carry the sub-task title, got %v", st.Prompts)
	}
}

func TestWorkDeclaresNetworkCall(t *testing.T) {
	r := New(&fakeAPI{text: "x"})

	work := r.Work([]permission.Operation{permission.OpInspect})
	found := false
	for _, op := range work.Requires {
		if op == permission.OpNetworkCall {
			found = true
		}
	}
	if !found {
		t.Errorf("Requires = %v, should include network", work.Requires)
	}

	// Declaring network explicitly must not duplicate it.
	work = r.Work([]permission.Operation{permission.OpNetworkCall})
	if len(work.Requires) != 1 {
		t.Errorf("Requires = %v, want exactly one network op", work.Requires)
	}
}

func TestWorkRetriesTransientFailures(t *testing.T) {
	api := &fakeAPI{
		failTimes: 2,
		failWith:  errors.New("connection reset"),
		text:      "recovered",
	}
	r := New(api, WithMaxAttempts(3), WithBackoff(time.Millisecond))

	got, err := r.Work(nil).Fn(context.Background(), testAssignment())
	if err != nil {
		t.Fatalf("work failed: %v", err)
	}
	if api.calls != 3 {
		t.Errorf("API calls = %d, want 3", api.calls)
	}
	if got.Branch.Replay().LastSnapshot != "recovered" {
		t.Error("response after retries should reach the branch")
	}
}

func TestWorkExhaustsAttempts(t *testing.T) {
	cause := errors.New("connection reset")
	api := &fakeAPI{failTimes: 10, failWith: cause}
	r := New(api, WithMaxAttempts(2), WithBackoff(time.Millisecond))

	a := testAssignment()
	_, err := r.Work(nil).Fn(context.Background(), a)
	if !errors.Is(err, cause) {
		t.Fatalf("error = %v, want wrapped cause", err)
	}
	if api.calls != 2 {
		t.Errorf("API calls = %d, want 2", api.calls)
	}
}

func TestWorkHonorsCancellation(t *testing.T) {
	api := &fakeAPI{block: true}
	r := New(api, WithMaxAttempts(3), WithBackoff(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := r.Work(nil).Fn(ctx, testAssignment())
	if err == nil {
		t.Fatal("cancelled work should fail")
	}
	if api.calls != 1 {
		t.Errorf("API calls = %d, cancellation must not trigger retries", api.calls)
	}
}

func TestSimulatedWork(t *testing.T) {
	work := SimulatedWork(0)
	if len(work.Requires) != 0 {
		t.Errorf("simulated work should require no operations, got %v", work.Requires)
	}

	got, err := work.Fn(context.Background(), testAssignment())
	if err != nil {
		t.Fatalf("simulated work failed: %v", err)
	}
	if got.Branch.Len() != 1 {
		t.Errorf("branch has %d events, want 1", got.Branch.Len())
	}
	if got.Branch.Replay().LastKind != "simulated" {
		t.Errorf("last kind = %q, want simulated", got.Branch.Replay().LastKind)
	}
}

func TestSimulatedWorkCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := testAssignment()
	_, err := SimulatedWork(time.Hour).Fn(ctx, a)
	if err == nil {
		t.Fatal("cancelled simulated work should fail")
	}
}
