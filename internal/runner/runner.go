package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/warrenlabs/warren/internal/epic"
	"github.com/warrenlabs/warren/pkg/models"
	"github.com/warrenlabs/warren/pkg/permission"
)

// MessagesAPI is the slice of the Anthropic client the runner needs. Tests
// substitute a fake.
type MessagesAPI interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

const systemPrompt = "You are a software agent working one sub-task of a larger epic. " +
	"Reason about the sub-task and reply with the concrete next working state."

// Runner builds Claude-backed work functions. Each call sends the
// assignment's title, description, and replayed branch state to the Messages
// API and appends the response to the branch as a reasoning step.
type Runner struct {
	api         MessagesAPI
	model       anthropic.Model
	maxAttempts int
	backoff     time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithModel sets the model used for work calls.
func WithModel(m anthropic.Model) Option {
	return func(r *Runner) { r.model = m }
}

// WithMaxAttempts bounds retries of a single API call.
func WithMaxAttempts(n int) Option {
	return func(r *Runner) {
		if n >= 1 {
			r.maxAttempts = n
		}
	}
}

// WithBackoff sets the base delay between retries. The delay doubles per
// attempt.
func WithBackoff(d time.Duration) Option {
	return func(r *Runner) { r.backoff = d }
}

// New creates a Runner over the given Messages API.
func New(api MessagesAPI, opts ...Option) *Runner {
	r := &Runner{
		api:         api,
		model:       anthropic.ModelClaudeSonnet4_20250514,
		maxAttempts: 3,
		backoff:     time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Work returns an epic.Work running this runner's model call. The declared
// operations are the sub-tasks' own requirements plus the network call the
// runner itself makes.
func (r *Runner) Work(requires []permission.Operation) epic.Work {
	return epic.Work{
		Requires: withNetworkCall(requires),
		Fn:       r.run,
	}
}

// withNetworkCall unions OpNetworkCall into the declared operations.
func withNetworkCall(requires []permission.Operation) []permission.Operation {
	ops := make([]permission.Operation, 0, len(requires)+1)
	have := false
	for _, op := range requires {
		if op == permission.OpNetworkCall {
			have = true
		}
		ops = append(ops, op)
	}
	if !have {
		ops = append(ops, permission.OpNetworkCall)
	}
	return ops
}

func (r *Runner) run(ctx context.Context, a models.SubIssueAssignment) (models.SubIssueAssignment, error) {
	prompt := buildPrompt(a)

	resp, err := r.call(ctx, prompt)
	if err != nil {
		return a, err
	}

	text := responseText(resp)
	if text == "" {
		return a, fmt.Errorf("sub-task %s: empty model response", a.SubTaskID)
	}

	if a.Branch != nil {
		b := a.Branch.WithReasoningStep("model_response", text, prompt)
		a.Branch = &b
	}
	return a, nil
}

// call issues the API request with retry and exponential backoff. Permanent
// API errors and context cancellation abort immediately.
func (r *Runner) call(ctx context.Context, prompt string) (*anthropic.Message, error) {
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		resp, err := r.api.New(ctx, anthropic.MessageNewParams{
			Model:     r.model,
			MaxTokens: 4096,
			System: []anthropic.TextBlockParam{
				{Text: systemPrompt},
			},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil || !retryable(err) || attempt == r.maxAttempts {
			break
		}
		delay := r.backoff << (attempt - 1)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("model call failed after retries: %w", lastErr)
}

// retryable reports whether an API error is worth another attempt. Transport
// failures retry; API errors retry only on throttling or server faults.
func retryable(err error) bool {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == 408, apierr.StatusCode == 429:
			return true
		case apierr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}
	return true
}

// buildPrompt renders the assignment and its branch history for the model.
func buildPrompt(a models.SubIssueAssignment) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Sub-task %s of epic %s.\n", a.SubTaskID, a.EpicID)
	if a.Title != "" {
		fmt.Fprintf(&sb, "Title: %s\n", a.Title)
	}
	if a.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", a.Description)
	}
	if a.Branch != nil {
		st := a.Branch.Replay()
		fmt.Fprintf(&sb, "Prior reasoning steps: %d.\n", st.StepCount)
		if st.LastSnapshot != "" {
			fmt.Fprintf(&sb, "Last working state:\n%s\n", st.LastSnapshot)
		}
	}
	sb.WriteString("Produce the next working state for this sub-task.")
	return sb.String()
}

// responseText concatenates the text blocks of a response.
func responseText(resp *anthropic.Message) string {
	var sb strings.Builder
	for _, block := range resp.Content {
		if v, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(v.Text)
		}
	}
	return sb.String()
}
