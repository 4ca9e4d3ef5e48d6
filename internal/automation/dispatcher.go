package automation

import (
	"cmp"
	"context"
	"encoding/json"
	"log/slog"
	"slices"

	"github.com/kazz187/taskflow/internal/eventbus"
	"github.com/kazz187/taskflow/internal/jobqueue"
	"github.com/kazz187/taskflow/internal/workflow"
)

type RuleMatcher interface {
	Match(ctx context.Context, triggerType workflow.TriggerType, eventContext any) ([]*workflow.Rule, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, payload jobqueue.Payload, policy jobqueue.Policy) (string, error)
}

// Dispatcher turns a domain event into one queued job per matching rule.
type Dispatcher struct {
	matcher  RuleMatcher
	queue    Enqueuer
	eventBus *eventbus.Bus
	policy   jobqueue.Policy
}

type DispatcherOption func(*Dispatcher)

func WithPolicy(p jobqueue.Policy) DispatcherOption {
	return func(d *Dispatcher) { d.policy = p }
}

func NewDispatcher(matcher RuleMatcher, queue Enqueuer, eventBus *eventbus.Bus, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		matcher:  matcher,
		queue:    queue,
		eventBus: eventBus,
		policy:   jobqueue.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Trigger enqueues a job for every active rule bound to triggerType and
// returns the ids of the jobs it managed to enqueue. It never fails: match
// and enqueue errors are logged so the domain operation that raised the
// event is unaffected.
func (d *Dispatcher) Trigger(ctx context.Context, triggerType workflow.TriggerType, eventContext any) []string {
	raw, err := encodeContext(eventContext)
	if err != nil {
		slog.ErrorContext(ctx, "failed to encode trigger context", "trigger_type", triggerType, "error", err)
		return nil
	}

	rules, err := d.matcher.Match(ctx, triggerType, eventContext)
	if err != nil {
		slog.ErrorContext(ctx, "failed to match workflow rules", "trigger_type", triggerType, "error", err)
		return nil
	}

	var jobIDs []string
	for _, rule := range rules {
		payload := jobqueue.Payload{
			WorkflowID:  rule.ID,
			TriggerType: triggerType,
			Context:     raw,
			Actions:     sortedActions(rule.Actions),
		}
		jobID, err := d.queue.Enqueue(ctx, payload, d.policy)
		if err != nil {
			slog.ErrorContext(ctx, "failed to enqueue automation job", "trigger_type", triggerType, "workflow_id", rule.ID, "error", err)
			continue
		}
		jobIDs = append(jobIDs, jobID)
		if d.eventBus != nil {
			d.eventBus.PublishNew(eventbus.EventJobEnqueued, jobID, map[string]string{
				"workflow_id":  rule.ID,
				"trigger_type": string(triggerType),
			})
		}
	}
	slog.DebugContext(ctx, "dispatched trigger", "trigger_type", triggerType, "rules", len(rules), "jobs", len(jobIDs))
	return jobIDs
}

func sortedActions(actions []workflow.Action) []workflow.Action {
	sorted := slices.Clone(actions)
	slices.SortStableFunc(sorted, func(a, b workflow.Action) int {
		return cmp.Compare(a.Order, b.Order)
	})
	return sorted
}

func encodeContext(v any) (json.RawMessage, error) {
	switch c := v.(type) {
	case json.RawMessage:
		return c, nil
	case []byte:
		return json.RawMessage(c), nil
	default:
		return json.Marshal(v)
	}
}
