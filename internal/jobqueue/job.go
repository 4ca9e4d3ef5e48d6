package jobqueue

import (
	"encoding/json"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kazz187/taskflow/internal/workflow"
)

type State string

const (
	StatePending State = "PENDING"
	StateRunning State = "RUNNING"
	// StateFailed jobs exhausted their attempts and stay in the queue until
	// requeued by hand. Succeeded jobs are removed instead.
	StateFailed State = "FAILED"
)

// Policy controls retries of a whole job.
type Policy struct {
	MaxAttempts    int           `yaml:"max_attempts" json:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff" json:"initial_backoff"`
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, InitialBackoff: 5 * time.Second}
}

// Backoff returns the delay before the retry that follows the given failed
// attempt: InitialBackoff * 2^(attempt-1).
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Cap the shift so a misconfigured budget cannot overflow.
	shift := min(attempt-1, 30)
	return p.InitialBackoff * time.Duration(1<<shift)
}

// Payload is the snapshot a job carries: later edits to the rule do not
// affect it.
type Payload struct {
	WorkflowID  string               `json:"workflow_id"`
	TriggerType workflow.TriggerType `json:"trigger_type"`
	Context     json.RawMessage      `json:"context"`
	Actions     []workflow.Action    `json:"actions"`
}

type payloadDocument struct {
	WorkflowID  string               `yaml:"workflow_id"`
	TriggerType workflow.TriggerType `yaml:"trigger_type"`
	Context     string               `yaml:"context"`
	Actions     []workflow.Action    `yaml:"actions"`
}

// MarshalYAML stores the context as a JSON string so it round-trips byte for
// byte.
func (p Payload) MarshalYAML() (any, error) {
	return payloadDocument{
		WorkflowID:  p.WorkflowID,
		TriggerType: p.TriggerType,
		Context:     string(p.Context),
		Actions:     p.Actions,
	}, nil
}

func (p *Payload) UnmarshalYAML(node *yaml.Node) error {
	var doc payloadDocument
	if err := node.Decode(&doc); err != nil {
		return err
	}
	*p = Payload{
		WorkflowID:  doc.WorkflowID,
		TriggerType: doc.TriggerType,
		Actions:     doc.Actions,
	}
	if doc.Context != "" {
		p.Context = json.RawMessage(doc.Context)
	}
	return nil
}

type Job struct {
	ID        string     `yaml:"id" json:"id"`
	Payload   Payload    `yaml:"payload" json:"payload"`
	Policy    Policy     `yaml:"policy" json:"policy"`
	State     State      `yaml:"state" json:"state"`
	Attempts  int        `yaml:"attempts" json:"attempts"`
	LastError string     `yaml:"last_error,omitempty" json:"last_error,omitempty"`
	RunAt     time.Time  `yaml:"run_at" json:"run_at"`
	CreatedAt time.Time  `yaml:"created_at" json:"created_at"`
	UpdatedAt time.Time  `yaml:"updated_at" json:"updated_at"`
	FailedAt  *time.Time `yaml:"failed_at,omitempty" json:"failed_at,omitempty"`
}
