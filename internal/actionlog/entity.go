package actionlog

import "time"

type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// ActionLog records one attempted execution of one action. Rows are never
// updated; a retried job appends a new row per attempt.
type ActionLog struct {
	ID         string            `yaml:"id" json:"id"`
	JobID      string            `yaml:"job_id" json:"job_id"`
	WorkflowID string            `yaml:"workflow_id" json:"workflow_id"`
	ActionID   string            `yaml:"action_id" json:"action_id"`
	Attempt    int               `yaml:"attempt" json:"attempt"`
	Status     Status            `yaml:"status" json:"status"`
	Details    map[string]string `yaml:"details,omitempty" json:"details,omitempty"`
	ExecutedAt time.Time         `yaml:"executed_at" json:"executed_at"`
}

type ListFilter struct {
	WorkflowID string
	ActionID   string
	JobID      string
}

// Match reports whether l satisfies every non-empty field of f.
func (f ListFilter) Match(l *ActionLog) bool {
	return (f.WorkflowID == "" || l.WorkflowID == f.WorkflowID) &&
		(f.ActionID == "" || l.ActionID == f.ActionID) &&
		(f.JobID == "" || l.JobID == f.JobID)
}
