package task

import (
	"fmt"
	"slices"
	"time"
)

type Status string

const (
	StatusTodo       Status = "TODO"
	StatusInProgress Status = "IN_PROGRESS"
	StatusReview     Status = "REVIEW"
	StatusDone       Status = "DONE"
	// StatusHalted is owned by the reconciler: a task is HALTED exactly when
	// one of its blockers is not DONE.
	StatusHalted Status = "HALTED"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusTodo, StatusInProgress, StatusReview, StatusDone, StatusHalted:
		return st, nil
	default:
		return "", fmt.Errorf("unknown task status %q", s)
	}
}

type Task struct {
	ID          string    `yaml:"id" json:"id"`
	ProjectID   string    `yaml:"project_id" json:"project_id"`
	StoryID     string    `yaml:"story_id" json:"story_id"`
	Title       string    `yaml:"title" json:"title"`
	Description string    `yaml:"description" json:"description"`
	Status      Status    `yaml:"status" json:"status"`
	BlockedBy   []string  `yaml:"blocked_by" json:"blocked_by"`
	Blocking    []string  `yaml:"blocking" json:"blocking"`
	CreatedAt   time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt   time.Time `yaml:"updated_at" json:"updated_at"`
}

func addID(ids []string, id string) ([]string, bool) {
	if slices.Contains(ids, id) {
		return ids, false
	}
	return append(ids, id), true
}

func removeID(ids []string, id string) ([]string, bool) {
	i := slices.Index(ids, id)
	if i < 0 {
		return ids, false
	}
	return slices.Delete(slices.Clone(ids), i, i+1), true
}
