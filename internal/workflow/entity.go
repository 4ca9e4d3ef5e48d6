package workflow

import (
	"fmt"
	"time"
)

type TriggerType string

const (
	TriggerTaskCompleted  TriggerType = "TASK_COMPLETED"
	TriggerProjectCreated TriggerType = "PROJECT_CREATED"
	TriggerStoryCreated   TriggerType = "STORY_CREATED"
)

func ParseTriggerType(s string) (TriggerType, error) {
	switch tt := TriggerType(s); tt {
	case TriggerTaskCompleted, TriggerProjectCreated, TriggerStoryCreated:
		return tt, nil
	default:
		return "", fmt.Errorf("unknown trigger type %q", s)
	}
}

type ActionType string

const ActionTypeHTTPRequest ActionType = "HTTP_REQUEST"

// Rule binds a trigger type to an ordered list of actions.
type Rule struct {
	ID          string      `yaml:"id" json:"id"`
	Name        string      `yaml:"name" json:"name"`
	IsActive    bool        `yaml:"is_active" json:"is_active"`
	TriggerType TriggerType `yaml:"trigger_type" json:"trigger_type"`
	// TriggerConfig is opaque to the core and only handed to a Filter.
	TriggerConfig map[string]string `yaml:"trigger_config,omitempty" json:"trigger_config,omitempty"`
	Actions       []Action          `yaml:"actions" json:"actions"`
	CreatedAt     time.Time         `yaml:"created_at" json:"created_at"`
	UpdatedAt     time.Time         `yaml:"updated_at" json:"updated_at"`
}

type Action struct {
	ID   string     `yaml:"id" json:"id"`
	Type ActionType `yaml:"type" json:"type"`
	// Config keys for HTTP_REQUEST: method, url, headers, body.
	Config map[string]any `yaml:"config" json:"config"`
	Order  int            `yaml:"order" json:"order"`
}
