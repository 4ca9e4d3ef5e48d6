package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kazz187/taskflow/pkg/cerr"
)

// Service manages rule definitions. Every write drops the matcher cache.
type Service struct {
	repo    Repository
	matcher *Matcher
	now     func() time.Time
}

func NewService(repo Repository, matcher *Matcher) *Service {
	return &Service{repo: repo, matcher: matcher, now: time.Now}
}

type CreateRuleRequest struct {
	Name          string            `json:"name"`
	TriggerType   TriggerType       `json:"trigger_type"`
	TriggerConfig map[string]string `json:"trigger_config,omitempty"`
	Actions       []Action          `json:"actions"`
	// IsActive defaults to true when omitted.
	IsActive *bool `json:"is_active,omitempty"`
}

func (s *Service) Create(ctx context.Context, req CreateRuleRequest) (*Rule, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}
	now := s.now()
	rule := &Rule{
		ID:            ulid.Make().String(),
		Name:          req.Name,
		IsActive:      req.IsActive == nil || *req.IsActive,
		TriggerType:   req.TriggerType,
		TriggerConfig: req.TriggerConfig,
		Actions:       make([]Action, len(req.Actions)),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for i, a := range req.Actions {
		if a.ID == "" {
			a.ID = ulid.Make().String()
		}
		rule.Actions[i] = a
	}
	if err := s.repo.Create(ctx, rule); err != nil {
		return nil, err
	}
	s.matcher.Invalidate()
	return rule, nil
}

func validateCreate(req CreateRuleRequest) error {
	var violations []string
	if req.Name == "" {
		violations = append(violations, "name is required")
	}
	if _, err := ParseTriggerType(string(req.TriggerType)); err != nil {
		violations = append(violations, err.Error())
	}
	if len(req.Actions) == 0 {
		violations = append(violations, "at least one action is required")
	}
	for i, a := range req.Actions {
		if a.Type == "" {
			violations = append(violations, fmt.Sprintf("actions[%d]: type is required", i))
			continue
		}
		if a.Type == ActionTypeHTTPRequest {
			if url, _ := a.Config["url"].(string); url == "" {
				violations = append(violations, fmt.Sprintf("actions[%d]: config.url is required", i))
			}
		}
	}
	if len(violations) == 0 {
		return nil
	}
	err := cerr.NewError(cerr.InvalidArgument, "invalid workflow rule", nil)
	for _, v := range violations {
		err.AddDetailMessage(v)
	}
	return err
}

func (s *Service) Get(ctx context.Context, id string) (*Rule, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, triggerType TriggerType) ([]*Rule, error) {
	return s.repo.List(ctx, triggerType, false)
}

// SetActive soft-enables or disables a rule. Jobs already enqueued keep the
// actions they captured and run regardless.
func (s *Service) SetActive(ctx context.Context, id string, active bool) (*Rule, error) {
	rule, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule.IsActive == active {
		return rule, nil
	}
	rule.IsActive = active
	rule.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, rule); err != nil {
		return nil, err
	}
	s.matcher.Invalidate()
	return rule, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.matcher.Invalidate()
	return nil
}
