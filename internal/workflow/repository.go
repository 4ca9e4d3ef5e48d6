package workflow

import "context"

type Repository interface {
	Create(ctx context.Context, r *Rule) error
	Get(ctx context.Context, id string) (*Rule, error)
	// List returns rules in creation order. An empty triggerType matches all.
	List(ctx context.Context, triggerType TriggerType, activeOnly bool) ([]*Rule, error)
	Update(ctx context.Context, r *Rule) error
	Delete(ctx context.Context, id string) error
}
