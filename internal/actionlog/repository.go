package actionlog

import "context"

type Repository interface {
	Create(ctx context.Context, log *ActionLog) error
	// List returns matching rows newest first with the total match count.
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]*ActionLog, int, error)
}
