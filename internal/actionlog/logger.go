package actionlog

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// Logger appends execution rows. IDs are ULIDs, so storage order is
// execution order.
type Logger struct {
	repo Repository
	now  func() time.Time
}

func NewLogger(repo Repository) *Logger {
	return &Logger{repo: repo, now: time.Now}
}

// Record assigns the row its ID and timestamp and persists it.
func (l *Logger) Record(ctx context.Context, entry ActionLog) (*ActionLog, error) {
	now := l.now()
	entry.ID = ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
	entry.ExecutedAt = now
	if err := l.repo.Create(ctx, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (l *Logger) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*ActionLog, int, error) {
	return l.repo.List(ctx, filter, limit, offset)
}
