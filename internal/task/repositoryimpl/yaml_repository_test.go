package repositoryimpl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/taskflow/internal/task"
	"github.com/kazz187/taskflow/pkg/cerr"
	"github.com/kazz187/taskflow/pkg/storage"
)

func newRepo(t *testing.T) *YAMLRepository {
	t.Helper()
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return NewYAMLRepository(s)
}

func TestYAMLRepository_CRUD(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	tk := &task.Task{
		ID:        "01HZZZZZZZZZZZZZZZZZZZZZZ1",
		ProjectID: "p1",
		Title:     "write docs",
		Status:    task.StatusTodo,
		BlockedBy: []string{"01HZZZZZZZZZZZZZZZZZZZZZZ0"},
		Blocking:  []string{},
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		UpdatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, repo.Create(ctx, tk))

	err := repo.Create(ctx, tk)
	assert.True(t, cerr.IsCode(err, cerr.AlreadyExists))

	got, err := repo.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, tk.Title, got.Title)
	assert.Equal(t, tk.BlockedBy, got.BlockedBy)
	assert.True(t, tk.CreatedAt.Equal(got.CreatedAt))

	got.Status = task.StatusDone
	require.NoError(t, repo.Update(ctx, got))
	got, err = repo.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusDone, got.Status)

	require.NoError(t, repo.Delete(ctx, tk.ID))
	_, err = repo.Get(ctx, tk.ID)
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
}

func TestYAMLRepository_UpdateMissing(t *testing.T) {
	repo := newRepo(t)
	err := repo.Update(context.Background(), &task.Task{ID: "missing"})
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
}

func TestYAMLRepository_ListFiltersAndPages(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	seed := []struct {
		id      string
		project string
		status  task.Status
	}{
		{"01A", "p1", task.StatusTodo},
		{"01B", "p1", task.StatusDone},
		{"01C", "p2", task.StatusTodo},
		{"01D", "p1", task.StatusTodo},
	}
	for _, s := range seed {
		require.NoError(t, repo.Create(ctx, &task.Task{ID: s.id, ProjectID: s.project, Status: s.status}))
	}

	all, total, err := repo.List(ctx, "", "", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, all, 4)
	assert.Equal(t, "01A", all[0].ID)

	p1Todo, total, err := repo.List(ctx, "p1", task.StatusTodo, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, "01A", p1Todo[0].ID)
	assert.Equal(t, "01D", p1Todo[1].ID)

	page, total, err := repo.List(ctx, "", "", 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, page, 2)
	assert.Equal(t, "01B", page[0].ID)

	empty, _, err := repo.List(ctx, "", "", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
