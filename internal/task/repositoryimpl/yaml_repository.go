package repositoryimpl

import (
	"context"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/kazz187/taskflow/internal/task"
	"github.com/kazz187/taskflow/pkg/cerr"
	"github.com/kazz187/taskflow/pkg/storage"
)

const tasksPrefix = "tasks"

// YAMLRepository keeps one YAML document per task under tasks/.
type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func taskPath(id string) string {
	return fmt.Sprintf("%s/%s.yaml", tasksPrefix, id)
}

func (r *YAMLRepository) Create(ctx context.Context, t *task.Task) error {
	exists, err := r.storage.Exists(ctx, taskPath(t.ID))
	if err != nil {
		return cerr.StorageReadError(cerr.DocTask, t.ID, err)
	}
	if exists {
		return cerr.NewError(cerr.AlreadyExists, "task already exists", nil)
	}
	return r.write(ctx, t)
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*task.Task, error) {
	data, err := r.storage.Read(ctx, taskPath(id))
	if err != nil {
		return nil, cerr.StorageReadError(cerr.DocTask, id, err)
	}
	return decode(data)
}

// List returns tasks in creation order. Documents that fail to decode are
// skipped so one corrupt file does not hide the rest of the graph.
func (r *YAMLRepository) List(ctx context.Context, projectID string, status task.Status, limit, offset int) ([]*task.Task, int, error) {
	paths, err := r.storage.List(ctx, tasksPrefix)
	if err != nil {
		return nil, 0, cerr.StorageListError(cerr.DocTask, err)
	}
	sort.Strings(paths)

	var matched []*task.Task
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		t, err := decode(data)
		if err != nil {
			continue
		}
		if projectID != "" && t.ProjectID != projectID {
			continue
		}
		if status != "" && t.Status != status {
			continue
		}
		matched = append(matched, t)
	}

	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total, nil
}

func (r *YAMLRepository) Update(ctx context.Context, t *task.Task) error {
	exists, err := r.storage.Exists(ctx, taskPath(t.ID))
	if err != nil {
		return cerr.StorageReadError(cerr.DocTask, t.ID, err)
	}
	if !exists {
		return cerr.NewError(cerr.NotFound, "task not found", nil)
	}
	return r.write(ctx, t)
}

func (r *YAMLRepository) Delete(ctx context.Context, id string) error {
	if err := r.storage.Delete(ctx, taskPath(id)); err != nil {
		return cerr.StorageDeleteError(cerr.DocTask, id, err)
	}
	return nil
}

func (r *YAMLRepository) write(ctx context.Context, t *task.Task) error {
	data, err := yaml.Marshal(t)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal task: %w", err))
	}
	if err := r.storage.Write(ctx, taskPath(t.ID), data); err != nil {
		return cerr.StorageWriteError(cerr.DocTask, t.ID, err)
	}
	return nil
}

func decode(data []byte) (*task.Task, error) {
	var t task.Task
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal task: %w", err))
	}
	return &t, nil
}
