package repositoryimpl

import (
	"context"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/kazz187/taskflow/internal/actionlog"
	"github.com/kazz187/taskflow/pkg/cerr"
	"github.com/kazz187/taskflow/pkg/storage"
)

const actionLogsPrefix = "action_logs"

type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func logPath(id string) string {
	return fmt.Sprintf("%s/%s.yaml", actionLogsPrefix, id)
}

func (r *YAMLRepository) Create(ctx context.Context, l *actionlog.ActionLog) error {
	exists, err := r.storage.Exists(ctx, logPath(l.ID))
	if err != nil {
		return cerr.StorageReadError(cerr.DocActionLog, l.ID, err)
	}
	if exists {
		return cerr.NewError(cerr.AlreadyExists, "action log already exists", nil)
	}
	data, err := yaml.Marshal(l)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal action log: %w", err))
	}
	if err := r.storage.Write(ctx, logPath(l.ID), data); err != nil {
		return cerr.StorageWriteError(cerr.DocActionLog, l.ID, err)
	}
	return nil
}

func (r *YAMLRepository) List(ctx context.Context, filter actionlog.ListFilter, limit, offset int) ([]*actionlog.ActionLog, int, error) {
	paths, err := r.storage.List(ctx, actionLogsPrefix)
	if err != nil {
		return nil, 0, cerr.StorageListError(cerr.DocActionLog, err)
	}

	// ULID file names sort by time; reverse for newest first.
	sort.Sort(sort.Reverse(sort.StringSlice(paths)))

	var all []*actionlog.ActionLog
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var l actionlog.ActionLog
		if err := yaml.Unmarshal(data, &l); err != nil {
			continue
		}
		if !filter.Match(&l) {
			continue
		}
		all = append(all, &l)
	}

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}
