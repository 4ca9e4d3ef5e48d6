package repositoryimpl

import (
	"context"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/kazz187/taskflow/internal/workflow"
	"github.com/kazz187/taskflow/pkg/cerr"
	"github.com/kazz187/taskflow/pkg/storage"
)

// RulesPrefix is the storage directory holding one YAML document per rule.
const RulesPrefix = "workflow_rules"

type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func rulePath(id string) string {
	return fmt.Sprintf("%s/%s.yaml", RulesPrefix, id)
}

func (r *YAMLRepository) Create(ctx context.Context, rule *workflow.Rule) error {
	exists, err := r.storage.Exists(ctx, rulePath(rule.ID))
	if err != nil {
		return cerr.StorageReadError(cerr.DocRule, rule.ID, err)
	}
	if exists {
		return cerr.NewError(cerr.AlreadyExists, "workflow rule already exists", nil)
	}
	return r.write(ctx, rule)
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*workflow.Rule, error) {
	data, err := r.storage.Read(ctx, rulePath(id))
	if err != nil {
		return nil, cerr.StorageReadError(cerr.DocRule, id, err)
	}
	var rule workflow.Rule
	if err := yaml.Unmarshal(data, &rule); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal workflow rule: %w", err))
	}
	return &rule, nil
}

func (r *YAMLRepository) List(ctx context.Context, triggerType workflow.TriggerType, activeOnly bool) ([]*workflow.Rule, error) {
	paths, err := r.storage.List(ctx, RulesPrefix)
	if err != nil {
		return nil, cerr.StorageListError(cerr.DocRule, err)
	}
	sort.Strings(paths)

	var rules []*workflow.Rule
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var rule workflow.Rule
		if err := yaml.Unmarshal(data, &rule); err != nil {
			continue
		}
		if triggerType != "" && rule.TriggerType != triggerType {
			continue
		}
		if activeOnly && !rule.IsActive {
			continue
		}
		rules = append(rules, &rule)
	}
	return rules, nil
}

func (r *YAMLRepository) Update(ctx context.Context, rule *workflow.Rule) error {
	exists, err := r.storage.Exists(ctx, rulePath(rule.ID))
	if err != nil {
		return cerr.StorageReadError(cerr.DocRule, rule.ID, err)
	}
	if !exists {
		return cerr.NewError(cerr.NotFound, "workflow rule not found", nil)
	}
	return r.write(ctx, rule)
}

func (r *YAMLRepository) Delete(ctx context.Context, id string) error {
	if err := r.storage.Delete(ctx, rulePath(id)); err != nil {
		return cerr.StorageDeleteError(cerr.DocRule, id, err)
	}
	return nil
}

func (r *YAMLRepository) write(ctx context.Context, rule *workflow.Rule) error {
	data, err := yaml.Marshal(rule)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal workflow rule: %w", err))
	}
	if err := r.storage.Write(ctx, rulePath(rule.ID), data); err != nil {
		return cerr.StorageWriteError(cerr.DocRule, rule.ID, err)
	}
	return nil
}
