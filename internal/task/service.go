package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kazz187/taskflow/internal/eventbus"
	"github.com/kazz187/taskflow/internal/workflow"
	"github.com/kazz187/taskflow/pkg/cerr"
	"github.com/kazz187/taskflow/pkg/keylock"
)

// Trigger hands a domain event to the automation pipeline. Implementations
// must not block on action execution and must not return errors.
type Trigger interface {
	Trigger(ctx context.Context, triggerType workflow.TriggerType, eventContext any) []string
}

// Service owns every status write on tasks. Each read-modify-write of a task
// runs under that task's lock; no task lock is held across two tasks, so a
// cascade is a sequence of independent steps and the graph is only eventually
// consistent while one is in flight. Edge changes are additionally serialized
// by edgeMu so the cycle check and both edge writes act as one step.
type Service struct {
	repo     Repository
	eventBus *eventbus.Bus
	trigger  Trigger
	locks    *keylock.Map
	edgeMu   sync.Mutex
	now      func() time.Time
}

func NewService(repo Repository, eventBus *eventbus.Bus, trigger Trigger) *Service {
	return &Service{
		repo:     repo,
		eventBus: eventBus,
		trigger:  trigger,
		locks:    keylock.New(),
		now:      time.Now,
	}
}

type CreateRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	ProjectID   string `json:"project_id"`
	StoryID     string `json:"story_id"`
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*Task, error) {
	if req.Title == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "title is required", nil)
	}
	now := s.now()
	t := &Task{
		ID:          ulid.Make().String(),
		ProjectID:   req.ProjectID,
		StoryID:     req.StoryID,
		Title:       req.Title,
		Description: req.Description,
		Status:      StatusTodo,
		BlockedBy:   []string{},
		Blocking:    []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, projectID string, status Status, limit, offset int) ([]*Task, int, error) {
	return s.repo.List(ctx, projectID, status, limit, offset)
}

// Delete removes a task that no other task is blocked by.
func (s *Service) Delete(ctx context.Context, id string) error {
	s.edgeMu.Lock()
	defer s.edgeMu.Unlock()

	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	dependents, err := s.dependentsOf(ctx, id)
	if err != nil {
		return err
	}
	if len(dependents) > 0 {
		return cerr.NewError(cerr.FailedPrecondition, "task is blocking other tasks", nil).
			AddDetailMessage(fmt.Sprintf("blocked tasks: %v", dependents))
	}
	for _, blockerID := range t.BlockedBy {
		if err := s.unlinkDependent(ctx, blockerID, id); err != nil {
			return err
		}
	}
	return s.repo.Delete(ctx, id)
}

// dependentsOf scans the store rather than trusting the Blocking index, which
// may lag behind BlockedBy after a partial edge write.
func (s *Service) dependentsOf(ctx context.Context, id string) ([]string, error) {
	all, _, err := s.repo.List(ctx, "", "", 0, 0)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, t := range all {
		for _, b := range t.BlockedBy {
			if b == id {
				ids = append(ids, t.ID)
				break
			}
		}
	}
	return ids, nil
}

// UpdateStatus applies a manual status transition. HALTED can neither be
// requested nor left by hand; both directions belong to the reconciler.
func (s *Service) UpdateStatus(ctx context.Context, id string, status Status) (*Task, error) {
	if _, err := ParseStatus(string(status)); err != nil {
		return nil, cerr.NewError(cerr.InvalidArgument, "invalid status", err)
	}
	if status == StatusHalted {
		return nil, cerr.NewError(cerr.InvalidArgument, "HALTED is set by dependency reconciliation only", nil)
	}

	var (
		updated *Task
		from    Status
	)
	err := s.locks.With(id, func() error {
		t, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if t.Status == StatusHalted {
			return cerr.NewError(cerr.FailedPrecondition, "task is halted by unfinished blockers", nil)
		}
		from = t.Status
		if t.Status != status {
			t.Status = status
			t.UpdatedAt = s.now()
			if err := s.repo.Update(ctx, t); err != nil {
				return err
			}
		}
		updated = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	if from == status {
		return updated, nil
	}
	s.publishStatusChanged(updated, from)

	// The task itself may have gained an unfinished blocker since it was last
	// reconciled; reconciling it first keeps HALTED authoritative.
	if err := s.OnStatusChanged(ctx, id); err != nil {
		slog.ErrorContext(ctx, "failed to reconcile after status update", "task_id", id, "error", err)
	}

	// Reconciliation may have halted the task again; completion automation
	// only fires for a task that is still DONE.
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		slog.ErrorContext(ctx, "failed to reload task after status update", "task_id", id, "error", err)
		return updated, nil
	}
	if current.Status == StatusDone && s.trigger != nil {
		jobIDs := s.trigger.Trigger(ctx, workflow.TriggerTaskCompleted, current)
		slog.DebugContext(ctx, "task completion triggered automation", "task_id", id, "jobs", len(jobIDs))
	}
	return current, nil
}

// AddDependency records that taskID is blocked by blockerID and reconciles
// taskID. Adding an existing edge is a no-op apart from the reconcile.
func (s *Service) AddDependency(ctx context.Context, taskID, blockerID string) (*Task, error) {
	if taskID == blockerID {
		return nil, cerr.NewError(cerr.InvalidArgument, "task cannot block itself", nil)
	}
	if err := s.addEdge(ctx, taskID, blockerID); err != nil {
		return nil, err
	}
	return s.Reconcile(ctx, taskID)
}

// addEdge checks for a cycle and writes both sides of the edge while holding
// edgeMu. If the blocker side cannot be written the dependent side is rolled
// back; if even that fails the dependent is reconciled so it still halts on
// the recorded blocker.
func (s *Service) addEdge(ctx context.Context, taskID, blockerID string) error {
	s.edgeMu.Lock()
	defer s.edgeMu.Unlock()

	if _, err := s.repo.Get(ctx, taskID); err != nil {
		return err
	}
	if _, err := s.repo.Get(ctx, blockerID); err != nil {
		return err
	}
	cyclic, err := s.dependsOn(ctx, blockerID, taskID)
	if err != nil {
		return err
	}
	if cyclic {
		return cerr.NewError(cerr.InvalidArgument, "dependency cycle", nil).
			AddDetailMessage(fmt.Sprintf("%s already depends on %s", blockerID, taskID))
	}

	var addedBlockedBy bool
	if err := s.locks.With(taskID, func() error {
		t, err := s.repo.Get(ctx, taskID)
		if err != nil {
			return err
		}
		if t.BlockedBy, addedBlockedBy = addID(t.BlockedBy, blockerID); !addedBlockedBy {
			return nil
		}
		t.UpdatedAt = s.now()
		return s.repo.Update(ctx, t)
	}); err != nil {
		return err
	}

	if err := s.locks.With(blockerID, func() error {
		b, err := s.repo.Get(ctx, blockerID)
		if err != nil {
			return err
		}
		var added bool
		if b.Blocking, added = addID(b.Blocking, taskID); !added {
			return nil
		}
		b.UpdatedAt = s.now()
		return s.repo.Update(ctx, b)
	}); err != nil {
		if addedBlockedBy {
			if rbErr := s.unlinkBlocker(ctx, taskID, blockerID); rbErr != nil {
				slog.ErrorContext(ctx, "failed to roll back dependency edge", "task_id", taskID, "blocker_id", blockerID, "error", rbErr)
				if _, recErr := s.Reconcile(ctx, taskID); recErr != nil {
					slog.ErrorContext(ctx, "failed to reconcile task with half-written edge", "task_id", taskID, "error", recErr)
				}
			}
		}
		return err
	}
	return nil
}

// RemoveDependency drops the edge and reconciles taskID. The blocker side is
// cleaned up best-effort since the blocker may already be gone.
func (s *Service) RemoveDependency(ctx context.Context, taskID, blockerID string) (*Task, error) {
	s.edgeMu.Lock()
	err := s.unlinkBlocker(ctx, taskID, blockerID)
	if err == nil {
		if err := s.unlinkDependent(ctx, blockerID, taskID); err != nil {
			slog.WarnContext(ctx, "failed to remove blocking index entry", "task_id", blockerID, "dependent_id", taskID, "error", err)
		}
	}
	s.edgeMu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.Reconcile(ctx, taskID)
}

func (s *Service) unlinkBlocker(ctx context.Context, taskID, blockerID string) error {
	return s.locks.With(taskID, func() error {
		t, err := s.repo.Get(ctx, taskID)
		if err != nil {
			return err
		}
		var removed bool
		if t.BlockedBy, removed = removeID(t.BlockedBy, blockerID); !removed {
			return nil
		}
		t.UpdatedAt = s.now()
		return s.repo.Update(ctx, t)
	})
}

func (s *Service) unlinkDependent(ctx context.Context, blockerID, dependentID string) error {
	return s.locks.With(blockerID, func() error {
		b, err := s.repo.Get(ctx, blockerID)
		if err != nil {
			if cerr.IsCode(err, cerr.NotFound) {
				return nil
			}
			return err
		}
		var removed bool
		if b.Blocking, removed = removeID(b.Blocking, dependentID); !removed {
			return nil
		}
		b.UpdatedAt = s.now()
		return s.repo.Update(ctx, b)
	})
}

// dependsOn reports whether from reaches target by following BlockedBy edges.
func (s *Service) dependsOn(ctx context.Context, from, target string) (bool, error) {
	visited := map[string]struct{}{from: {}}
	queue := []string{from}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		t, err := s.repo.Get(ctx, id)
		if err != nil {
			if cerr.IsCode(err, cerr.NotFound) {
				continue
			}
			return false, err
		}
		for _, b := range t.BlockedBy {
			if b == target {
				return true, nil
			}
			if _, ok := visited[b]; ok {
				continue
			}
			visited[b] = struct{}{}
			queue = append(queue, b)
		}
	}
	return false, nil
}

// Reconcile brings the task's status in line with its blockers and, if the
// status changed, cascades to its dependents. A missing task is a no-op and
// yields (nil, nil).
func (s *Service) Reconcile(ctx context.Context, id string) (*Task, error) {
	t, changed, err := s.reconcileOne(ctx, id)
	if err != nil || t == nil {
		return t, err
	}
	if changed {
		s.cascade(ctx, t)
	}
	return t, nil
}

// OnStatusChanged is called after a task's status was written elsewhere. The
// task is reconciled and its dependents are revisited whether or not the
// reconcile itself wrote anything.
func (s *Service) OnStatusChanged(ctx context.Context, id string) error {
	t, _, err := s.reconcileOne(ctx, id)
	if err != nil || t == nil {
		return err
	}
	s.cascade(ctx, t)
	return nil
}

// cascade reconciles the dependents of origin breadth-first. Dependents come
// from the Blocking index merged with a scan of BlockedBy, since the index can
// lag behind after a partial edge write. The visited set bounds the walk to
// one reconcile per task even if the stored graph contains a cycle. Failures
// are logged and the walk continues.
func (s *Service) cascade(ctx context.Context, origin *Task) {
	reverse, err := s.dependentIndex(ctx)
	if err != nil {
		slog.WarnContext(ctx, "failed to scan dependents, using blocking index only", "origin_id", origin.ID, "error", err)
	}
	dependents := func(t *Task) []string {
		return append(append([]string(nil), t.Blocking...), reverse[t.ID]...)
	}

	visited := map[string]struct{}{origin.ID: {}}
	queue := dependents(origin)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, ok := visited[id]; ok {
			continue
		}
		visited[id] = struct{}{}

		t, changed, err := s.reconcileOne(ctx, id)
		if err != nil {
			slog.ErrorContext(ctx, "failed to reconcile dependent task", "task_id", id, "origin_id", origin.ID, "error", err)
			continue
		}
		if t != nil && changed {
			queue = append(queue, dependents(t)...)
		}
	}
}

// dependentIndex maps each blocker id to the tasks whose BlockedBy names it.
func (s *Service) dependentIndex(ctx context.Context) (map[string][]string, error) {
	all, _, err := s.repo.List(ctx, "", "", 0, 0)
	if err != nil {
		return nil, err
	}
	index := make(map[string][]string)
	for _, t := range all {
		for _, b := range t.BlockedBy {
			index[b] = append(index[b], t.ID)
		}
	}
	return index, nil
}

func (s *Service) reconcileOne(ctx context.Context, id string) (*Task, bool, error) {
	var (
		result  *Task
		from    Status
		changed bool
	)
	err := s.locks.With(id, func() error {
		t, err := s.repo.Get(ctx, id)
		if err != nil {
			if cerr.IsCode(err, cerr.NotFound) {
				return nil
			}
			return err
		}
		blockers := make([]Status, 0, len(t.BlockedBy))
		for _, blockerID := range t.BlockedBy {
			b, err := s.repo.Get(ctx, blockerID)
			if err != nil {
				if cerr.IsCode(err, cerr.NotFound) {
					continue
				}
				return err
			}
			blockers = append(blockers, b.Status)
		}

		next, write := Decide(t.Status, isBlocked(blockers))
		if write {
			from = t.Status
			t.Status = next
			t.UpdatedAt = s.now()
			if err := s.repo.Update(ctx, t); err != nil {
				return err
			}
			changed = true
		}
		result = t
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if changed {
		s.publishStatusChanged(result, from)
	}
	return result, changed, nil
}

func (s *Service) publishStatusChanged(t *Task, from Status) {
	if s.eventBus == nil {
		return
	}
	s.eventBus.PublishNew(eventbus.EventTaskStatusChanged, t.ID, map[string]string{
		"project_id": t.ProjectID,
		"from":       string(from),
		"to":         string(t.Status),
	})
}
