package task_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/taskflow/internal/eventbus"
	"github.com/kazz187/taskflow/internal/task"
	"github.com/kazz187/taskflow/internal/task/repositoryimpl"
	"github.com/kazz187/taskflow/internal/workflow"
	"github.com/kazz187/taskflow/pkg/cerr"
	"github.com/kazz187/taskflow/pkg/storage"
)

type recordedTrigger struct {
	triggerType workflow.TriggerType
	context     any
}

type fakeTrigger struct {
	mu    sync.Mutex
	calls []recordedTrigger
}

func (f *fakeTrigger) Trigger(_ context.Context, triggerType workflow.TriggerType, eventContext any) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedTrigger{triggerType: triggerType, context: eventContext})
	return []string{fmt.Sprintf("job-%d", len(f.calls))}
}

func (f *fakeTrigger) recorded() []recordedTrigger {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedTrigger(nil), f.calls...)
}

// slowRepo widens the window between reads and writes.
type slowRepo struct {
	task.Repository
	delay time.Duration
}

func (r *slowRepo) Get(ctx context.Context, id string) (*task.Task, error) {
	time.Sleep(r.delay)
	return r.Repository.Get(ctx, id)
}

var errWriteFailed = errors.New("write failed")

// failingRepo fails every Update of the task with the given id.
type failingRepo struct {
	task.Repository
	failID string
}

func (r *failingRepo) Update(ctx context.Context, t *task.Task) error {
	if t.ID == r.failID {
		return errWriteFailed
	}
	return r.Repository.Update(ctx, t)
}

type fixture struct {
	svc     *task.Service
	repo    *repositoryimpl.YAMLRepository
	bus     *eventbus.Bus
	trigger *fakeTrigger
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithRepo(t, nil)
}

// newFixtureWithRepo lets a test wrap the repository the service sees while
// f.repo keeps direct access to the underlying store.
func newFixtureWithRepo(t *testing.T, wrap func(task.Repository) task.Repository) *fixture {
	t.Helper()
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	repo := repositoryimpl.NewYAMLRepository(s)
	var svcRepo task.Repository = repo
	if wrap != nil {
		svcRepo = wrap(repo)
	}
	bus := eventbus.New()
	trig := &fakeTrigger{}
	return &fixture{
		svc:     task.NewService(svcRepo, bus, trig),
		repo:    repo,
		bus:     bus,
		trigger: trig,
	}
}

func (f *fixture) create(t *testing.T, title string) *task.Task {
	t.Helper()
	tk, err := f.svc.Create(context.Background(), task.CreateRequest{Title: title, ProjectID: "p1"})
	require.NoError(t, err)
	return tk
}

func (f *fixture) status(t *testing.T, id string) task.Status {
	t.Helper()
	tk, err := f.svc.Get(context.Background(), id)
	require.NoError(t, err)
	return tk.Status
}

func (f *fixture) setStatus(t *testing.T, id string, st task.Status) {
	t.Helper()
	_, err := f.svc.UpdateStatus(context.Background(), id, st)
	require.NoError(t, err)
}

func (f *fixture) block(t *testing.T, taskID, blockerID string) *task.Task {
	t.Helper()
	tk, err := f.svc.AddDependency(context.Background(), taskID, blockerID)
	require.NoError(t, err)
	return tk
}

func TestCreate_RequiresTitle(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), task.CreateRequest{})
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
}

func TestAddDependency_HaltsWhenBlockerUnfinished(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, "a")
	b := f.create(t, "b")
	f.setStatus(t, b.ID, task.StatusInProgress)

	got := f.block(t, b.ID, a.ID)
	assert.Equal(t, task.StatusHalted, got.Status)
	assert.Equal(t, []string{a.ID}, got.BlockedBy)

	blocker, err := f.svc.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, blocker.Blocking)
}

func TestAddDependency_DoneBlockerDoesNotHalt(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, "a")
	b := f.create(t, "b")
	f.setStatus(t, a.ID, task.StatusDone)
	f.setStatus(t, b.ID, task.StatusReview)

	got := f.block(t, b.ID, a.ID)
	assert.Equal(t, task.StatusReview, got.Status)
}

func TestAddDependency_Idempotent(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, "a")
	b := f.create(t, "b")

	f.block(t, b.ID, a.ID)
	got := f.block(t, b.ID, a.ID)
	assert.Equal(t, []string{a.ID}, got.BlockedBy)
	assert.Equal(t, task.StatusHalted, got.Status)
}

func TestAddDependency_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.create(t, "a")
	b := f.create(t, "b")
	c := f.create(t, "c")
	f.block(t, b.ID, a.ID)
	f.block(t, c.ID, b.ID)

	_, err := f.svc.AddDependency(ctx, a.ID, a.ID)
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument), "self block")

	_, err = f.svc.AddDependency(ctx, a.ID, c.ID)
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument), "transitive cycle")
	assert.Contains(t, err.Error(), "dependency cycle")

	_, err = f.svc.AddDependency(ctx, a.ID, "missing")
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
	_, err = f.svc.AddDependency(ctx, "missing", a.ID)
	assert.True(t, cerr.IsCode(err, cerr.NotFound))

	got, err := f.svc.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, got.BlockedBy)
	assert.Equal(t, task.StatusTodo, got.Status)
}

func TestCompletingBlockerReleasesToTodo(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, "a")
	b := f.create(t, "b")
	f.setStatus(t, b.ID, task.StatusReview)
	f.block(t, b.ID, a.ID)
	require.Equal(t, task.StatusHalted, f.status(t, b.ID))

	f.setStatus(t, a.ID, task.StatusDone)
	// The pre-halt status is not restored.
	assert.Equal(t, task.StatusTodo, f.status(t, b.ID))
}

func TestHaltedHeldUntilEveryBlockerDone(t *testing.T) {
	f := newFixture(t)
	a1 := f.create(t, "a1")
	a2 := f.create(t, "a2")
	b := f.create(t, "b")
	f.block(t, b.ID, a1.ID)
	f.block(t, b.ID, a2.ID)

	f.setStatus(t, a1.ID, task.StatusDone)
	assert.Equal(t, task.StatusHalted, f.status(t, b.ID))

	f.setStatus(t, a2.ID, task.StatusDone)
	assert.Equal(t, task.StatusTodo, f.status(t, b.ID))
}

func TestReopeningBlockerCascadesTransitively(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, "a")
	b := f.create(t, "b")
	c := f.create(t, "c")
	f.setStatus(t, a.ID, task.StatusDone)
	f.setStatus(t, b.ID, task.StatusDone)
	f.setStatus(t, c.ID, task.StatusInProgress)
	f.block(t, b.ID, a.ID)
	f.block(t, c.ID, b.ID)
	require.Equal(t, task.StatusDone, f.status(t, b.ID))
	require.Equal(t, task.StatusInProgress, f.status(t, c.ID))

	f.setStatus(t, a.ID, task.StatusInProgress)
	assert.Equal(t, task.StatusHalted, f.status(t, b.ID))
	assert.Equal(t, task.StatusHalted, f.status(t, c.ID))

	f.setStatus(t, a.ID, task.StatusDone)
	assert.Equal(t, task.StatusTodo, f.status(t, b.ID))
	assert.Equal(t, task.StatusHalted, f.status(t, c.ID), "b is released but not done")

	f.setStatus(t, b.ID, task.StatusDone)
	assert.Equal(t, task.StatusTodo, f.status(t, c.ID))
}

func TestDiamondReconcilesEachTaskOnce(t *testing.T) {
	f := newFixture(t)
	root := f.create(t, "root")
	left := f.create(t, "left")
	right := f.create(t, "right")
	sink := f.create(t, "sink")
	for _, id := range []string{root.ID, left.ID, right.ID} {
		f.setStatus(t, id, task.StatusDone)
	}
	f.block(t, left.ID, root.ID)
	f.block(t, right.ID, root.ID)
	f.block(t, sink.ID, left.ID)
	f.block(t, sink.ID, right.ID)

	subID, events := f.bus.Subscribe(64)
	defer f.bus.Unsubscribe(subID)

	f.setStatus(t, root.ID, task.StatusTodo)
	assert.Equal(t, task.StatusHalted, f.status(t, left.ID))
	assert.Equal(t, task.StatusHalted, f.status(t, right.ID))
	assert.Equal(t, task.StatusHalted, f.status(t, sink.ID))

	counts := map[string]int{}
	for len(events) > 0 {
		ev := <-events
		if ev.Type == eventbus.EventTaskStatusChanged {
			counts[ev.ResourceID]++
		}
	}
	assert.Equal(t, map[string]int{root.ID: 1, left.ID: 1, right.ID: 1, sink.ID: 1}, counts)
}

func TestUpdateStatus_Rules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.create(t, "a")
	b := f.create(t, "b")
	f.block(t, b.ID, a.ID)

	_, err := f.svc.UpdateStatus(ctx, a.ID, task.StatusHalted)
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument), "HALTED cannot be requested")

	_, err = f.svc.UpdateStatus(ctx, a.ID, task.Status("BOGUS"))
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))

	_, err = f.svc.UpdateStatus(ctx, b.ID, task.StatusInProgress)
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition), "cannot leave HALTED by hand")

	_, err = f.svc.UpdateStatus(ctx, "missing", task.StatusDone)
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
}

func TestUpdateStatus_PublishesStatusChange(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, "a")

	subID, events := f.bus.Subscribe(8)
	defer f.bus.Unsubscribe(subID)

	f.setStatus(t, a.ID, task.StatusInProgress)
	f.setStatus(t, a.ID, task.StatusInProgress)

	select {
	case ev := <-events:
		assert.Equal(t, eventbus.EventTaskStatusChanged, ev.Type)
		assert.Equal(t, a.ID, ev.ResourceID)
		assert.Equal(t, "TODO", ev.Metadata["from"])
		assert.Equal(t, "IN_PROGRESS", ev.Metadata["to"])
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
	assert.Empty(t, events, "unchanged status must not publish")
}

func TestUpdateStatus_DoneTriggersAutomation(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, "a")

	f.setStatus(t, a.ID, task.StatusReview)
	assert.Empty(t, f.trigger.recorded())

	f.setStatus(t, a.ID, task.StatusDone)
	calls := f.trigger.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, workflow.TriggerTaskCompleted, calls[0].triggerType)
	snapshot, ok := calls[0].context.(*task.Task)
	require.True(t, ok)
	assert.Equal(t, a.ID, snapshot.ID)
	assert.Equal(t, task.StatusDone, snapshot.Status)

	// Writing DONE again is not a transition.
	f.setStatus(t, a.ID, task.StatusDone)
	assert.Len(t, f.trigger.recorded(), 1)
}

func TestRemoveDependency_Releases(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.create(t, "a")
	b := f.create(t, "b")
	f.block(t, b.ID, a.ID)

	got, err := f.svc.RemoveDependency(ctx, b.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusTodo, got.Status)
	assert.Empty(t, got.BlockedBy)

	blocker, err := f.svc.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, blocker.Blocking)

	_, err = f.svc.RemoveDependency(ctx, "missing", a.ID)
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
}

func TestRemoveDependency_VanishedBlocker(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.create(t, "a")
	b := f.create(t, "b")
	f.block(t, b.ID, a.ID)
	require.NoError(t, f.repo.Delete(ctx, a.ID))

	got, err := f.svc.RemoveDependency(ctx, b.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusTodo, got.Status)
}

func TestReconcile_MissingBlockerIsNotBlocking(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.create(t, "a")
	b := f.create(t, "b")
	f.block(t, b.ID, a.ID)
	require.NoError(t, f.repo.Delete(ctx, a.ID))

	got, err := f.svc.Reconcile(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusTodo, got.Status)
}

func TestReconcile_MissingTaskIsNoop(t *testing.T) {
	f := newFixture(t)
	got, err := f.svc.Reconcile(context.Background(), "missing")
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, f.svc.OnStatusChanged(context.Background(), "missing"))
}

func TestOnStatusChanged_ExternalWrite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.create(t, "a")
	b := f.create(t, "b")
	f.block(t, b.ID, a.ID)

	// Simulate a status write that bypassed the service.
	stored, err := f.repo.Get(ctx, a.ID)
	require.NoError(t, err)
	stored.Status = task.StatusDone
	require.NoError(t, f.repo.Update(ctx, stored))
	require.Equal(t, task.StatusHalted, f.status(t, b.ID))

	require.NoError(t, f.svc.OnStatusChanged(ctx, a.ID))
	assert.Equal(t, task.StatusTodo, f.status(t, b.ID))
}

func TestCascade_TerminatesOnStoredCycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.create(t, "a")
	b := f.create(t, "b")
	f.block(t, b.ID, a.ID)

	// Forge the back edge directly; the service itself rejects it.
	stored, err := f.repo.Get(ctx, a.ID)
	require.NoError(t, err)
	stored.BlockedBy = []string{b.ID}
	require.NoError(t, f.repo.Update(ctx, stored))
	stored, err = f.repo.Get(ctx, b.ID)
	require.NoError(t, err)
	stored.Blocking = []string{a.ID}
	require.NoError(t, f.repo.Update(ctx, stored))

	done := make(chan error, 1)
	go func() { done <- f.svc.OnStatusChanged(ctx, a.ID) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("cascade did not terminate")
	}
	assert.Equal(t, task.StatusHalted, f.status(t, a.ID))
	assert.Equal(t, task.StatusHalted, f.status(t, b.ID))
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.create(t, "a")
	b := f.create(t, "b")
	f.block(t, b.ID, a.ID)

	err := f.svc.Delete(ctx, a.ID)
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))

	require.NoError(t, f.svc.Delete(ctx, b.ID))
	blocker, err := f.svc.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, blocker.Blocking)

	require.NoError(t, f.svc.Delete(ctx, a.ID))
	assert.True(t, cerr.IsCode(f.svc.Delete(ctx, a.ID), cerr.NotFound))
}

func TestConcurrentEdgesAndCompletionConverge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	blocker := f.create(t, "blocker")

	const n = 16
	dependents := make([]*task.Task, n)
	for i := range dependents {
		dependents[i] = f.create(t, fmt.Sprintf("dep-%d", i))
	}

	var wg sync.WaitGroup
	for _, d := range dependents {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.AddDependency(ctx, d.ID, blocker.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := f.svc.UpdateStatus(ctx, blocker.ID, task.StatusDone)
		assert.NoError(t, err)
	}()
	wg.Wait()

	for _, d := range dependents {
		assert.Equal(t, task.StatusTodo, f.status(t, d.ID), d.Title)
	}
	stored, err := f.svc.Get(ctx, blocker.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Blocking, n)
}

func TestAddDependency_ConcurrentReverseEdgesRejectOne(t *testing.T) {
	ctx := context.Background()
	f := newFixtureWithRepo(t, func(r task.Repository) task.Repository {
		return &slowRepo{Repository: r, delay: 2 * time.Millisecond}
	})
	a := f.create(t, "a")
	b := f.create(t, "b")

	var (
		wg         sync.WaitGroup
		errA, errB error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errA = f.svc.AddDependency(ctx, a.ID, b.ID)
	}()
	go func() {
		defer wg.Done()
		_, errB = f.svc.AddDependency(ctx, b.ID, a.ID)
	}()
	wg.Wait()

	if errA == nil {
		assert.True(t, cerr.IsCode(errB, cerr.InvalidArgument), "b->a must be rejected: %v", errB)
	} else {
		assert.True(t, cerr.IsCode(errA, cerr.InvalidArgument), "a->b must be rejected: %v", errA)
		assert.NoError(t, errB)
	}

	storedA, err := f.repo.Get(ctx, a.ID)
	require.NoError(t, err)
	storedB, err := f.repo.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, append(storedA.BlockedBy, storedB.BlockedBy...), 1)

	halted := 0
	for _, st := range []task.Status{storedA.Status, storedB.Status} {
		if st == task.StatusHalted {
			halted++
		}
	}
	assert.Equal(t, 1, halted)
}

func TestAddDependency_BlockerWriteFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	var failing *failingRepo
	f := newFixtureWithRepo(t, func(r task.Repository) task.Repository {
		failing = &failingRepo{Repository: r}
		return failing
	})
	a := f.create(t, "a")
	b := f.create(t, "b")

	failing.failID = a.ID
	_, err := f.svc.AddDependency(ctx, b.ID, a.ID)
	require.ErrorIs(t, err, errWriteFailed)

	stored, err := f.repo.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.BlockedBy)
	assert.Equal(t, task.StatusTodo, stored.Status)
}

func TestAddDependency_HalfWrittenEdgeStillHalts(t *testing.T) {
	ctx := context.Background()
	var failing *failingRepo
	f := newFixtureWithRepo(t, func(r task.Repository) task.Repository {
		failing = &failingRepo{Repository: r}
		return failing
	})
	a := f.create(t, "a")
	b := f.create(t, "b")

	// The blocker rejects its index write and b then rejects the rollback,
	// leaving the edge only on b's side.
	failing.failID = a.ID
	wrapped := &rollbackBlocker{failingRepo: failing, dependentID: b.ID}
	svc := task.NewService(wrapped, f.bus, f.trigger)
	_, err := svc.AddDependency(ctx, b.ID, a.ID)
	require.ErrorIs(t, err, errWriteFailed)

	stored, err := f.repo.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, stored.BlockedBy)
	assert.Equal(t, task.StatusHalted, stored.Status)

	// a's Blocking index never learned about b; completing a must still
	// release b.
	failing.failID = ""
	wrapped.dependentID = ""
	_, err = svc.UpdateStatus(ctx, a.ID, task.StatusDone)
	require.NoError(t, err)
	assert.Equal(t, task.StatusTodo, f.status(t, b.ID))
}

// rollbackBlocker rejects writes to dependentID that remove a BlockedBy entry.
type rollbackBlocker struct {
	*failingRepo
	dependentID string
}

func (r *rollbackBlocker) Update(ctx context.Context, t *task.Task) error {
	if t.ID == r.dependentID && len(t.BlockedBy) == 0 {
		return errWriteFailed
	}
	return r.failingRepo.Update(ctx, t)
}

func TestUpdateStatus_DoneOnHaltedAgainSkipsAutomation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.create(t, "a")
	b := f.create(t, "b")

	// b gains an unfinished blocker outside the service, so it is not yet
	// HALTED when it is marked DONE.
	stored, err := f.repo.Get(ctx, b.ID)
	require.NoError(t, err)
	stored.BlockedBy = []string{a.ID}
	require.NoError(t, f.repo.Update(ctx, stored))

	got, err := f.svc.UpdateStatus(ctx, b.ID, task.StatusDone)
	require.NoError(t, err)
	assert.Equal(t, task.StatusHalted, got.Status)
	assert.Equal(t, task.StatusHalted, f.status(t, b.ID))
	assert.Empty(t, f.trigger.recorded())
}
