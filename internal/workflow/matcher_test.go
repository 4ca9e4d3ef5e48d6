package workflow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRepo struct {
	Repository
	mu    sync.Mutex
	rules []*Rule
	loads atomic.Int32
	gate  chan struct{}
	err   error
}

func (r *countingRepo) List(_ context.Context, triggerType TriggerType, activeOnly bool) ([]*Rule, error) {
	r.loads.Add(1)
	if r.gate != nil {
		<-r.gate
	}
	if r.err != nil {
		return nil, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Rule
	for _, rule := range r.rules {
		if rule.TriggerType == triggerType && (!activeOnly || rule.IsActive) {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (r *countingRepo) set(rules ...*Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = rules
}

func ids(rules []*Rule) []string {
	out := make([]string, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.ID)
	}
	return out
}

func TestMatcher_ActiveRulesForTriggerType(t *testing.T) {
	repo := &countingRepo{}
	repo.set(
		&Rule{ID: "r1", TriggerType: TriggerTaskCompleted, IsActive: true},
		&Rule{ID: "r2", TriggerType: TriggerTaskCompleted, IsActive: false},
		&Rule{ID: "r3", TriggerType: TriggerStoryCreated, IsActive: true},
	)
	m := NewMatcher(repo, nil)

	got, err := m.Match(context.Background(), TriggerTaskCompleted, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, ids(got))

	got, err = m.Match(context.Background(), TriggerProjectCreated, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMatcher_CachesUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	repo := &countingRepo{}
	repo.set(&Rule{ID: "r1", TriggerType: TriggerTaskCompleted, IsActive: true})
	m := NewMatcher(repo, AcceptAll{})

	for range 3 {
		_, err := m.Match(ctx, TriggerTaskCompleted, nil)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, repo.loads.Load())

	repo.set()
	got, err := m.Match(ctx, TriggerTaskCompleted, nil)
	require.NoError(t, err)
	assert.Len(t, got, 1, "cached until invalidated")

	m.Invalidate()
	got, err = m.Match(ctx, TriggerTaskCompleted, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.EqualValues(t, 2, repo.loads.Load())
}

func TestMatcher_ConcurrentMissesShareOneLoad(t *testing.T) {
	repo := &countingRepo{gate: make(chan struct{})}
	repo.set(&Rule{ID: "r1", TriggerType: TriggerTaskCompleted, IsActive: true})
	m := NewMatcher(repo, nil)

	const callers = 8
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := m.Match(context.Background(), TriggerTaskCompleted, nil)
			assert.NoError(t, err)
			assert.Len(t, got, 1)
		}()
	}
	require.Eventually(t, func() bool { return repo.loads.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(repo.gate)
	wg.Wait()
	assert.EqualValues(t, 1, repo.loads.Load())
}

func TestMatcher_LoadErrorIsNotCached(t *testing.T) {
	repo := &countingRepo{err: errors.New("disk gone")}
	m := NewMatcher(repo, nil)

	_, err := m.Match(context.Background(), TriggerTaskCompleted, nil)
	require.Error(t, err)

	repo.err = nil
	_, err = m.Match(context.Background(), TriggerTaskCompleted, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, repo.loads.Load())
}

type projectFilter struct{}

func (projectFilter) Accept(rule *Rule, eventContext any) bool {
	want, ok := rule.TriggerConfig["project_id"]
	if !ok {
		return true
	}
	ctx, _ := eventContext.(map[string]string)
	return ctx["project_id"] == want
}

func TestMatcher_FilterDoesNotMutateCache(t *testing.T) {
	ctx := context.Background()
	repo := &countingRepo{}
	repo.set(
		&Rule{ID: "any", TriggerType: TriggerProjectCreated, IsActive: true},
		&Rule{ID: "p1", TriggerType: TriggerProjectCreated, IsActive: true, TriggerConfig: map[string]string{"project_id": "p1"}},
	)
	m := NewMatcher(repo, projectFilter{})

	got, err := m.Match(ctx, TriggerProjectCreated, map[string]string{"project_id": "p2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"any"}, ids(got))

	got, err = m.Match(ctx, TriggerProjectCreated, map[string]string{"project_id": "p1"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"any", "p1"}, ids(got))
	assert.EqualValues(t, 1, repo.loads.Load())
}

func TestAcceptAll(t *testing.T) {
	rule := &Rule{TriggerConfig: map[string]string{"project_id": "p1"}}
	assert.True(t, AcceptAll{}.Accept(rule, nil))
	assert.True(t, AcceptAll{}.Accept(rule, map[string]string{"project_id": "other"}))
}

func TestParseTriggerType(t *testing.T) {
	for _, s := range []string{"TASK_COMPLETED", "PROJECT_CREATED", "STORY_CREATED"} {
		tt, err := ParseTriggerType(s)
		require.NoError(t, err)
		assert.Equal(t, TriggerType(s), tt)
	}
	_, err := ParseTriggerType("TASK_DELETED")
	assert.Error(t, err)
	_, err = ParseTriggerType("")
	assert.Error(t, err)
}
