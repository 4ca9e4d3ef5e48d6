package workflow

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Filter decides whether a rule applies to a particular event. It is the
// extension point for evaluating Rule.TriggerConfig.
type Filter interface {
	Accept(rule *Rule, eventContext any) bool
}

// AcceptAll ignores TriggerConfig and lets every active rule through.
type AcceptAll struct{}

func (AcceptAll) Accept(*Rule, any) bool { return true }

// Matcher resolves a trigger type to the active rules bound to it. Active
// rules are cached per trigger type until Invalidate is called; concurrent
// cache misses share a single repository load.
type Matcher struct {
	repo   Repository
	filter Filter
	group  singleflight.Group

	mu         sync.RWMutex
	cache      map[TriggerType][]*Rule
	generation uint64
}

func NewMatcher(repo Repository, filter Filter) *Matcher {
	if filter == nil {
		filter = AcceptAll{}
	}
	return &Matcher{
		repo:   repo,
		filter: filter,
		cache:  make(map[TriggerType][]*Rule),
	}
}

// Match returns the active rules for triggerType that pass the filter, in no
// particular order. Cached rules are shared and must not be modified.
func (m *Matcher) Match(ctx context.Context, triggerType TriggerType, eventContext any) ([]*Rule, error) {
	rules, err := m.activeRules(ctx, triggerType)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(slices.Clone(rules), func(r *Rule) bool {
		return !m.filter.Accept(r, eventContext)
	}), nil
}

func (m *Matcher) activeRules(ctx context.Context, triggerType TriggerType) ([]*Rule, error) {
	m.mu.RLock()
	rules, ok := m.cache[triggerType]
	gen := m.generation
	m.mu.RUnlock()
	if ok {
		return rules, nil
	}

	// Keying on the generation keeps callers arriving after Invalidate from
	// joining a load that started before it.
	v, err, _ := m.group.Do(fmt.Sprintf("%s/%d", triggerType, gen), func() (any, error) {
		loaded, err := m.repo.List(ctx, triggerType, true)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		if m.generation == gen {
			m.cache[triggerType] = loaded
		}
		m.mu.Unlock()
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*Rule), nil
}

// Invalidate drops every cached trigger type.
func (m *Matcher) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	clear(m.cache)
}
