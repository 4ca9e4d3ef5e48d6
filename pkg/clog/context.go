package clog

import (
	"context"
	"maps"
	"sync"
)

const (
	ErrorAttributeKey = "error.message"
	StackAttributeKey = "error.stack"
)

// bag holds the log attributes of one unit of work, an HTTP request or a job
// attempt. Handlers further down the call chain add to it and every record
// logged with the context carries its contents.
type bag struct {
	mu    sync.RWMutex
	attrs map[string]any
}

type bagKey struct{}

func bagFrom(ctx context.Context) *bag {
	b, _ := ctx.Value(bagKey{}).(*bag)
	return b
}

// WithAttributes starts a new unit of work. The returned context carries its
// own bag, seeded with a copy of any enclosing bag plus attributes, so a job
// attempt started inside a request keeps the request's fields without writing
// back into them.
func WithAttributes(ctx context.Context, attributes map[string]any) context.Context {
	b := &bag{attrs: make(map[string]any, len(attributes))}
	if parent := bagFrom(ctx); parent != nil {
		maps.Copy(b.attrs, parent.snapshot())
	}
	maps.Copy(b.attrs, attributes)
	return context.WithValue(ctx, bagKey{}, b)
}

// AddAttribute is a no-op for a context without a bag.
func AddAttribute(ctx context.Context, key string, value any) {
	AddAttributes(ctx, map[string]any{key: value})
}

func AddAttributes(ctx context.Context, attributes map[string]any) {
	b := bagFrom(ctx)
	if b == nil {
		return
	}
	b.mu.Lock()
	maps.Copy(b.attrs, attributes)
	b.mu.Unlock()
}

func AddError(ctx context.Context, err error) {
	AddAttribute(ctx, ErrorAttributeKey, err)
}

func AddStack(ctx context.Context, stack string) {
	AddAttribute(ctx, StackAttributeKey, stack)
}

// GetAttributes returns a copy of the bag, or nil without one.
func GetAttributes(ctx context.Context) map[string]any {
	b := bagFrom(ctx)
	if b == nil {
		return nil
	}
	return b.snapshot()
}

func (b *bag) snapshot() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return maps.Clone(b.attrs)
}
