package clog

import (
	"context"
	"log/slog"
	"sort"
)

// AttributesHandler copies the context bag into every record before passing
// it on. Attributes set on the record itself win over bag entries of the same
// key, and the error stack is only attached to error records.
type AttributesHandler struct {
	next slog.Handler
}

func NewAttributesHandler(next slog.Handler) *AttributesHandler {
	return &AttributesHandler{next: next}
}

func (h *AttributesHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *AttributesHandler) Handle(ctx context.Context, record slog.Record) error {
	bagged := GetAttributes(ctx)
	if len(bagged) == 0 {
		return h.next.Handle(ctx, record)
	}
	record.Attrs(func(a slog.Attr) bool {
		delete(bagged, a.Key)
		return true
	})
	if record.Level < slog.LevelError {
		delete(bagged, StackAttributeKey)
	}

	keys := make([]string, 0, len(bagged))
	for k := range bagged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	attrs := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, bagged[k]))
	}

	r := record.Clone()
	r.AddAttrs(attrs...)
	return h.next.Handle(ctx, r)
}

func (h *AttributesHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AttributesHandler{next: h.next.WithAttrs(attrs)}
}

func (h *AttributesHandler) WithGroup(name string) slog.Handler {
	return &AttributesHandler{next: h.next.WithGroup(name)}
}
