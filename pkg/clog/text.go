package clog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// summaryColumns are lifted out of the attribute list onto the first line of
// a record, in this order. Request records fill the first three, job attempt
// records the rest.
var summaryColumns = []struct {
	key   string
	label string
}{
	{key: "method"},
	{key: "path"},
	{key: "status"},
	{key: "job_id", label: "job="},
	{key: "workflow_id", label: "workflow="},
	{key: "action_id", label: "action="},
	{key: "attempt", label: "attempt="},
}

type palette struct {
	time, message, err *color.Color
	levels             map[slog.Level]*color.Color
}

func newPalette(enabled bool) palette {
	p := palette{
		time:    color.New(color.Faint),
		message: color.New(color.FgGreen),
		err:     color.New(color.FgRed),
		levels: map[slog.Level]*color.Color{
			slog.LevelDebug: color.New(color.FgCyan),
			slog.LevelInfo:  color.New(color.FgBlue),
			slog.LevelWarn:  color.New(color.FgYellow),
			slog.LevelError: color.New(color.FgRed),
		},
	}
	for _, c := range append([]*color.Color{p.time, p.message, p.err}, mapValues(p.levels)...) {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func mapValues(m map[slog.Level]*color.Color) []*color.Color {
	out := make([]*color.Color, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	return out
}

// TextHandler renders human readable, optionally colored records for local
// development: one summary line followed by the remaining attributes, one per
// line and sorted by key.
type TextHandler struct {
	mu      *sync.Mutex
	w       io.Writer
	level   slog.Leveler
	palette palette
	attrs   []slog.Attr
	prefix  string
}

type TextHandlerConfig struct {
	Color bool
	Level slog.Leveler
}

type TextHandlerOption func(*TextHandlerConfig)

func WithColor(c bool) TextHandlerOption {
	return func(cfg *TextHandlerConfig) {
		cfg.Color = c
	}
}

func WithLevel(level slog.Level) TextHandlerOption {
	return func(cfg *TextHandlerConfig) {
		cfg.Level = level
	}
}

func NewTextHandler(w io.Writer, opts ...TextHandlerOption) *TextHandler {
	cfg := TextHandlerConfig{Color: true, Level: slog.LevelInfo}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &TextHandler{
		mu:      &sync.Mutex{},
		w:       w,
		level:   cfg.Level,
		palette: newPalette(cfg.Color),
	}
}

func (h *TextHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *TextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	nh.attrs = append(nh.attrs, h.attrs...)
	for _, a := range attrs {
		nh.attrs = append(nh.attrs, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
	}
	return &nh
}

func (h *TextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := *h
	nh.prefix = h.prefix + name + "."
	return &nh
}

func (h *TextHandler) Handle(_ context.Context, record slog.Record) error {
	kv := make(map[string]slog.Value, len(h.attrs)+record.NumAttrs())
	for _, a := range h.attrs {
		kv[a.Key] = a.Value.Resolve()
	}
	record.Attrs(func(a slog.Attr) bool {
		kv[h.prefix+a.Key] = a.Value.Resolve()
		return true
	})

	var buf bytes.Buffer
	buf.WriteString(h.palette.time.Sprint(record.Time.Format(time.RFC3339)))
	buf.WriteByte(' ')
	buf.WriteString(h.levelColor(record.Level).Sprintf("%-5s", record.Level))
	buf.WriteByte(' ')
	for _, col := range summaryColumns {
		v, ok := kv[col.key]
		if !ok {
			continue
		}
		delete(kv, col.key)
		buf.WriteString(col.label + v.String() + " ")
	}
	buf.WriteString(h.palette.message.Sprint(record.Message))
	if e, ok := kv[ErrorAttributeKey]; ok {
		delete(kv, ErrorAttributeKey)
		buf.WriteString(" " + h.palette.err.Sprint(e.String()))
	}
	buf.WriteByte('\n')

	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := kv[k].String()
		if k == StackAttributeKey {
			v = "\n" + indent(v, "        ")
		}
		fmt.Fprintf(&buf, "    %s=%s\n", k, v)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

func (h *TextHandler) levelColor(l slog.Level) *color.Color {
	if c, ok := h.palette.levels[l]; ok {
		return c
	}
	return h.palette.levels[slog.LevelError]
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
