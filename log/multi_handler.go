package log

import (
	"context"
	"errors"
	"log/slog"
)

// FanoutHandler writes every record to each child that accepts its level,
// e.g. text on stderr plus JSON in a log file.
type FanoutHandler struct {
	children []slog.Handler
}

// NewFanoutHandler skips nil handlers. With a single child that child is
// returned as is.
func NewFanoutHandler(handlers ...slog.Handler) slog.Handler {
	pruned := make([]slog.Handler, 0, len(handlers))
	for _, h := range handlers {
		if h != nil {
			pruned = append(pruned, h)
		}
	}
	if len(pruned) == 1 {
		return pruned[0]
	}
	return &FanoutHandler{children: pruned}
}

func (h *FanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, child := range h.children {
		if child.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle gives each child its own clone of the record.
func (h *FanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, child := range h.children {
		if !child.Enabled(ctx, record.Level) {
			continue
		}
		if err := child.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *FanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.derive(func(c slog.Handler) slog.Handler { return c.WithAttrs(attrs) })
}

func (h *FanoutHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.derive(func(c slog.Handler) slog.Handler { return c.WithGroup(name) })
}

func (h *FanoutHandler) derive(fn func(slog.Handler) slog.Handler) *FanoutHandler {
	out := make([]slog.Handler, len(h.children))
	for i, child := range h.children {
		out[i] = fn(child)
	}
	return &FanoutHandler{children: out}
}
