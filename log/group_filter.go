package log

import (
	"context"
	"log/slog"
	"strings"
)

// ComponentFilterHandler narrows output to the named component groups
// (stream, quote, dca, ...). Records at or above the floor level pass from
// every component so failures are never hidden.
type ComponentFilterHandler struct {
	next    slog.Handler
	allowed map[string]struct{}
	floor   slog.Level
	pass    bool
}

// NewComponentFilterHandler wraps next. An empty component list returns next
// unchanged.
func NewComponentFilterHandler(next slog.Handler, components []string, floor slog.Level) slog.Handler {
	if next == nil {
		return nil
	}
	allowed := make(map[string]struct{}, len(components))
	for _, c := range components {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			allowed[c] = struct{}{}
		}
	}
	if len(allowed) == 0 {
		return next
	}
	return &ComponentFilterHandler{next: next, allowed: allowed, floor: floor}
}

func (h *ComponentFilterHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *ComponentFilterHandler) Handle(ctx context.Context, record slog.Record) error {
	if !h.pass && record.Level < h.floor {
		return nil
	}
	return h.next.Handle(ctx, record)
}

func (h *ComponentFilterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.next = h.next.WithAttrs(attrs)
	return &clone
}

// WithGroup opens the filter once any group on the path is allowed.
func (h *ComponentFilterHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.next = h.next.WithGroup(name)
	if _, ok := h.allowed[strings.ToLower(name)]; ok {
		clone.pass = true
	}
	return &clone
}
