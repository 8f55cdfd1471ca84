package logging

import (
	"context"
	"log/slog"
)

const componentKey = "component"

// FilteringHandler drops records below the level the Spec assigns to the
// logger's component. The component is taken from the most recent
// "component" attribute added with With.
type FilteringHandler struct {
	inner     slog.Handler
	spec      *Spec
	component string
}

// NewFilteringHandler wraps inner.
func NewFilteringHandler(inner slog.Handler, spec *Spec) *FilteringHandler {
	return &FilteringHandler{inner: inner, spec: spec}
}

func (h *FilteringHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.spec.LevelFor(h.component).Slog()
}

func (h *FilteringHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.Enabled(ctx, r.Level) {
		return nil
	}
	return h.inner.Handle(ctx, r)
}

func (h *FilteringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &FilteringHandler{
		inner:     h.inner.WithAttrs(attrs),
		spec:      h.spec,
		component: h.component,
	}
	for _, a := range attrs {
		if a.Key == componentKey {
			next.component = a.Value.String()
		}
	}
	return next
}

func (h *FilteringHandler) WithGroup(name string) slog.Handler {
	return &FilteringHandler{
		inner:     h.inner.WithGroup(name),
		spec:      h.spec,
		component: h.component,
	}
}
