package logging

import (
	"context"
	"log/slog"
)

// ContextProvider returns attributes describing the live session, sampled
// once per record.
type ContextProvider func() []slog.Attr

// ContextHandler stamps every record with the provider's attributes. Keys the
// caller logged explicitly are kept and the provider's value is skipped.
type ContextHandler struct {
	inner    slog.Handler
	provider ContextProvider
}

func NewContextHandler(inner slog.Handler, provider ContextProvider) *ContextHandler {
	return &ContextHandler{inner: inner, provider: provider}
}

func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.provider == nil {
		return h.inner.Handle(ctx, r)
	}

	explicit := make(map[string]bool, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		explicit[a.Key] = true
		return true
	})
	for _, a := range h.provider() {
		if !explicit[a.Key] {
			r.AddAttrs(a)
		}
	}
	return h.inner.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return NewContextHandler(h.inner.WithAttrs(attrs), h.provider)
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return NewContextHandler(h.inner.WithGroup(name), h.provider)
}
