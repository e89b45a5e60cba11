package redact

import (
	"context"
	"log/slog"
)

// Handler is a [slog.Handler] that masks NRICs and redacts the configured
// bearer token in every record before delegating to the wrapped handler.
// Installing it on the root logger guarantees no log line leaves the process
// with raw PII, regardless of call-site discipline.
type Handler struct {
	inner  slog.Handler
	secret string
}

var _ slog.Handler = (*Handler)(nil)

// NewHandler wraps inner with PII masking. secret is the bearer token to
// redact; pass "" when no token is configured.
func NewHandler(inner slog.Handler, secret string) *Handler {
	return &Handler{inner: inner, secret: secret}
}

// Enabled implements [slog.Handler].
func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle implements [slog.Handler]. The record message and every string
// attribute value are scrubbed; non-string values pass through untouched.
func (h *Handler) Handle(ctx context.Context, rec slog.Record) error {
	clean := slog.NewRecord(rec.Time, rec.Level, h.scrub(rec.Message), rec.PC)
	rec.Attrs(func(a slog.Attr) bool {
		clean.AddAttrs(h.scrubAttr(a))
		return true
	})
	return h.inner.Handle(ctx, clean)
}

// WithAttrs implements [slog.Handler].
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	scrubbed := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		scrubbed[i] = h.scrubAttr(a)
	}
	return &Handler{inner: h.inner.WithAttrs(scrubbed), secret: h.secret}
}

// WithGroup implements [slog.Handler].
func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name), secret: h.secret}
}

func (h *Handler) scrub(s string) string {
	return Secret(MaskText(s), h.secret)
}

func (h *Handler) scrubAttr(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		return slog.String(a.Key, h.scrub(a.Value.String()))
	case slog.KindGroup:
		members := a.Value.Group()
		scrubbed := make([]any, 0, len(members))
		for _, m := range members {
			scrubbed = append(scrubbed, h.scrubAttr(m))
		}
		return slog.Group(a.Key, scrubbed...)
	default:
		return a
	}
}
