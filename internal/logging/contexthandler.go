package logging

import (
	"context"
	"log/slog"
	"time"
)

// SessionSource reports the run state stamped on log records. SessionID is
// empty outside a session; FixAge is false before the first fix.
type SessionSource interface {
	SessionID() string
	FixAge() (time.Duration, bool)
}

// SessionHandler adds "session" and "fixAge" to every record, read from the
// source when the record is handled.
type SessionHandler struct {
	inner slog.Handler
	src   SessionSource
}

// NewSessionHandler wraps inner. A nil src leaves records untouched.
func NewSessionHandler(inner slog.Handler, src SessionSource) *SessionHandler {
	return &SessionHandler{inner: inner, src: src}
}

func (h *SessionHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *SessionHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.src != nil {
		if id := h.src.SessionID(); id != "" {
			r.AddAttrs(slog.String("session", id))
		}
		if age, ok := h.src.FixAge(); ok {
			r.AddAttrs(slog.Duration("fixAge", age.Round(time.Millisecond)))
		}
	}
	return h.inner.Handle(ctx, r)
}

func (h *SessionHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SessionHandler{inner: h.inner.WithAttrs(attrs), src: h.src}
}

func (h *SessionHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &SessionHandler{inner: h.inner.WithGroup(name), src: h.src}
}
