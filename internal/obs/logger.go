package obs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/getsentry/sentry-go"
)

// ParseLevel maps a config string to a slog level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// NewLogger builds the process logger. format is "json" (default) or "text".
// When Sentry is initialized, records at error level and above are also
// reported to it.
func NewLogger(w io.Writer, format, level, service string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		h = slog.NewJSONHandler(w, opts)
	case "text":
		h = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	logger := slog.New(NewSentryHandler(h, slog.LevelError))
	if service != "" {
		logger = logger.With(slog.String("service", service))
	}
	return logger, nil
}

// SentryHandler forwards records at or above a level to the current Sentry
// hub and always passes them on to the wrapped handler.
type SentryHandler struct {
	next  slog.Handler
	min   slog.Level
	attrs []slog.Attr
	group string
}

// NewSentryHandler wraps next.
func NewSentryHandler(next slog.Handler, min slog.Level) *SentryHandler {
	return &SentryHandler{next: next, min: min}
}

func (h *SentryHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *SentryHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.min {
		h.report(ctx, r)
	}
	return h.next.Handle(ctx, r)
}

func (h *SentryHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := *h
	out.next = h.next.WithAttrs(attrs)
	out.attrs = append(append([]slog.Attr(nil), h.attrs...), h.qualify(attrs)...)
	return &out
}

func (h *SentryHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	out := *h
	out.next = h.next.WithGroup(name)
	if h.group == "" {
		out.group = name
	} else {
		out.group = h.group + "." + name
	}
	return &out
}

func (h *SentryHandler) qualify(attrs []slog.Attr) []slog.Attr {
	if h.group == "" {
		return attrs
	}
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = slog.Attr{Key: h.group + "." + a.Key, Value: a.Value}
	}
	return out
}

func (h *SentryHandler) report(ctx context.Context, r slog.Record) {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	if hub.Client() == nil {
		return
	}

	var cause error
	extras := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		extras[a.Key] = a.Value.Resolve().Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		v := a.Value.Resolve().Any()
		if err, ok := v.(error); ok && cause == nil {
			cause = err
		}
		key := a.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		extras[key] = v
		return true
	})

	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentryLevel(r.Level))
		for k, v := range extras {
			scope.SetExtra(k, v)
		}
		if cause != nil {
			scope.SetExtra("message", r.Message)
			hub.CaptureException(cause)
			return
		}
		hub.CaptureMessage(r.Message)
	})
}

func sentryLevel(l slog.Level) sentry.Level {
	switch {
	case l >= slog.LevelError:
		return sentry.LevelError
	case l >= slog.LevelWarn:
		return sentry.LevelWarning
	case l >= slog.LevelInfo:
		return sentry.LevelInfo
	default:
		return sentry.LevelDebug
	}
}
