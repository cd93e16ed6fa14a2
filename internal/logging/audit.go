// Package logging provides audit logging for privileged action requests.
package logging

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog for structured audit logging of executed actions.
type Logger struct {
	*slog.Logger
}

// New creates an audit logger writing JSON to stderr at the given level.
func New(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{Logger: slog.New(handler)}
}

// FromSlog wraps an existing slog logger, so audit records share the
// daemon's configured handler.
func FromSlog(l *slog.Logger) *Logger {
	return &Logger{Logger: l}
}

// LogAction records one executed action with its outcome. Argument
// values are included except secrets, which Redact removes before the
// call; invoker names the requesting process ("plasma-setup[1234]").
func (l *Logger) LogAction(ctx context.Context, requestID, action string, args map[string]any, invoker string, err error) {
	attrs := []slog.Attr{
		slog.String("request_id", requestID),
		slog.String("action", action),
		slog.String("invoker", invoker),
	}
	for k, v := range args {
		attrs = append(attrs, slog.Any(k, v))
	}
	if err != nil {
		attrs = append(attrs, slog.String("result", "error"), slog.String("error", err.Error()))
		l.LogAttrs(ctx, slog.LevelWarn, "action", attrs...)
		return
	}
	attrs = append(attrs, slog.String("result", "success"))
	l.LogAttrs(ctx, slog.LevelInfo, "action", attrs...)
}

// Redact returns a copy of args with secret values replaced, safe to
// hand to LogAction.
func Redact(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		if k == "password" {
			out[k] = "[redacted]"
			continue
		}
		out[k] = v
	}
	return out
}
