// Copyright 2026 © The Waspnest Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/waspnest/pkg/hooks"
	"github.com/jllopis/waspnest/pkg/schema"
)

// ConfigureSlog builds a text or json logger that stamps records with the
// active span ids, installs it as the slog default and returns it.
func ConfigureSlog(output io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}
	var h slog.Handler = slog.NewTextHandler(output, opts)
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		h = slog.NewJSONHandler(output, opts)
	}
	logger := slog.New(spanHandler{h})
	slog.SetDefault(logger)
	return logger
}

// spanHandler adds trace_id and span_id to records logged under a valid
// span, unless the caller already set them.
type spanHandler struct {
	slog.Handler
}

func (h spanHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		var hasTrace, hasSpan bool
		r.Attrs(func(a slog.Attr) bool {
			hasTrace = hasTrace || a.Key == "trace_id"
			hasSpan = hasSpan || a.Key == "span_id"
			return true
		})
		if !hasTrace {
			r.AddAttrs(slog.String("trace_id", sc.TraceID().String()))
		}
		if !hasSpan {
			r.AddAttrs(slog.String("span_id", sc.SpanID().String()))
		}
	}
	return h.Handler.Handle(ctx, r)
}

func (h spanHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return spanHandler{h.Handler.WithAttrs(attrs)}
}

func (h spanHandler) WithGroup(name string) slog.Handler {
	return spanHandler{h.Handler.WithGroup(name)}
}

// parseLogLevel accepts the slog level names plus "warning". Anything else
// is info.
func parseLogLevel(level string) slog.Level {
	level = strings.TrimSpace(level)
	if strings.EqualFold(level, "warning") {
		return slog.LevelWarn
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// RegisterLogging subscribes a structured log line to every lifecycle point.
// Failures are logged at error level, LLM requests and skill boundaries at
// debug, run boundaries at info.
func RegisterLogging(reg *hooks.Registry, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	return reg.OnAll(func(ctx context.Context, ev hooks.Event) error {
		attrs := []slog.Attr{
			slog.String("point", string(ev.Point)),
			slog.String("agent", ev.Agent),
			slog.String("run_id", ev.RunID),
		}
		if ev.Skill != "" {
			attrs = append(attrs, slog.String("skill", ev.Skill), slog.Int("step", ev.Step))
		}
		if !ev.State.IsZero() {
			attrs = append(attrs, slog.String("state_type", schema.TypeName(ev.State.Type())))
		}
		level := slog.LevelDebug
		msg := "skill event"
		switch ev.Point {
		case hooks.PreExecute:
			level, msg = slog.LevelInfo, "run started"
		case hooks.PostExecute:
			level, msg = slog.LevelInfo, "run completed"
		case hooks.Error:
			level, msg = slog.LevelError, "run failed"
			if ev.Err != nil {
				attrs = append(attrs, slog.String("error", ev.Err.Error()))
			}
		case hooks.LLMRequest:
			msg = "llm request"
			if ev.Request != nil {
				attrs = append(attrs,
					slog.String("model", ev.Request.Model),
					slog.String("response_model", ev.Request.ResponseModel),
				)
			}
		}
		logger.LogAttrs(ctx, level, msg, attrs...)
		return nil
	})
}
