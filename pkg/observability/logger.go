package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

const (
	attrTraceID = "trace_id"
	attrSpanID  = "span_id"
	attrService = "service"
	attrEnv     = "env"
	attrMode    = "mode"
	attrRunID   = "run_id"
)

// LogMeta is the static metadata attached to every record.
type LogMeta struct {
	Service string
	Env     string
	Mode    AppMode

	// RunID tags every record of one scoring or bench run. Optional.
	RunID string
}

func (m LogMeta) attrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String(attrService, m.Service),
		slog.String(attrMode, string(m.Mode)),
	}

	if m.Env != "" {
		attrs = append(attrs, slog.String(attrEnv, m.Env))
	}

	if m.RunID != "" {
		attrs = append(attrs, slog.String(attrRunID, m.RunID))
	}

	return attrs
}

// TracingHandler is an [slog.Handler] that adds the active span's trace_id and
// span_id to each record. Run metadata is attached once to the inner handler so
// it stays top-level under WithGroup.
type TracingHandler struct {
	inner slog.Handler
}

// NewTracingHandler wraps inner with trace context injection and run metadata.
func NewTracingHandler(inner slog.Handler, meta LogMeta) *TracingHandler {
	return &TracingHandler{inner: inner.WithAttrs(meta.attrs())}
}

// NewLogger builds a text or JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

	var inner slog.Handler
	if cfg.LogJSON {
		inner = slog.NewJSONHandler(w, opts)
	} else {
		inner = slog.NewTextHandler(w, opts)
	}

	return slog.New(NewTracingHandler(inner, LogMeta{
		Service: cfg.ServiceName,
		Env:     cfg.Environment,
		Mode:    cfg.Mode,
		RunID:   cfg.RunID,
	}))
}

// Enabled delegates to the inner handler.
func (th *TracingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return th.inner.Enabled(ctx, level)
}

// Handle adds trace context from ctx, then delegates.
func (th *TracingHandler) Handle(ctx context.Context, record slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		record.AddAttrs(
			slog.String(attrTraceID, sc.TraceID().String()),
			slog.String(attrSpanID, sc.SpanID().String()),
		)
	}

	err := th.inner.Handle(ctx, record)
	if err != nil {
		return fmt.Errorf("tracing handler: %w", err)
	}

	return nil
}

// WithAttrs returns a handler with extra attributes on the inner handler.
func (th *TracingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TracingHandler{inner: th.inner.WithAttrs(attrs)}
}

// WithGroup returns a handler with a group prefix on the inner handler.
func (th *TracingHandler) WithGroup(name string) slog.Handler {
	return &TracingHandler{inner: th.inner.WithGroup(name)}
}
