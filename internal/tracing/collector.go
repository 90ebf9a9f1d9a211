package tracing

import (
	"container/ring"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Collector turns TraceData/SpanData into OpenTelemetry spans on the
// configured TracerProvider and keeps a bounded in-memory window of the
// most recent traces for `doctor` and verbose-mode inspection.
type Collector struct {
	tracer  oteltrace.Tracer
	verbose bool

	mu     sync.Mutex
	traces map[string]*traceEntry
	recent *ring.Ring
}

type traceEntry struct {
	data  *TraceData
	span  oteltrace.Span
	spans []SpanData
}

// NewCollector builds a Collector on top of the given TracerProvider.
// verbose controls whether full message/tool payloads are captured instead
// of truncated previews (set from telemetry verbose or ASTERONIRIS_TRACE_VERBOSE).
func NewCollector(tp *sdktrace.TracerProvider, verbose bool) *Collector {
	var tracer oteltrace.Tracer
	if tp != nil {
		tracer = tp.Tracer("asteroniris/agent")
	}
	return &Collector{
		tracer:  tracer,
		verbose: verbose,
		traces:  make(map[string]*traceEntry),
		recent:  ring.New(200),
	}
}

// Verbose reports whether full payloads should be captured in spans.
func (c *Collector) Verbose() bool { return c.verbose }

// CreateTrace opens a root OTel span for the run and remembers it so spans
// emitted afterward nest underneath it.
func (c *Collector) CreateTrace(ctx context.Context, t *TraceData) error {
	var span oteltrace.Span
	if c.tracer != nil {
		_, span = c.tracer.Start(ctx, t.Name, oteltrace.WithAttributes(
			attribute.String("asteroniris.run_id", t.RunID),
			attribute.String("asteroniris.session_key", t.SessionKey),
			attribute.String("asteroniris.channel", t.Channel),
		))
	}
	c.mu.Lock()
	c.traces[t.ID.String()] = &traceEntry{data: t, span: span}
	c.mu.Unlock()
	return nil
}

// FinishTrace closes the root span and records the final status.
func (c *Collector) FinishTrace(ctx context.Context, traceID uuid.UUID, status TraceStatus, errMsg, outputPreview string) error {
	key := traceID.String()
	c.mu.Lock()
	entry, ok := c.traces[key]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	entry.data.Status = status
	entry.data.Error = errMsg
	entry.data.OutputPreview = outputPreview
	entry.data.EndTime = &now

	if entry.span != nil {
		if status == TraceStatusError {
			entry.span.SetStatus(codes.Error, errMsg)
		} else {
			entry.span.SetStatus(codes.Ok, "")
		}
		entry.span.End()
	}

	c.mu.Lock()
	delete(c.traces, key)
	c.recent.Value = entry
	c.recent = c.recent.Next()
	c.mu.Unlock()
	return nil
}

// EmitSpan records one LLM/tool/agent span, exporting it via OTel when a
// tracer is configured and appending it to the owning trace's local buffer.
func (c *Collector) EmitSpan(span SpanData) {
	key := span.TraceID.String()
	c.mu.Lock()
	entry := c.traces[key]
	var root oteltrace.Span
	if entry != nil {
		entry.spans = append(entry.spans, span)
		root = entry.span
	}
	c.mu.Unlock()

	if c.tracer == nil {
		return
	}
	parent := context.Background()
	if root != nil {
		parent = oteltrace.ContextWithSpan(parent, root)
	}
	_, otelSpan := c.tracer.Start(parent, span.Name, oteltrace.WithTimestamp(span.StartTime))
	otelSpan.SetAttributes(
		attribute.String("asteroniris.span_type", string(span.SpanType)),
		attribute.String("asteroniris.model", span.Model),
		attribute.String("asteroniris.provider", span.Provider),
		attribute.Int("asteroniris.input_tokens", span.InputTokens),
		attribute.Int("asteroniris.output_tokens", span.OutputTokens),
	)
	if span.Status == SpanStatusError {
		otelSpan.SetStatus(codes.Error, span.Error)
	} else {
		otelSpan.SetStatus(codes.Ok, "")
	}
	end := time.Now().UTC()
	if span.EndTime != nil {
		end = *span.EndTime
	}
	otelSpan.End(oteltrace.WithTimestamp(end))

	slog.Debug("tracing.span", "type", span.SpanType, "name", span.Name, "duration_ms", span.DurationMS)
}

// Recent returns the most recently finished traces, newest first, for the
// doctor report and `--verbose` CLI inspection.
func (c *Collector) Recent(limit int) []*TraceData {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*TraceData, 0, limit)
	n := c.recent.Len()
	r := c.recent.Prev()
	for i := 0; i < n && len(out) < limit; i++ {
		if e, ok := r.Value.(*traceEntry); ok {
			out = append(out, e.data)
		}
		r = r.Prev()
	}
	return out
}
