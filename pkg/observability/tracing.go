package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TracerName is the name of the tracer for termit operations.
	TracerName = "termit"
)

// Span attribute keys
const (
	AttrResource     = "resource"
	AttrDocument     = "document"
	AttrVocabularies = "vocabularies"
	AttrRequestedBy  = "requested_by"
	AttrGroups       = "mention_groups"
	AttrOccurrences  = "occurrences"
	AttrRemoved      = "removed"
	AttrSkipped      = "skipped"
	AttrPromoted     = "promoted"
	AttrStatusCode   = "http.status_code"
	AttrDurationMs   = "duration_ms"
	AttrErrorType    = "error_type"
	AttrRetryable    = "retryable"
)

// Span names
const (
	SpanAnalyzeFile    = "termit.analyze_file"
	SpanServiceCall    = "termit.text_analysis.call"
	SpanAnnotate       = "termit.annotation.generate"
	SpanReconcile      = "termit.annotation.reconcile"
	SpanPromote        = "termit.assignment.promote"
	SpanDocumentLoad   = "termit.document.load"
	SpanDocumentBackup = "termit.document.backup"
)

// Tracer provides distributed tracing for analysis runs.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer backed by the global otel provider.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(TracerName),
	}
}

// StartAnalysisSpan starts the root span of one analysis run.
func (t *Tracer) StartAnalysisSpan(ctx context.Context, resource string, vocabularies []string, requestedBy string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, SpanAnalyzeFile,
		trace.WithAttributes(
			attribute.String(AttrResource, resource),
			attribute.StringSlice(AttrVocabularies, vocabularies),
		),
	)
	if requestedBy != "" {
		span.SetAttributes(attribute.String(AttrRequestedBy, requestedBy))
	}
	return ctx, span
}

// StartServiceCallSpan starts a span around a text analysis service call.
func (t *Tracer) StartServiceCallSpan(ctx context.Context) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanServiceCall, trace.WithSpanKind(trace.SpanKindClient))
}

// StartAnnotationSpan starts a span for annotation of resource.
func (t *Tracer) StartAnnotationSpan(ctx context.Context, resource string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanAnnotate,
		trace.WithAttributes(attribute.String(AttrResource, resource)),
	)
}

// StartSpan starts a child span with the given name and resource attribute.
func (t *Tracer) StartSpan(ctx context.Context, name, resource string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name,
		trace.WithAttributes(attribute.String(AttrResource, resource)),
	)
}

// SpanHelper provides convenient methods for working with the current span.
type SpanHelper struct {
	span trace.Span
}

// NewSpanHelper creates a new span helper for the given span.
func NewSpanHelper(span trace.Span) *SpanHelper {
	return &SpanHelper{span: span}
}

// SetAnnotationResult records the counts produced by annotation.
func (h *SpanHelper) SetAnnotationResult(groups, occurrences, removed, skipped, promoted int) {
	h.span.SetAttributes(
		attribute.Int(AttrGroups, groups),
		attribute.Int(AttrOccurrences, occurrences),
		attribute.Int(AttrRemoved, removed),
		attribute.Int(AttrSkipped, skipped),
		attribute.Int(AttrPromoted, promoted),
	)
}

// SetDocument sets the owning document attribute.
func (h *SpanHelper) SetDocument(document string) {
	h.span.SetAttributes(attribute.String(AttrDocument, document))
}

// SetStatusCode sets the HTTP status returned by the service.
func (h *SpanHelper) SetStatusCode(code int) {
	h.span.SetAttributes(attribute.Int(AttrStatusCode, code))
}

// SetDuration sets the duration attribute.
func (h *SpanHelper) SetDuration(durationMs int64) {
	h.span.SetAttributes(attribute.Int64(AttrDurationMs, durationMs))
}

// SetError records an error on the span.
func (h *SpanHelper) SetError(err error, errorType string, retryable bool) {
	h.span.SetStatus(codes.Error, err.Error())
	h.span.SetAttributes(
		attribute.String(AttrErrorType, errorType),
		attribute.Bool(AttrRetryable, retryable),
	)
	h.span.RecordError(err)
}

// SetSuccess marks the span as successful.
func (h *SpanHelper) SetSuccess() {
	h.span.SetStatus(codes.Ok, "")
}

// AddEvent adds an event to the span.
func (h *SpanHelper) AddEvent(name string, attrs ...attribute.KeyValue) {
	h.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// GetTraceID returns the trace ID from the context.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().HasTraceID() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}

// GetSpanID returns the span ID from the context.
func GetSpanID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().HasSpanID() {
		return span.SpanContext().SpanID().String()
	}
	return ""
}
