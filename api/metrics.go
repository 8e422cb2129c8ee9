package api

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	saveSpanName    = "setlist.api.documents.save"
	saveEventName   = "setlist.api.documents.save.request"
	saveEventDomain = "setlist"
)

// saveRequestMetrics accumulates timings for a single document save request
// and emits both a structured log entry and an otel span when the request
// finishes.
type saveRequestMetrics struct {
	logger       *log.Logger
	span         trace.Span
	start        time.Time
	authDuration time.Duration
	saveDuration time.Duration
	itemCount    int
	conflict     bool
	errorStage   string
}

func newSaveRequestMetrics(ctx context.Context, logger *log.Logger) (*saveRequestMetrics, context.Context) {
	tracer := otel.GetTracerProvider().Tracer("setlist-sync/api")
	ctx, span := tracer.Start(ctx, saveSpanName)
	return &saveRequestMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
	}, ctx
}

func (m *saveRequestMetrics) ObserveAuth(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.authDuration = duration
}

func (m *saveRequestMetrics) ObserveSave(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.saveDuration = duration
}

func (m *saveRequestMetrics) SetItemCount(count int) {
	if count < 0 {
		count = 0
	}
	m.itemCount = count
}

func (m *saveRequestMetrics) SetConflict(conflict bool) {
	m.conflict = conflict
}

func (m *saveRequestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *saveRequestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}

	totalMs := durationToMillis(time.Since(m.start))
	severityText, severityNumber := severityForStatus(status, err)

	attrs := []attribute.KeyValue{
		attribute.String("http.route", "/api/documents/:id"),
		attribute.Int("http.status_code", status),
		attribute.Float64("setlist.save.total_ms", totalMs),
		attribute.Int("setlist.save.item_count", m.itemCount),
		attribute.Bool("setlist.save.conflict", m.conflict),
	}
	if m.authDuration > 0 {
		attrs = append(attrs, attribute.Float64("setlist.save.auth_ms", durationToMillis(m.authDuration)))
	}
	if m.saveDuration > 0 {
		attrs = append(attrs, attribute.Float64("setlist.save.save_ms", durationToMillis(m.saveDuration)))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("setlist.save.error_stage", m.errorStage))
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
	}

	if m.span != nil {
		eventAttrs := append([]attribute.KeyValue{
			attribute.String("event.name", saveEventName),
			attribute.String("event.domain", saveEventDomain),
			attribute.String("severity_text", severityText),
			attribute.Int("severity_number", severityNumber),
		}, attrs...)
		m.span.SetAttributes(attrs...)
		m.span.AddEvent("observability.event", trace.WithAttributes(eventAttrs...))
		if err != nil || status >= 500 {
			desc := "internal error"
			if err != nil {
				desc = err.Error()
			}
			m.span.SetStatus(codes.Error, desc)
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}

	fields := log.Fields{
		"event.name":      saveEventName,
		"event.domain":    saveEventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"status":          status,
		"attributes":      attributesAsMap(attrs),
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
		}
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	m.logger.WithFields(fields).Info("observability.event")
}

func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= 500:
		return "ERROR", 17
	case status >= 400:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func attributesAsMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
