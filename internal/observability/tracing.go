package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Tracer returns a tracer for the given name
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// StartSpan starts a new span from context
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

// StartDBSpan starts a span for local database operations
func StartDBSpan(ctx context.Context, operation, table string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("DB %s %s", operation, table),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "sqlite"),
			attribute.String("db.operation", operation),
			attribute.String("db.sql.table", table),
		),
	)
}

// StartServiceSpan starts a span for service operations
func StartServiceSpan(ctx context.Context, service, operation string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("%s.%s", service, operation),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("service.component", service),
			attribute.String("service.operation", operation),
		),
	)
}

// RecordError records an error on the span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSuccess marks the span as successful
func SetSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddEvent adds an event to the span
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SyncMetrics holds the sync engine's metrics instruments
type SyncMetrics struct {
	photosSynced  metric.Int64Counter
	photosFailed  metric.Int64Counter
	toursSynced   metric.Int64Counter
	toursFailed   metric.Int64Counter
	passDuration  metric.Float64Histogram
	passCount     metric.Int64Counter
	queueDepth    metric.Int64UpDownCounter
	bytesUploaded metric.Int64Counter
}

// NewSyncMetrics creates sync metrics instruments
func NewSyncMetrics() (*SyncMetrics, error) {
	meter := otel.Meter(instrumentationName)

	photosSynced, err := meter.Int64Counter(
		"toursync.photos.synced",
		metric.WithDescription("Total number of photos synced upstream"),
		metric.WithUnit("{photos}"),
	)
	if err != nil {
		return nil, err
	}

	photosFailed, err := meter.Int64Counter(
		"toursync.photos.failed",
		metric.WithDescription("Total number of photo sync failures"),
		metric.WithUnit("{photos}"),
	)
	if err != nil {
		return nil, err
	}

	toursSynced, err := meter.Int64Counter(
		"toursync.tours.synced",
		metric.WithDescription("Total number of tours synced upstream"),
		metric.WithUnit("{tours}"),
	)
	if err != nil {
		return nil, err
	}

	toursFailed, err := meter.Int64Counter(
		"toursync.tours.failed",
		metric.WithDescription("Total number of tour sync failures"),
		metric.WithUnit("{tours}"),
	)
	if err != nil {
		return nil, err
	}

	passDuration, err := meter.Float64Histogram(
		"toursync.pass.duration",
		metric.WithDescription("Reconciliation pass duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	passCount, err := meter.Int64Counter(
		"toursync.pass.count",
		metric.WithDescription("Total number of reconciliation passes"),
		metric.WithUnit("{passes}"),
	)
	if err != nil {
		return nil, err
	}

	queueDepth, err := meter.Int64UpDownCounter(
		"toursync.queue.depth",
		metric.WithDescription("Number of photos waiting in the local queue"),
		metric.WithUnit("{photos}"),
	)
	if err != nil {
		return nil, err
	}

	bytesUploaded, err := meter.Int64Counter(
		"toursync.upload.bytes",
		metric.WithDescription("Total bytes uploaded to blob storage"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		photosSynced:  photosSynced,
		photosFailed:  photosFailed,
		toursSynced:   toursSynced,
		toursFailed:   toursFailed,
		passDuration:  passDuration,
		passCount:     passCount,
		queueDepth:    queueDepth,
		bytesUploaded: bytesUploaded,
	}, nil
}

// RecordPhotoSync records the outcome of one photo upload
func (m *SyncMetrics) RecordPhotoSync(ctx context.Context, tourID string, bytes int64, success bool) {
	attrs := []attribute.KeyValue{
		attribute.String("tour_id", tourID),
	}
	if success {
		m.photosSynced.Add(ctx, 1, metric.WithAttributes(attrs...))
		m.bytesUploaded.Add(ctx, bytes)
		m.queueDepth.Add(ctx, -1)
	} else {
		m.photosFailed.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordTourSync records the outcome of one tour upload
func (m *SyncMetrics) RecordTourSync(ctx context.Context, success bool) {
	if success {
		m.toursSynced.Add(ctx, 1)
	} else {
		m.toursFailed.Add(ctx, 1)
	}
}

// RecordPass records a completed reconciliation pass
func (m *SyncMetrics) RecordPass(ctx context.Context, duration time.Duration, trigger string) {
	attrs := []attribute.KeyValue{
		attribute.String("trigger", trigger),
	}
	m.passCount.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.passDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordEnqueue bumps the queue depth gauge
func (m *SyncMetrics) RecordEnqueue(ctx context.Context) {
	m.queueDepth.Add(ctx, 1)
}
