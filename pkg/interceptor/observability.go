package interceptor

import (
	"context"
	"fmt"
	"time"

	"exec-pipeline/pkg/config"
	"exec-pipeline/pkg/logging"
	"exec-pipeline/pkg/metrics"
	"exec-pipeline/pkg/resilience"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Observability traces, measures, and logs the whole call, retries included.
type Observability struct {
	Tracer  trace.Tracer
	Metrics metrics.Collector
	Logger  *logging.Logger
	Flags   config.ResolvedObservability
}

func (o *Observability) Name() string { return "observability" }

func (o *Observability) Intercept(ctx context.Context, ec *ExecutionContext, next Handler) (interface{}, error) {
	var span trace.Span
	if o.Flags.Tracing && o.Tracer != nil {
		ctx, span = o.Tracer.Start(ctx, ec.Name(),
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(
				attribute.String("exec.id", ec.ID),
				attribute.String("exec.plugin", ec.Plugin),
				attribute.String("exec.operation", ec.Operation),
			),
		)
		defer span.End()
	}

	start := time.Now()
	v, err := next(ctx, ec)
	duration := time.Since(start)

	attempts := ec.Attempts()
	if attempts == 0 {
		attempts = 1
	}

	if span != nil {
		span.SetAttributes(attribute.Int("exec.attempts", attempts))
		span.SetAttributes(metadataAttributes(ec.Metadata())...)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.SetAttributes(attribute.String("exec.error_kind", resilience.Classify(err).String()))
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}

	if o.Flags.Metrics && o.Metrics != nil {
		o.Metrics.RecordExecution(ec.Plugin, ec.Operation, err == nil, duration)
	}

	if o.Flags.Logging && o.Logger != nil {
		fields := []zap.Field{
			zap.String("request_id", ec.ID),
			zap.String("operation", ec.Name()),
			zap.Int("attempts", attempts),
			zap.Duration("duration", duration),
		}
		if err != nil {
			o.Logger.Warn("execution failed", append(fields,
				zap.String("kind", resilience.Classify(err).String()),
				zap.Error(err),
			)...)
		} else {
			o.Logger.Debug("execution finished", fields...)
		}
	}

	return v, err
}

func metadataAttributes(md map[string]interface{}) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(md))
	for k, v := range md {
		key := "exec.meta." + k
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(key, val))
		case bool:
			attrs = append(attrs, attribute.Bool(key, val))
		case int:
			attrs = append(attrs, attribute.Int(key, val))
		case int64:
			attrs = append(attrs, attribute.Int64(key, val))
		case float64:
			attrs = append(attrs, attribute.Float64(key, val))
		default:
			attrs = append(attrs, attribute.String(key, fmt.Sprint(val)))
		}
	}
	return attrs
}
