package scope

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/arbwatch/internal/domain/schema"
	"github.com/coachpo/arbwatch/internal/infra/telemetry"
)

type scopeMetrics struct {
	scope         string
	pollDuration  metric.Float64Histogram
	pollResults   metric.Int64Counter
	pollsSkipped  metric.Int64Counter
	notifications metric.Int64Counter
	overlays      metric.Int64Counter
}

func newScopeMetrics(scope string) *scopeMetrics {
	meter := otel.Meter("arbwatch.scope")
	m := &scopeMetrics{scope: scope}
	m.pollDuration, _ = meter.Float64Histogram(telemetry.PollDurationMetric,
		metric.WithDescription("Duration of a full collaborator poll"),
		metric.WithUnit("ms"))
	m.pollResults, _ = meter.Int64Counter("arbwatch.poll.results",
		metric.WithDescription("Completed polls by operation and result"),
		metric.WithUnit("{poll}"))
	m.pollsSkipped, _ = meter.Int64Counter("arbwatch.poll.skipped",
		metric.WithDescription("Poll triggers skipped because a poll was in flight"),
		metric.WithUnit("{poll}"))
	m.notifications, _ = meter.Int64Counter("arbwatch.notifications",
		metric.WithDescription("Notifications forwarded to the log"),
		metric.WithUnit("{notification}"))
	m.overlays, _ = meter.Int64Counter("arbwatch.positions.overlays",
		metric.WithDescription("Price-only position updates published"),
		metric.WithUnit("{update}"))
	return m
}

func (m *scopeMetrics) observePoll(op string, took time.Duration) {
	if m == nil || m.pollDuration == nil {
		return
	}
	attrs := metric.WithAttributes(telemetry.AttrScope.String(m.scope), telemetry.AttrOperation.String(op))
	m.pollDuration.Record(context.Background(), float64(took.Microseconds())/1000, attrs)
}

func (m *scopeMetrics) recordResult(op, result string) {
	if m == nil || m.pollResults == nil {
		return
	}
	attrs := telemetry.OperationResultAttributes(telemetry.Environment(), m.scope, op, result)
	m.pollResults.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

func (m *scopeMetrics) recordSkip(op string) {
	if m == nil || m.pollsSkipped == nil {
		return
	}
	m.pollsSkipped.Add(context.Background(), 1, metric.WithAttributes(
		telemetry.AttrScope.String(m.scope), telemetry.AttrOperation.String(op)))
}

func (m *scopeMetrics) recordNotification(typ schema.NotificationType) {
	if m == nil || m.notifications == nil {
		return
	}
	attrs := telemetry.NotificationAttributes(telemetry.Environment(), m.scope, string(typ))
	m.notifications.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

func (m *scopeMetrics) recordOverlay() {
	if m == nil || m.overlays == nil {
		return
	}
	m.overlays.Add(context.Background(), 1, metric.WithAttributes(telemetry.AttrScope.String(m.scope)))
}
