package stream

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/arbwatch/internal/infra/telemetry"
)

type streamMetrics struct {
	channel string

	stateChanges metric.Int64Counter
	controls     metric.Int64Counter
	messages     metric.Int64Counter
	dropped      metric.Int64Counter
	reconnects   metric.Int64Counter
	active       metric.Int64UpDownCounter
}

func newStreamMetrics(channel string) *streamMetrics {
	meter := otel.Meter("arbwatch.stream")
	m := &streamMetrics{channel: channel}
	m.stateChanges, _ = meter.Int64Counter("arbwatch.stream.state_changes",
		metric.WithDescription("Connection state transitions per channel"),
		metric.WithUnit("{transition}"))
	m.controls, _ = meter.Int64Counter("arbwatch.stream.control_frames",
		metric.WithDescription("Subscribe and unsubscribe frames sent"),
		metric.WithUnit("{frame}"))
	m.messages, _ = meter.Int64Counter("arbwatch.stream.messages",
		metric.WithDescription("Inbound data messages delivered to handlers"),
		metric.WithUnit("{message}"))
	m.dropped, _ = meter.Int64Counter("arbwatch.stream.dropped",
		metric.WithDescription("Inbound messages dropped before delivery"),
		metric.WithUnit("{message}"))
	m.reconnects, _ = meter.Int64Counter("arbwatch.stream.reconnects",
		metric.WithDescription("Reconnect timers armed after a connection drop"),
		metric.WithUnit("{reconnect}"))
	m.active, _ = meter.Int64UpDownCounter("arbwatch.stream.active_subscriptions",
		metric.WithDescription("Subscriptions acknowledged on the live connection"),
		metric.WithUnit("{subscription}"))
	return m
}

func (m *streamMetrics) recordState(state State) {
	if m == nil || m.stateChanges == nil {
		return
	}
	attrs := telemetry.ConnectionAttributes(telemetry.Environment(), m.channel, state.String())
	m.stateChanges.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

func (m *streamMetrics) recordControl(op string) {
	if m == nil || m.controls == nil {
		return
	}
	attrs := telemetry.CommandAttributes(telemetry.Environment(), m.channel, op)
	m.controls.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

func (m *streamMetrics) recordMessage() {
	if m == nil || m.messages == nil {
		return
	}
	m.messages.Add(context.Background(), 1, metric.WithAttributes(telemetry.AttrChannel.String(m.channel)))
}

func (m *streamMetrics) recordDrop(reason string) {
	if m == nil || m.dropped == nil {
		return
	}
	attrs := telemetry.DropAttributes(telemetry.Environment(), m.channel, reason)
	m.dropped.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

func (m *streamMetrics) recordReconnect() {
	if m == nil || m.reconnects == nil {
		return
	}
	m.reconnects.Add(context.Background(), 1, metric.WithAttributes(telemetry.AttrChannel.String(m.channel)))
}

func (m *streamMetrics) adjustActive(delta int) {
	if m == nil || m.active == nil || delta == 0 {
		return
	}
	m.active.Add(context.Background(), int64(delta), metric.WithAttributes(telemetry.AttrChannel.String(m.channel)))
}
