// Package telemetry provides OpenTelemetry initialisation and the attribute
// conventions shared by arbwatch instruments.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

const (
	// AttrEnvironment specifies the deployment environment for every metric.
	AttrEnvironment = attribute.Key("environment")
	// AttrChannel identifies the data channel of a stream connection (tick, candle, depth).
	AttrChannel = attribute.Key("channel")
	// AttrProvider identifies which upstream venue produced the signal.
	AttrProvider = attribute.Key("provider")
	// AttrScope names the monitoring scope.
	AttrScope = attribute.Key("scope")
	// AttrConnectionState labels connection lifecycle signals.
	AttrConnectionState = attribute.Key("connection.state")
	// AttrCommandType indicates which control frame was sent (subscribe/unsubscribe).
	AttrCommandType = attribute.Key("command.type")
	// AttrReason explains why a message was dropped or a poll skipped.
	AttrReason = attribute.Key("reason")
	// AttrOperation differentiates poll kinds and collaborator calls.
	AttrOperation = attribute.Key("operation")
	// AttrResult records the outcome of an operation.
	AttrResult = attribute.Key("result")
	// AttrNotificationType labels emitted order notifications.
	AttrNotificationType = attribute.Key("notification.type")
)

// ConnectionAttributes returns attributes for connection state metrics.
func ConnectionAttributes(environment, channel, state string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrChannel.String(channel),
		AttrConnectionState.String(state),
	}
}

// CommandAttributes returns attributes for control frame metrics.
func CommandAttributes(environment, channel, commandType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrChannel.String(channel),
		AttrCommandType.String(commandType),
	}
}

// DropAttributes returns attributes for dropped inbound messages.
func DropAttributes(environment, channel, reason string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrChannel.String(channel),
		AttrReason.String(reason),
	}
}

// OperationResultAttributes returns attributes for scoped operations with a result classification.
func OperationResultAttributes(environment, scope, operation, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrScope.String(scope),
		AttrOperation.String(operation),
		AttrResult.String(result),
	}
}

// NotificationAttributes returns attributes for forwarded notifications.
func NotificationAttributes(environment, scope, notificationType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrScope.String(scope),
		AttrNotificationType.String(notificationType),
	}
}
