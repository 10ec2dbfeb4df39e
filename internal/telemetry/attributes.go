// SPDX-License-Identifier: MIT

// Package telemetry provides OpenTelemetry tracing utilities for the dispatch engine.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"
	HTTPUserAgentKey  = "http.user_agent"

	// Credential attributes
	CredentialIDKey       = "credential.id"
	CredentialUsableKey   = "credential.usable"
	CredentialCapacityKey = "credential.available_capacity"

	// Dispatch attributes
	DispatchOperationKey = "dispatch.operation"
	DispatchAttemptKey   = "dispatch.attempt"
	DispatchRotationKey  = "dispatch.rotation"
	DispatchPriorityKey  = "dispatch.priority"

	// Request attributes
	RequestIDKey       = "request.id"
	RequestStatusKey   = "request.status"
	RequestDurationKey = "request.duration_ms"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// CredentialAttributes creates credential-pool span attributes.
func CredentialAttributes(id string, usable bool, availableCapacity int) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if id != "" {
		attrs = append(attrs, attribute.String(CredentialIDKey, id))
	}
	attrs = append(attrs, attribute.Bool(CredentialUsableKey, usable))
	attrs = append(attrs, attribute.Int(CredentialCapacityKey, availableCapacity))
	return attrs
}

// DispatchAttributes creates span attributes for one dispatch attempt.
func DispatchAttributes(operation string, attempt, rotation, priority int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(DispatchOperationKey, operation),
		attribute.Int(DispatchAttemptKey, attempt),
		attribute.Int(DispatchRotationKey, rotation),
		attribute.Int(DispatchPriorityKey, priority),
	}
}

// RequestAttributes creates request-lifecycle span attributes.
func RequestAttributes(id, status string, durationMS int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(RequestIDKey, id),
		attribute.String(RequestStatusKey, status),
		attribute.Int64(RequestDurationKey, durationMS),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
