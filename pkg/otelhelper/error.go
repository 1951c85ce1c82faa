package otelhelper

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SetError records err on span and marks it failed.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.AddEvent("error_occurred", trace.WithAttributes(
		attrs...,
	))
}

// SetOutcome records a non-error phase or mission result on span.
func SetOutcome(span trace.Span, status string, success bool) {
	span.SetAttributes(
		attribute.String("sortie.outcome.status", status),
		attribute.Bool("sortie.outcome.success", success),
	)

	if success {
		span.SetStatus(codes.Ok, status)
	}
}
