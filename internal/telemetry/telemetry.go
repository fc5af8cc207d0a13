// Package telemetry hands out OpenTelemetry tracers. Spans are no-ops until
// the host installs a TracerProvider with otel.SetTracerProvider.
package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationPrefix = "support-agent/"

// Tracer returns the tracer for the named component.
func Tracer(component string) trace.Tracer {
	return otel.Tracer(instrumentationPrefix + component)
}
