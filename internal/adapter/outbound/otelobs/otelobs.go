// Package otelobs wires an OpenTelemetry tracer and meter into the
// gateway pipeline, gated by AGENTGATE_OTEL_ENABLED. Both exporters are
// the stdout exporters pointed at a caller-supplied writer: the
// containment gateway has no fixed collector endpoint in its deployment
// model, so traces/metrics are written to that stream (serve passes the
// process's stderr) for an operator's collector sidecar to scrape,
// the same posture the teacher's go.mod (stdouttrace/stdoutmetric) was
// already set up for.
package otelobs

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Provider carries the tracer and meter the gateway orchestrator
// instruments its pipeline with. The zero value (Enabled=false) yields
// otel's global no-op implementations, so callers never need to nil-check.
type Provider struct {
	Enabled bool
	Tracer  trace.Tracer
	Meter   metric.Meter

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
}

// Setup builds a Provider. When enabled is false it returns the no-op
// global tracer/meter and a no-op shutdown func. When enabled is true it
// builds an SDK tracer/meter writing to out (typically os.Stderr, to
// keep stdout free for the server's own banner/log lines).
func Setup(enabled bool, out io.Writer) (*Provider, error) {
	if !enabled {
		return &Provider{
			Enabled: false,
			Tracer:  otel.Tracer("sentinel-gate"),
			Meter:   otel.Meter("sentinel-gate"),
		}, nil
	}

	traceExporter, err := stdouttrace.New(stdouttrace.WithWriter(out), stdouttrace.WithoutTimestamps())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExporter))
	otel.SetTracerProvider(tp)

	metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(out))
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)))
	otel.SetMeterProvider(mp)

	return &Provider{
		Enabled:        true,
		Tracer:         tp.Tracer("sentinel-gate"),
		Meter:          mp.Meter("sentinel-gate"),
		tracerProvider: tp,
		meterProvider:  mp,
	}, nil
}

// Shutdown flushes and stops the SDK providers. Safe to call on a
// disabled Provider (no-op).
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			return err
		}
	}
	if p.meterProvider != nil {
		return p.meterProvider.Shutdown(ctx)
	}
	return nil
}
