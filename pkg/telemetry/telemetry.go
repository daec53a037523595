// Copyright 2026 © The Waspnest Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/jllopis/waspnest/pkg/errors"
)

// ShutdownFunc flushes and stops the providers installed by Init.
type ShutdownFunc func(context.Context) error

// Exporter names accepted by Config.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// Config selects where spans and metrics go.
type Config struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	// Writer receives stdout exporter output. Nil means os.Stdout.
	Writer io.Writer
}

type exporters struct {
	spans   sdktrace.SpanExporter
	metrics sdkmetric.Exporter
}

// Init installs stdout exporters.
func Init(serviceName, version string) (ShutdownFunc, error) {
	return InitWithConfig(serviceName, version, Config{Exporter: ExporterStdout})
}

// InitWithConfig installs global tracer and meter providers for serviceName.
// The "none" exporter leaves the global no-op providers in place.
func InitWithConfig(serviceName, version string, cfg Config) (ShutdownFunc, error) {
	if cfg.Exporter == ExporterNone {
		return func(context.Context) error { return nil }, nil
	}

	exp, err := newExporters(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(version),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp.spans, sdktrace.WithBatchTimeout(time.Second)),
		sdktrace.WithResource(res),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp.metrics, sdkmetric.WithInterval(time.Minute))),
		sdkmetric.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		return stderrors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

func newExporters(ctx context.Context, cfg Config) (exporters, error) {
	var (
		exp exporters
		err error
	)
	switch cfg.Exporter {
	case "", ExporterStdout:
		w := cfg.Writer
		if w == nil {
			w = os.Stdout
		}
		if exp.spans, err = stdouttrace.New(stdouttrace.WithWriter(w)); err != nil {
			return exp, fmt.Errorf("stdout span exporter: %w", err)
		}
		if exp.metrics, err = stdoutmetric.New(stdoutmetric.WithWriter(w)); err != nil {
			return exp, fmt.Errorf("stdout metric exporter: %w", err)
		}
	case ExporterOTLP:
		if cfg.OTLPEndpoint == "" {
			return exp, errors.Configuration("otlp exporter requires an endpoint")
		}
		spanOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			spanOpts = append(spanOpts, otlptracegrpc.WithInsecure())
			metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
		}
		if exp.spans, err = otlptracegrpc.New(ctx, spanOpts...); err != nil {
			return exp, fmt.Errorf("otlp span exporter: %w", err)
		}
		if exp.metrics, err = otlpmetricgrpc.New(ctx, metricOpts...); err != nil {
			return exp, fmt.Errorf("otlp metric exporter: %w", err)
		}
	default:
		return exp, errors.Configurationf("unknown telemetry exporter %q", cfg.Exporter).
			WithContext("exporter", cfg.Exporter)
	}
	return exp, nil
}
