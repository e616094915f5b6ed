// Package tracing sets up the OpenTelemetry trace pipeline. Spans are
// exported over OTLP gRPC; when tracing is disabled the provider is a
// no-op and GetTracer still returns a usable tracer.
package tracing

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/moolen/inquest/internal/logging"
)

// Config holds tracing configuration.
type Config struct {
	Enabled     bool
	Endpoint    string // OTLP gRPC endpoint, e.g. "otel-collector:4317"
	TLSCAPath   string // CA certificate for TLS verification (optional)
	TLSInsecure bool   // Skip TLS certificate verification
}

// Provider wraps the OpenTelemetry tracer provider with a Start/Stop
// lifecycle.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	logger         *logging.Logger
	enabled        bool
}

// NewProvider creates the trace pipeline. With Enabled false it returns a
// no-op provider.
func NewProvider(cfg Config) (*Provider, error) {
	logger := logging.GetLogger("tracing")

	if !cfg.Enabled {
		logger.Info("tracing disabled")
		return &Provider{logger: logger}, nil
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("tracing enabled but endpoint not configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var dialOptions []grpc.DialOption
	var otlpOptions []otlptracegrpc.Option

	switch {
	case cfg.TLSInsecure:
		creds := credentials.NewTLS(&tls.Config{
			InsecureSkipVerify: true, // #nosec G402 -- explicit operator opt-in
			MinVersion:         tls.VersionTLS12,
		})
		dialOptions = append(dialOptions, grpc.WithTransportCredentials(creds))
		logger.Warn("tracing TLS certificate verification disabled")
	case cfg.TLSCAPath != "":
		caCert, err := os.ReadFile(cfg.TLSCAPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append CA certificate to pool")
		}
		creds := credentials.NewTLS(&tls.Config{
			RootCAs:    certPool,
			MinVersion: tls.VersionTLS12,
		})
		dialOptions = append(dialOptions, grpc.WithTransportCredentials(creds))
		logger.Info("tracing TLS enabled with CA from %s", cfg.TLSCAPath)
	default:
		dialOptions = append(dialOptions, grpc.WithTransportCredentials(insecure.NewCredentials()))
		otlpOptions = append(otlpOptions, otlptracegrpc.WithInsecure())
	}

	otlpOptions = append(otlpOptions,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithDialOption(dialOptions...),
	)

	exporter, err := otlptracegrpc.New(ctx, otlpOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("inquest"),
			semconv.ServiceVersion("0.1.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tracerProvider)

	logger.Info("tracing initialized with endpoint %s", cfg.Endpoint)
	return &Provider{
		tracerProvider: tracerProvider,
		logger:         logger,
		enabled:        true,
	}, nil
}

// Start is part of the component lifecycle.
func (p *Provider) Start(_ context.Context) error {
	if p.enabled {
		p.logger.Info("tracing provider started")
	}
	return nil
}

// Stop flushes remaining spans and shuts the pipeline down.
func (p *Provider) Stop(ctx context.Context) error {
	if !p.enabled {
		return nil
	}
	if err := p.tracerProvider.Shutdown(ctx); err != nil {
		p.logger.Error("error shutting down tracer provider: %v", err)
		return err
	}
	p.logger.Info("tracing provider stopped")
	return nil
}

// GetTracer returns a tracer for instrumenting code.
func (p *Provider) GetTracer(name string) trace.Tracer {
	return otel.GetTracerProvider().Tracer(name)
}

// IsEnabled reports whether spans are exported.
func (p *Provider) IsEnabled() bool {
	return p.enabled
}
