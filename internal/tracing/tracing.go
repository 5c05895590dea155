// Package tracing configures OpenTelemetry tracing.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope used by BlazeAlert spans.
const TracerName = "github.com/good-yellow-bee/blazealert"

var (
	ErrEndpointRequired = errors.New("tracing: endpoint is required when tracing is enabled")
	ErrEndpointInvalid  = errors.New("tracing: endpoint must be a URL with a host")
	ErrSamplingInvalid  = errors.New("tracing: sampling rate must be between 0 and 1")
)

// Config holds tracing settings.
type Config struct {
	Enabled      bool          `yaml:"enabled" env:"BLAZEALERT_TRACING_ENABLED"`
	Endpoint     string        `yaml:"endpoint" env:"BLAZEALERT_TRACING_ENDPOINT"`
	Insecure     bool          `yaml:"insecure" env:"BLAZEALERT_TRACING_INSECURE"`
	SamplingRate float64       `yaml:"sampling_rate" env:"BLAZEALERT_TRACING_SAMPLING_RATE" env-default:"1"`
	Timeout      time.Duration `yaml:"timeout" env:"BLAZEALERT_TRACING_TIMEOUT" env-default:"5s"`
	ServiceName  string        `yaml:"service_name" env:"BLAZEALERT_TRACING_SERVICE_NAME" env-default:"blazealert"`
	Environment  string        `yaml:"environment" env:"BLAZEALERT_ENVIRONMENT" env-default:"production"`
}

// Validate checks the configuration. Disabled tracing is always valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return ErrEndpointRequired
	}
	if u, err := url.Parse(c.Endpoint); err != nil || u.Host == "" {
		return ErrEndpointInvalid
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("%w: got %g", ErrSamplingInvalid, c.SamplingRate)
	}
	return nil
}

// Init installs the global tracer provider and returns its shutdown func.
// When tracing is disabled the global no-op provider stays in place.
func Init(ctx context.Context, cfg Config, version string, logger zerolog.Logger) (func(context.Context) error, error) {
	if !cfg.Enabled {
		logger.Debug().Msg("tracing disabled")
		return func(context.Context) error { return nil }, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(version),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	u, _ := url.Parse(cfg.Endpoint)
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(u.Host),
		otlptracehttp.WithTimeout(cfg.Timeout),
	}
	if u.Path != "" && u.Path != "/" {
		opts = append(opts, otlptracehttp.WithURLPath(u.Path))
	}
	if cfg.Insecure || u.Scheme == "http" {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
	)
	otel.SetTracerProvider(tp)

	logger.Info().
		Str("endpoint", cfg.Endpoint).
		Float64("sampling_rate", cfg.SamplingRate).
		Msg("tracing initialized")
	return tp.Shutdown, nil
}

// Tracer returns the BlazeAlert tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
