package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	gcpdetectors "go.opentelemetry.io/contrib/detectors/gcp"
	hostinstrumentation "go.opentelemetry.io/contrib/instrumentation/host"
	runtimeinstrumentation "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc/credentials"
	grpcinsecure "google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding/gzip"
)

const (
	metricReportingPeriod = 30 * time.Second
)

type shutdownFunction func(context.Context) error

func noopShutdownFunction(_ context.Context) error {
	return nil
}

// Create a new OpenTelemetry resource to describe the source of metrics and traces.
func newTelemetryResource(ctx context.Context, name string) (*resource.Resource, error) {
	logger := logger.V(1).WithValues("name", name)
	logger.Info("Creating new OpenTelemetry resource descriptor")
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("failed to generate UUID for telemetry resource: %w", err)
	}
	res, err := resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(
			semconv.ServiceNamespace(PackageName),
			semconv.ServiceName(name),
			semconv.ServiceVersion(version),
			semconv.ServiceInstanceID(id.String()),
		),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithOS(),
		resource.WithProcessPID(),
		resource.WithProcessExecutableName(),
		resource.WithProcessRuntimeName(),
		resource.WithProcessRuntimeVersion(),
		// Last, so GCE, GKE and Cloud Run attributes override the host ones.
		// The detector adds nothing when not running on Google Cloud.
		resource.WithDetectors(gcpdetectors.NewDetector()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create new telemetry resource: %w", err)
	}
	logger.V(1).Info("OpenTelemetry resource created", "resource", res)
	return res, nil
}

// Periodically exports runtime, host, and cache metrics to the collector.
func initMetrics(ctx context.Context, target string, creds credentials.TransportCredentials, res *resource.Resource) ([]shutdownFunction, error) {
	logger := logger.V(1).WithValues("target", target)
	logger.Info("Creating OpenTelemetry metric handlers")
	options := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(target),
		otlpmetricgrpc.WithCompressor(gzip.Name),
	}
	if creds != nil {
		options = append(options, otlpmetricgrpc.WithTLSCredentials(creds))
	}
	exporter, err := otlpmetricgrpc.New(ctx, options...)
	if err != nil {
		return []shutdownFunction{
			noopShutdownFunction,
		}, fmt.Errorf("failed to create new metric exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(metricReportingPeriod))),
	)
	// NOTE: provider.Shutdown will shutdown the reader and exporter.
	shutdownFuncs := []shutdownFunction{
		func(ctx context.Context) error {
			if err := provider.Shutdown(ctx); err != nil {
				return fmt.Errorf("error during OpenTelemetry meter provider shutdown: %w", err)
			}
			return nil
		},
	}
	if err = runtimeinstrumentation.Start(runtimeinstrumentation.WithMeterProvider(provider)); err != nil {
		return shutdownFuncs, fmt.Errorf("failed to start runtime metrics: %w", err)
	}
	if err = hostinstrumentation.Start(hostinstrumentation.WithMeterProvider(provider)); err != nil {
		return shutdownFuncs, fmt.Errorf("failed to start host metrics: %w", err)
	}
	otel.SetMeterProvider(provider)
	logger.Info("OpenTelemetry metric handlers started")
	return shutdownFuncs, nil
}

// Batches spans for export to the collector.
func initTrace(ctx context.Context, target string, creds credentials.TransportCredentials, res *resource.Resource, sampler trace.Sampler) ([]shutdownFunction, error) {
	logger := logger.V(1).WithValues("target", target, "sampler", sampler.Description())
	logger.Info("Creating OpenTelemetry trace exporter")
	options := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(target),
		otlptracegrpc.WithCompressor(gzip.Name),
	}
	if creds != nil {
		options = append(options, otlptracegrpc.WithTLSCredentials(creds))
	}
	exporter, err := otlptracegrpc.New(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create new trace exporter: %w", err)
	}

	provider := trace.NewTracerProvider(
		trace.WithSampler(sampler),
		trace.WithBatcher(exporter),
		trace.WithResource(res),
	)
	shutdownFuncs := []shutdownFunction{
		func(ctx context.Context) error {
			if err := provider.Shutdown(ctx); err != nil {
				return fmt.Errorf("error during OpenTelemetry trace provider shutdown: %w", err)
			}
			return nil
		},
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	otel.SetTracerProvider(provider)
	logger.Info("OpenTelemetry trace handlers started")
	return shutdownFuncs, nil
}

// Initializes OpenTelemetry metric and trace processing and deliver to a collector
// target, returning a list of function that can be called to shutdown the background
// pipeline processes.
func initTelemetry(ctx context.Context, name string, sampler trace.Sampler) ([]shutdownFunction, error) {
	otel.SetLogger(logger)
	target := viper.GetString(OpenTelemetryTargetFlagName)
	cacerts := viper.GetStringSlice(CACertFlagName)
	cert := viper.GetString(TLSCertFlagName)
	key := viper.GetString(TLSKeyFlagName)
	insecure := viper.GetBool(InsecureFlagName)
	logger := logger.V(1).WithValues(
		"name", name,
		"target", target,
		"cacerts", cacerts,
		"cert", cert,
		"key", key,
		"insecure", insecure,
		"sampler", sampler.Description(),
	)
	logger.Info("Initializing OpenTelemetry")
	if target == "" {
		logger.V(0).Info("OpenTelemetry endpoint is not set; telemetry is disabled")
		return []shutdownFunction{noopShutdownFunction}, nil
	}

	res, err := newTelemetryResource(ctx, name)
	if err != nil {
		return nil, err
	}

	var creds credentials.TransportCredentials
	if insecure {
		creds = grpcinsecure.NewCredentials()
	} else {
		certPool, err := newCACertPool(cacerts)
		if err != nil {
			return nil, err
		}
		tlsConfig, err := newTLSConfig(cert, key, certPool)
		if err != nil {
			return nil, err
		}
		creds = credentials.NewTLS(tlsConfig)
	}

	shutdownFunctions, err := initMetrics(ctx, target, creds, res)
	if err != nil {
		return shutdownFunctions, err
	}
	shutdownTraces, err := initTrace(ctx, target, creds, res, sampler)
	shutdownFunctions = append(shutdownTraces, shutdownFunctions...)
	if err != nil {
		return shutdownFunctions, err
	}
	logger.Info("OpenTelemetry initialization complete, returning shutdown functions")
	return shutdownFunctions, nil
}
