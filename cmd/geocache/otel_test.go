package main

import (
	"context"
	"testing"

	"github.com/spf13/viper"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

func TestNewTelemetryResource(t *testing.T) {
	res, err := newTelemetryResource(context.Background(), PutServiceName)
	if err != nil {
		t.Fatalf("newTelemetryResource returned an error: %v", err)
	}
	attributes := res.Set()
	if value, ok := attributes.Value(semconv.ServiceNameKey); !ok || value.AsString() != PutServiceName {
		t.Errorf("Expected service.name %q, got %v", PutServiceName, value.AsString())
	}
	if value, ok := attributes.Value(semconv.ServiceNamespaceKey); !ok || value.AsString() != PackageName {
		t.Errorf("Expected service.namespace %q, got %v", PackageName, value.AsString())
	}
	if _, ok := attributes.Value(semconv.ServiceInstanceIDKey); !ok {
		t.Error("Expected a service.instance.id attribute")
	}
}

func TestInitTelemetry_NoTarget(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	shutdownFunctions, err := initTelemetry(context.Background(), FlushServiceName, sdktrace.AlwaysSample())
	if err != nil {
		t.Fatalf("initTelemetry returned an error: %v", err)
	}
	for _, shutdown := range shutdownFunctions {
		if err := shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown returned an error: %v", err)
		}
	}
}
