package geocache

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/memes/geocache/pkg/cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	// The default name to use when using OpenTelemetry components.
	OpenTelemetryPackageIdentifier = "geocache"
)

var errNilResult = errors.New("result is nil")

// Adapter stores geocoding results in an external cache under a key derived
// from the provider name and query. It holds no mutable state after
// construction; concurrent use is as safe as the underlying store.
type Adapter struct {
	// The logr.Logger implementation to use
	logger logr.Logger
	// The external store holding encoded results
	store cache.Cache
	// The OpenTelemetry tracer to use for spans
	tracer trace.Tracer
	// The OpenTelemetry meter to use for metrics
	meter metric.Meter
	// The prefix to use for metric names and attributes
	prefix string
	// A counter for the number of errors returned by the store or codec
	cacheErrors metric.Int64Counter
	// A counter for cache hits
	cacheHits metric.Int64Counter
	// A counter for cache misses
	cacheMisses metric.Int64Counter
	// A counter for results written to the store
	cacheWrites metric.Int64Counter
}

// Defines the function signature for Adapter options.
type AdapterOption func(*Adapter)

// Create a new Adapter over the store and apply any options.
func NewAdapter(store cache.Cache, options ...AdapterOption) (*Adapter, error) {
	if store == nil {
		store = cache.NewNoopCache()
	}
	adapter := &Adapter{
		logger: logr.Discard(),
		store:  store,
		tracer: otel.Tracer(OpenTelemetryPackageIdentifier),
		meter:  otel.Meter(OpenTelemetryPackageIdentifier),
		prefix: OpenTelemetryPackageIdentifier,
	}
	for _, option := range options {
		option(adapter)
	}
	var err error
	adapter.cacheErrors, err = adapter.meter.Int64Counter(
		adapter.prefix+".cache_errors",
		metric.WithDescription("The count of failed cache operations"),
	)
	if err != nil {
		return nil, fmt.Errorf("error returned while creating cacheErrors Counter: %w", err)
	}
	adapter.cacheHits, err = adapter.meter.Int64Counter(
		adapter.prefix+".cache_hits",
		metric.WithDescription("The count of cache hits"),
	)
	if err != nil {
		return nil, fmt.Errorf("error returned while creating cacheHits Counter: %w", err)
	}
	adapter.cacheMisses, err = adapter.meter.Int64Counter(
		adapter.prefix+".cache_misses",
		metric.WithDescription("The count of cache misses"),
	)
	if err != nil {
		return nil, fmt.Errorf("error returned while creating cacheMisses Counter: %w", err)
	}
	adapter.cacheWrites, err = adapter.meter.Int64Counter(
		adapter.prefix+".cache_writes",
		metric.WithDescription("The count of results written to the cache"),
	)
	if err != nil {
		return nil, fmt.Errorf("error returned while creating cacheWrites Counter: %w", err)
	}
	return adapter, nil
}

// Use the supplied logger for the adapter.
func WithLogger(logger logr.Logger) AdapterOption {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// Use the supplied OpenTelemetry tracer for spans.
func WithTracer(tracer trace.Tracer) AdapterOption {
	return func(a *Adapter) {
		if tracer != nil {
			a.tracer = tracer
		}
	}
}

// Use the supplied OpenTelemetry meter for metrics.
func WithMeter(meter metric.Meter) AdapterOption {
	return func(a *Adapter) {
		if meter != nil {
			a.meter = meter
		}
	}
}

// Use the prefix for metric names and attribute keys.
func WithPrefix(prefix string) AdapterOption {
	return func(a *Adapter) {
		if prefix != "" {
			a.prefix = prefix
		}
	}
}

func (a *Adapter) attributes(provider, query, key string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(a.prefix+".provider", provider),
		attribute.String(a.prefix+".query", query),
		attribute.String(a.prefix+".key", key),
	}
}

func (a *Adapter) recordError(ctx context.Context, span trace.Span, err error, attributes ...attribute.KeyValue) {
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
	a.cacheErrors.Add(ctx, 1, metric.WithAttributes(attributes...))
}

// Cache encodes the result and writes it to the store under
// DeriveKey(result.ProviderName, result.Query). A single write is attempted;
// store failures are returned wrapping ErrStore.
func (a *Adapter) Cache(ctx context.Context, result *Result) error {
	if result == nil {
		return errNilResult
	}
	key := DeriveKey(result.ProviderName, result.Query)
	logger := a.logger.V(1).WithValues("provider", result.ProviderName, "query", result.Query, "key", key)
	logger.Info("Cache: enter")
	attributes := a.attributes(result.ProviderName, result.Query, key)
	ctx, span := a.tracer.Start(ctx, a.prefix+"/Cache", trace.WithAttributes(attributes...))
	defer span.End()
	value, err := EncodeToText(result)
	if err != nil {
		a.recordError(ctx, span, err, attributes...)
		return err
	}
	if err := a.store.SetValue(ctx, key, value); err != nil {
		a.recordError(ctx, span, err, attributes...)
		return fmt.Errorf("%w: store %T SetValue method returned an error: %w", ErrStore, a.store, err)
	}
	a.cacheWrites.Add(ctx, 1, metric.WithAttributes(attributes...))
	logger.Info("Cache: exit")
	return nil
}

// IsCached returns the result cached for the provider and query. A miss
// returns a nil Result and a nil error; an entry that cannot be decoded
// returns ErrParse, ErrStructure or ErrReconstruction.
func (a *Adapter) IsCached(ctx context.Context, provider, query string) (*Result, error) {
	key := DeriveKey(provider, query)
	logger := a.logger.V(1).WithValues("provider", provider, "query", query, "key", key)
	logger.Info("IsCached: enter")
	attributes := a.attributes(provider, query, key)
	ctx, span := a.tracer.Start(ctx, a.prefix+"/IsCached", trace.WithAttributes(attributes...))
	defer span.End()
	value, err := a.store.GetValue(ctx, key)
	if err != nil {
		a.recordError(ctx, span, err, attributes...)
		return nil, fmt.Errorf("%w: store %T GetValue method returned an error: %w", ErrStore, a.store, err)
	}
	if value == "" {
		attributes := append(attributes, attribute.Bool(a.prefix+".cache_hit", false))
		span.SetAttributes(attributes...)
		a.cacheMisses.Add(ctx, 1, metric.WithAttributes(attributes...))
		logger.Info("Value is not cached")
		return nil, nil
	}
	attributes = append(attributes, attribute.Bool(a.prefix+".cache_hit", true))
	span.SetAttributes(attributes...)
	a.cacheHits.Add(ctx, 1, metric.WithAttributes(attributes...))
	span.AddEvent("Decoding cached value")
	result, err := DecodeResult(value)
	if err != nil {
		a.recordError(ctx, span, err, attributes...)
		logger.Error(err, "Cached value cannot be decoded")
		return nil, err
	}
	logger.Info("IsCached: exit")
	return result, nil
}

// Flush removes every entry from the store, including entries this adapter
// did not write.
func (a *Adapter) Flush(ctx context.Context) error {
	a.logger.V(1).Info("Flush: enter")
	ctx, span := a.tracer.Start(ctx, a.prefix+"/Flush")
	defer span.End()
	if err := a.store.Flush(ctx); err != nil {
		a.recordError(ctx, span, err)
		return fmt.Errorf("%w: store %T Flush method returned an error: %w", ErrStore, a.store, err)
	}
	a.logger.V(1).Info("Flush: exit")
	return nil
}
