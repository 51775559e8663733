package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/memes/geocache"
	"github.com/memes/geocache/pkg/cache"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

var errUnknownBackend = errors.New("unknown cache backend")

// Builds the memcached configuration from repeated --server flags, or from a
// servers list in the configuration file, falling back to the local default.
func newMemcachedConfig() (cache.MemcachedConfig, error) {
	config := cache.DefaultMemcachedConfig()
	config.Expiration = viper.GetDuration(ExpirationFlagName)
	config.Timeout = viper.GetDuration(TimeoutFlagName)
	entries := viper.GetStringSlice(ServerFlagName)
	logger := logger.V(1).WithValues("servers", entries)
	switch {
	case len(entries) > 0:
		config.Servers = make([]cache.MemcachedServer, 0, len(entries))
		for _, entry := range entries {
			server, err := cache.ParseMemcachedServer(entry)
			if err != nil {
				return config, err //nolint:wrapcheck // Error already names the flag value
			}
			config.Servers = append(config.Servers, server)
		}

	case viper.IsSet(ServersConfigKey):
		logger.V(1).Info("Reading memcached servers from configuration file")
		var servers []cache.MemcachedServer
		if err := viper.UnmarshalKey(ServersConfigKey, &servers); err != nil {
			return config, fmt.Errorf("failed to read %s from configuration: %w", ServersConfigKey, err)
		}
		for i := range servers {
			if servers[i].Port == 0 {
				servers[i].Port = cache.DefaultMemcachedPort
			}
		}
		config.Servers = servers
	}
	logger.V(1).Info("Memcached configuration ready", "config", config)
	return config, config.Validate() //nolint:wrapcheck // Validation errors are descriptive
}

// Creates the cache backend selected by the --backend flag.
func newStore(ctx context.Context) (cache.Cache, error) {
	backend := strings.ToLower(viper.GetString(BackendFlagName))
	logger := logger.V(1).WithValues(BackendFlagName, backend)
	logger.V(0).Info("Preparing cache backend")
	switch backend {
	case "memcached":
		config, err := newMemcachedConfig()
		if err != nil {
			return nil, err
		}
		store, err := cache.NewMemcachedCache(config)
		if err != nil {
			return nil, fmt.Errorf("failed to create memcached backend: %w", err)
		}
		return store, nil

	case "redis":
		return cache.NewRedisCache(ctx, viper.GetString(RedisTargetFlagName), cache.WithRedisExpiration(viper.GetDuration(ExpirationFlagName))), nil

	case "noop":
		return cache.NewNoopCache(), nil

	default:
		return nil, fmt.Errorf("%w: %q", errUnknownBackend, backend)
	}
}

// Runs f with an adapter over the configured backend, bracketed by telemetry
// setup and shutdown.
func withAdapter(ctx context.Context, name string, f func(context.Context, *geocache.Adapter) error) error {
	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(viper.GetFloat64(SamplingRatioFlagName)))
	shutdownFunctions, err := initTelemetry(ctx, name, sampler)
	defer func() {
		for _, shutdown := range shutdownFunctions {
			if err := shutdown(ctx); err != nil {
				logger.Error(err, "Failure during telemetry shutdown; continuing")
			}
		}
	}()
	if err != nil {
		return err
	}
	store, err := newStore(ctx)
	if err != nil {
		return err
	}
	adapter, err := geocache.NewAdapter(store,
		geocache.WithLogger(logger),
		geocache.WithTracer(otel.Tracer(PackageName)),
		geocache.WithMeter(otel.Meter(PackageName)),
	)
	if err != nil {
		return fmt.Errorf("failed to create cache adapter: %w", err)
	}
	return f(ctx, adapter)
}
