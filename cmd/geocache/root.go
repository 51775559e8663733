package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-logr/zerologr"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	AppName                       = "geocache"
	PackageName                   = "github.com/memes/geocache/cmd/geocache"
	DefaultOTLPTraceSamplingRatio = 0.5
	DefaultBackend                = "memcached"
	VerboseFlagName               = "verbose"
	PrettyFlagName                = "pretty"
	BackendFlagName               = "backend"
	ServerFlagName                = "server"
	ServersConfigKey              = "servers"
	RedisTargetFlagName           = "redis-target"
	ExpirationFlagName            = "expiration"
	TimeoutFlagName               = "timeout"
	OpenTelemetryTargetFlagName   = "otlp-target"
	InsecureFlagName              = "otlp-insecure"
	SamplingRatioFlagName         = "otlp-sampling-ratio"
	CACertFlagName                = "cacert"
	TLSCertFlagName               = "cert"
	TLSKeyFlagName                = "key"
)

// Version is updated from git tags during build.
var version = "unspecified"

func NewRootCmd() (*cobra.Command, error) {
	cobra.OnInitialize(initConfig)
	rootCmd := &cobra.Command{
		Use:     AppName,
		Version: version,
		Short:   "Inspect and populate a cache of geocoding results",
		Long: `Reads, writes and flushes geocoding results held in memcached or Redis.

Results are keyed by the MD5 digest of the provider name followed by the query, and stored as JSON documents without expiry unless --expiration is set.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().CountP(VerboseFlagName, "v", "Enable verbose logging; can be repeated to increase verbosity")
	rootCmd.PersistentFlags().BoolP(PrettyFlagName, "p", false, "Disables structured JSON logging to stderr, making it easier to read")
	rootCmd.PersistentFlags().StringP(BackendFlagName, "b", DefaultBackend, "The cache backend to use; one of memcached, redis, or noop")
	rootCmd.PersistentFlags().StringArrayP(ServerFlagName, "s", nil, "A memcached server as host[:port[:weight]]; can be repeated (default 127.0.0.1:11211)")
	rootCmd.PersistentFlags().String(RedisTargetFlagName, "127.0.0.1:6379", "The Redis endpoint to use with the redis backend")
	rootCmd.PersistentFlags().Duration(ExpirationFlagName, 0, "Expire cached results after this duration; zero keeps them until flushed or evicted")
	rootCmd.PersistentFlags().Duration(TimeoutFlagName, 0, "The memcached socket timeout; zero uses the client default")
	rootCmd.PersistentFlags().String(OpenTelemetryTargetFlagName, "", "An optional OpenTelemetry collection target that will receive metrics and traces")
	rootCmd.PersistentFlags().Bool(InsecureFlagName, false, "Disable remote TLS verification for OpenTelemetry target")
	rootCmd.PersistentFlags().Float64(SamplingRatioFlagName, DefaultOTLPTraceSamplingRatio, "Set the OpenTelemetry trace sampling ratio")
	rootCmd.PersistentFlags().StringArray(CACertFlagName, nil, "An optional CA certificate to use for remote TLS verification; can be repeated")
	rootCmd.PersistentFlags().String(TLSCertFlagName, "", "An optional TLS certificate to use")
	rootCmd.PersistentFlags().String(TLSKeyFlagName, "", "An optional TLS private key to use")
	for _, name := range []string{
		VerboseFlagName,
		PrettyFlagName,
		BackendFlagName,
		ServerFlagName,
		RedisTargetFlagName,
		ExpirationFlagName,
		TimeoutFlagName,
		OpenTelemetryTargetFlagName,
		InsecureFlagName,
		SamplingRatioFlagName,
		CACertFlagName,
		TLSCertFlagName,
		TLSKeyFlagName,
	} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			return nil, fmt.Errorf("failed to bind %s pflag: %w", name, err)
		}
	}
	putCmd, err := NewPutCmd()
	if err != nil {
		return nil, err
	}
	rootCmd.AddCommand(NewKeyCmd(), NewGetCmd(), putCmd, NewFlushCmd())
	return rootCmd, nil
}

// Determine the outcome of command line flags, environment variables, and an
// optional configuration file to perform initialization of the application. An
// appropriate zerolog will be assigned as the default logr sink.
func initConfig() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	zl := zerolog.New(os.Stderr).With().Caller().Timestamp().Logger()
	viper.AddConfigPath(".")
	if home, err := homedir.Dir(); err == nil {
		viper.AddConfigPath(home)
	}
	viper.SetConfigName("." + AppName)
	viper.SetEnvPrefix(AppName)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	err := viper.ReadInConfig()
	verbosity := viper.GetInt(VerboseFlagName)
	switch {
	case verbosity > 2:
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case verbosity == 2:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case verbosity == 1:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	}
	if viper.GetBool(PrettyFlagName) {
		zl = zl.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	logger = zerologr.New(&zl)
	if err == nil {
		return
	}
	var cfgNotFound viper.ConfigFileNotFoundError
	if !errors.As(err, &cfgNotFound) {
		logger.Error(err, "Error reading configuration file")
	}
}
