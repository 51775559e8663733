package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/memes/geocache"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

const (
	PutServiceName         = "put"
	ConcurrencyFlagName    = "concurrency"
	DefaultPutConcurrency  = 8
	maxResultDocumentBytes = 1 << 20
)

// Implements the put sub-command which reads newline delimited JSON results
// and writes each to the cache.
func NewPutCmd() (*cobra.Command, error) {
	putCmd := &cobra.Command{
		Use:   PutServiceName + " [file]",
		Short: "Cache geocoding results read from a file or stdin",
		Long: `Reads one JSON geocoding result per line and caches each one under the key derived from its providerName and query.

Blank lines are skipped. The first line that fails to decode or store stops the run.`,
		Args: cobra.MaximumNArgs(1),
		RunE: putMain,
	}
	putCmd.PersistentFlags().IntP(ConcurrencyFlagName, "c", DefaultPutConcurrency, "The maximum number of concurrent cache writes")
	if err := viper.BindPFlag(ConcurrencyFlagName, putCmd.PersistentFlags().Lookup(ConcurrencyFlagName)); err != nil {
		return nil, fmt.Errorf("failed to bind %s pflag: %w", ConcurrencyFlagName, err)
	}
	return putCmd, nil
}

func putMain(cmd *cobra.Command, args []string) error {
	var source io.Reader = cmd.InOrStdin()
	if len(args) > 0 && args[0] != "-" {
		file, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", args[0], err)
		}
		defer file.Close()
		source = file
	}
	concurrency := viper.GetInt(ConcurrencyFlagName)
	return withAdapter(cmd.Context(), PutServiceName, func(ctx context.Context, adapter *geocache.Adapter) error {
		count, err := putResults(ctx, adapter, source, concurrency)
		logger.V(0).Info("Cached results", "count", count)
		return err
	})
}

// Decodes each non-blank line of r and caches it, with at most concurrency
// writes in flight. Returns the number of results stored.
func putResults(ctx context.Context, adapter *geocache.Adapter, r io.Reader, concurrency int) (int64, error) {
	var stored atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), maxResultDocumentBytes)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		result, err := geocache.DecodeResult(text)
		if err != nil {
			_ = g.Wait()
			return stored.Load(), fmt.Errorf("line %d: %w", line, err)
		}
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := adapter.Cache(ctx, result); err != nil {
				return fmt.Errorf("failed to cache %s result for %q: %w", result.ProviderName, result.Query, err)
			}
			stored.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stored.Load(), err //nolint:wrapcheck // Already wrapped in the worker
	}
	if err := scanner.Err(); err != nil {
		return stored.Load(), fmt.Errorf("failed to read results: %w", err)
	}
	return stored.Load(), nil
}
