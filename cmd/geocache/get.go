package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/memes/geocache"
	"github.com/spf13/cobra"
)

const GetServiceName = "get"

var errNotCached = errors.New("not cached")

// Implements the get sub-command which looks up a single result and writes it
// to stdout as JSON.
func NewGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   GetServiceName + " provider query",
		Short: "Print the cached geocoding result for a provider and query",
		Long: `Looks up the result cached for the provider and query and prints it as a JSON document.

Exits with an error if nothing is cached, or if the cached entry cannot be decoded.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, query := args[0], args[1]
			logger := logger.V(1).WithValues("provider", provider, "query", query)
			return withAdapter(cmd.Context(), GetServiceName, func(ctx context.Context, adapter *geocache.Adapter) error {
				result, err := adapter.IsCached(ctx, provider, query)
				if err != nil {
					return fmt.Errorf("lookup failed: %w", err)
				}
				if result == nil {
					logger.Info("Cache miss")
					return fmt.Errorf("%w: %s", errNotCached, geocache.DeriveKey(provider, query))
				}
				text, err := geocache.EncodeToText(result)
				if err != nil {
					return err //nolint:wrapcheck // Encoding errors are already descriptive
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
				return err //nolint:wrapcheck // Write failures are reported as-is
			})
		},
	}
}
