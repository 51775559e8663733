package main

import (
	"context"
	"fmt"

	"github.com/memes/geocache"
	"github.com/spf13/cobra"
)

const FlushServiceName = "flush"

func NewFlushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   FlushServiceName,
		Short: "Remove every entry from the cache backend",
		Long: `Flushes the whole cache backend, including entries that were not written by this tool.

Use a dedicated memcached pool or Redis database for geocoding results.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAdapter(cmd.Context(), FlushServiceName, func(ctx context.Context, adapter *geocache.Adapter) error {
				if err := adapter.Flush(ctx); err != nil {
					return fmt.Errorf("flush failed: %w", err)
				}
				logger.V(0).Info("Cache flushed")
				return nil
			})
		},
	}
}
