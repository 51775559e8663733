package main

import (
	"fmt"

	"github.com/memes/geocache"
	"github.com/spf13/cobra"
)

func NewKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "key provider query",
		Short: "Print the cache key for a provider and query",
		Long:  `Prints the cache key that a geocoding result for the provider and query is stored under. No backend is contacted.`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), geocache.DeriveKey(args[0], args[1]))
			return err //nolint:wrapcheck // Write failures are reported as-is
		},
	}
}
