package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/dkeye/concort/internal/app"
)

func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect or drive the matching queue",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "process",
		Short: "Run one pairing pass and print the matches it created",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(rootOpts)
			if err != nil {
				return err
			}
			defer store.Close()

			matches, err := app.NewEngine(store, nil).ProcessQueue(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd, map[string]any{"matches_created": len(matches), "matches": matches})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print the size of both waiting partitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(rootOpts)
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := app.NewEngine(store, nil).QueueStats(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd, stats)
		},
	})
	return cmd
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
