package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/concort/internal/config"
	"github.com/dkeye/concort/internal/storage/sqlite"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
	Database   string
	JSONLogs   bool

	cfg *config.Config
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "concort",
		Short:         "Concort matching and chat server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(opts.JSONLogs)
			var (
				cfg *config.Config
				err error
			)
			if opts.ConfigFile != "" {
				cfg, err = config.LoadFile(opts.ConfigFile)
			} else {
				cfg, err = config.Load()
			}
			if err != nil {
				return err
			}
			if opts.Database != "" {
				cfg.DatabasePath = opts.Database
			}
			zerolog.SetGlobalLevel(cfg.Level())
			opts.cfg = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "config file (default config/config.$CONFIG_ENV.yaml)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "sqlite database path, overrides database_path")
	cmd.PersistentFlags().BoolVar(&opts.JSONLogs, "json-logs", false, "write JSON logs instead of console output")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewQueueCommand(opts))

	return cmd
}

func setupLogging(jsonLogs bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if !jsonLogs {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func openStore(opts *RootOptions) (*sqlite.Store, error) {
	return sqlite.Open(opts.cfg.DatabasePath)
}
