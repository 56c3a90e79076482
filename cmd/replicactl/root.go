package main

import (
	"github.com/danmuck/replica/internal/config"
	"github.com/danmuck/replica/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	ConfigPath string
	Verbose    bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "replicactl",
		Short: "Replication client for a transaction authority",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.ConfigureRuntime()
			if opts.Verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to replica.toml (env overrides still apply)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(newTailCommand(opts))
	cmd.AddCommand(newSubmitCommand(opts))
	return cmd
}

func (o *rootOptions) load() (config.ClientConfig, error) {
	return config.Load(o.ConfigPath)
}
