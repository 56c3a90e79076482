package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/replica/internal/admin"
	"github.com/danmuck/replica/internal/auth"
	"github.com/danmuck/replica/internal/capsule"
	"github.com/danmuck/replica/internal/replication"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type tailOptions struct {
	*rootOptions
	From        uint64
	FromSet     bool
	CORSOrigins []string
}

func newTailCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &tailOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Subscribe and log every transaction the authority delivers",
		Long: `Subscribe to the authority and log each delivered transaction.

Health and metrics are served on admin_listen_addr when it is set. The
command exits when the connection is lost or on SIGINT/SIGTERM.

Examples:
  replicactl tail --config replica.toml
  replicactl tail --config replica.toml --from 1200`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.FromSet = cmd.Flags().Changed("from")
			return runTail(cmd.Context(), opts)
		},
	}

	cmd.Flags().Uint64Var(&opts.From, "from", 0, "starting sequence (defaults to starting_sequence from config)")
	cmd.Flags().StringSliceVar(&opts.CORSOrigins, "cors-origin", nil, "allowed CORS origin for the admin server (repeatable)")
	return cmd
}

func runTail(parent context.Context, opts *tailOptions) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	from := cfg.StartingSequence
	if opts.FromSet {
		from = opts.From
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := connect(ctx, cfg, replication.SubscriberFunc(logDelivery), from)
	if err != nil {
		return err
	}
	defer client.Close()

	if cfg.AdminListenAddr != "" {
		adminOpts := admin.Options{
			Name:        cfg.Name,
			Addr:        cfg.AdminListenAddr,
			CORSOrigins: opts.CORSOrigins,
		}
		if cfg.AdminToken != "" {
			adminOpts.Token = auth.StaticToken{Token: cfg.AdminToken}
		}
		srv := admin.New(adminOpts, client)
		go func() {
			if err := srv.ListenAndServe(ctx); err != nil {
				log.Error().Err(err).Msg("admin server failed")
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("replicactl tail interrupted")
		return client.Close()
	case <-client.Done():
		return client.Err()
	}
}

func logDelivery(tt capsule.TransactionTimestamp) {
	event := log.Info().
		Uint64("sequence", tt.Sequence).
		Time("timestamp", tt.Timestamp).
		Int("bytes", tt.Capsule.Len())
	var payload any
	if err := tt.Capsule.Decode(&payload); err == nil {
		event = event.Interface("payload", payload)
	}
	event.Msg("transaction")
}
