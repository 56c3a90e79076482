package main

import (
	"context"
	"fmt"

	"github.com/danmuck/replica/internal/config"
	"github.com/danmuck/replica/internal/replication"
	"github.com/danmuck/replica/internal/transport"
	"github.com/rs/zerolog/log"
)

func dial(ctx context.Context, cfg config.ClientConfig) (transport.Transport, error) {
	switch cfg.Transport {
	case config.TransportTCP:
		return transport.DialTCP(ctx, cfg.Address, cfg.Session)
	case config.TransportWebSocket:
		return transport.DialWebSocket(ctx, cfg.Address, cfg.Session)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownTransport, cfg.Transport)
	}
}

// connect dials the authority and subscribes sub from startingSequence.
// The returned client is caught up.
func connect(ctx context.Context, cfg config.ClientConfig, sub replication.Subscriber, startingSequence uint64) (*replication.Client, error) {
	t, err := dial(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", cfg.Transport, cfg.Address, err)
	}
	client := replication.New(t, replication.WithName(cfg.Name))
	log.Info().
		Str("conn_id", client.ConnID()).
		Str("transport", string(cfg.Transport)).
		Str("addr", cfg.Address).
		Msg("replicactl connected")

	if err := client.Subscribe(ctx, sub, startingSequence); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("subscribe from %d: %w", startingSequence, err)
	}
	return client, nil
}
