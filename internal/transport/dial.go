package transport

import (
	"context"
	"crypto/tls"
	"math/rand"
	"net"
	"net/url"
	"time"

	"github.com/danmuck/replica/internal/protocol/session"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// DialTCP connects to address, wrapping the connection in TLS when
// configured. Failed attempts are retried with backoff up to
// cfg.MaxConnectAttempts (zero or less retries until ctx is done).
func DialTCP(ctx context.Context, address string, cfg session.Config) (*Stream, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.ValidateClientTransport(); err != nil {
		return nil, err
	}
	var tlsCfg *tls.Config
	if cfg.TLS.Enabled {
		var err error
		if tlsCfg, err = cfg.ClientTLSConfig(address); err != nil {
			return nil, err
		}
	}

	var stream *Stream
	err := withRetry(ctx, cfg, "tcp", address, func() error {
		conn, err := dialTCPOnce(ctx, address, cfg, tlsCfg)
		if err != nil {
			return err
		}
		stream = NewStream(conn, StreamOptions{WriteTimeout: cfg.WriteTimeout})
		return nil
	})
	return stream, err
}

func dialTCPOnce(ctx context.Context, address string, cfg session.Config, tlsCfg *tls.Config) (net.Conn, error) {
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	if tlsCfg == nil {
		return rawConn, nil
	}
	conn := tls.Client(rawConn, tlsCfg)
	handshakeCtx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return conn, nil
}

// DialWebSocket connects to a ws:// or wss:// url. TLS settings apply to
// wss:// urls.
func DialWebSocket(ctx context.Context, rawURL string, cfg session.Config) (*WebSocket, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.ValidateClientTransport(); err != nil {
		return nil, err
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		NetDialContext:   (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
	}
	if cfg.TLS.Enabled {
		port := u.Port()
		if port == "" {
			port = "443"
		}
		tlsCfg, err := cfg.ClientTLSConfig(net.JoinHostPort(u.Hostname(), port))
		if err != nil {
			return nil, err
		}
		dialer.TLSClientConfig = tlsCfg
	}

	var ws *WebSocket
	err = withRetry(ctx, cfg, "websocket", rawURL, func() error {
		conn, resp, err := dialer.DialContext(ctx, rawURL, nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			return err
		}
		ws = NewWebSocket(conn, StreamOptions{WriteTimeout: cfg.WriteTimeout})
		return nil
	})
	return ws, err
}

func withRetry(ctx context.Context, cfg session.Config, network, address string, dial func() error) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var attempt int
	for {
		attempt++
		err := dial()
		if err == nil {
			log.Debug().Str("network", network).Str("addr", address).Int("attempt", attempt).Msg("transport dial ok")
			return nil
		}
		log.Warn().Err(err).Str("network", network).Str("addr", address).Int("attempt", attempt).Msg("transport dial failed")
		if cfg.MaxConnectAttempts > 0 && attempt >= cfg.MaxConnectAttempts {
			return err
		}
		timer := time.NewTimer(session.NextBackoffDelay(cfg.Backoff, attempt, rng))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
