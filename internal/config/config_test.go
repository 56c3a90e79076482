package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/replica/internal/protocol/session"
	"github.com/danmuck/replica/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "replica.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	testlog.Start(t)
	cfg, err := LoadWithEnv("", map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "replica", cfg.Name)
	assert.Equal(t, "127.0.0.1:7200", cfg.Address)
	assert.Equal(t, TransportTCP, cfg.Transport)
	assert.Equal(t, uint64(0), cfg.StartingSequence)
	assert.Equal(t, session.SecurityModeDevelopment, cfg.Session.SecurityMode)
	assert.Equal(t, 5*time.Second, cfg.Session.ConnectTimeout)
}

func TestLoadFileOverridesOnlyDefinedKeys(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
name = "ledger-replica"
address = "ws://authority.local:7300/replicate"
transport = "WebSocket"
starting_sequence = 1200
admin_listen_addr = "127.0.0.1:7201"
connect_timeout = "2s"
max_connect_attempts = 0
session_tls_enabled = false
`)
	cfg, err := LoadWithEnv(path, map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "ledger-replica", cfg.Name)
	assert.Equal(t, TransportWebSocket, cfg.Transport)
	assert.Equal(t, uint64(1200), cfg.StartingSequence)
	assert.Equal(t, "127.0.0.1:7201", cfg.AdminListenAddr)
	assert.Equal(t, 2*time.Second, cfg.Session.ConnectTimeout)
	assert.Equal(t, 0, cfg.Session.MaxConnectAttempts, "explicit zero means retry until cancelled")
	assert.Equal(t, 15*time.Second, cfg.Session.WriteTimeout, "undefined keys keep defaults")
}

func TestLoadEnvOverridesFile(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
address = "10.0.0.1:7200"
starting_sequence = 5
`)
	cfg, err := LoadWithEnv(path, map[string]string{
		"REPLICA_ADDRESS":           "10.0.0.2:7200",
		"REPLICA_STARTING_SEQUENCE": "77",
		"REPLICA_ADMIN_ADDR":        ":9090",
		"REPLICA_WRITE_TIMEOUT":     "3s",
		"REPLICA_ADMIN_TOKEN":       "s3cret",
	})
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.2:7200", cfg.Address)
	assert.Equal(t, uint64(77), cfg.StartingSequence)
	assert.Equal(t, ":9090", cfg.AdminListenAddr)
	assert.Equal(t, 3*time.Second, cfg.Session.WriteTimeout)
	assert.Equal(t, "s3cret", cfg.AdminToken)
}

func TestLoadEnvOverridesHandshakeAndBackoff(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
handshake_timeout = "4s"
backoff_initial_delay = "100ms"
backoff_max_delay = "1s"
`)
	cfg, err := LoadWithEnv(path, map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, 4*time.Second, cfg.Session.HandshakeTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Session.Backoff.InitialDelay)
	assert.Equal(t, time.Second, cfg.Session.Backoff.MaxDelay)

	cfg, err = LoadWithEnv(path, map[string]string{
		"REPLICA_HANDSHAKE_TIMEOUT":     "9s",
		"REPLICA_BACKOFF_INITIAL_DELAY": "50ms",
		"REPLICA_BACKOFF_MAX_DELAY":     "2s",
	})
	require.NoError(t, err)
	assert.Equal(t, 9*time.Second, cfg.Session.HandshakeTimeout)
	assert.Equal(t, 50*time.Millisecond, cfg.Session.Backoff.InitialDelay)
	assert.Equal(t, 2*time.Second, cfg.Session.Backoff.MaxDelay)
	assert.Equal(t, 2.0, cfg.Session.Backoff.Multiplier, "multiplier keeps its default")
}

func TestLoadProductionRequiresMutualTLS(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
session_security_mode = "production"
session_tls_enabled = true
session_tls_ca_file = "/etc/replica/ca.crt"
`)
	_, err := LoadWithEnv(path, map[string]string{})
	assert.ErrorIs(t, err, session.ErrMTLSRequired)

	cfg, err := LoadWithEnv(path, map[string]string{
		"REPLICA_TLS_MUTUAL":    "true",
		"REPLICA_TLS_CERT_FILE": "/etc/replica/client.crt",
		"REPLICA_TLS_KEY_FILE":  "/etc/replica/client.key",
	})
	require.NoError(t, err)
	assert.True(t, cfg.Session.TLS.Mutual)
	assert.Equal(t, session.SecurityModeProduction, cfg.Session.SecurityMode)
}

func TestLoadRejectsBadInput(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name    string
		content string
		env     map[string]string
		wantErr error
	}{
		{name: "unknown transport", content: `transport = "udp"`, wantErr: ErrUnknownTransport},
		{name: "tcp without port", content: `address = "authority.local"`, wantErr: ErrInvalidAddress},
		{name: "websocket without scheme", content: "transport = \"websocket\"\naddress = \"authority.local:80\"", wantErr: ErrInvalidAddress},
		{name: "empty address", content: `address = ""`, wantErr: ErrMissingAddress},
		{name: "bad security mode", content: `session_security_mode = "strict"`, wantErr: session.ErrInvalidSecurityMode},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := tc.env
			if env == nil {
				env = map[string]string{}
			}
			_, err := LoadWithEnv(writeConfig(t, tc.content), env)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	testlog.Start(t)
	_, err := LoadWithEnv(writeConfig(t, `adress = "typo:1"`), map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "adress")
}

func TestLoadRejectsMalformedEnv(t *testing.T) {
	testlog.Start(t)
	_, err := LoadWithEnv("", map[string]string{"REPLICA_STARTING_SEQUENCE": "minus-one"})
	assert.Error(t, err)
}

func TestExampleConfigLoads(t *testing.T) {
	testlog.Start(t)
	cfg, err := LoadWithEnv(filepath.Join("..", "..", "cmd", "replicactl", "replica.toml"), map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, TransportTCP, cfg.Transport)
}
