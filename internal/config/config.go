package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/danmuck/replica/internal/protocol/session"
)

// Transport names the wire carrier used to reach the authority.
type Transport string

const (
	TransportTCP       Transport = "tcp"
	TransportWebSocket Transport = "websocket"
)

var (
	ErrMissingAddress   = errors.New("config: address is required")
	ErrUnknownTransport = errors.New("config: unknown transport")
	ErrInvalidAddress   = errors.New("config: invalid address")
)

// ClientConfig is everything a replication client process needs.
type ClientConfig struct {
	Name             string
	Address          string
	Transport        Transport
	StartingSequence uint64
	AdminListenAddr  string
	AdminToken       string
	Session          session.Config
}

func Default() ClientConfig {
	return ClientConfig{
		Name:      "replica",
		Address:   "127.0.0.1:7200",
		Transport: TransportTCP,
		Session:   session.DefaultConfig(),
	}
}

// replica.toml key mapping.
type fileConfig struct {
	Name                string        `toml:"name"`
	Address             string        `toml:"address"`
	Transport           string        `toml:"transport"`
	StartingSequence    uint64        `toml:"starting_sequence"`
	AdminListenAddr     string        `toml:"admin_listen_addr"`
	AdminToken          string        `toml:"admin_token"`
	ConnectTimeout      time.Duration `toml:"connect_timeout"`
	HandshakeTimeout    time.Duration `toml:"handshake_timeout"`
	WriteTimeout        time.Duration `toml:"write_timeout"`
	MaxConnectAttempts  int           `toml:"max_connect_attempts"`
	BackoffInitialDelay time.Duration `toml:"backoff_initial_delay"`
	BackoffMaxDelay     time.Duration `toml:"backoff_max_delay"`
	SessionSecurityMode string        `toml:"session_security_mode"`
	SessionTLSEnabled   bool          `toml:"session_tls_enabled"`
	SessionTLSMutual    bool          `toml:"session_tls_mutual"`
	SessionTLSServer    string        `toml:"session_tls_server_name"`
	SessionTLSCertFile  string        `toml:"session_tls_cert_file"`
	SessionTLSKeyFile   string        `toml:"session_tls_key_file"`
	SessionTLSCAFile    string        `toml:"session_tls_ca_file"`
}

// envConfig holds the environment overrides. Fields start at the file
// values; env only touches variables that are set.
type envConfig struct {
	Name               string        `env:"REPLICA_NAME"`
	Address            string        `env:"REPLICA_ADDRESS"`
	Transport          string        `env:"REPLICA_TRANSPORT"`
	StartingSequence   uint64        `env:"REPLICA_STARTING_SEQUENCE"`
	AdminListenAddr    string        `env:"REPLICA_ADMIN_ADDR"`
	AdminToken         string        `env:"REPLICA_ADMIN_TOKEN"`
	ConnectTimeout     time.Duration `env:"REPLICA_CONNECT_TIMEOUT"`
	HandshakeTimeout   time.Duration `env:"REPLICA_HANDSHAKE_TIMEOUT"`
	WriteTimeout       time.Duration `env:"REPLICA_WRITE_TIMEOUT"`
	BackoffInitial     time.Duration `env:"REPLICA_BACKOFF_INITIAL_DELAY"`
	BackoffMax         time.Duration `env:"REPLICA_BACKOFF_MAX_DELAY"`
	MaxConnectAttempts int           `env:"REPLICA_MAX_CONNECT_ATTEMPTS"`
	SecurityMode       string        `env:"REPLICA_SECURITY_MODE"`
	TLSEnabled         bool          `env:"REPLICA_TLS_ENABLED"`
	TLSMutual          bool          `env:"REPLICA_TLS_MUTUAL"`
	TLSCAFile          string        `env:"REPLICA_TLS_CA_FILE"`
	TLSCertFile        string        `env:"REPLICA_TLS_CERT_FILE"`
	TLSKeyFile         string        `env:"REPLICA_TLS_KEY_FILE"`
}

// Load reads path over Default, applies process environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (ClientConfig, error) {
	return load(path, env.Options{})
}

// LoadWithEnv is Load with an explicit environment instead of the process one.
func LoadWithEnv(path string, environ map[string]string) (ClientConfig, error) {
	return load(path, env.Options{Environment: environ})
}

func load(path string, opts env.Options) (ClientConfig, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		if err := applyFile(&cfg, path); err != nil {
			return ClientConfig{}, err
		}
	}
	if err := applyEnv(&cfg, opts); err != nil {
		return ClientConfig{}, err
	}
	cfg.Session = cfg.Session.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func applyFile(cfg *ClientConfig, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load replica config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load replica config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("address") {
		cfg.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("transport") {
		cfg.Transport = Transport(strings.ToLower(strings.TrimSpace(raw.Transport)))
	}
	if meta.IsDefined("starting_sequence") {
		cfg.StartingSequence = raw.StartingSequence
	}
	if meta.IsDefined("admin_listen_addr") {
		cfg.AdminListenAddr = strings.TrimSpace(raw.AdminListenAddr)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("connect_timeout") {
		cfg.Session.ConnectTimeout = raw.ConnectTimeout
	}
	if meta.IsDefined("handshake_timeout") {
		cfg.Session.HandshakeTimeout = raw.HandshakeTimeout
	}
	if meta.IsDefined("write_timeout") {
		cfg.Session.WriteTimeout = raw.WriteTimeout
	}
	if meta.IsDefined("max_connect_attempts") {
		cfg.Session.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	if meta.IsDefined("backoff_initial_delay") {
		cfg.Session.Backoff.InitialDelay = raw.BackoffInitialDelay
	}
	if meta.IsDefined("backoff_max_delay") {
		cfg.Session.Backoff.MaxDelay = raw.BackoffMaxDelay
	}
	if meta.IsDefined("session_security_mode") {
		cfg.Session.SecurityMode = session.SecurityMode(strings.TrimSpace(raw.SessionSecurityMode))
	}
	if meta.IsDefined("session_tls_enabled") {
		cfg.Session.TLS.Enabled = raw.SessionTLSEnabled
	}
	if meta.IsDefined("session_tls_mutual") {
		cfg.Session.TLS.Mutual = raw.SessionTLSMutual
	}
	if meta.IsDefined("session_tls_server_name") {
		cfg.Session.TLS.ServerName = strings.TrimSpace(raw.SessionTLSServer)
	}
	if meta.IsDefined("session_tls_cert_file") {
		cfg.Session.TLS.CertFile = strings.TrimSpace(raw.SessionTLSCertFile)
	}
	if meta.IsDefined("session_tls_key_file") {
		cfg.Session.TLS.KeyFile = strings.TrimSpace(raw.SessionTLSKeyFile)
	}
	if meta.IsDefined("session_tls_ca_file") {
		cfg.Session.TLS.CAFile = strings.TrimSpace(raw.SessionTLSCAFile)
	}
	return nil
}

func applyEnv(cfg *ClientConfig, opts env.Options) error {
	over := envConfig{
		Name:               cfg.Name,
		Address:            cfg.Address,
		Transport:          string(cfg.Transport),
		StartingSequence:   cfg.StartingSequence,
		AdminListenAddr:    cfg.AdminListenAddr,
		AdminToken:         cfg.AdminToken,
		ConnectTimeout:     cfg.Session.ConnectTimeout,
		HandshakeTimeout:   cfg.Session.HandshakeTimeout,
		WriteTimeout:       cfg.Session.WriteTimeout,
		BackoffInitial:     cfg.Session.Backoff.InitialDelay,
		BackoffMax:         cfg.Session.Backoff.MaxDelay,
		MaxConnectAttempts: cfg.Session.MaxConnectAttempts,
		SecurityMode:       string(cfg.Session.SecurityMode),
		TLSEnabled:         cfg.Session.TLS.Enabled,
		TLSMutual:          cfg.Session.TLS.Mutual,
		TLSCAFile:          cfg.Session.TLS.CAFile,
		TLSCertFile:        cfg.Session.TLS.CertFile,
		TLSKeyFile:         cfg.Session.TLS.KeyFile,
	}
	if err := env.ParseWithOptions(&over, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	cfg.Name = strings.TrimSpace(over.Name)
	cfg.Address = strings.TrimSpace(over.Address)
	cfg.Transport = Transport(strings.ToLower(strings.TrimSpace(over.Transport)))
	cfg.StartingSequence = over.StartingSequence
	cfg.AdminListenAddr = strings.TrimSpace(over.AdminListenAddr)
	cfg.AdminToken = strings.TrimSpace(over.AdminToken)
	cfg.Session.ConnectTimeout = over.ConnectTimeout
	cfg.Session.HandshakeTimeout = over.HandshakeTimeout
	cfg.Session.WriteTimeout = over.WriteTimeout
	cfg.Session.Backoff.InitialDelay = over.BackoffInitial
	cfg.Session.Backoff.MaxDelay = over.BackoffMax
	cfg.Session.MaxConnectAttempts = over.MaxConnectAttempts
	cfg.Session.SecurityMode = session.SecurityMode(strings.TrimSpace(over.SecurityMode))
	cfg.Session.TLS.Enabled = over.TLSEnabled
	cfg.Session.TLS.Mutual = over.TLSMutual
	cfg.Session.TLS.CAFile = strings.TrimSpace(over.TLSCAFile)
	cfg.Session.TLS.CertFile = strings.TrimSpace(over.TLSCertFile)
	cfg.Session.TLS.KeyFile = strings.TrimSpace(over.TLSKeyFile)
	return nil
}

// Validate checks the address against the transport and the session
// security settings.
func (c ClientConfig) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		return ErrMissingAddress
	}
	switch c.Transport {
	case TransportTCP:
		if _, _, err := net.SplitHostPort(c.Address); err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidAddress, c.Address, err)
		}
	case TransportWebSocket:
		u, err := url.Parse(c.Address)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidAddress, c.Address, err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("%w: %q: websocket address needs ws:// or wss://", ErrInvalidAddress, c.Address)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTransport, c.Transport)
	}
	return c.Session.ValidateClientTransport()
}
