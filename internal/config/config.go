// internal/config/config.go
// Service and client configuration: defaults, then a YAML file, then environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/erilali/vossync/internal/authority"
	"github.com/erilali/vossync/internal/logger"
	"github.com/erilali/vossync/internal/synchronizer"
	"github.com/erilali/vossync/internal/transport"
	"github.com/nats-io/nats.go"
	"gopkg.in/yaml.v3"
)

const (
	defaultRedisAddr    = "localhost:6379"
	defaultRelayAddr    = ":8080"
	defaultTickInterval = 50 * time.Millisecond
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	Logger       logger.LogConfig   `yaml:"logger"`
	Transport    TransportConfig    `yaml:"transport"`
	Synchronizer SynchronizerConfig `yaml:"synchronizer"`
	Authority    AuthorityConfig    `yaml:"authority"`
	Relay        RelayConfig        `yaml:"relay"`
}

// TransportConfig picks the broker. NATSURL and RedisAddr win over Host/Port for
// their kinds; the websocket relay is always addressed by Host/Port/Path.
type TransportConfig struct {
	Kind      transport.Kind `yaml:"kind"`
	NATSURL   string         `yaml:"nats_url"`
	RedisAddr string         `yaml:"redis_addr"`
	Host      string         `yaml:"host"`
	Port      int            `yaml:"port"`
	TLS       bool           `yaml:"tls"`
	Path      string         `yaml:"path"`
}

type SynchronizerConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	DedupCacheSize    int           `yaml:"dedup_cache_size"`
	TickInterval      time.Duration `yaml:"tick_interval"`
}

type AuthorityConfig struct {
	Enabled       bool          `yaml:"enabled"`
	ClientTimeout time.Duration `yaml:"client_timeout"`
	ReapInterval  time.Duration `yaml:"reap_interval"`
}

type RelayConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

func Default() Config {
	return Config{
		Logger: logger.DefaultLogConfig(),
		Transport: TransportConfig{
			Kind:      transport.KindNATS,
			NATSURL:   nats.DefaultURL,
			RedisAddr: defaultRedisAddr,
			Host:      "localhost",
			Port:      8080,
			Path:      "/ws",
		},
		Synchronizer: SynchronizerConfig{
			HeartbeatInterval: synchronizer.DefaultHeartbeatInterval,
			DedupCacheSize:    synchronizer.DefaultDedupCacheSize,
			TickInterval:      defaultTickInterval,
		},
		Authority: AuthorityConfig{
			Enabled:       true,
			ClientTimeout: authority.DefaultClientTimeout,
			ReapInterval:  authority.DefaultReapInterval,
		},
		Relay: RelayConfig{Enabled: true, Addr: defaultRelayAddr},
	}
}

// Load reads path over the defaults and applies environment overrides. A missing
// file is not an error; an empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return cfg, fmt.Errorf("read %s: %w", path, err)
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, cfg.Validate()
}

// ApplyEnv applies NATS_URL, REDIS_ADDR, VOS_TRANSPORT, VOS_RELAY_ADDR and
// VOS_LOG_LEVEL.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("NATS_URL"); ok && v != "" {
		c.Transport.NATSURL = v
	}
	if v, ok := lookup("REDIS_ADDR"); ok && v != "" {
		c.Transport.RedisAddr = v
	}
	if v, ok := lookup("VOS_TRANSPORT"); ok && v != "" {
		c.Transport.Kind = transport.Kind(strings.ToLower(v))
	}
	if v, ok := lookup("VOS_RELAY_ADDR"); ok && v != "" {
		c.Relay.Addr = v
	}
	if v, ok := lookup("VOS_LOG_LEVEL"); ok && v != "" {
		c.Logger.Level = strings.ToLower(v)
	}
}

func (c Config) Validate() error {
	switch c.Transport.Kind {
	case transport.KindNATS, transport.KindRedis, transport.KindWebSocket, transport.KindMemory:
	default:
		return fmt.Errorf("%w: transport kind %q", ErrInvalid, c.Transport.Kind)
	}
	if c.Synchronizer.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: heartbeat_interval must be positive", ErrInvalid)
	}
	if c.Synchronizer.DedupCacheSize < 0 {
		return fmt.Errorf("%w: dedup_cache_size must not be negative", ErrInvalid)
	}
	if c.Synchronizer.TickInterval <= 0 {
		return fmt.Errorf("%w: tick_interval must be positive", ErrInvalid)
	}
	if c.Authority.ClientTimeout < 0 || c.Authority.ReapInterval <= 0 {
		return fmt.Errorf("%w: authority timeouts", ErrInvalid)
	}
	if c.Relay.Enabled && c.Relay.Addr == "" {
		return fmt.Errorf("%w: relay enabled without addr", ErrInvalid)
	}
	return nil
}

func (t TransportConfig) Endpoint() transport.Endpoint {
	return transport.Endpoint{Host: t.Host, Port: t.Port, TLS: t.TLS, Path: t.Path}
}

// NewAdapter builds the configured transport. The memory transport only exists
// inside one process and cannot be selected here.
func (t TransportConfig) NewAdapter(log *logger.Logger) (transport.Adapter, error) {
	switch t.Kind {
	case transport.KindNATS:
		return transport.NewNATSAdapter(t.NATSURL, log), nil
	case transport.KindRedis:
		return transport.NewRedisAdapter(t.RedisAddr, log), nil
	case transport.KindWebSocket:
		return transport.NewWebSocketAdapter(log), nil
	}
	return nil, fmt.Errorf("%w: transport kind %q has no network adapter", ErrInvalid, t.Kind)
}

func (s SynchronizerConfig) Options() synchronizer.Config {
	return synchronizer.Config{HeartbeatInterval: s.HeartbeatInterval, DedupCacheSize: s.DedupCacheSize}
}

func (a AuthorityConfig) Options() authority.Config {
	return authority.Config{ClientTimeout: a.ClientTimeout, ReapInterval: a.ReapInterval}
}
