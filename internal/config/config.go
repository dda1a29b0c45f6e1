// Package config loads server configuration from an optional YAML file
// overlaid with environment variables, in the style of the retrieved
// rillnet config package, generalized to the smaller surface this SFU
// needs (listen address, JWT public key, ICE port range, STUN server,
// log level).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the full set of startup parameters. Zero values are filled
// in by Load via Defaults, then overridden by the YAML file (if any),
// then by environment variables (highest precedence), matching the
// layering order used throughout the pack.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	JWTPublicKeyPath string `yaml:"jwt_public_key_path"`

	ICEUDPPortMin uint16 `yaml:"ice_udp_port_min"`
	ICEUDPPortMax uint16 `yaml:"ice_udp_port_max"`
	STUNServerURL string `yaml:"stun_server_url"`

	LoopQueueCapacity int `yaml:"loop_queue_capacity"`

	WSReadLimitBytes int64         `yaml:"ws_read_limit_bytes"`
	WSWriteTimeout   time.Duration `yaml:"ws_write_timeout"`
	WSPongWait       time.Duration `yaml:"ws_pong_wait"`
	WSPingInterval   time.Duration `yaml:"ws_ping_interval"`

	SignalingRateLimitPerSecond float64 `yaml:"signaling_rate_limit_per_second"`
	SignalingRateLimitBurst     int     `yaml:"signaling_rate_limit_burst"`

	LogLevel string `yaml:"log_level"`

	MetricsAddr string `yaml:"metrics_addr"`
}

// Defaults returns the configuration used when neither a config file nor
// an environment variable supplies a value.
func Defaults() Config {
	return Config{
		ListenAddr:                  ":8000",
		JWTPublicKeyPath:            "/etc/relaymesh/jwt_public_key.pem",
		ICEUDPPortMin:               50001,
		ICEUDPPortMax:               50005,
		STUNServerURL:               "stun:stun.l.google.com:19302",
		LoopQueueCapacity:           4096,
		WSReadLimitBytes:            1 << 20,
		WSWriteTimeout:              4 * time.Second,
		WSPongWait:                  45 * time.Second,
		WSPingInterval:              20 * time.Second,
		SignalingRateLimitPerSecond: 50,
		SignalingRateLimitBurst:     100,
		LogLevel:                    "info",
		MetricsAddr:                 ":9090",
	}
}

// Load reads Defaults, overlays path (if non-empty and present on disk),
// then overlays environment variables. path may be empty, in which case
// only env vars and defaults apply.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("reading config file %q: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file %q: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.JWTPublicKeyPath) == "" {
		return fmt.Errorf("jwt public key path must not be empty")
	}
	if c.ICEUDPPortMax < c.ICEUDPPortMin {
		return fmt.Errorf("ice_udp_port_max (%d) must be >= ice_udp_port_min (%d)", c.ICEUDPPortMax, c.ICEUDPPortMin)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("RELAYMESH_LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("RELAYMESH_JWT_PUBLIC_KEY_PATH")); v != "" {
		cfg.JWTPublicKeyPath = v
	}
	if v := envUint16("RELAYMESH_ICE_UDP_PORT_MIN"); v != nil {
		cfg.ICEUDPPortMin = *v
	}
	if v := envUint16("RELAYMESH_ICE_UDP_PORT_MAX"); v != nil {
		cfg.ICEUDPPortMax = *v
	}
	if v := strings.TrimSpace(os.Getenv("RELAYMESH_STUN_SERVER_URL")); v != "" {
		cfg.STUNServerURL = v
	}
	if v := envInt("RELAYMESH_LOOP_QUEUE_CAPACITY"); v != nil {
		cfg.LoopQueueCapacity = *v
	}
	if v := strings.TrimSpace(os.Getenv("RELAYMESH_LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("RELAYMESH_METRICS_ADDR")); v != "" {
		cfg.MetricsAddr = v
	}
}

func envInt(key string) *int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &parsed
}

func envUint16(key string) *uint16 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	parsed, err := strconv.ParseUint(raw, 10, 16)
	if err != nil {
		return nil
	}
	v := uint16(parsed)
	return &v
}
