package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EndpointPath is the versioned middleware WebSocket endpoint.
const EndpointPath = "/api/current"

type Config struct {
	ServerURL      string
	Insecure       bool
	ConnectTimeout time.Duration
	CallTimeout    time.Duration
	Debug          bool
	KeepAlive      KeepAliveConfig
	Recovery       RecoveryConfig
	RateLimit      RateLimitConfig
	Auth           AuthConfig
	Store          StoreConfig
}

type KeepAliveConfig struct {
	Enabled     bool
	Interval    time.Duration
	MaxFailures int
}

type RecoveryConfig struct {
	MaxAttempts  int
	Backoff      time.Duration
	LoginTimeout time.Duration
}

type RateLimitConfig struct {
	CallsPerSecond float64
	Burst          int
}

// AuthConfig extends the built-in table of authentication-failure signals.
type AuthConfig struct {
	Codes    []int
	Messages []string
}

type StoreConfig struct {
	Path   string
	Secret string
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 10 * time.Second,
		CallTimeout:    30 * time.Second,
		KeepAlive: KeepAliveConfig{
			Enabled:     true,
			Interval:    30 * time.Second,
			MaxFailures: 3,
		},
		Recovery: RecoveryConfig{
			MaxAttempts:  3,
			Backoff:      500 * time.Millisecond,
			LoginTimeout: 15 * time.Second,
		},
	}
}

// FileConfig is the on-disk YAML shape. Pointer fields distinguish "unset"
// from an explicit false or zero.
type FileConfig struct {
	ServerURL      string        `yaml:"serverURL"`
	Insecure       *bool         `yaml:"insecure"`
	ConnectTimeout time.Duration `yaml:"connectTimeout"`
	CallTimeout    time.Duration `yaml:"callTimeout"`
	Debug          *bool         `yaml:"debug"`
	KeepAlive      struct {
		Enabled     *bool         `yaml:"enabled"`
		Interval    time.Duration `yaml:"interval"`
		MaxFailures int           `yaml:"maxFailures"`
	} `yaml:"keepAlive"`
	Recovery struct {
		MaxAttempts  int           `yaml:"maxAttempts"`
		Backoff      time.Duration `yaml:"backoff"`
		LoginTimeout time.Duration `yaml:"loginTimeout"`
	} `yaml:"recovery"`
	RateLimit struct {
		CallsPerSecond float64 `yaml:"callsPerSecond"`
		Burst          int     `yaml:"burst"`
	} `yaml:"rateLimit"`
	Auth struct {
		Codes    []int    `yaml:"codes"`
		Messages []string `yaml:"messages"`
	} `yaml:"auth"`
	Store struct {
		Path   string `yaml:"path"`
		Secret string `yaml:"secret"`
	} `yaml:"store"`
}

// LoadFromPath reads configPath (or the default candidates when empty),
// merges it over the defaults and applies environment overrides. A missing
// file is not an error; a file that exists but does not parse is.
func LoadFromPath(configPath string) (Config, error) {
	cfg := DefaultConfig()

	candidates := []string{configPath}
	if configPath == "" {
		candidates = []string{"truehub.yaml", "configs/truehub.yaml"}
	}
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && configPath == "" {
				continue
			}
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config %s: %w", path, err)
			}
			return Config{}, err
		}
		var parsed FileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		Merge(&cfg, parsed)
		break
	}
	ApplyEnvOverrides(&cfg)
	return Normalize(cfg), nil
}

func Merge(dst *Config, src FileConfig) {
	if src.ServerURL != "" {
		dst.ServerURL = src.ServerURL
	}
	if src.Insecure != nil {
		dst.Insecure = *src.Insecure
	}
	if src.ConnectTimeout != 0 {
		dst.ConnectTimeout = src.ConnectTimeout
	}
	if src.CallTimeout != 0 {
		dst.CallTimeout = src.CallTimeout
	}
	if src.Debug != nil {
		dst.Debug = *src.Debug
	}
	if src.KeepAlive.Enabled != nil {
		dst.KeepAlive.Enabled = *src.KeepAlive.Enabled
	}
	if src.KeepAlive.Interval != 0 {
		dst.KeepAlive.Interval = src.KeepAlive.Interval
	}
	if src.KeepAlive.MaxFailures != 0 {
		dst.KeepAlive.MaxFailures = src.KeepAlive.MaxFailures
	}
	if src.Recovery.MaxAttempts != 0 {
		dst.Recovery.MaxAttempts = src.Recovery.MaxAttempts
	}
	if src.Recovery.Backoff != 0 {
		dst.Recovery.Backoff = src.Recovery.Backoff
	}
	if src.Recovery.LoginTimeout != 0 {
		dst.Recovery.LoginTimeout = src.Recovery.LoginTimeout
	}
	if src.RateLimit.CallsPerSecond != 0 {
		dst.RateLimit.CallsPerSecond = src.RateLimit.CallsPerSecond
	}
	if src.RateLimit.Burst != 0 {
		dst.RateLimit.Burst = src.RateLimit.Burst
	}
	if src.Auth.Codes != nil {
		dst.Auth.Codes = append([]int(nil), src.Auth.Codes...)
	}
	if src.Auth.Messages != nil {
		dst.Auth.Messages = append([]string(nil), src.Auth.Messages...)
	}
	if src.Store.Path != "" {
		dst.Store.Path = src.Store.Path
	}
	if src.Store.Secret != "" {
		dst.Store.Secret = src.Store.Secret
	}
}

func ApplyEnvOverrides(cfg *Config) {
	if v := envString("TRUEHUB_URL"); v != "" {
		cfg.ServerURL = v
	}
	cfg.Insecure = envBoolWithFallback("TRUEHUB_INSECURE", cfg.Insecure)
	cfg.Debug = envBoolWithFallback("TRUEHUB_DEBUG", cfg.Debug)
	cfg.KeepAlive.Enabled = envBoolWithFallback("TRUEHUB_KEEPALIVE", cfg.KeepAlive.Enabled)
	if v := envString("TRUEHUB_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := envString("TRUEHUB_STORE_SECRET"); v != "" {
		cfg.Store.Secret = v
	}
}

func Normalize(cfg Config) Config {
	def := DefaultConfig()
	cfg.ServerURL = strings.TrimSpace(cfg.ServerURL)
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.KeepAlive.Interval <= 0 {
		cfg.KeepAlive.Interval = def.KeepAlive.Interval
	}
	if cfg.KeepAlive.MaxFailures <= 0 {
		cfg.KeepAlive.MaxFailures = def.KeepAlive.MaxFailures
	}
	if cfg.Recovery.MaxAttempts <= 0 {
		cfg.Recovery.MaxAttempts = def.Recovery.MaxAttempts
	}
	if cfg.Recovery.Backoff < 0 {
		cfg.Recovery.Backoff = 0
	}
	if cfg.Recovery.LoginTimeout <= 0 {
		cfg.Recovery.LoginTimeout = def.Recovery.LoginTimeout
	}
	if cfg.RateLimit.CallsPerSecond < 0 {
		cfg.RateLimit.CallsPerSecond = 0
	}
	if cfg.RateLimit.CallsPerSecond > 0 && cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 1
	}
	return cfg
}

// EndpointURL turns a server address such as "nas.local", "https://nas:8443"
// or "ws://10.0.0.2" into the WebSocket endpoint URL.
func EndpointURL(server string) (string, error) {
	server = strings.TrimSpace(server)
	if server == "" {
		return "", errors.New("server url is required")
	}
	if !strings.Contains(server, "://") {
		server = "wss://" + server
	}
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "http":
		u.Scheme = "ws"
	case "wss", "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("server url has no host")
	}
	u.Path = EndpointPath
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

func envString(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func envBoolWithFallback(key string, fallback bool) bool {
	raw := strings.ToLower(envString(key))
	switch raw {
	case "":
		return fallback
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	if v, err := strconv.ParseBool(raw); err == nil {
		return v
	}
	return fallback
}
