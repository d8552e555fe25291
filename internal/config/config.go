// Package config loads ventry settings from flags, VENTRY_* environment
// variables, a ventry.yaml file and defaults, in that order of priority.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable: VENTRY_GATEWAY_ENDPOINT, ...
const EnvPrefix = "VENTRY"

// Config is the validated runtime configuration.
type Config struct {
	DB           string             `mapstructure:"db"`
	UserID       string             `mapstructure:"user_id"`
	Offline      bool               `mapstructure:"offline"`
	Gateway      GatewayConfig      `mapstructure:"gateway"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`
	Sync         SyncConfig         `mapstructure:"sync"`
	Log          LogConfig          `mapstructure:"log"`

	// File is the config file that was read, empty if none.
	File string `mapstructure:"-"`
}

// GatewayConfig configures the GraphQL backend.
type GatewayConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Token    string        `mapstructure:"token"`
	Compress bool          `mapstructure:"compress"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ConnectivityConfig configures the presence socket.
type ConnectivityConfig struct {
	PresenceURL string        `mapstructure:"presence_url"`
	Redial      time.Duration `mapstructure:"redial"`
}

// SyncConfig configures the orchestrator.
type SyncConfig struct {
	ActionTimeout     time.Duration `mapstructure:"action_timeout"`
	RefreshAfterDrain bool          `mapstructure:"refresh_after_drain"`
}

// LogConfig configures the CLI logger.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Options controls where Load looks.
type Options struct {
	// File is an explicit config file. When empty, ventry.yaml is searched
	// in the working directory and $HOME/.config/ventry.
	File string

	// Flags are bound by name: "db", "offline", "user-id" and the dotted
	// keys with dashes ("gateway-endpoint" for gateway.endpoint).
	Flags *pflag.FlagSet

	// SearchPaths overrides the default search directories.
	SearchPaths []string
}

var defaults = map[string]any{
	"db":                        "ventry.db",
	"user_id":                   "",
	"offline":                   false,
	"gateway.endpoint":          "",
	"gateway.token":             "",
	"gateway.compress":          false,
	"gateway.timeout":           "15s",
	"connectivity.presence_url": "",
	"connectivity.redial":       "5s",
	"sync.action_timeout":       "30s",
	"sync.refresh_after_drain":  true,
	"log.level":                 "info",
}

// Load reads the configuration and validates it.
func Load(opts Options) (Config, error) {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.Flags != nil {
		for key := range defaults {
			name := strings.NewReplacer(".", "-", "_", "-").Replace(key)
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag --%s: %w", name, err)
				}
			}
		}
	}

	if opts.File != "" {
		v.SetConfigFile(opts.File)
	} else {
		v.SetConfigName("ventry")
		v.SetConfigType("yaml")
		paths := opts.SearchPaths
		if paths == nil {
			paths = defaultSearchPaths()
		}
		for _, p := range paths {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.File != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaultSearchPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "ventry"))
	}
	return paths
}

// Validate checks values that decoding alone cannot.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DB) == "" {
		errs = append(errs, errors.New("db: must not be empty"))
	}
	if c.Gateway.Endpoint != "" {
		if err := checkURL(c.Gateway.Endpoint, "http", "https"); err != nil {
			errs = append(errs, fmt.Errorf("gateway.endpoint: %w", err))
		}
	}
	if c.Connectivity.PresenceURL != "" {
		if err := checkURL(c.Connectivity.PresenceURL, "ws", "wss"); err != nil {
			errs = append(errs, fmt.Errorf("connectivity.presence_url: %w", err))
		}
	}
	if c.Gateway.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("gateway.timeout: must be positive, got %s", c.Gateway.Timeout))
	}
	if c.Connectivity.Redial <= 0 {
		errs = append(errs, fmt.Errorf("connectivity.redial: must be positive, got %s", c.Connectivity.Redial))
	}
	if c.Sync.ActionTimeout <= 0 {
		errs = append(errs, fmt.Errorf("sync.action_timeout: must be positive, got %s", c.Sync.ActionTimeout))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown level %q: must be debug, info, warn or error", s)
	}
	return l, nil
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("%q has no host", raw)
			}
			return nil
		}
	}
	return fmt.Errorf("%q: scheme must be one of %v", raw, schemes)
}
