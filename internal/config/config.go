// Package config loads the daemon's configuration, layering flags over
// a config file over defaults.
package config

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/xtaci/keymutexd/internal/keylock"
)

// Config is the full process-level configuration: the core's own
// config plus the ambient fields a real process needs.
type Config struct {
	Endpoint       string
	MaxConnections int
	ForceUnlink    bool
	LogLevel       string
	LogFormat      string
	MetricsAddr    string
}

// Core returns the subset of Config the keylock core actually consumes.
func (c Config) Core() keylock.Config {
	return keylock.Config{
		Endpoint:       c.Endpoint,
		MaxConnections: c.MaxConnections,
		ForceUnlink:    c.ForceUnlink,
	}
}

// BindFlags registers the recognized flags on fs and their defaults.
func BindFlags(fs *pflag.FlagSet) {
	fs.String("endpoint", "/var/run/keymutexd.sock", "TCP port or Unix socket path to listen on")
	fs.Int("max-connections", 256, "hard cap on concurrent clients (MAXCONN)")
	fs.Bool("force-unlink", false, "remove a stale Unix socket file before binding")
	fs.String("log-level", "info", "trace|debug|info|warn|error")
	fs.String("log-format", "text", "text|json")
	fs.String("config", "", "optional config file (yaml/json/toml)")
	fs.String("metrics-addr", "", "optional host:port to expose Prometheus metrics on; empty disables it")
}

// Load reads the layered configuration: flags override a config file
// (when --config names one, or one is found on the default search path)
// which overrides the BindFlags defaults.
func Load(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("KEYMUTEXD")
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return Config{}, fmt.Errorf("config: bind flags: %w", err)
	}

	if cf, _ := fs.GetString("config"); cf != "" {
		v.SetConfigFile(cf)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", cf, err)
		}
	} else {
		v.SetConfigName("keymutexd")
		v.AddConfigPath("/etc/keymutexd")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return Config{}, fmt.Errorf("config: read config file: %w", err)
			}
		}
	}

	cfg := Config{
		Endpoint:       v.GetString("endpoint"),
		MaxConnections: v.GetInt("max-connections"),
		ForceUnlink:    v.GetBool("force-unlink"),
		LogLevel:       v.GetString("log-level"),
		LogFormat:      v.GetString("log-format"),
		MetricsAddr:    v.GetString("metrics-addr"),
	}
	if cfg.MaxConnections <= 0 {
		return Config{}, fmt.Errorf("config: max-connections must be positive, got %d", cfg.MaxConnections)
	}
	return cfg, nil
}
