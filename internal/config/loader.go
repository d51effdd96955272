package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader resolves server configuration from flags, environment and an
// optional YAML file. Precedence: flags > LOADPILOT_* env > file > defaults.
type Loader struct{}

func NewLoader() *Loader { return &Loader{} }

// RegisterFlags declares the server flags on the given flag set.
func (Loader) RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a YAML config file")
	fs.String("listen", ":8090", "control API listen address")
	fs.String("results-dir", "results", "directory for final result documents")
	fs.String("plans-dir", "plans", "directory for saved test plans")
	fs.Duration("request-timeout", 0, "default per-request HTTP timeout")
	fs.Duration("drain-grace", 0, "max wait for in-flight requests after a test ends")
	fs.Int("outbox-size", 0, "per-subscriber telemetry outbox capacity")
	fs.Int("max-records", 0, "completed test records retained before eviction")
	fs.String("log-level", "info", "zap log level")
	fs.String("tracing-endpoint", "", "OTLP trace exporter endpoint")
}

// Load binds the parsed flag set into a Server config.
func (Loader) Load(fs *pflag.FlagSet) (*Server, error) {
	v := viper.New()
	v.SetEnvPrefix("LOADPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen", ":8090")
	v.SetDefault("results_dir", "results")
	v.SetDefault("plans_dir", "plans")
	v.SetDefault("log_level", "info")

	bindings := map[string]string{
		"listen":           "listen",
		"results_dir":      "results-dir",
		"plans_dir":        "plans-dir",
		"request_timeout":  "request-timeout",
		"drain_grace":      "drain-grace",
		"outbox_size":      "outbox-size",
		"max_records":      "max-records",
		"log_level":        "log-level",
		"tracing.endpoint": "tracing-endpoint",
	}
	for key, flag := range bindings {
		f := fs.Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}

	if fs.Lookup("config") != nil {
		if path := fs.Lookup("config").Value.String(); path != "" {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Server
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()
	return &cfg, nil
}
