// Package config loads the daemon's configuration: a TOML file, overlaid
// by GFLOW_DAEMON_* environment variables, overlaid by CLI flags.
// Discovery of the config file's XDG path is out of scope here; callers
// pass an explicit path or accept the built-in default.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/AndPuQing/gflow/pkg/gpu"
)

// DaemonConfig is the daemon's resolved configuration.
type DaemonConfig struct {
	Host string
	Port int
	GPUs string // spec string per §6's grammar, or "all"

	DataDir string
	LogDir  string

	// LogToFile mirrors gflowd's own operational log to
	// /var/log/gflow/gflowd/gflowd.log (falling back to ./logs if that
	// path isn't writable) in addition to stdout. Per-job output under
	// LogDir is unaffected either way.
	LogToFile bool

	TickInterval time.Duration

	RateLimitRPS   float64
	RateLimitBurst int

	AuditDriver string // "sqlite", "postgres", or "none"
	AuditDSN    string

	TracingEnabled  bool
	TracingEndpoint string
}

func defaults() DaemonConfig {
	return DaemonConfig{
		Host:           "127.0.0.1",
		Port:           7777,
		GPUs:           "all",
		DataDir:        "/var/lib/gflow",
		LogDir:         "/var/lib/gflow/logs",
		TickInterval:   5 * time.Second,
		RateLimitRPS:   20,
		RateLimitBurst: 40,
		AuditDriver:    "sqlite",
		AuditDSN:       "/var/lib/gflow/audit.db",
		LogToFile:      false,
	}
}

// Load reads path (if non-empty and present) as TOML, overlays
// GFLOW_DAEMON_* environment variables, and falls back to built-in
// defaults for anything unset. CLI flags are applied by the caller after
// Load returns, since cobra owns flag parsing.
func Load(path string) (DaemonConfig, error) {
	d := defaults()

	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix("GFLOW_DAEMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("daemon.host", d.Host)
	v.SetDefault("daemon.port", d.Port)
	v.SetDefault("daemon.gpus", d.GPUs)
	v.SetDefault("daemon.data_dir", d.DataDir)
	v.SetDefault("daemon.log_dir", d.LogDir)
	v.SetDefault("daemon.tick_interval_secs", int(d.TickInterval.Seconds()))
	v.SetDefault("daemon.rate_limit_rps", d.RateLimitRPS)
	v.SetDefault("daemon.rate_limit_burst", d.RateLimitBurst)
	v.SetDefault("daemon.audit_driver", d.AuditDriver)
	v.SetDefault("daemon.audit_dsn", d.AuditDSN)
	v.SetDefault("daemon.tracing_enabled", d.TracingEnabled)
	v.SetDefault("daemon.tracing_endpoint", d.TracingEndpoint)
	v.SetDefault("daemon.log_to_file", d.LogToFile)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return d, err
			}
		}
	}

	d.Host = v.GetString("daemon.host")
	d.Port = v.GetInt("daemon.port")
	d.GPUs = v.GetString("daemon.gpus")
	d.DataDir = v.GetString("daemon.data_dir")
	d.LogDir = v.GetString("daemon.log_dir")
	d.TickInterval = time.Duration(v.GetInt("daemon.tick_interval_secs")) * time.Second
	d.RateLimitRPS = v.GetFloat64("daemon.rate_limit_rps")
	d.RateLimitBurst = v.GetInt("daemon.rate_limit_burst")
	d.AuditDriver = v.GetString("daemon.audit_driver")
	d.AuditDSN = v.GetString("daemon.audit_dsn")
	d.TracingEnabled = v.GetBool("daemon.tracing_enabled")
	d.TracingEndpoint = v.GetString("daemon.tracing_endpoint")
	d.LogToFile = v.GetBool("daemon.log_to_file")

	return d, nil
}

// ValidateGPUs checks the configured GPU spec parses, surfacing a
// ValidationError early instead of at first dispatch.
func (d DaemonConfig) ValidateGPUs() error {
	_, _, err := gpu.ParseSpec(d.GPUs)
	return err
}
