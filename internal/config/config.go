// Package config loads runtime configuration for the media server control
// core: CLI flags with environment-variable overrides, CLI taking
// precedence (§6).
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds all runtime configuration for the CFW media server core.
type Config struct {
	CFWAddress     string
	CFWPort        int
	CFWForceKAlive bool // strict (false, default) or lenient keepalive handling
	CFWCert        string
	CFWKey         string

	SIPRestrict string // dotted-quad mask, zeros are wildcards

	PackagesPath string // accepted for interface compatibility (§4.5)

	MetricsAddr string
	MetricsPort int

	PromptsDir              string
	RecordingsDir           string
	TmpDir                  string
	RecordingRetentionHours int // 0 disables the retention sweep

	LogLevel  string
	LogFormat string
}

const (
	defaultCFWAddress = "0.0.0.0"
	defaultCFWPort    = 2945
	defaultSIPRestrict = "0.0.0.0"
	defaultMetricsAddr = "127.0.0.1"
	defaultMetricsPort = 9945
	defaultPromptsDir  = "./prompts"
	defaultRecordDir   = "./recordings"
	defaultTmpDir      = "./tmp"
	defaultLogLevel    = "info"
	defaultLogFormat   = "text"
)

// envPrefix is the prefix for all environment variables (§6).
const envPrefix = "CFWMS_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("cfwms", flag.ContinueOnError)

	fs.StringVar(&cfg.CFWAddress, "cfw-address", defaultCFWAddress, "CFW transport listen address")
	fs.IntVar(&cfg.CFWPort, "cfw-port", defaultCFWPort, "CFW transport listen port")
	fs.BoolVar(&cfg.CFWForceKAlive, "cfw-force-kalive", false, "use lenient (warn-only) keepalive handling instead of tearing the Client down")
	fs.StringVar(&cfg.CFWCert, "cfw-cert", "", "path to CFW TLS certificate file")
	fs.StringVar(&cfg.CFWKey, "cfw-key", "", "path to CFW TLS private key file")
	fs.StringVar(&cfg.SIPRestrict, "sip-restrict", defaultSIPRestrict, "dotted-quad mask restricting which peer addresses may open a Client (0 octets are wildcards)")
	fs.StringVar(&cfg.PackagesPath, "packages-path", "", "directory of package implementations (accepted for interface compatibility; compiled-in packages always win)")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", defaultMetricsAddr, "Prometheus metrics listen address")
	fs.IntVar(&cfg.MetricsPort, "metrics-port", defaultMetricsPort, "Prometheus metrics listen port")
	fs.StringVar(&cfg.PromptsDir, "prompts-dir", defaultPromptsDir, "directory for cached/prefetched prompt clips")
	fs.StringVar(&cfg.RecordingsDir, "recordings-dir", defaultRecordDir, "directory for <record> sink output")
	fs.StringVar(&cfg.TmpDir, "tmp-dir", defaultTmpDir, "scratch directory for in-flight downloads")
	fs.IntVar(&cfg.RecordingRetentionHours, "recording-retention-hours", 0, "delete recordings older than this many hours (0 disables the sweep)")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. CLI flags still take precedence.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	envMap := map[string]string{
		"cfw-address":      envPrefix + "CFW_ADDRESS",
		"cfw-port":         envPrefix + "CFW_PORT",
		"cfw-force-kalive": envPrefix + "CFW_FORCE_KALIVE",
		"cfw-cert":         envPrefix + "CFW_CERT",
		"cfw-key":          envPrefix + "CFW_KEY",
		"sip-restrict":     envPrefix + "SIP_RESTRICT",
		"packages-path":    envPrefix + "PACKAGES_PATH",
		"metrics-addr":     envPrefix + "METRICS_ADDR",
		"metrics-port":     envPrefix + "METRICS_PORT",
		"prompts-dir":      envPrefix + "PROMPTS_DIR",
		"recordings-dir":   envPrefix + "RECORDINGS_DIR",
		"tmp-dir":          envPrefix + "TMP_DIR",
		"recording-retention-hours": envPrefix + "RECORDING_RETENTION_HOURS",
		"log-level":        envPrefix + "LOG_LEVEL",
		"log-format":       envPrefix + "LOG_FORMAT",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "cfw-address":
			cfg.CFWAddress = val
		case "cfw-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.CFWPort = v
			}
		case "cfw-force-kalive":
			if v, err := strconv.ParseBool(val); err == nil {
				cfg.CFWForceKAlive = v
			}
		case "cfw-cert":
			cfg.CFWCert = val
		case "cfw-key":
			cfg.CFWKey = val
		case "sip-restrict":
			cfg.SIPRestrict = val
		case "packages-path":
			cfg.PackagesPath = val
		case "metrics-addr":
			cfg.MetricsAddr = val
		case "metrics-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.MetricsPort = v
			}
		case "prompts-dir":
			cfg.PromptsDir = val
		case "recordings-dir":
			cfg.RecordingsDir = val
		case "tmp-dir":
			cfg.TmpDir = val
		case "recording-retention-hours":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.RecordingRetentionHours = v
			}
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.CFWPort < 1 || c.CFWPort > 65535 {
		return fmt.Errorf("cfw-port must be between 1 and 65535, got %d", c.CFWPort)
	}
	if c.MetricsPort < 1 || c.MetricsPort > 65535 {
		return fmt.Errorf("metrics-port must be between 1 and 65535, got %d", c.MetricsPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	if (c.CFWCert == "") != (c.CFWKey == "") {
		return fmt.Errorf("cfw-cert and cfw-key must both be provided or both be omitted")
	}

	return nil
}

// TLSEnabled reports whether the CFW transport should terminate TLS.
func (c *Config) TLSEnabled() bool {
	return c.CFWCert != "" && c.CFWKey != ""
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
