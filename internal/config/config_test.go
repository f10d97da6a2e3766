package config

import (
	"log/slog"
	"os"
	"testing"
)

func TestDefaults(t *testing.T) {
	for _, env := range []string{
		"CFWMS_CFW_ADDRESS", "CFWMS_CFW_PORT", "CFWMS_CFW_FORCE_KALIVE",
		"CFWMS_CFW_CERT", "CFWMS_CFW_KEY", "CFWMS_SIP_RESTRICT", "CFWMS_LOG_LEVEL",
	} {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}

	os.Args = []string{"cfwms"}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.CFWAddress != defaultCFWAddress {
		t.Errorf("CFWAddress = %q, want %q", cfg.CFWAddress, defaultCFWAddress)
	}
	if cfg.CFWPort != defaultCFWPort {
		t.Errorf("CFWPort = %d, want %d", cfg.CFWPort, defaultCFWPort)
	}
	if cfg.CFWForceKAlive {
		t.Error("CFWForceKAlive = true, want false (strict default)")
	}
	if cfg.CFWCert != "" || cfg.CFWKey != "" {
		t.Errorf("CFWCert/CFWKey = %q/%q, want empty", cfg.CFWCert, cfg.CFWKey)
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, defaultLogLevel)
	}
	if cfg.TLSEnabled() {
		t.Error("TLSEnabled() = true with no cert/key configured")
	}
	if cfg.RecordingRetentionHours != 0 {
		t.Errorf("RecordingRetentionHours = %d, want 0 (sweep disabled by default)", cfg.RecordingRetentionHours)
	}
}

func TestEnvVarOverride(t *testing.T) {
	os.Args = []string{"cfwms"}
	t.Setenv("CFWMS_CFW_PORT", "2999")
	t.Setenv("CFWMS_SIP_RESTRICT", "10.0.0.0")
	t.Setenv("CFWMS_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.CFWPort != 2999 {
		t.Errorf("CFWPort = %d, want 2999", cfg.CFWPort)
	}
	if cfg.SIPRestrict != "10.0.0.0" {
		t.Errorf("SIPRestrict = %q, want 10.0.0.0", cfg.SIPRestrict)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestCLIFlagsPrecedence(t *testing.T) {
	os.Args = []string{"cfwms", "--cfw-port", "3000", "--log-level", "warn"}
	t.Setenv("CFWMS_CFW_PORT", "9090")
	t.Setenv("CFWMS_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.CFWPort != 3000 {
		t.Errorf("CFWPort = %d, want 3000 (CLI should override env)", cfg.CFWPort)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn (CLI should override env)", cfg.LogLevel)
	}
}

func TestValidateInvalidPort(t *testing.T) {
	os.Args = []string{"cfwms", "--cfw-port", "99999"}
	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid port, got nil")
	}
}

func TestValidateInvalidLogLevel(t *testing.T) {
	os.Args = []string{"cfwms", "--log-level", "verbose"}
	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
}

func TestValidateTLSMismatch(t *testing.T) {
	os.Args = []string{"cfwms", "--cfw-cert", "cert.pem"}
	_, err := Load()
	if err == nil {
		t.Fatal("expected error when cfw-cert provided without cfw-key")
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.level}
			if got := cfg.SlogLevel(); got != tt.want {
				t.Errorf("SlogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}
