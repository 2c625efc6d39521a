package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const minimalYAML = `
twilio:
  account_sid: AC123
  auth_token: secret
  voice_from: "+15550001111"
  whatsapp_from: "+15550002222"
`

func TestParseAppliesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Logging.Level != "INFO" || !cfg.Logging.Console {
		t.Fatalf("logging defaults = %+v", cfg.Logging)
	}
	if cfg.Storage.CheckpointSchedule != "@daily" {
		t.Fatalf("checkpoint schedule = %q", cfg.Storage.CheckpointSchedule)
	}
	tick, err := cfg.TickInterval()
	if err != nil || tick != time.Second {
		t.Fatalf("tick = %v, %v", tick, err)
	}
	if cfg.HTTP.Addr == "" || cfg.HTTP.UploadsDir == "" || cfg.HTTP.VoicesDir == "" {
		t.Fatalf("http defaults = %+v", cfg.HTTP)
	}
	if cfg.Twilio.RatePerSec != 3 {
		t.Fatalf("rate_per_sec default = %d", cfg.Twilio.RatePerSec)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	_, err := Parse([]byte(minimalYAML + "\nnot_a_section:\n  x: 1\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParseRejectsMissingCredentials(t *testing.T) {
	t.Parallel()
	_, err := Parse([]byte("logging:\n  level: DEBUG\n"))
	if err == nil {
		t.Fatal("expected error for missing twilio credentials")
	}
}

func TestParseRejectsBadDuration(t *testing.T) {
	t.Parallel()
	_, err := Parse([]byte(minimalYAML + "\nscheduler:\n  tick_interval: soon\n"))
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestParseRejectsAlertsWithoutTarget(t *testing.T) {
	t.Parallel()
	_, err := Parse([]byte(minimalYAML + "\nalerts:\n  enabled: true\n"))
	if err == nil {
		t.Fatal("expected error for alerts without token/chat")
	}
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Twilio.AccountSID != "AC123" {
		t.Fatalf("AccountSID = %q", cfg.Twilio.AccountSID)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", " 5s "); err != nil || d != 5*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: got %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("expected error for negative duration")
	}
}
