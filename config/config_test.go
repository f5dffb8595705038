package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TWITCH_CHANNEL", "")
	t.Setenv("POLL_INTERVAL", "")
	t.Setenv("STREAM_TIMEZONE", "")
	t.Setenv("MIN_PRESENT", "")
	t.Setenv("DB_DSN", "")
	t.Setenv("HTTP_ADDR", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PollInterval != 120*time.Second {
		t.Errorf("PollInterval = %v, want 120s", cfg.PollInterval)
	}
	if cfg.StreamZone.String() != "America/New_York" {
		t.Errorf("StreamZone = %v, want America/New_York", cfg.StreamZone)
	}
	if cfg.MinPresent != 1 {
		t.Errorf("MinPresent = %d, want 1", cfg.MinPresent)
	}
	if cfg.PageSize != 500 || cfg.BatchSize != 10000 {
		t.Errorf("PageSize/BatchSize = %d/%d, want 500/10000", cfg.PageSize, cfg.BatchSize)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.DBDsn == "" {
		t.Error("DBDsn should have a default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "5m")
	t.Setenv("STREAM_TIMEZONE", "Europe/Berlin")
	t.Setenv("MIN_PRESENT", "3")
	t.Setenv("LEADERBOARD_PAGE_SIZE", "50")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PollInterval != 5*time.Minute {
		t.Errorf("PollInterval = %v, want 5m", cfg.PollInterval)
	}
	if cfg.StreamZone.String() != "Europe/Berlin" {
		t.Errorf("StreamZone = %v, want Europe/Berlin", cfg.StreamZone)
	}
	if cfg.MinPresent != 3 {
		t.Errorf("MinPresent = %d, want 3", cfg.MinPresent)
	}
	if cfg.PageSize != 50 {
		t.Errorf("PageSize = %d, want 50", cfg.PageSize)
	}
}

func TestLoadInvalidInterval(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "soon")
	if _, err := Load(); err == nil {
		t.Fatal("Load() with invalid POLL_INTERVAL should fail")
	}
	t.Setenv("POLL_INTERVAL", "-10s")
	if _, err := Load(); err == nil {
		t.Fatal("Load() with negative POLL_INTERVAL should fail")
	}
}

func TestLoadInvalidZone(t *testing.T) {
	t.Setenv("STREAM_TIMEZONE", "Mars/Olympus_Mons")
	if _, err := Load(); err == nil {
		t.Fatal("Load() with unknown STREAM_TIMEZONE should fail")
	}
}

func TestValidateTrackerReady(t *testing.T) {
	cfg := &Config{}
	if err := cfg.ValidateTrackerReady(); err == nil {
		t.Error("empty config should not be tracker ready")
	}
	cfg = &Config{TwitchChannel: "somechannel", TwitchClientID: "id", TwitchClientSecret: "secret"}
	if err := cfg.ValidateTrackerReady(); err != nil {
		t.Errorf("ValidateTrackerReady() = %v, want nil", err)
	}
}
