package config

import (
	"strings"
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "SERVERS_FILE", "SHOP_FILE", "LEADERBOARD_INTERVAL",
		"RCON_CONNECT_TIMEOUT", "RCON_COMMAND_TIMEOUT", "RCON_CLOSE_TIMEOUT", "RCON_MAX_RETRIES"} {
		t.Setenv(key, "")
	}

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	if cfg.Port != "8080" || cfg.ServersFile != "servers.yaml" || cfg.ShopFile != "shop.yaml" {
		t.Errorf("Unexpected defaults: %+v", cfg)
	}
	if cfg.LeaderboardInterval != 10*time.Minute {
		t.Errorf("Expected 10m leaderboard interval, got %s", cfg.LeaderboardInterval)
	}

	opts := cfg.RCONOptions()
	if opts.ConnectTimeout != 8*time.Second || opts.CommandTimeout != 10*time.Second || opts.CloseTimeout != 3*time.Second {
		t.Errorf("Unexpected RCON timeouts: %+v", opts)
	}
	if opts.Retry.MaxRetries != 2 || opts.FailureThreshold != 3 {
		t.Errorf("Unexpected RCON retry settings: %+v", opts)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("RCON_CONNECT_TIMEOUT", "2")
	t.Setenv("RCON_COMMAND_TIMEOUT", "1500ms")
	t.Setenv("RCON_MAX_RETRIES", "0")
	t.Setenv("LEADERBOARD_INTERVAL", "1h")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	if cfg.Port != "9000" {
		t.Errorf("Expected port 9000, got %s", cfg.Port)
	}
	if cfg.RCONConnectTimeout != 2*time.Second {
		t.Errorf("Expected plain seconds to parse, got %s", cfg.RCONConnectTimeout)
	}
	if cfg.RCONCommandTimeout != 1500*time.Millisecond {
		t.Errorf("Expected duration to parse, got %s", cfg.RCONCommandTimeout)
	}
	if cfg.RCONOptions().Retry.Attempts() != 1 {
		t.Errorf("Expected zero retries to mean one attempt")
	}
	if cfg.LeaderboardInterval != time.Hour {
		t.Errorf("Expected 1h, got %s", cfg.LeaderboardInterval)
	}
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"RCON_CONNECT_TIMEOUT": "soon",
		"RCON_CLOSE_TIMEOUT":   "-3",
		"RCON_MAX_RETRIES":     "-1",
		"LEADERBOARD_INTERVAL": "0s",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := FromEnv()
			if err == nil {
				t.Fatalf("Expected error for %s=%s", key, value)
			}
			if !strings.Contains(err.Error(), key) {
				t.Errorf("Expected error to name %s, got %v", key, err)
			}
		})
	}
}

func TestSlipVerificationEnabled(t *testing.T) {
	cfg := &Config{SlipAPIURL: "https://slip.example"}
	if cfg.SlipVerificationEnabled() {
		t.Error("Expected verification off without an API key")
	}
	cfg.SlipAPIKey = "key"
	if !cfg.SlipVerificationEnabled() {
		t.Error("Expected verification on")
	}
}
