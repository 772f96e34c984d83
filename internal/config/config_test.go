package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Remove(tmpfile.Name()) })
	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}
	return tmpfile.Name()
}

func TestLoadAndValidate(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"

storage:
  driver: sqlite
  dsn: "./data/test.db"

upstream:
  base_url: "https://models.example.com"
  timeout: 10s

scoring:
  lambda: 8
  implied_mode: devig

calibration:
  model_version: "xgb-2026.09"
  min_samples: 300

thresholds:
  profile: weekend
  min_bucket_samples: 150
  relearn_interval: 12h

tickets:
  default_sets: [A, B, draw-boosted]
  min_draw_picks: 2

league_weights:
  epl: 1.05
  kpl: 0.6

telegram:
  bot_token: "test_token"
  chat_id: "test_chat_id"
  enabled: true

logging:
  level: "debug"
  format: "text"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("Unexpected addr: %s", cfg.Server.Addr)
	}
	if cfg.Upstream.RateLimit != 5 || cfg.Upstream.Burst != 5 {
		t.Errorf("Unexpected upstream rate limit: %v/%d", cfg.Upstream.RateLimit, cfg.Upstream.Burst)
	}
	if cfg.Upstream.Timeout != 10*time.Second {
		t.Errorf("Unexpected upstream timeout: %v", cfg.Upstream.Timeout)
	}
	if cfg.Scoring.Lambda != 8 {
		t.Errorf("Unexpected lambda: %f", cfg.Scoring.Lambda)
	}
	if cfg.Scoring.Mu != 0.05 {
		t.Errorf("Expected default mu 0.05, got %f", cfg.Scoring.Mu)
	}
	if cfg.Scoring.DrawOddsCap != 3.4 {
		t.Errorf("Expected default draw odds cap, got %f", cfg.Scoring.DrawOddsCap)
	}
	if cfg.Thresholds.MinBucketSamples != 150 {
		t.Errorf("Unexpected bucket floor: %d", cfg.Thresholds.MinBucketSamples)
	}
	if cfg.Thresholds.Window != 90*24*time.Hour {
		t.Errorf("Unexpected default window: %v", cfg.Thresholds.Window)
	}
	if len(cfg.Tickets.DefaultSets) != 3 {
		t.Errorf("Expected 3 default sets, got %d", len(cfg.Tickets.DefaultSets))
	}
	if cfg.LeagueWeights["kpl"] != 0.6 {
		t.Errorf("Unexpected kpl weight: %f", cfg.LeagueWeights["kpl"])
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}

	rules := cfg.ScoringRules()
	if rules.ImpliedMode != "devig" || rules.Lambda != 8 {
		t.Errorf("Unexpected scoring rules: %+v", rules)
	}
	if cfg.TicketOptions().MinDrawPicks != 2 {
		t.Errorf("Unexpected ticket options: %+v", cfg.TicketOptions())
	}
}

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("Unexpected default driver: %s", cfg.Storage.Driver)
	}
	if cfg.Thresholds.MinBucketSamples != 100 {
		t.Errorf("Unexpected default bucket floor: %d", cfg.Thresholds.MinBucketSamples)
	}
	if cfg.Scoring.Lambda != 10 {
		t.Errorf("Unexpected default lambda: %f", cfg.Scoring.Lambda)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("JACKPOT_SCORING_LAMBDA", "12.5")
	t.Setenv("JACKPOT_STORAGE_DRIVER", "postgres")
	t.Setenv("JACKPOT_STORAGE_DSN", "postgres://localhost/jackpot?sslmode=disable")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Scoring.Lambda != 12.5 {
		t.Errorf("Expected env lambda 12.5, got %f", cfg.Scoring.Lambda)
	}
	if cfg.Storage.Driver != "postgres" {
		t.Errorf("Expected env driver postgres, got %s", cfg.Storage.Driver)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mysql" }, "storage.driver"},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.dsn"},
		{"bad upstream url", func(c *Config) { c.Upstream.BaseURL = "models.local" }, "upstream.base_url"},
		{"negative rate limit", func(c *Config) { c.Upstream.RateLimit = -1 }, "upstream.rate_limit"},
		{"negative lambda", func(c *Config) { c.Scoring.Lambda = -1 }, "scoring"},
		{"unknown implied mode", func(c *Config) { c.Scoring.ImpliedMode = "fair" }, "scoring"},
		{"zero min samples", func(c *Config) { c.Calibration.MinSamples = 0 }, "calibration.min_samples"},
		{"bad bin width", func(c *Config) { c.Thresholds.BinWidth = 0 }, "thresholds"},
		{"default K too large", func(c *Config) { c.Thresholds.DefaultK = 3 }, "thresholds"},
		{"short window", func(c *Config) { c.Thresholds.Window = time.Hour }, "thresholds.window"},
		{"fast relearn", func(c *Config) { c.Thresholds.RelearnInterval = time.Minute }, "thresholds.relearn_interval"},
		{"unknown set", func(c *Config) { c.Tickets.DefaultSets = []string{"Z"} }, "tickets.default_sets"},
		{"zero league weight", func(c *Config) { c.LeagueWeights = map[string]float64{"epl": 0} }, "league_weights.epl"},
		{"telegram without token", func(c *Config) { c.Telegram.Enabled = true }, "telegram.bot_token"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			tt.mutate(cfg)
			err = cfg.Validate()
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}
