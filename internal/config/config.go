package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rewired-gh/jackpotengine/internal/probset"
	"github.com/rewired-gh/jackpotengine/internal/scoring"
	"github.com/rewired-gh/jackpotengine/internal/threshold"
	"github.com/rewired-gh/jackpotengine/internal/tickets"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig       `mapstructure:"server"`
	Storage       StorageConfig      `mapstructure:"storage"`
	Upstream      UpstreamConfig     `mapstructure:"upstream"`
	Scoring       ScoringConfig      `mapstructure:"scoring"`
	Calibration   CalibrationConfig  `mapstructure:"calibration"`
	Thresholds    ThresholdsConfig   `mapstructure:"thresholds"`
	Tickets       TicketsConfig      `mapstructure:"tickets"`
	LeagueWeights map[string]float64 `mapstructure:"league_weights"`
	Telegram      TelegramConfig     `mapstructure:"telegram"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig holds HTTP API configuration
type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	CORSOrigins    []string      `mapstructure:"cors_origins"`
}

// StorageConfig holds database configuration
type StorageConfig struct {
	Driver string `mapstructure:"driver"` // sqlite or postgres
	DSN    string `mapstructure:"dsn"`    // file path for sqlite, connection string for postgres
}

// UpstreamConfig holds the model-serving API configuration
type UpstreamConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	RateLimit  float64       `mapstructure:"rate_limit"` // requests per second, 0 disables
	Burst      int           `mapstructure:"burst"`
}

// ScoringConfig holds the decision-value rules
type ScoringConfig struct {
	Lambda             float64 `mapstructure:"lambda"`
	Mu                 float64 `mapstructure:"mu"`
	ImpliedMode        string  `mapstructure:"implied_mode"` // raw or devig
	DrawOddsCap        float64 `mapstructure:"draw_odds_cap"`
	DrawOddsPenalty    float64 `mapstructure:"draw_odds_penalty"`
	XGDiffCap          float64 `mapstructure:"xg_diff_cap"`
	DrawXGPenalty      float64 `mapstructure:"draw_xg_penalty"`
	AwayOddsCap        float64 `mapstructure:"away_odds_cap"`
	AwayOddsPenalty    float64 `mapstructure:"away_odds_penalty"`
	DrawHomeImpliedCap float64 `mapstructure:"draw_home_implied_cap"`
	AwayHomeImpliedCap float64 `mapstructure:"away_home_implied_cap"`
}

// CalibrationConfig holds calibration defaults
type CalibrationConfig struct {
	ModelVersion string `mapstructure:"model_version"`
	MinSamples   int    `mapstructure:"min_samples"`
}

// ThresholdsConfig holds threshold learning configuration
type ThresholdsConfig struct {
	Profile            string        `mapstructure:"profile"`
	DefaultTheta       float64       `mapstructure:"default_theta"`
	DefaultK           int           `mapstructure:"default_k"`
	BinWidth           float64       `mapstructure:"bin_width"`
	MinBucketSamples   int           `mapstructure:"min_bucket_samples"`
	MaxDiscardFraction float64       `mapstructure:"max_discard_fraction"`
	Window             time.Duration `mapstructure:"window"`
	RelearnInterval    time.Duration `mapstructure:"relearn_interval"`
	RelearnEnabled     bool          `mapstructure:"relearn_enabled"`
}

// TicketsConfig holds ticket generation configuration
type TicketsConfig struct {
	DefaultSets      []string `mapstructure:"default_sets"`
	MaxTicketsPerSet int      `mapstructure:"max_tickets_per_set"`
	MinDrawPicks     int      `mapstructure:"min_draw_picks"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
// An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// JACKPOT_SCORING_LAMBDA overrides scoring.lambda
	v.SetEnvPrefix("JACKPOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.cors_origins", []string{"*"})

	// Storage defaults
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.dsn", "") // $TMPDIR/jackpotengine/data.db

	// Upstream defaults
	v.SetDefault("upstream.base_url", "")
	v.SetDefault("upstream.timeout", "30s")
	v.SetDefault("upstream.max_retries", 3)
	v.SetDefault("upstream.rate_limit", 5.0)
	v.SetDefault("upstream.burst", 5)

	// Scoring defaults
	rules := scoring.DefaultRules()
	v.SetDefault("scoring.lambda", rules.Lambda)
	v.SetDefault("scoring.mu", rules.Mu)
	v.SetDefault("scoring.implied_mode", string(rules.ImpliedMode))
	v.SetDefault("scoring.draw_odds_cap", rules.DrawOddsCap)
	v.SetDefault("scoring.draw_odds_penalty", rules.DrawOddsPenalty)
	v.SetDefault("scoring.xg_diff_cap", rules.XGDiffCap)
	v.SetDefault("scoring.draw_xg_penalty", rules.DrawXGPenalty)
	v.SetDefault("scoring.away_odds_cap", rules.AwayOddsCap)
	v.SetDefault("scoring.away_odds_penalty", rules.AwayOddsPenalty)
	v.SetDefault("scoring.draw_home_implied_cap", rules.DrawHomeImpliedCap)
	v.SetDefault("scoring.away_home_implied_cap", rules.AwayHomeImpliedCap)

	// Calibration defaults
	v.SetDefault("calibration.model_version", "")
	v.SetDefault("calibration.min_samples", 200)

	// Threshold defaults
	opts := threshold.DefaultOptions()
	v.SetDefault("thresholds.profile", threshold.DefaultProfile)
	v.SetDefault("thresholds.default_theta", 0.0)
	v.SetDefault("thresholds.default_k", opts.DefaultK)
	v.SetDefault("thresholds.bin_width", opts.BinWidth)
	v.SetDefault("thresholds.min_bucket_samples", opts.MinBucketSamples)
	v.SetDefault("thresholds.max_discard_fraction", opts.MaxDiscardFraction)
	v.SetDefault("thresholds.window", "2160h") // 90 days
	v.SetDefault("thresholds.relearn_interval", "24h")
	v.SetDefault("thresholds.relearn_enabled", true)

	// Ticket defaults
	v.SetDefault("tickets.default_sets", []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J"})
	v.SetDefault("tickets.max_tickets_per_set", tickets.DefaultOptions().MaxTicketsPerSet)
	v.SetDefault("tickets.min_draw_picks", 0)

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Server config
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.RequestTimeout < time.Second {
		return fmt.Errorf("server.request_timeout must be at least 1 second")
	}

	// Validate Storage config
	switch c.Storage.Driver {
	case "sqlite":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("storage.driver must be one of: sqlite, postgres")
	}

	// Validate Upstream config
	if c.Upstream.BaseURL != "" && !strings.HasPrefix(c.Upstream.BaseURL, "http") {
		return fmt.Errorf("upstream.base_url must be an http(s) URL")
	}
	if c.Upstream.MaxRetries < 0 {
		return fmt.Errorf("upstream.max_retries must not be negative")
	}
	if c.Upstream.RateLimit < 0 {
		return fmt.Errorf("upstream.rate_limit must not be negative")
	}

	// Validate Scoring config
	if err := c.ScoringRules().Validate(); err != nil {
		return fmt.Errorf("scoring: %w", err)
	}

	// Validate Calibration config
	if c.Calibration.MinSamples < 1 {
		return fmt.Errorf("calibration.min_samples must be at least 1")
	}

	// Validate Threshold config
	if err := c.ThresholdOptions().Validate(); err != nil {
		return fmt.Errorf("thresholds: %w", err)
	}
	if c.Thresholds.Profile == "" {
		return fmt.Errorf("thresholds.profile is required")
	}
	if c.Thresholds.Window < 24*time.Hour {
		return fmt.Errorf("thresholds.window must be at least 24 hours")
	}
	if c.Thresholds.RelearnEnabled && c.Thresholds.RelearnInterval < time.Hour {
		return fmt.Errorf("thresholds.relearn_interval must be at least 1 hour")
	}

	// Validate Ticket config
	if _, err := probset.ParseKeys(c.Tickets.DefaultSets); err != nil {
		return fmt.Errorf("tickets.default_sets: %w", err)
	}
	if c.Tickets.MaxTicketsPerSet < 1 {
		return fmt.Errorf("tickets.max_tickets_per_set must be at least 1")
	}
	if c.Tickets.MinDrawPicks < 0 {
		return fmt.Errorf("tickets.min_draw_picks must not be negative")
	}

	// Validate league weights
	for league, w := range c.LeagueWeights {
		if w <= 0 {
			return fmt.Errorf("league_weights.%s must be positive", league)
		}
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// ScoringRules returns the scorer rule set
func (c *Config) ScoringRules() scoring.Rules {
	s := c.Scoring
	return scoring.Rules{
		Lambda:             s.Lambda,
		Mu:                 s.Mu,
		ImpliedMode:        scoring.ImpliedMode(s.ImpliedMode),
		DrawOddsCap:        s.DrawOddsCap,
		DrawOddsPenalty:    s.DrawOddsPenalty,
		XGDiffCap:          s.XGDiffCap,
		DrawXGPenalty:      s.DrawXGPenalty,
		AwayOddsCap:        s.AwayOddsCap,
		AwayOddsPenalty:    s.AwayOddsPenalty,
		DrawHomeImpliedCap: s.DrawHomeImpliedCap,
		AwayHomeImpliedCap: s.AwayHomeImpliedCap,
	}
}

// ThresholdOptions returns the learner options
func (c *Config) ThresholdOptions() threshold.Options {
	t := c.Thresholds
	return threshold.Options{
		BinWidth:           t.BinWidth,
		MinBucketSamples:   t.MinBucketSamples,
		MaxDiscardFraction: t.MaxDiscardFraction,
		DefaultK:           t.DefaultK,
	}
}

// TicketOptions returns the constructor options
func (c *Config) TicketOptions() tickets.Options {
	return tickets.Options{
		MaxTicketsPerSet: c.Tickets.MaxTicketsPerSet,
		MinDrawPicks:     c.Tickets.MinDrawPicks,
	}
}
