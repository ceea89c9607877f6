// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/localnewslab/newsminer/internal/pipeline"
)

// Config captures all service configuration knobs loaded via Viper. It is
// constructed once at startup and passed by reference; nothing mutates it
// after Load returns.
type Config struct {
	DB           DBConfig       `mapstructure:"db"`
	Orchestrator OrchConfig     `mapstructure:"orchestrator"`
	Stages       StagesConfig   `mapstructure:"stages"`
	Batch        BatchConfig    `mapstructure:"batch"`
	BotSense     BotSenseConfig `mapstructure:"botsense"`
	Classify     ClassifyConfig `mapstructure:"classify"`
	ML           MLConfig       `mapstructure:"ml"`
	Fetch        FetchConfig    `mapstructure:"fetch"`
	API          APIConfig      `mapstructure:"api"`
	Logging      LoggingConfig  `mapstructure:"logging"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	MaxConnLifeMins int    `mapstructure:"max_conn_life_minutes"`
}

// OrchConfig governs the polling loop.
type OrchConfig struct {
	IdleIntervalSeconds  int   `mapstructure:"idle_interval_seconds"`
	ErrorBackoffSeconds  int   `mapstructure:"error_backoff_seconds"`
	DatasetID            int64 `mapstructure:"dataset_id"`
	MaxConsecutiveErrors int   `mapstructure:"max_consecutive_errors"`
}

// IdleInterval returns the sleep applied when every enabled stage is idle.
func (o OrchConfig) IdleInterval() time.Duration {
	return time.Duration(o.IdleIntervalSeconds) * time.Second
}

// ErrorBackoff returns the sleep applied after a failed poll cycle.
func (o OrchConfig) ErrorBackoff() time.Duration {
	return time.Duration(o.ErrorBackoffSeconds) * time.Second
}

// Dataset returns the configured dataset filter, nil when unset. Stage queries
// with a nil filter only ever match rows with a null dataset_id.
func (o OrchConfig) Dataset() *int64 {
	if o.DatasetID <= 0 {
		return nil
	}
	id := o.DatasetID
	return &id
}

// StagesConfig holds the per-stage enable flags. Disabled stages are skipped
// entirely: no query, no side effects.
type StagesConfig struct {
	Discovery        bool `mapstructure:"discovery"`
	Verification     bool `mapstructure:"verification"`
	Extraction       bool `mapstructure:"extraction"`
	Cleaning         bool `mapstructure:"cleaning"`
	EntityExtraction bool `mapstructure:"entity_extraction"`
	Analysis         bool `mapstructure:"analysis"`
}

// Enabled reports whether the named stage is switched on.
func (s StagesConfig) Enabled(stage pipeline.Stage) bool {
	switch stage {
	case pipeline.StageDiscovery:
		return s.Discovery
	case pipeline.StageVerification:
		return s.Verification
	case pipeline.StageExtraction:
		return s.Extraction
	case pipeline.StageCleaning:
		return s.Cleaning
	case pipeline.StageEntityExtraction:
		return s.EntityExtraction
	case pipeline.StageAnalysis:
		return s.Analysis
	default:
		return false
	}
}

// BatchConfig bounds claim sizes per stage. Large-batch stages must bound
// memory, so each stage carries its own limit.
type BatchConfig struct {
	Discovery        int `mapstructure:"discovery"`
	Verification     int `mapstructure:"verification"`
	Extraction       int `mapstructure:"extraction"`
	Cleaning         int `mapstructure:"cleaning"`
	EntityExtraction int `mapstructure:"entity_extraction"`
	Analysis         int `mapstructure:"analysis"`
}

// Limit returns the claim limit for the named stage.
func (b BatchConfig) Limit(stage pipeline.Stage) int {
	switch stage {
	case pipeline.StageDiscovery:
		return b.Discovery
	case pipeline.StageVerification:
		return b.Verification
	case pipeline.StageExtraction:
		return b.Extraction
	case pipeline.StageCleaning:
		return b.Cleaning
	case pipeline.StageEntityExtraction:
		return b.EntityExtraction
	case pipeline.StageAnalysis:
		return b.Analysis
	default:
		return 0
	}
}

// BotSenseConfig tunes the bot-sensitivity manager.
type BotSenseConfig struct {
	DecayFloor          int            `mapstructure:"decay_floor"`
	DecaySuccesses      int            `mapstructure:"decay_successes"`
	DecayQuietDays      int            `mapstructure:"decay_quiet_days"`
	CooldownMultipliers []float64      `mapstructure:"cooldown_multipliers"`
	Overrides           map[string]int `mapstructure:"overrides"`
}

// ClassifyConfig tunes the wire/local validator.
type ClassifyConfig struct {
	WireServices     []string            `mapstructure:"wire_services"`
	LocalCallsigns   []string            `mapstructure:"local_callsigns"`
	LocalityKeywords map[string][]string `mapstructure:"locality_keywords"`
}

// MLConfig points at the external classifier and entity services. An empty
// classifier URL disables the analysis stage; an empty entity URL selects the
// built-in gazetteer matcher.
type MLConfig struct {
	ClassifierURL  string `mapstructure:"classifier_url"`
	EntityURL      string `mapstructure:"entity_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Timeout returns the per-call deadline for ML service requests.
func (m MLConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds) * time.Second
}

// FetchConfig configures the default fetcher and the global request cap.
type FetchConfig struct {
	UserAgent     string  `mapstructure:"user_agent"`
	RespectRobots bool    `mapstructure:"respect_robots"`
	GlobalRPS     float64 `mapstructure:"global_rps"`
	GlobalBurst   int     `mapstructure:"global_burst"`
	MaxFailures   int     `mapstructure:"max_consecutive_failures"`
}

// APIConfig controls the operator status server.
type APIConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NEWSMINER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_life_minutes", 30)

	v.SetDefault("orchestrator.idle_interval_seconds", 30)
	v.SetDefault("orchestrator.error_backoff_seconds", 10)
	v.SetDefault("orchestrator.max_consecutive_errors", 10)

	v.SetDefault("stages.discovery", true)
	v.SetDefault("stages.verification", true)
	v.SetDefault("stages.extraction", true)
	v.SetDefault("stages.cleaning", true)
	v.SetDefault("stages.entity_extraction", true)
	v.SetDefault("stages.analysis", true)

	v.SetDefault("batch.discovery", 16)
	v.SetDefault("batch.verification", 64)
	v.SetDefault("batch.extraction", 32)
	v.SetDefault("batch.cleaning", 128)
	v.SetDefault("batch.entity_extraction", 50)
	v.SetDefault("batch.analysis", 128)

	v.SetDefault("botsense.decay_floor", 3)
	v.SetDefault("botsense.decay_successes", 100)
	v.SetDefault("botsense.decay_quiet_days", 7)
	v.SetDefault("botsense.cooldown_multipliers", []float64{1, 1, 1.5, 1.5, 2, 2, 3, 3, 4, 4})

	v.SetDefault("classify.wire_services", []string{
		"AP", "ASSOCIATED PRESS", "REUTERS", "AFP", "CNN", "BLOOMBERG", "UPI", "NPR",
	})
	v.SetDefault("classify.local_callsigns", []string{})

	v.SetDefault("ml.timeout_seconds", 30)

	v.SetDefault("fetch.user_agent", "newsminer/1.0 (+https://github.com/localnewslab/newsminer)")
	v.SetDefault("fetch.respect_robots", true)
	v.SetDefault("fetch.global_rps", 4.0)
	v.SetDefault("fetch.global_burst", 2)
	v.SetDefault("fetch.max_consecutive_failures", 3)

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.port", 8080)

	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}
	if c.Orchestrator.IdleIntervalSeconds <= 0 {
		return fmt.Errorf("orchestrator.idle_interval_seconds must be > 0")
	}
	if c.Orchestrator.ErrorBackoffSeconds <= 0 {
		return fmt.Errorf("orchestrator.error_backoff_seconds must be > 0")
	}
	for _, stage := range pipeline.StageOrder {
		if c.Stages.Enabled(stage) && c.Batch.Limit(stage) <= 0 {
			return fmt.Errorf("batch.%s must be > 0 when the stage is enabled", stage)
		}
	}
	if c.BotSense.DecayFloor < 1 || c.BotSense.DecayFloor > 10 {
		return fmt.Errorf("botsense.decay_floor must be within [1,10]")
	}
	if len(c.BotSense.CooldownMultipliers) != 10 {
		return fmt.Errorf("botsense.cooldown_multipliers must have exactly 10 entries")
	}
	prev := 0.0
	for i, m := range c.BotSense.CooldownMultipliers {
		if m <= 0 {
			return fmt.Errorf("botsense.cooldown_multipliers[%d] must be > 0", i)
		}
		if m < prev {
			return fmt.Errorf("botsense.cooldown_multipliers must be non-decreasing")
		}
		prev = m
	}
	for host, level := range c.BotSense.Overrides {
		if level < 1 || level > 10 {
			return fmt.Errorf("botsense.overrides[%s] must be within [1,10]", host)
		}
	}
	if c.API.Enabled && c.API.Port <= 0 {
		return fmt.Errorf("api.port must be > 0 when the api is enabled")
	}
	return nil
}
