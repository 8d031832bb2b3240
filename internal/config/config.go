// Package config loads the YAML configuration with .env and environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"factorscan/internal/factor"
	"factorscan/internal/pattern"
	"factorscan/internal/pipeline"
	"factorscan/pkg/model"
)

// Config represents the application configuration
type Config struct {
	API      APIConfig      `yaml:"api"`
	Scanner  ScannerConfig  `yaml:"scanner"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Factors  factor.Config  `yaml:"factors"`
	Pattern  pattern.Config `yaml:"pattern"`
	Store    StoreConfig    `yaml:"store"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// APIConfig holds API provider configurations. Yahoo needs no key and is
// tried last.
type APIConfig struct {
	Finnhub      ProviderConfig `yaml:"finnhub"`
	AlphaVantage ProviderConfig `yaml:"alphavantage"`
	Yahoo        ProviderConfig `yaml:"yahoo"`
}

// ProviderConfig holds individual provider settings
type ProviderConfig struct {
	Key       string `yaml:"key"`
	RateLimit int    `yaml:"rate_limit"` // requests per minute
}

// ScannerConfig holds download settings
type ScannerConfig struct {
	Workers    int           `yaml:"workers"`
	Attempts   int           `yaml:"attempts"`
	RetryDelay time.Duration `yaml:"retry_delay"` // first backoff between attempts, doubled each retry
	Timeout    time.Duration `yaml:"timeout"`
	History    int           `yaml:"history_days"` // calendar days fetched before the evaluation date
}

// PipelineConfig holds scoring run settings
type PipelineConfig struct {
	Benchmark      string             `yaml:"benchmark"`
	Cadence        model.Cadence      `yaml:"cadence"`
	Workers        int                `yaml:"workers"`
	Lookback       int                `yaml:"lookback"`
	ForwardPeriods int                `yaml:"forward_periods"`
	LongThreshold  float64            `yaml:"long_threshold"`
	ShortThreshold float64            `yaml:"short_threshold"`
	Weights        map[string]float64 `yaml:"weights"`
}

// StoreConfig locates the result database and the bar archive
type StoreConfig struct {
	Path    string `yaml:"path"`    // SQLite file, empty = no persistence
	Archive string `yaml:"archive"` // CSV or msgpack bar archive
}

// ScheduleConfig holds the cron expressions for unattended runs
type ScheduleConfig struct {
	Daily    string `yaml:"daily"`
	Weekly   string `yaml:"weekly"`
	Timezone string `yaml:"timezone"`
	Universe string `yaml:"universe"`
}

// ServerConfig holds the results API settings
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	pc := pipeline.DefaultConfig()
	weights := make(map[string]float64, len(pc.Weights))
	for k, v := range pc.Weights {
		weights[string(k)] = v
	}

	return &Config{
		API: APIConfig{
			Finnhub: ProviderConfig{
				Key:       os.Getenv("FINNHUB_API_KEY"),
				RateLimit: 60,
			},
			AlphaVantage: ProviderConfig{
				Key:       os.Getenv("ALPHAVANTAGE_API_KEY"),
				RateLimit: 5,
			},
			Yahoo: ProviderConfig{
				RateLimit: 30,
			},
		},
		Scanner: ScannerConfig{
			Workers:    4,
			Attempts:   3,
			RetryDelay: 500 * time.Millisecond,
			Timeout:    30 * time.Second,
			History:    180,
		},
		Pipeline: PipelineConfig{
			Benchmark:      pc.Benchmark,
			Cadence:        pc.Cadence,
			Workers:        pc.Workers,
			Lookback:       pc.Lookback,
			ForwardPeriods: pc.ForwardPeriods,
			LongThreshold:  pc.LongThreshold,
			ShortThreshold: pc.ShortThreshold,
			Weights:        weights,
		},
		Factors: pc.Factors,
		Pattern: pc.Pattern,
		Store: StoreConfig{
			Path:    "data/factorscan.db",
			Archive: "data/daily.csv",
		},
		Schedule: ScheduleConfig{
			Daily:    "30 17 * * 1-5",
			Weekly:   "0 18 * * 5",
			Timezone: "America/New_York",
			Universe: "nasdaq100",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

// Load reads a YAML file over the defaults. A missing file means defaults.
// A .env file next to the working directory is loaded first; variables
// already set in the environment win over it.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := Parse(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg and applies the environment overrides
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	if key := os.Getenv("FINNHUB_API_KEY"); key != "" {
		cfg.API.Finnhub.Key = key
	}
	if key := os.Getenv("ALPHAVANTAGE_API_KEY"); key != "" {
		cfg.API.AlphaVantage.Key = key
	}
	if v := os.Getenv("FACTORSCAN_DB"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("FACTORSCAN_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	return nil
}

// ScoringConfig assembles the pipeline configuration
func (c *Config) ScoringConfig() pipeline.Config {
	weights := make(map[model.FactorName]float64, len(c.Pipeline.Weights))
	for k, v := range c.Pipeline.Weights {
		weights[model.FactorName(k)] = v
	}
	return pipeline.Config{
		Benchmark:      strings.ToUpper(c.Pipeline.Benchmark),
		Cadence:        c.Pipeline.Cadence,
		Workers:        c.Pipeline.Workers,
		Lookback:       c.Pipeline.Lookback,
		ForwardPeriods: c.Pipeline.ForwardPeriods,
		LongThreshold:  c.Pipeline.LongThreshold,
		ShortThreshold: c.Pipeline.ShortThreshold,
		Weights:        weights,
		Factors:        c.Factors,
		Pattern:        c.Pattern,
	}
}

// Location returns the schedule timezone
func (c *Config) Location() (*time.Location, error) {
	if c.Schedule.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Schedule.Timezone)
}

// Validate checks if the configuration is valid. Provider keys are optional
// because Yahoo needs none.
func (c *Config) Validate() error {
	if c.Scanner.Workers < 1 {
		return fmt.Errorf("scanner: workers must be at least 1")
	}
	if c.Scanner.Attempts < 1 {
		return fmt.Errorf("scanner: attempts must be at least 1")
	}
	if c.Scanner.RetryDelay < 0 {
		return fmt.Errorf("scanner: retry_delay must not be negative")
	}
	for name := range c.Pipeline.Weights {
		if !knownFactor(model.FactorName(name)) {
			return fmt.Errorf("pipeline: unknown factor %q in weights", name)
		}
	}
	if err := c.ScoringConfig().Validate(); err != nil {
		return err
	}
	if need := c.Pattern.TrendSlow; c.Pattern.MinBars < need {
		return fmt.Errorf("pattern: min_bars %d is shorter than the slow trend EMA %d", c.Pattern.MinBars, need)
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for name, spec := range map[string]string{"daily": c.Schedule.Daily, "weekly": c.Schedule.Weekly} {
		if spec == "" {
			continue
		}
		if _, err := parser.Parse(spec); err != nil {
			return fmt.Errorf("schedule: %s: %w", name, err)
		}
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}

func knownFactor(name model.FactorName) bool {
	for _, f := range model.Factors {
		if f == name {
			return true
		}
	}
	return false
}
