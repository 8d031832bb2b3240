package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factorscan/pkg/model"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	pc := cfg.ScoringConfig()
	assert.Equal(t, "SPY", pc.Benchmark)
	assert.Equal(t, model.Daily, pc.Cadence)
	assert.Equal(t, 1.0, pc.Weights[model.FactorMomentum])
	assert.Equal(t, 60, pc.Lookback)
}

func TestParse_OverridesDefaults(t *testing.T) {
	t.Setenv("FINNHUB_API_KEY", "")
	t.Setenv("ALPHAVANTAGE_API_KEY", "")

	yml := `
scanner:
  workers: 2
  timeout: 10s
  retry_delay: 250ms
pipeline:
  benchmark: qqq
  cadence: weekly
  long_threshold: 65
  weights:
    momentum: 2
factors:
  weak_adx: 12
pattern:
  min_volume: 500000
  dumpling_max_breaks: 1
  dumpling_lead_breaks: 2
schedule:
  daily: "0 18 * * 1-5"
log:
  level: debug
`
	cfg := DefaultConfig()
	require.NoError(t, Parse([]byte(yml), cfg))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 2, cfg.Scanner.Workers)
	assert.Equal(t, 10*time.Second, cfg.Scanner.Timeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Scanner.RetryDelay)
	assert.Equal(t, 3, cfg.Scanner.Attempts, "untouched default")

	pc := cfg.ScoringConfig()
	assert.Equal(t, "QQQ", pc.Benchmark)
	assert.Equal(t, model.Weekly, pc.Cadence)
	assert.Equal(t, 65.0, pc.LongThreshold)
	assert.Equal(t, 2.0, pc.Weights[model.FactorMomentum])
	assert.Equal(t, 1.0, pc.Weights[model.FactorVolatility], "other weights keep their default")
	assert.Equal(t, 12.0, pc.Factors.WeakADX)
	assert.Equal(t, 25.0, pc.Factors.StrongADX)
	assert.Equal(t, int64(500000), pc.Pattern.MinVolume)
	assert.Equal(t, 1, pc.Pattern.DumplingMaxBreaks)
	assert.Equal(t, 2, pc.Pattern.DumplingLeadBreaks)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestParse_EnvironmentWins(t *testing.T) {
	t.Setenv("FINNHUB_API_KEY", "from-env")
	t.Setenv("FACTORSCAN_DB", "/tmp/other.db")

	cfg := DefaultConfig()
	require.NoError(t, Parse([]byte("api:\n  finnhub:\n    key: from-file\n"), cfg))
	assert.Equal(t, "from-env", cfg.API.Finnhub.Key)
	assert.Equal(t, "/tmp/other.db", cfg.Store.Path)
}

func TestParse_Malformed(t *testing.T) {
	err := Parse([]byte("pipeline: [unclosed"), DefaultConfig())
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Pipeline.Benchmark, cfg.Pipeline.Benchmark)

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9090\"\n"), 0644))
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"no workers", func(c *Config) { c.Scanner.Workers = 0 }},
		{"no attempts", func(c *Config) { c.Scanner.Attempts = 0 }},
		{"negative retry delay", func(c *Config) { c.Scanner.RetryDelay = -time.Second }},
		{"unknown weight", func(c *Config) { c.Pipeline.Weights["value"] = 1 }},
		{"bad cadence", func(c *Config) { c.Pipeline.Cadence = "monthly" }},
		{"short lookback", func(c *Config) { c.Pipeline.Lookback = 10 }},
		{"inverted thresholds", func(c *Config) { c.Pipeline.ShortThreshold = 80 }},
		{"pattern min bars", func(c *Config) { c.Pattern.MinBars = 10 }},
		{"bad cron", func(c *Config) { c.Schedule.Weekly = "every friday" }},
		{"bad timezone", func(c *Config) { c.Schedule.Timezone = "Mars/Olympus" }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
