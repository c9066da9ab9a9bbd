// Package config loads process-wide rtbus configuration from environment
// variables (optionally backed by a .env file for local development),
// mirroring the teacher's WS_-prefixed layered config under an
// RTBUS_-prefixed one.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds every environment-tunable knob a rtbusd process needs.
type Config struct {
	NumWorkers     int    `env:"RTBUS_NUM_WORKERS" envDefault:"4"`
	SchedPolicy    string `env:"RTBUS_SCHED_POLICY" envDefault:"classic"` // classic|choreography|capacity
	StackSizeKB    int    `env:"RTBUS_STACK_SIZE_KB" envDefault:"64"`     // loaded from the environment; no component reads it

	ChannelDefaultDepth int    `env:"RTBUS_CHANNEL_DEFAULT_DEPTH" envDefault:"16"`
	ShmMode             string `env:"RTBUS_SHM_MODE" envDefault:"shared"` // shared|local

	LogLevel  string `env:"RTBUS_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"RTBUS_LOG_FORMAT" envDefault:"json"`

	MetricsAddr string `env:"RTBUS_METRICS_ADDR" envDefault:":9102"`

	CPURejectThreshold float64 `env:"RTBUS_CPU_REJECT_THRESHOLD" envDefault:"75.0"`
	CPUPauseThreshold  float64 `env:"RTBUS_CPU_PAUSE_THRESHOLD" envDefault:"80.0"`

	AdmitPerSecond float64 `env:"RTBUS_ADMIT_PER_SECOND" envDefault:"10000"`

	HealthSampleInterval time.Duration `env:"RTBUS_HEALTH_SAMPLE_INTERVAL" envDefault:"1s"`
}

// Load reads .env (if present) then environment variables into a Config,
// applying defaults and validating the result. Precedence: real
// environment variables over .env file contents over struct defaults —
// godotenv.Load never overwrites a variable already set in the
// environment.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("rtbus: parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("rtbus: invalid config: %w", err)
	}
	return cfg, nil
}

// Validate rejects out-of-range or unknown enum values before they reach
// the scheduler/shm layers, where they'd otherwise surface as a confusing
// failure far from the misconfiguration.
func (c *Config) Validate() error {
	if c.NumWorkers < 1 {
		return fmt.Errorf("RTBUS_NUM_WORKERS must be > 0, got %d", c.NumWorkers)
	}
	validPolicies := map[string]bool{"classic": true, "choreography": true, "capacity": true}
	if !validPolicies[c.SchedPolicy] {
		return fmt.Errorf("RTBUS_SCHED_POLICY must be one of classic|choreography|capacity, got %q", c.SchedPolicy)
	}
	if c.ChannelDefaultDepth < 1 {
		return fmt.Errorf("RTBUS_CHANNEL_DEFAULT_DEPTH must be > 0, got %d", c.ChannelDefaultDepth)
	}
	validModes := map[string]bool{"shared": true, "local": true}
	if !validModes[c.ShmMode] {
		return fmt.Errorf("RTBUS_SHM_MODE must be shared|local, got %q", c.ShmMode)
	}
	if c.CPURejectThreshold < 0 || c.CPURejectThreshold > 100 {
		return fmt.Errorf("RTBUS_CPU_REJECT_THRESHOLD must be 0-100, got %.1f", c.CPURejectThreshold)
	}
	if c.CPUPauseThreshold < 0 || c.CPUPauseThreshold > 100 {
		return fmt.Errorf("RTBUS_CPU_PAUSE_THRESHOLD must be 0-100, got %.1f", c.CPUPauseThreshold)
	}
	if c.CPUPauseThreshold < c.CPURejectThreshold {
		return fmt.Errorf("RTBUS_CPU_PAUSE_THRESHOLD (%.1f) must be >= RTBUS_CPU_REJECT_THRESHOLD (%.1f)",
			c.CPUPauseThreshold, c.CPURejectThreshold)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("RTBUS_LOG_LEVEL must be one of debug|info|warn|error, got %q", c.LogLevel)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("RTBUS_LOG_FORMAT must be json|console, got %q", c.LogFormat)
	}
	return nil
}
