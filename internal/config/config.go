// Package config holds every tunable of the engine, loaded from an optional
// guideflow.yaml plus GUIDEFLOW_* environment overrides via viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SecretsStrategy selects how form-field labels are bound to secret keys.
type SecretsStrategy string

const (
	// StrategyHybrid uses the LLM resolver with heuristic post-filters.
	StrategyHybrid SecretsStrategy = "hybrid"
	// StrategyHeuristic disables LLM calls and maps by substring rules only.
	StrategyHeuristic SecretsStrategy = "heuristic"
)

// LLMConfig configures the model client used by planner and resolvers.
type LLMConfig struct {
	Provider   string `mapstructure:"provider"`
	Model      string `mapstructure:"model"`
	APIKey     string `mapstructure:"apiKey"`
	BaseURL    string `mapstructure:"baseUrl"`
	TimeoutSec int    `mapstructure:"timeoutSec"`
	MaxRetries int    `mapstructure:"maxRetries"`
}

// Config is the full engine configuration.
type Config struct {
	StorageRoot string `mapstructure:"storageRoot"`
	AccountID   string `mapstructure:"accountId"`
	WorkspaceID string `mapstructure:"workspaceId"`

	MaxStepsPerSession  int `mapstructure:"maxStepsPerSession"`
	LoopDetectionWindow int `mapstructure:"loopDetectionWindow"`
	MaxRefinesPerStep   int `mapstructure:"maxRefinesPerStep"`

	DomQuiescenceQuietMs int `mapstructure:"domQuiescenceQuietMs"`
	DomQuiescenceCapMs   int `mapstructure:"domQuiescenceCapMs"`
	PageLoadTimeoutMs    int `mapstructure:"pageLoadTimeoutMs"`
	StepTimeoutSec       int `mapstructure:"stepTimeoutSec"`
	IterationPauseMs     int `mapstructure:"iterationPauseMs"`

	EventBufferSize  int `mapstructure:"eventBufferSize"`
	LogWaitTimeoutMs int `mapstructure:"logWaitTimeoutMs"`

	ImageMaxWidth  int `mapstructure:"imageMaxWidth"`
	ImageMaxHeight int `mapstructure:"imageMaxHeight"`
	ImageQuality   int `mapstructure:"imageQuality"`

	SecretsStrategy SecretsStrategy `mapstructure:"secretsStrategy"`
	Language        string          `mapstructure:"language"`

	LLM LLMConfig `mapstructure:"llm"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		StorageRoot:          filepath.Join(home, ".guideflow", "storage"),
		AccountID:            "default",
		WorkspaceID:          "default",
		MaxStepsPerSession:   30,
		LoopDetectionWindow:  6,
		MaxRefinesPerStep:    2,
		DomQuiescenceQuietMs: 350,
		DomQuiescenceCapMs:   1200,
		PageLoadTimeoutMs:    30000,
		StepTimeoutSec:       60,
		IterationPauseMs:     1000,
		EventBufferSize:      1024,
		LogWaitTimeoutMs:     10000,
		ImageMaxWidth:        800,
		ImageMaxHeight:       600,
		ImageQuality:         80,
		SecretsStrategy:      StrategyHybrid,
		Language:             "en",
		LLM: LLMConfig{
			Provider:   "openai",
			Model:      "gpt-4o",
			TimeoutSec: 120,
			MaxRetries: 2,
		},
	}
}

// Load reads guideflow.yaml (searched in cwd and ~/.guideflow) merged over the
// defaults. Environment variables use the GUIDEFLOW_ prefix with underscores,
// e.g. GUIDEFLOW_MAXSTEPSPERSESSION=50.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigName("guideflow")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".guideflow"))
	}
	v.SetEnvPrefix("GUIDEFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := DefaultConfig()
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg.withDefaults(), nil
}

// withDefaults backfills zero values so a sparse config file cannot disable
// bounds the engine relies on.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.StorageRoot == "" {
		c.StorageRoot = d.StorageRoot
	}
	if c.AccountID == "" {
		c.AccountID = d.AccountID
	}
	if c.WorkspaceID == "" {
		c.WorkspaceID = d.WorkspaceID
	}
	if c.MaxStepsPerSession <= 0 {
		c.MaxStepsPerSession = d.MaxStepsPerSession
	}
	if c.LoopDetectionWindow <= 0 {
		c.LoopDetectionWindow = d.LoopDetectionWindow
	}
	if c.MaxRefinesPerStep < 0 {
		c.MaxRefinesPerStep = d.MaxRefinesPerStep
	}
	if c.DomQuiescenceQuietMs <= 0 {
		c.DomQuiescenceQuietMs = d.DomQuiescenceQuietMs
	}
	if c.DomQuiescenceCapMs <= 0 {
		c.DomQuiescenceCapMs = d.DomQuiescenceCapMs
	}
	if c.PageLoadTimeoutMs <= 0 {
		c.PageLoadTimeoutMs = d.PageLoadTimeoutMs
	}
	if c.StepTimeoutSec <= 0 {
		c.StepTimeoutSec = d.StepTimeoutSec
	}
	if c.IterationPauseMs <= 0 {
		c.IterationPauseMs = d.IterationPauseMs
	}
	if c.EventBufferSize <= 0 {
		c.EventBufferSize = d.EventBufferSize
	}
	if c.LogWaitTimeoutMs <= 0 {
		c.LogWaitTimeoutMs = d.LogWaitTimeoutMs
	}
	if c.ImageMaxWidth <= 0 {
		c.ImageMaxWidth = d.ImageMaxWidth
	}
	if c.ImageMaxHeight <= 0 {
		c.ImageMaxHeight = d.ImageMaxHeight
	}
	if c.ImageQuality <= 0 || c.ImageQuality > 100 {
		c.ImageQuality = d.ImageQuality
	}
	if c.SecretsStrategy != StrategyHeuristic {
		c.SecretsStrategy = StrategyHybrid
	}
	if c.Language == "" {
		c.Language = d.Language
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = d.LLM.Provider
	}
	if c.LLM.Model == "" {
		c.LLM.Model = d.LLM.Model
	}
	if c.LLM.TimeoutSec <= 0 {
		c.LLM.TimeoutSec = d.LLM.TimeoutSec
	}
	return c
}

// StepTimeout returns the per-step timeout as a duration.
func (c Config) StepTimeout() time.Duration {
	return time.Duration(c.StepTimeoutSec) * time.Second
}

// IterationPause returns the cooperative pause between loop iterations.
func (c Config) IterationPause() time.Duration {
	return time.Duration(c.IterationPauseMs) * time.Millisecond
}

// LogWaitTimeout bounds how long a tailer waits for events.ndjson to appear.
func (c Config) LogWaitTimeout() time.Duration {
	return time.Duration(c.LogWaitTimeoutMs) * time.Millisecond
}
