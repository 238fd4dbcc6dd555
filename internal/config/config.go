// Package config handles configuration loading and management for procflow.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/procflow-ai/procflow/internal/ratelimit"
)

// Config holds all configuration for procflow.
type Config struct {
	Anthropic   AnthropicConfig   `mapstructure:"anthropic"`
	Generation  GenerationConfig  `mapstructure:"generation"`
	Limits      LimitsConfig      `mapstructure:"limits"`
	Elaboration ElaborationConfig `mapstructure:"elaboration"`
	Cache       CacheConfig       `mapstructure:"cache"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// GenerationConfig holds model selection for the two call roles.
type GenerationConfig struct {
	// DecompositionModel is used for the single decomposition call. Empty
	// selects the client default.
	DecompositionModel string `mapstructure:"decomposition_model"`
	// ElaborationModel is used for per-node elaboration calls.
	ElaborationModel string `mapstructure:"elaboration_model"`
	// MaxTopLevelProcesses caps how many top-level processes a decomposition
	// may produce. 0 means no cap.
	MaxTopLevelProcesses int `mapstructure:"max_top_level_processes"`
}

// RoleLimitConfig holds the rate budget for one call role.
type RoleLimitConfig struct {
	CallsPerWindow int           `mapstructure:"calls_per_window"`
	Window         time.Duration `mapstructure:"window"`
	MaxInFlight    int           `mapstructure:"max_in_flight"`
	MaxHold        time.Duration `mapstructure:"max_hold"`
}

// Budget converts the config section into a limiter budget.
func (r RoleLimitConfig) Budget() ratelimit.Budget {
	return ratelimit.Budget{
		CallsPerWindow: r.CallsPerWindow,
		Window:         r.Window,
		MaxInFlight:    r.MaxInFlight,
		MaxHold:        r.MaxHold,
	}
}

// LimitsConfig holds per-role rate budgets.
type LimitsConfig struct {
	Decomposition RoleLimitConfig `mapstructure:"decomposition"`
	Elaboration   RoleLimitConfig `mapstructure:"elaboration"`
}

// ElaborationConfig holds scheduler tuning.
type ElaborationConfig struct {
	Concurrency     int           `mapstructure:"concurrency"`
	MaxRetries      int           `mapstructure:"max_retries"`
	DependencyAware bool          `mapstructure:"dependency_aware"`
	BackoffBase     time.Duration `mapstructure:"backoff_base"`
	BackoffCap      time.Duration `mapstructure:"backoff_cap"`
}

// CacheConfig holds elaboration cache settings.
type CacheConfig struct {
	// Path overrides the default cache database location.
	Path string `mapstructure:"path"`
	// Persistent selects the on-disk store; false keeps the cache in memory
	// for the duration of a run.
	Persistent bool `mapstructure:"persistent"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY)
// 2. Project config (.procflow.yaml in current directory or parent)
// 3. User config (~/.config/procflow/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Project config takes precedence over the user config.
	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("anthropic.aws_region", "AWS_REGION")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references left in the key field.
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.use_bedrock", cfg.Anthropic.UseBedrock)
	v.Set("anthropic.aws_region", cfg.Anthropic.AWSRegion)
	v.Set("anthropic.aws_profile", cfg.Anthropic.AWSProfile)
	v.Set("generation.decomposition_model", cfg.Generation.DecompositionModel)
	v.Set("generation.elaboration_model", cfg.Generation.ElaborationModel)
	v.Set("generation.max_top_level_processes", cfg.Generation.MaxTopLevelProcesses)
	v.Set("limits.decomposition.calls_per_window", cfg.Limits.Decomposition.CallsPerWindow)
	v.Set("limits.decomposition.window", cfg.Limits.Decomposition.Window.String())
	v.Set("limits.decomposition.max_in_flight", cfg.Limits.Decomposition.MaxInFlight)
	v.Set("limits.decomposition.max_hold", cfg.Limits.Decomposition.MaxHold.String())
	v.Set("limits.elaboration.calls_per_window", cfg.Limits.Elaboration.CallsPerWindow)
	v.Set("limits.elaboration.window", cfg.Limits.Elaboration.Window.String())
	v.Set("limits.elaboration.max_in_flight", cfg.Limits.Elaboration.MaxInFlight)
	v.Set("limits.elaboration.max_hold", cfg.Limits.Elaboration.MaxHold.String())
	v.Set("elaboration.concurrency", cfg.Elaboration.Concurrency)
	v.Set("elaboration.max_retries", cfg.Elaboration.MaxRetries)
	v.Set("elaboration.dependency_aware", cfg.Elaboration.DependencyAware)
	v.Set("elaboration.backoff_base", cfg.Elaboration.BackoffBase.String())
	v.Set("elaboration.backoff_cap", cfg.Elaboration.BackoffCap.String())
	v.Set("cache.path", cfg.Cache.Path)
	v.Set("cache.persistent", cfg.Cache.Persistent)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.use_bedrock", false)
	v.SetDefault("anthropic.aws_region", "")
	v.SetDefault("anthropic.aws_profile", "")

	v.SetDefault("generation.decomposition_model", "")
	v.SetDefault("generation.elaboration_model", "")
	v.SetDefault("generation.max_top_level_processes", 8)

	v.SetDefault("limits.decomposition.calls_per_window", 15)
	v.SetDefault("limits.decomposition.window", "1m")
	v.SetDefault("limits.decomposition.max_in_flight", 2)
	v.SetDefault("limits.decomposition.max_hold", "5m")

	v.SetDefault("limits.elaboration.calls_per_window", 15)
	v.SetDefault("limits.elaboration.window", "1m")
	v.SetDefault("limits.elaboration.max_in_flight", 4)
	v.SetDefault("limits.elaboration.max_hold", "5m")

	v.SetDefault("elaboration.concurrency", 4)
	v.SetDefault("elaboration.max_retries", 3)
	v.SetDefault("elaboration.dependency_aware", true)
	v.SetDefault("elaboration.backoff_base", "500ms")
	v.SetDefault("elaboration.backoff_cap", "30s")

	v.SetDefault("cache.path", "")
	v.SetDefault("cache.persistent", true)
}

// getUserConfigDir returns the XDG config directory for procflow.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "procflow")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "procflow")
	}
	return filepath.Join(home, ".config", "procflow")
}

// findProjectConfig searches for .procflow.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".procflow.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Generation: GenerationConfig{
			MaxTopLevelProcesses: 8,
		},
		Limits: LimitsConfig{
			Decomposition: RoleLimitConfig{
				CallsPerWindow: 15,
				Window:         time.Minute,
				MaxInFlight:    2,
				MaxHold:        5 * time.Minute,
			},
			Elaboration: RoleLimitConfig{
				CallsPerWindow: 15,
				Window:         time.Minute,
				MaxInFlight:    4,
				MaxHold:        5 * time.Minute,
			},
		},
		Elaboration: ElaborationConfig{
			Concurrency:     4,
			MaxRetries:      3,
			DependencyAware: true,
			BackoffBase:     500 * time.Millisecond,
			BackoffCap:      30 * time.Second,
		},
		Cache: CacheConfig{
			Persistent: true,
		},
	}
}
