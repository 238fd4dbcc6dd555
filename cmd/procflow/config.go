package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/procflow-ai/procflow/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify procflow configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/procflow/config.yaml
Project-specific overrides can be placed in .procflow.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	fmt.Printf("anthropic.api_key: %s\n", config.MaskAPIKey(cfg.Anthropic.APIKey))
	fmt.Printf("anthropic.use_bedrock: %t\n", cfg.Anthropic.UseBedrock)
	fmt.Printf("anthropic.aws_region: %s\n", cfg.Anthropic.AWSRegion)
	fmt.Printf("anthropic.aws_profile: %s\n", cfg.Anthropic.AWSProfile)
	fmt.Printf("generation.decomposition_model: %s\n", cfg.Generation.DecompositionModel)
	fmt.Printf("generation.elaboration_model: %s\n", cfg.Generation.ElaborationModel)
	fmt.Printf("generation.max_top_level_processes: %d\n", cfg.Generation.MaxTopLevelProcesses)
	fmt.Printf("limits.decomposition.calls_per_window: %d\n", cfg.Limits.Decomposition.CallsPerWindow)
	fmt.Printf("limits.decomposition.window: %s\n", cfg.Limits.Decomposition.Window)
	fmt.Printf("limits.elaboration.calls_per_window: %d\n", cfg.Limits.Elaboration.CallsPerWindow)
	fmt.Printf("limits.elaboration.window: %s\n", cfg.Limits.Elaboration.Window)
	fmt.Printf("limits.elaboration.max_in_flight: %d\n", cfg.Limits.Elaboration.MaxInFlight)
	fmt.Printf("elaboration.concurrency: %d\n", cfg.Elaboration.Concurrency)
	fmt.Printf("elaboration.max_retries: %d\n", cfg.Elaboration.MaxRetries)
	fmt.Printf("elaboration.dependency_aware: %t\n", cfg.Elaboration.DependencyAware)
	fmt.Printf("elaboration.backoff_base: %s\n", cfg.Elaboration.BackoffBase)
	fmt.Printf("elaboration.backoff_cap: %s\n", cfg.Elaboration.BackoffCap)
	fmt.Printf("cache.path: %s\n", cfg.Cache.Path)
	fmt.Printf("cache.persistent: %t\n", cfg.Cache.Persistent)
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) {
	if err := setConfigValue(cfg, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Set %s = %s\n", key, value)
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		return config.MaskAPIKey(cfg.Anthropic.APIKey), nil
	case "anthropic.use_bedrock":
		return strconv.FormatBool(cfg.Anthropic.UseBedrock), nil
	case "anthropic.aws_region":
		return cfg.Anthropic.AWSRegion, nil
	case "anthropic.aws_profile":
		return cfg.Anthropic.AWSProfile, nil
	case "generation.decomposition_model":
		return cfg.Generation.DecompositionModel, nil
	case "generation.elaboration_model":
		return cfg.Generation.ElaborationModel, nil
	case "generation.max_top_level_processes":
		return strconv.Itoa(cfg.Generation.MaxTopLevelProcesses), nil
	case "limits.decomposition.calls_per_window":
		return strconv.Itoa(cfg.Limits.Decomposition.CallsPerWindow), nil
	case "limits.decomposition.window":
		return cfg.Limits.Decomposition.Window.String(), nil
	case "limits.elaboration.calls_per_window":
		return strconv.Itoa(cfg.Limits.Elaboration.CallsPerWindow), nil
	case "limits.elaboration.window":
		return cfg.Limits.Elaboration.Window.String(), nil
	case "limits.elaboration.max_in_flight":
		return strconv.Itoa(cfg.Limits.Elaboration.MaxInFlight), nil
	case "elaboration.concurrency":
		return strconv.Itoa(cfg.Elaboration.Concurrency), nil
	case "elaboration.max_retries":
		return strconv.Itoa(cfg.Elaboration.MaxRetries), nil
	case "elaboration.dependency_aware":
		return strconv.FormatBool(cfg.Elaboration.DependencyAware), nil
	case "elaboration.backoff_base":
		return cfg.Elaboration.BackoffBase.String(), nil
	case "elaboration.backoff_cap":
		return cfg.Elaboration.BackoffCap.String(), nil
	case "cache.path":
		return cfg.Cache.Path, nil
	case "cache.persistent":
		return strconv.FormatBool(cfg.Cache.Persistent), nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		cfg.Anthropic.APIKey = value
	case "anthropic.use_bedrock":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for use_bedrock: %w", err)
		}
		cfg.Anthropic.UseBedrock = b
	case "anthropic.aws_region":
		cfg.Anthropic.AWSRegion = value
	case "anthropic.aws_profile":
		cfg.Anthropic.AWSProfile = value
	case "generation.decomposition_model":
		cfg.Generation.DecompositionModel = value
	case "generation.elaboration_model":
		cfg.Generation.ElaborationModel = value
	case "generation.max_top_level_processes":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for max_top_level_processes: %w", err)
		}
		cfg.Generation.MaxTopLevelProcesses = n
	case "limits.decomposition.calls_per_window":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for calls_per_window: %w", err)
		}
		cfg.Limits.Decomposition.CallsPerWindow = n
	case "limits.decomposition.window":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for window: %w", err)
		}
		cfg.Limits.Decomposition.Window = d
	case "limits.elaboration.calls_per_window":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for calls_per_window: %w", err)
		}
		cfg.Limits.Elaboration.CallsPerWindow = n
	case "limits.elaboration.window":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for window: %w", err)
		}
		cfg.Limits.Elaboration.Window = d
	case "limits.elaboration.max_in_flight":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for max_in_flight: %w", err)
		}
		cfg.Limits.Elaboration.MaxInFlight = n
	case "elaboration.concurrency":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for concurrency: %w", err)
		}
		cfg.Elaboration.Concurrency = n
	case "elaboration.max_retries":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for max_retries: %w", err)
		}
		cfg.Elaboration.MaxRetries = n
	case "elaboration.dependency_aware":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for dependency_aware: %w", err)
		}
		cfg.Elaboration.DependencyAware = b
	case "elaboration.backoff_base":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for backoff_base: %w", err)
		}
		cfg.Elaboration.BackoffBase = d
	case "elaboration.backoff_cap":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for backoff_cap: %w", err)
		}
		cfg.Elaboration.BackoffCap = d
	case "cache.path":
		cfg.Cache.Path = value
	case "cache.persistent":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for cache.persistent: %w", err)
		}
		cfg.Cache.Persistent = b
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}
