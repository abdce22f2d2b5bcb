// Package config handles configuration loading for overseer. It supports
// XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Budget    BudgetConfig    `mapstructure:"budget"`
	Timeouts  TimeoutsConfig  `mapstructure:"timeouts"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Tools     ToolsConfig     `mapstructure:"tools"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// BudgetConfig holds organization spend limits.
type BudgetConfig struct {
	// DailyCents is the organization-wide daily budget in cents.
	DailyCents float64 `mapstructure:"daily_cents"`
}

// TimeoutsConfig holds the long-operation bounds.
type TimeoutsConfig struct {
	// Brain bounds one reasoning invocation.
	Brain time.Duration `mapstructure:"brain"`
	// Tool bounds one quality-tool subprocess.
	Tool time.Duration `mapstructure:"tool"`
}

// SchedulerConfig holds the cycle scheduler settings.
type SchedulerConfig struct {
	// TickInterval is how often each agent gets a cycle.
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// ToolsConfig names the external quality tool invocations.
type ToolsConfig struct {
	Lint      []string `mapstructure:"lint"`
	Typecheck []string `mapstructure:"typecheck"`
	Test      []string `mapstructure:"test"`
}

// Load loads configuration with this precedence, highest first:
// environment variables (ANTHROPIC_API_KEY, OVERSEER_*), the project config
// (.overseer.yaml in the current directory or a parent), the user config
// (~/.config/overseer/config.yaml), then built-in defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir())
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		pv := viper.New()
		pv.SetConfigFile(projectConfig)
		if err := pv.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(pv.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("OVERSEER")
	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file (for testing).
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

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Anthropic: AnthropicConfig{Model: "sonnet"},
		Budget:    BudgetConfig{DailyCents: 10000},
		Timeouts: TimeoutsConfig{
			Brain: 10 * time.Minute,
			Tool:  5 * time.Minute,
		},
		Scheduler: SchedulerConfig{TickInterval: 15 * time.Second},
		Tools: ToolsConfig{
			Lint:      []string{"npx", "eslint", "--format", "json"},
			Typecheck: []string{"npx", "tsc", "--noEmit"},
			Test:      []string{"npx", "vitest", "run"},
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", d.Anthropic.Model)
	v.SetDefault("budget.daily_cents", d.Budget.DailyCents)
	v.SetDefault("timeouts.brain", d.Timeouts.Brain.String())
	v.SetDefault("timeouts.tool", d.Timeouts.Tool.String())
	v.SetDefault("scheduler.tick_interval", d.Scheduler.TickInterval.String())
	v.SetDefault("tools.lint", d.Tools.Lint)
	v.SetDefault("tools.typecheck", d.Tools.Typecheck)
	v.SetDefault("tools.test", d.Tools.Test)
}

// UserConfigPath returns the path to the user config file.
func UserConfigPath() string {
	return filepath.Join(userConfigDir(), "config.yaml")
}

func userConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "overseer")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "overseer")
	}
	return filepath.Join(home, ".config", "overseer")
}

// findProjectConfig searches for .overseer.yaml in the current directory and
// its parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		configPath := filepath.Join(cwd, ".overseer.yaml")
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
