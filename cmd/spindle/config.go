package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the spindle configuration file (~/.config/spindle/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type Config struct {
	ModelPath string `yaml:"model_path"`
	ModelName string `yaml:"model_name"`

	// Sampling defaults
	MaxTokens     *int     `yaml:"max_tokens"`
	Temperature   *float64 `yaml:"temperature"`
	TopK          *int     `yaml:"top_k"`
	TopP          *float64 `yaml:"top_p"`
	MinP          *float64 `yaml:"min_p"`
	RepeatPenalty *float64 `yaml:"repeat_penalty"`
	RepeatLastN   *int     `yaml:"repeat_last_n"`
	Seed          *int64   `yaml:"seed"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	Telemetry *bool  `yaml:"telemetry"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "spindle", "config.yaml")
}

// applyCommonConfig applies config file defaults for the model, logging and
// telemetry flags when they were not set on the command line.
func applyCommonConfig(c *cli.Command, cfg Config) {
	if cfg.ModelPath != "" && !c.IsSet("model-path") {
		modelPath = cfg.ModelPath
	}
	if cfg.ModelName != "" && !c.IsSet("model-name") {
		modelName = cfg.ModelName
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
	if cfg.Telemetry != nil && !c.IsSet("telemetry") {
		telemetryEnabled = *cfg.Telemetry
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

// LoadConfig reads the config file. Returns a zero Config if the file doesn't exist.
func LoadConfig() Config {
	cfg, err := readConfig(configPath())
	if err != nil {
		return Config{}
	}
	return cfg
}

func readConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, os.ErrNotExist
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
