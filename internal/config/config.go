package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config holds the application configuration
type Config struct {
	Analyzer AnalyzerConfig `json:"analyzer"`
	Export   ExportConfig   `json:"export"`
	State    StateConfig    `json:"state"`
}

// AnalyzerConfig holds the vision backend settings
type AnalyzerConfig struct {
	Backend     string `json:"backend"` // ollama or llamacpp
	URL         string `json:"url"`
	Model       string `json:"model"`
	APIKey      string `json:"api_key"`
	Language    string `json:"language"`
	SendFormat  string `json:"send_format"` // jpg or png
	SendSize    int    `json:"send_size"`   // max long side in px, 0=original
	SendQuality int    `json:"send_quality"`
}

// ExportConfig holds settings for flattened annotation exports
type ExportConfig struct {
	Format   string `json:"format"` // jpg, png or webp
	Quality  int    `json:"quality"`
	Lossless bool   `json:"lossless"`
	OutDir   string `json:"out_dir"`
}

// StateConfig holds settings for persisted viewport state
type StateConfig struct {
	File string `json:"file"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Analyzer: AnalyzerConfig{
			Backend:     "ollama",
			URL:         "http://localhost:11434",
			Model:       "qwen2.5vl",
			Language:    "English",
			SendFormat:  "jpg",
			SendSize:    1536,
			SendQuality: 85,
		},
		Export: ExportConfig{
			Format:  "png",
			Quality: 92,
			OutDir:  "out",
		},
		State: StateConfig{
			File: filepath.Join(stateDir(), "viewstate.json"),
		},
	}
}

// LoadFromFile loads configuration from a JSON file
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Analyzer.Backend {
	case "ollama", "llamacpp":
	default:
		return fmt.Errorf("analyzer.backend must be ollama or llamacpp")
	}

	if c.Analyzer.Model == "" {
		return fmt.Errorf("analyzer.model cannot be empty")
	}

	if c.Analyzer.SendFormat != "jpg" && c.Analyzer.SendFormat != "png" {
		return fmt.Errorf("analyzer.send_format must be jpg or png")
	}

	if c.Analyzer.SendQuality < 1 || c.Analyzer.SendQuality > 100 {
		return fmt.Errorf("analyzer.send_quality must be between 1 and 100")
	}

	if c.Analyzer.SendSize < 0 {
		return fmt.Errorf("analyzer.send_size must not be negative")
	}

	switch c.Export.Format {
	case "jpg", "jpeg", "png", "webp":
	default:
		return fmt.Errorf("export.format must be jpg, png or webp")
	}

	if c.Export.Quality < 1 || c.Export.Quality > 100 {
		return fmt.Errorf("export.quality must be between 1 and 100")
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "uiscope", "config.json")
}

func stateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "state", "uiscope")
}
