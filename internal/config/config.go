package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		Port int    `yaml:"port"`
		Host string `yaml:"host"`
	} `yaml:"server"`

	API struct {
		Keys               []string `yaml:"keys"`
		RateLimitPerSecond int      `yaml:"rate_limit_per_second"`
	} `yaml:"api"`

	Workers struct {
		Count                    int `yaml:"count"`
		MaxRetries               int `yaml:"max_retries"`
		TranscribeTimeoutMinutes int `yaml:"transcribe_timeout_minutes"`
	} `yaml:"workers"`

	Storage struct {
		UploadDir string `yaml:"upload_dir"`
		Database  string `yaml:"database"`
		QueueFile string `yaml:"queue_file"`
	} `yaml:"storage"`

	Whisper struct {
		Model    string `yaml:"model"`
		Language string `yaml:"language"`
	} `yaml:"whisper"`

	Gemini struct {
		Model  string `yaml:"model"`
		APIKey string `yaml:"api_key"`
	} `yaml:"gemini"`

	Cache struct {
		TTLSeconds int `yaml:"ttl_seconds"`
	} `yaml:"cache"`

	Cleanup struct {
		IntervalMinutes int `yaml:"interval_minutes"`
		MaxAgeHours     int `yaml:"max_age_hours"`
	} `yaml:"cleanup"`

	Limits struct {
		MaxFileSizeMB int `yaml:"max_file_size_mb"`
	} `yaml:"limits"`
}

// Load reads and validates configuration from a YAML file.
func Load(path string) (*Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(file, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// GEMINI_API_KEY overrides the file so the key can stay out of version control.
	if k := os.Getenv("GEMINI_API_KEY"); k != "" {
		cfg.Gemini.APIKey = k
	}

	return &cfg, nil
}

// Validate checks required fields and fills defaults.
func (c *Config) Validate() error {
	if c.Storage.Database == "" {
		return fmt.Errorf("storage.database is required")
	}
	if c.Storage.QueueFile == "" {
		return fmt.Errorf("storage.queue_file is required")
	}
	if len(c.API.Keys) == 0 {
		return fmt.Errorf("api.keys must contain at least one key")
	}

	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Storage.UploadDir == "" {
		c.Storage.UploadDir = "data/uploads"
	}
	if c.Workers.Count == 0 {
		c.Workers.Count = 2
	}
	if c.Workers.MaxRetries == 0 {
		c.Workers.MaxRetries = 3
	}
	if c.Workers.TranscribeTimeoutMinutes == 0 {
		c.Workers.TranscribeTimeoutMinutes = 15
	}
	if c.Whisper.Model == "" {
		c.Whisper.Model = "base"
	}
	if c.Gemini.Model == "" {
		c.Gemini.Model = "gemini-2.5-flash"
	}
	if c.Cache.TTLSeconds == 0 {
		c.Cache.TTLSeconds = 60
	}
	if c.Cleanup.IntervalMinutes == 0 {
		c.Cleanup.IntervalMinutes = 60
	}
	if c.Cleanup.MaxAgeHours == 0 {
		c.Cleanup.MaxAgeHours = 24
	}
	if c.Limits.MaxFileSizeMB == 0 {
		c.Limits.MaxFileSizeMB = 200
	}

	return nil
}
