// Package config provides application configuration: YAML file with
// defaults pre-filled, then environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/udaybagda/focus-proctoring-system/internal/detector"
	"github.com/udaybagda/focus-proctoring-system/internal/session"
)

type Config struct {
	Server   ServerConfig         `yaml:"server"`
	Storage  StorageConfig        `yaml:"storage"`
	Logging  LoggingConfig        `yaml:"logging"`
	Detector detector.Config      `yaml:"detector"`
	Score    session.ScoreWeights `yaml:"score"`
	Mock     MockConfig           `yaml:"mock"`
}

type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

type LoggingConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}

type MockConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
}

// UnmarshalYAML accepts a duration string for tick_interval, keeping the
// default when the field is omitted.
func (m *MockConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		TickInterval *string `yaml:"tick_interval"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.TickInterval != nil {
		d, err := time.ParseDuration(*raw.TickInterval)
		if err != nil {
			return fmt.Errorf("parse tick_interval: %w", err)
		}
		m.TickInterval = d
	}
	return nil
}

// Load reads the config file at path, overlaying it on defaults. A missing
// file is not an error: defaults plus environment overrides apply. The
// environment wins over the file for PORT, HOST, DB_PATH and LOG_DIR.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           3000,
			AllowedOrigins: []string{"*"},
		},
		Storage: StorageConfig{
			DBPath: "./data/proctoring.db",
		},
		Logging: LoggingConfig{
			Dir:   "./logs",
			Level: "info",
		},
		Detector: detector.DefaultConfig(),
		Mock: MockConfig{
			TickInterval: 500 * time.Millisecond,
		},
	}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		c.Storage.DBPath = v
	}
	if v := os.Getenv("LOG_DIR"); v != "" {
		c.Logging.Dir = v
	}
}

// Validate checks the fields the server cannot run without.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage db_path cannot be empty")
	}
	if c.Detector.EyeClosureWindow <= 0 {
		return fmt.Errorf("detector eye_closure_window must be > 0")
	}
	if c.Detector.DrowsinessRatio < 0 || c.Detector.DrowsinessRatio > 1 {
		return fmt.Errorf("detector drowsiness_ratio must be in [0,1]")
	}
	if c.Detector.ObjectConfidence < 0 || c.Detector.ObjectConfidence > 1 {
		return fmt.Errorf("detector object_confidence must be in [0,1]")
	}
	if c.Mock.TickInterval <= 0 {
		return fmt.Errorf("mock tick_interval must be > 0")
	}
	return nil
}
