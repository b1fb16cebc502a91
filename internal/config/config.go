package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents the application configuration
type Config struct {
	Athlete  Athlete  `json:"athlete"`
	Anomaly  Anomaly  `json:"anomaly"`
	Server   Server   `json:"server"`
	Cache    Cache    `json:"cache"`
	Provider Provider `json:"provider"`
}

// Athlete holds athlete-specific physiology settings
type Athlete struct {
	RestingHR      float64 `json:"resting_hr"`
	MaxHR          float64 `json:"max_hr"`
	ThresholdHR    float64 `json:"threshold_hr"`
	FTPWatts       float64 `json:"ftp_watts"`
	SleepNeedHours float64 `json:"sleep_need_hours"`
}

// Anomaly holds anomaly detection settings
type Anomaly struct {
	WindowDays int `json:"window_days"`
	MinSignals int `json:"min_signals"`
}

// Server holds the HTTP facade settings
type Server struct {
	Listen string `json:"listen"`
}

// Cache holds cache tier settings. Redis is optional; when Addr is empty
// the durable tier uses the local database.
type Cache struct {
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`
}

// Provider points at an optional local health-data export. When set, the
// engine reads pre-aggregated daily training load from it during score
// calculation; when empty, loads only flow in through explicit ingest.
type Provider struct {
	ExportFile string `json:"export_file"`
}

// ErrNoConfig is returned when the config file doesn't exist
var ErrNoConfig = errors.New("config file not found")

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Athlete: Athlete{
			RestingHR:      50,
			MaxHR:          185,
			ThresholdHR:    165,
			FTPWatts:       200,
			SleepNeedHours: 8,
		},
		Anomaly: Anomaly{
			WindowDays: 7,
			MinSignals: 1,
		},
		Server: Server{
			Listen: ":8080",
		},
	}
}

// Load reads the configuration from ~/.vitals/config.json
func Load() (*Config, error) {
	path, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrNoConfig
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply defaults for missing values
	defaults := DefaultConfig()
	if cfg.Athlete.RestingHR == 0 {
		cfg.Athlete.RestingHR = defaults.Athlete.RestingHR
	}
	if cfg.Athlete.MaxHR == 0 {
		cfg.Athlete.MaxHR = defaults.Athlete.MaxHR
	}
	if cfg.Athlete.ThresholdHR == 0 {
		cfg.Athlete.ThresholdHR = defaults.Athlete.ThresholdHR
	}
	if cfg.Athlete.FTPWatts == 0 {
		cfg.Athlete.FTPWatts = defaults.Athlete.FTPWatts
	}
	if cfg.Athlete.SleepNeedHours == 0 {
		cfg.Athlete.SleepNeedHours = defaults.Athlete.SleepNeedHours
	}
	if cfg.Anomaly.WindowDays == 0 {
		cfg.Anomaly.WindowDays = defaults.Anomaly.WindowDays
	}
	if cfg.Anomaly.MinSignals == 0 {
		cfg.Anomaly.MinSignals = defaults.Anomaly.MinSignals
	}
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = defaults.Server.Listen
	}

	return &cfg, nil
}

// Save writes the configuration to ~/.vitals/config.json
func Save(cfg *Config) error {
	path, err := getConfigPath()
	if err != nil {
		return err
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// CreateExample creates an example config file if none exists
func CreateExample() error {
	path, err := getConfigPath()
	if err != nil {
		return err
	}

	// Check if config already exists
	if _, err := os.Stat(path); err == nil {
		return nil // Config exists, don't overwrite
	}

	example := DefaultConfig()
	return Save(&example)
}

// Validate checks if the config has sane values
func (c *Config) Validate() error {
	if c.Athlete.MaxHR <= c.Athlete.RestingHR {
		return fmt.Errorf("athlete.max_hr (%v) must be greater than athlete.resting_hr (%v)", c.Athlete.MaxHR, c.Athlete.RestingHR)
	}
	if c.Athlete.ThresholdHR > 0 && c.Athlete.ThresholdHR >= c.Athlete.MaxHR {
		return fmt.Errorf("athlete.threshold_hr (%v) must be less than athlete.max_hr (%v)", c.Athlete.ThresholdHR, c.Athlete.MaxHR)
	}
	if c.Anomaly.WindowDays < 2 || c.Anomaly.WindowDays > 30 {
		return fmt.Errorf("anomaly.window_days must be between 2 and 30, got %d", c.Anomaly.WindowDays)
	}
	if c.Anomaly.MinSignals < 1 {
		return fmt.Errorf("anomaly.min_signals must be at least 1, got %d", c.Anomaly.MinSignals)
	}
	return nil
}

// getConfigPath returns the path to the config file
func getConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".vitals", "config.json"), nil
}

// GetConfigDir returns the path to the config directory
func GetConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".vitals"), nil
}
