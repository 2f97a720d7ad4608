package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/AndreyLalaev/mem/pkg/devmem"
)

// Config represents the application configuration
type Config struct {
	Device  string `json:"device"`
	Verbose bool   `json:"verbose"`
}

// LoadConfig loads the configuration from a file. Fields missing from the
// file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	config := DefaultConfig()
	if err := json.NewDecoder(file).Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if config.Device == "" {
		return nil, fmt.Errorf("%s: device must not be empty", path)
	}

	return config, nil
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Device: devmem.DefaultDevice,
	}
}
