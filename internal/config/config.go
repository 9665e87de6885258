// Package config holds the CLI configuration, loadable from a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "45s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config stores all parameters for the peer CLI.
type Config struct {
	RelayURL           string   `yaml:"relayURL"`
	Session            string   `yaml:"session"`
	PollInterval       Duration `yaml:"pollInterval"`
	NegotiationTimeout Duration `yaml:"negotiationTimeout"`
	STUNServers        []string `yaml:"stunServers"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		PollInterval:       Duration(time.Second),
		NegotiationTimeout: Duration(60 * time.Second),
	}
}

// Load reads a YAML config file, overlaying its fields on the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}
