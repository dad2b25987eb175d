// Package config handles the nimbusd daemon configuration file.
//
// Config is read from a YAML file (default /etc/nimbus/config.yaml). A
// missing file is not an error: every field has a usable default, and a
// freshly flashed device runs entirely on defaults plus self-claiming.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where nimbusd looks for its config when --config is
// not given.
const DefaultPath = "/etc/nimbus/config.yaml"

// Duration is a time.Duration that unmarshals from YAML strings like
// "500ms" or "2s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) String() string { return time.Duration(d).String() }

// Config is the daemon configuration.
type Config struct {
	// DataDir holds the identity/credential store.
	DataDir string `yaml:"data_dir"`

	// Node identity metadata reported to the cloud.
	NodeName string `yaml:"node_name"`
	NodeType string `yaml:"node_type"`

	// SelfClaim lets an unprovisioned device obtain credentials from
	// the claim service instead of failing to start.
	SelfClaim    bool   `yaml:"self_claim"`
	ClaimBaseURL string `yaml:"claim_base_url"`

	// TimeSync gates startup on NTP agreement.
	TimeSync bool   `yaml:"time_sync"`
	NTPPool  string `yaml:"ntp_pool"`

	// Dispatch tuning. Zero values select the built-in defaults.
	QueueCapacity int      `yaml:"queue_capacity"`
	PollInterval  Duration `yaml:"poll_interval"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// Default returns the configuration a device runs with when no file is
// present.
func Default() *Config {
	return &Config{
		DataDir:      "/var/lib/nimbus",
		NodeName:     "nimbus-node",
		NodeType:     "generic",
		SelfClaim:    true,
		ClaimBaseURL: "https://claim.nimbus.example.com",
		TimeSync:     true,
		LogLevel:     "info",
	}
}

// Load reads the config at path, layering it over the defaults. A
// missing file returns the defaults (not an error); a malformed file is
// an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if c.SelfClaim && c.ClaimBaseURL == "" {
		return errors.New("self_claim requires claim_base_url")
	}
	if c.PollInterval < 0 {
		return errors.New("poll_interval must not be negative")
	}
	return nil
}
