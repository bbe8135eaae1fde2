// Package config loads the circled configuration from an optional YAML file
// overlaid with CIRCLED_* environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Duration accepts Go duration strings ("24h", "90m") from both YAML and
// environment variables.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Server  ServerConfig  `yaml:"server"`
	Circle  CircleConfig  `yaml:"circle"`
}

type LoggingConfig struct {
	Level string `yaml:"level" envconfig:"LOGGING_LEVEL"`
}

type ServerConfig struct {
	ListenAddress string `yaml:"listenAddress" envconfig:"SERVER_LISTEN_ADDRESS"`
	// RateLimit is the sustained requests per second allowed per server;
	// RateBurst is the burst on top of it.
	RateLimit float64 `yaml:"rateLimit" envconfig:"SERVER_RATE_LIMIT"`
	RateBurst int     `yaml:"rateBurst" envconfig:"SERVER_RATE_BURST"`
}

// CircleConfig seeds the circle the server exposes. Escrow amounts are
// decimal strings to allow values beyond uint64.
type CircleConfig struct {
	Name             string        `yaml:"name" envconfig:"CIRCLE_NAME"`
	Creator          string        `yaml:"creator" envconfig:"CIRCLE_CREATOR"`
	RequiredEscrow   string        `yaml:"requiredEscrow" envconfig:"CIRCLE_REQUIRED_ESCROW"`
	CreatorDeposit   string        `yaml:"creatorDeposit" envconfig:"CIRCLE_CREATOR_DEPOSIT"`
	VotingPeriod     Duration `yaml:"votingPeriod" envconfig:"CIRCLE_VOTING_PERIOD"`
	QuorumPercent    uint32   `yaml:"quorumPercent" envconfig:"CIRCLE_QUORUM_PERCENT"`
	ThresholdPercent uint32   `yaml:"thresholdPercent" envconfig:"CIRCLE_THRESHOLD_PERCENT"`
	AllowEndEarly    bool     `yaml:"allowEndEarly" envconfig:"CIRCLE_ALLOW_END_EARLY"`
	NonVotingMembers []string `yaml:"nonVotingMembers" envconfig:"CIRCLE_NON_VOTING_MEMBERS"`
}

func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level: "info",
		},
		Server: ServerConfig{
			ListenAddress: ":8420",
			RateLimit:     50,
			RateBurst:     100,
		},
		Circle: CircleConfig{
			VotingPeriod:     Duration(14 * 24 * time.Hour),
			QuorumPercent:    51,
			ThresholdPercent: 51,
			AllowEndEarly:    true,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path when
// given, and CIRCLED_* environment variables, in that precedence order.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}
	if err := envconfig.Process("circled", cfg); err != nil {
		return nil, fmt.Errorf("processing environment: %w", err)
	}
	return cfg, nil
}
