package config

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Snapshot store kinds
const (
	StoreNone   = "none"
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StorePebble = "pebble"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		HTTPAddr  string `yaml:"http_addr"`
		LogLevel  string `yaml:"log_level"`
		LogFormat string `yaml:"log_format"`
	} `yaml:"server"`

	Redis struct {
		Addr     string        `yaml:"addr"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		Prefix   string        `yaml:"prefix"`
		TTL      time.Duration `yaml:"ttl"`
	} `yaml:"redis"`

	Kafka struct {
		BrokerAddr    string `yaml:"broker_addr"`
		InputTopic    string `yaml:"input_topic"`
		OutputTopic   string `yaml:"output_topic"`
		SnapshotTopic string `yaml:"snapshot_topic"`
		GroupID       string `yaml:"group_id"`
	} `yaml:"kafka"`

	Pebble struct {
		Dir string `yaml:"dir"`
	} `yaml:"pebble"`

	Snapshot struct {
		Store    string        `yaml:"store"`
		Interval time.Duration `yaml:"interval"`
	} `yaml:"snapshot"`

	Otel struct {
		Endpoint string `yaml:"endpoint"`
		Enabled  bool   `yaml:"enabled"`
	} `yaml:"otel"`
}

// Default returns the configuration used when no flag or file overrides it
func Default() *Config {
	config := &Config{}
	config.Server.HTTPAddr = ":8080"
	config.Server.LogLevel = "info"
	config.Server.LogFormat = "pretty"
	config.Redis.Addr = "localhost:6379"
	config.Redis.Prefix = "mbo"
	config.Kafka.BrokerAddr = "localhost:9092"
	config.Kafka.InputTopic = "mbo-raw"
	config.Kafka.OutputTopic = "mbo-canonical"
	config.Kafka.SnapshotTopic = "mbo-snapshots"
	config.Kafka.GroupID = "mbo-cache"
	config.Pebble.Dir = "data/snapshots"
	config.Snapshot.Store = StoreMemory
	config.Snapshot.Interval = 30 * time.Second
	config.Otel.Endpoint = "localhost:4317"
	return config
}

// LoadConfig loads the configuration from command line flags and optionally from a config file
func LoadConfig() (*Config, error) {
	return Load(os.Args[1:])
}

// Load parses args and then the YAML file named by -config, if any.
// Flags only override the file when they are given explicitly.
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("mbocache", flag.ContinueOnError)
	configFile := fs.String("config", "", "Path to config file (YAML)")
	httpPort := fs.Int("http_port", 8080, "The HTTP server port")
	logLevel := fs.String("log_level", "info", "Log level: debug, info, warn, error")
	logFormat := fs.String("log_format", "pretty", "Log format: json, pretty")
	store := fs.String("snapshot_store", StoreMemory, "Snapshot store: none, memory, redis, pebble")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Create default configuration
	config := Default()

	// Load configuration from file if specified
	if *configFile != "" {
		yamlFile, err := os.ReadFile(*configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Parse YAML configuration
		if err := yaml.Unmarshal(yamlFile, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}

		log.Printf("Loaded configuration from %s", *configFile)
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "http_port":
			config.Server.HTTPAddr = fmt.Sprintf(":%d", *httpPort)
		case "log_level":
			config.Server.LogLevel = *logLevel
		case "log_format":
			config.Server.LogFormat = *logFormat
		case "snapshot_store":
			config.Snapshot.Store = *store
		}
	})

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	switch c.Snapshot.Store {
	case StoreNone, StoreMemory, StoreRedis, StorePebble:
	default:
		return fmt.Errorf("invalid snapshot store: %q", c.Snapshot.Store)
	}
	if c.Snapshot.Store != StoreNone && c.Snapshot.Interval <= 0 {
		return fmt.Errorf("snapshot interval must be positive")
	}
	if c.Snapshot.Store == StorePebble && c.Pebble.Dir == "" {
		return fmt.Errorf("pebble dir must be set for the pebble store")
	}
	if c.Server.LogFormat != "json" && c.Server.LogFormat != "pretty" {
		return fmt.Errorf("invalid log format: %q", c.Server.LogFormat)
	}
	return nil
}
