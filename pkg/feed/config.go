package feed

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Mode selects what the processor does with market-by-order messages
type Mode int

const (
	// ModeNormalize folds raw venue updates and publishes canonical deltas
	ModeNormalize Mode = iota
	// ModeReplica applies canonical deltas and verifies their checksum
	ModeReplica
)

// String returns mode as string
func (m Mode) String() string {
	switch m {
	case ModeNormalize:
		return "normalize"
	case ModeReplica:
		return "replica"
	default:
		return "unknown"
	}
}

// ParseMode converts the textual form back into a Mode
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "normalize", "":
		return ModeNormalize, nil
	case "replica":
		return ModeReplica, nil
	}
	return ModeNormalize, fmt.Errorf("invalid mode: %q", s)
}

// Config holds all configuration for the feed processor
type Config struct {
	Mode Mode

	// Default instrument, created at startup when Exchange and Symbol are set
	Exchange          string
	Symbol            string
	MaxDepth          int
	PriceIncrement    float64
	QuantityIncrement float64

	// AutoCreate creates a cache for updates of unknown instruments
	AutoCreate bool
	// VerifyChecksum compares replica checksums against the feed's
	VerifyChecksum bool
	// ReplayRate caps replayed updates per second (0 is unlimited)
	ReplayRate float64
	// PublishTimeout bounds publishing one canonical delta
	PublishTimeout time.Duration
}

// DefaultConfig returns the configuration used when nothing is set
func DefaultConfig() Config {
	return Config{
		Mode:              ModeNormalize,
		PriceIncrement:    math.NaN(),
		QuantityIncrement: math.NaN(),
		AutoCreate:        true,
		VerifyChecksum:    true,
		PublishTimeout:    5 * time.Second,
	}
}

// LoadConfig loads configuration from MBO_* environment variables
func LoadConfig() (*Config, error) {
	v := viper.New()
	defaults := DefaultConfig()

	v.SetEnvPrefix("MBO")
	v.SetDefault("mode", defaults.Mode.String())
	v.SetDefault("exchange", "")
	v.SetDefault("symbol", "")
	v.SetDefault("max_depth", 0)
	v.SetDefault("price_increment", "NaN")
	v.SetDefault("quantity_increment", "NaN")
	v.SetDefault("auto_create", defaults.AutoCreate)
	v.SetDefault("verify_checksum", defaults.VerifyChecksum)
	v.SetDefault("replay_rate", 0)
	v.SetDefault("publish_timeout_ms", defaults.PublishTimeout.Milliseconds())

	// Allow environment variables
	v.AutomaticEnv()

	mode, err := ParseMode(v.GetString("mode"))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg := &Config{
		Mode:              mode,
		Exchange:          v.GetString("exchange"),
		Symbol:            v.GetString("symbol"),
		MaxDepth:          v.GetInt("max_depth"),
		PriceIncrement:    v.GetFloat64("price_increment"),
		QuantityIncrement: v.GetFloat64("quantity_increment"),
		AutoCreate:        v.GetBool("auto_create"),
		VerifyChecksum:    v.GetBool("verify_checksum"),
		ReplayRate:        v.GetFloat64("replay_rate"),
		PublishTimeout:    time.Duration(v.GetInt("publish_timeout_ms")) * time.Millisecond,
	}

	// Validate configuration
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func validateConfig(cfg *Config) error {
	if (cfg.Exchange == "") != (cfg.Symbol == "") {
		return fmt.Errorf("MBO_EXCHANGE and MBO_SYMBOL must be set together")
	}
	if cfg.MaxDepth < 0 {
		return fmt.Errorf("MBO_MAX_DEPTH must not be negative")
	}
	if cfg.PriceIncrement <= 0 {
		return fmt.Errorf("MBO_PRICE_INCREMENT must be positive")
	}
	if cfg.QuantityIncrement <= 0 {
		return fmt.Errorf("MBO_QUANTITY_INCREMENT must be positive")
	}
	if cfg.ReplayRate < 0 {
		return fmt.Errorf("MBO_REPLAY_RATE must not be negative")
	}
	if cfg.PublishTimeout <= 0 {
		return fmt.Errorf("MBO_PUBLISH_TIMEOUT_MS must be positive")
	}
	return nil
}
