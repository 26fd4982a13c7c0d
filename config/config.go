// Package config loads agent configuration from file and environment.
package config

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the agent
type Config struct {
	Server Server `mapstructure:"server"`
	Logger Logger `mapstructure:"logger"`
	Reader Reader `mapstructure:"reader"`
	MDNS   MDNS   `mapstructure:"mdns"`
}

// Server contains WebSocket gateway settings
type Server struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Logger contains logging settings
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Reader contains PC/SC reader loop settings
type Reader struct {
	// PollTimeoutMs is the GetStatusChange blocking timeout per tick
	PollTimeoutMs int `mapstructure:"poll_timeout_ms"`

	// ExtraKeys are additional MIFARE keys (12 hex chars each) tried
	// after the built-in dictionary
	ExtraKeys []string `mapstructure:"extra_keys"`
}

// MDNS contains service discovery settings
type MDNS struct {
	Enabled bool `mapstructure:"enabled"`
}

// Addr returns the gateway listen address.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; using defaults
	}

	v.SetEnvPrefix("TAPWIRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if _, err := cfg.Reader.DecodedExtraKeys(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// DecodedExtraKeys parses ExtraKeys into 6-byte MIFARE keys.
func (r Reader) DecodedExtraKeys() ([][6]byte, error) {
	keys := make([][6]byte, 0, len(r.ExtraKeys))
	for _, s := range r.ExtraKeys {
		raw, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid extra key %q: %w", s, err)
		}
		if len(raw) != 6 {
			return nil, fmt.Errorf("invalid extra key %q: want 6 bytes, got %d", s, len(raw))
		}
		var k [6]byte
		copy(k[:], raw)
		keys = append(keys, k)
	}
	return keys, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 3500)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")

	v.SetDefault("reader.poll_timeout_ms", 500)
	v.SetDefault("reader.extra_keys", []string{})

	v.SetDefault("mdns.enabled", false)
}
