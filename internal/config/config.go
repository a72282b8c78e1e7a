package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix          = "NEGOTIATION"
	defaultHTTPAddress = "0.0.0.0:5000"
	defaultRelayURL    = "http://localhost:5000"
	defaultRelayRoom   = "negotiations"
	defaultStorePath   = "negotiations.db"
	defaultLogLevel    = "info"
)

// AppConfig captures runtime configuration for the relay daemon and the
// device-side client.
type AppConfig struct {
	HTTPAddress string
	RelayURL    string
	RelayRoom   string
	StorePath   string
	LogLevel    string
	// PublishRate/PublishBurst throttle the daemon's publish endpoint.
	// Zero disables throttling.
	PublishRate  float64
	PublishBurst int
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("relay.url", defaultRelayURL)
	configViper.SetDefault("relay.room", defaultRelayRoom)
	configViper.SetDefault("store.path", defaultStorePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("relay.publish_rate", 0.0)
	configViper.SetDefault("relay.publish_burst", 0)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress: configViper.GetString("http.address"),
		RelayURL:    configViper.GetString("relay.url"),
		RelayRoom:   configViper.GetString("relay.room"),
		StorePath:   configViper.GetString("store.path"),
		LogLevel:    configViper.GetString("log.level"),

		PublishRate:  configViper.GetFloat64("relay.publish_rate"),
		PublishBurst: configViper.GetInt("relay.publish_burst"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if strings.TrimSpace(c.RelayRoom) == "" {
		return fmt.Errorf("relay.room is required")
	}
	if strings.TrimSpace(c.StorePath) == "" {
		return fmt.Errorf("store.path is required")
	}
	return nil
}
