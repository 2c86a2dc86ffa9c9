package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode   string `mapstructure:"mode"`
	Relay  Relay  `mapstructure:"relay"`
	Client Client `mapstructure:"client"`
}

// Relay configures the signaling server binary.
type Relay struct {
	Port          int           `mapstructure:"port"`
	Secret        string        `mapstructure:"secret"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RoomTTL       time.Duration `mapstructure:"room_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// Client configures the call coordinator binary.
type Client struct {
	RelayURL           string        `mapstructure:"relay_url"`
	SignalURL          string        `mapstructure:"signal_url"`
	AccessToken        string        `mapstructure:"access_token"`
	UserID             string        `mapstructure:"user_id"`
	UserName           string        `mapstructure:"user_name"`
	Role               string        `mapstructure:"role"`
	STUNServers        []string      `mapstructure:"stun_servers"`
	ReconnectRetries   uint64        `mapstructure:"reconnect_retries"`
	NegotiationTimeout time.Duration `mapstructure:"negotiation_timeout"`
	SyntheticMedia     bool          `mapstructure:"synthetic_media"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("relay.port", 8080)
	v.SetDefault("relay.room_ttl", "30m")
	v.SetDefault("relay.sweep_interval", "5m")
	v.SetDefault("client.relay_url", "http://localhost:8080")
	v.SetDefault("client.signal_url", "ws://localhost:8080/ws/signal")
	v.SetDefault("client.user_name", "anonymous")
	v.SetDefault("client.role", "patient")
	v.SetDefault("client.stun_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("client.reconnect_retries", 5)
	v.SetDefault("client.negotiation_timeout", "30s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
