package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "CHATSERVER"

// Config holds the full server configuration.
type Config struct {
	ListenAddr        string        `mapstructure:"listen_addr"`
	TLSCertFile       string        `mapstructure:"tls_cert_file"`
	TLSKeyFile        string        `mapstructure:"tls_key_file"`
	AllowPlaintext    bool          `mapstructure:"allow_plaintext"`
	UserFile          string        `mapstructure:"user_file"`
	DatabaseDSN       string        `mapstructure:"database_dsn"`
	AIEndpoint        string        `mapstructure:"ai_endpoint"`
	AIModel           string        `mapstructure:"ai_model"`
	AIConnectTimeout  time.Duration `mapstructure:"ai_connect_timeout"`
	AIRequestTimeout  time.Duration `mapstructure:"ai_request_timeout"`
	AIRoomName        string        `mapstructure:"ai_room_name"`
	AIRoomPrompt      string        `mapstructure:"ai_room_prompt"`
	SessionTTL        time.Duration `mapstructure:"session_ttl"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	HistoryCap        int           `mapstructure:"history_cap"`
	JoinSnapshot      int           `mapstructure:"join_snapshot"`
	DebugAddr         string        `mapstructure:"debug_addr"`
	LogLevel          string        `mapstructure:"log_level"`
}

// Default returns the configuration the server starts with when nothing is
// overridden.
func Default() Config {
	return Config{
		ListenAddr:        ":8989",
		TLSCertFile:       "server.crt",
		TLSKeyFile:        "server.key",
		AllowPlaintext:    false,
		UserFile:          "users.txt",
		AIEndpoint:        "http://localhost:11434/api/generate",
		AIModel:           "llama3",
		AIConnectTimeout:  5 * time.Second,
		AIRequestTimeout:  20 * time.Second,
		AIRoomName:        "AI Doodle",
		AIRoomPrompt: "You are a helpful assistant who helps schedule meetings. " +
			"Summarize all user availability suggestions and propose a common meeting time.",
		SessionTTL:        60 * time.Minute,
		CacheTTL:          5 * time.Minute,
		HeartbeatInterval: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		HistoryCap:        1000,
		JoinSnapshot:      50,
		LogLevel:          "info",
	}
}

// Load resolves configuration from defaults and CHATSERVER_* environment
// variables. Precedence: defaults < env.
func Load() (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetDefault("listen_addr", cfg.ListenAddr)
	v.SetDefault("tls_cert_file", cfg.TLSCertFile)
	v.SetDefault("tls_key_file", cfg.TLSKeyFile)
	v.SetDefault("allow_plaintext", cfg.AllowPlaintext)
	v.SetDefault("user_file", cfg.UserFile)
	v.SetDefault("database_dsn", cfg.DatabaseDSN)
	v.SetDefault("ai_endpoint", cfg.AIEndpoint)
	v.SetDefault("ai_model", cfg.AIModel)
	v.SetDefault("ai_connect_timeout", cfg.AIConnectTimeout)
	v.SetDefault("ai_request_timeout", cfg.AIRequestTimeout)
	v.SetDefault("ai_room_name", cfg.AIRoomName)
	v.SetDefault("ai_room_prompt", cfg.AIRoomPrompt)
	v.SetDefault("session_ttl", cfg.SessionTTL)
	v.SetDefault("cache_ttl", cfg.CacheTTL)
	v.SetDefault("heartbeat_interval", cfg.HeartbeatInterval)
	v.SetDefault("read_timeout", cfg.ReadTimeout)
	v.SetDefault("history_cap", cfg.HistoryCap)
	v.SetDefault("join_snapshot", cfg.JoinSnapshot)
	v.SetDefault("debug_addr", cfg.DebugAddr)
	v.SetDefault("log_level", cfg.LogLevel)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if c.UserFile == "" && c.DatabaseDSN == "" {
		return fmt.Errorf("either user_file or database_dsn must be set")
	}
	if c.AIEndpoint == "" {
		return fmt.Errorf("ai endpoint cannot be empty")
	}
	if c.HistoryCap <= 0 {
		return fmt.Errorf("history_cap must be positive")
	}
	if c.JoinSnapshot <= 0 || c.JoinSnapshot > c.HistoryCap {
		return fmt.Errorf("join_snapshot must be in 1..history_cap")
	}
	return nil
}
