package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Browser      BrowserConfig
	Pool         PoolConfig
	Lock         LockConfig
	Discovery    DiscoveryConfig
	Orchestrator OrchestratorConfig
	Query        QueryConfig
	Auth         AuthConfig
	Log          LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	MaxOpenConns int
	MaxIdleConns int
}

// BrowserConfig holds remote browser connection configuration.
type BrowserConfig struct {
	// DebugURL is the remote debugging address. Left empty, the address
	// is discovered through the resolver at startup.
	DebugURL    string
	ServiceName string
	OpTimeout   time.Duration
}

// PoolConfig holds tab pool configuration.
type PoolConfig struct {
	MaxTabs       int
	PruneInterval time.Duration
}

// LockConfig holds human-input mutex configuration.
type LockConfig struct {
	Key           string
	TTL           time.Duration
	RetryInterval time.Duration
	ReapInterval  time.Duration
}

// DiscoveryConfig holds endpoint resolution configuration.
type DiscoveryConfig struct {
	RegistryURL    string
	DefaultAddress string
	PortLabel      string
	TierTimeout    time.Duration
}

// OrchestratorConfig holds cluster orchestrator API configuration.
type OrchestratorConfig struct {
	BaseURL string
	Timeout time.Duration
}

// QueryConfig holds two-phase protocol tuning.
type QueryConfig struct {
	LockTimeout    time.Duration
	PollInterval   time.Duration
	WatchDeadline  time.Duration
	TypingMinDelay time.Duration
	TypingMaxDelay time.Duration
	WebhookRetries int
}

// AuthConfig holds API authentication configuration.
type AuthConfig struct {
	Enabled bool
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "root")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.database", "browser_relay")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("browser.debug_url", "")
	v.SetDefault("browser.service_name", "agent-browser")
	v.SetDefault("browser.op_timeout", "30s")

	v.SetDefault("pool.max_tabs", 5)
	v.SetDefault("pool.prune_interval", "5m")

	v.SetDefault("lock.key", "human-input")
	v.SetDefault("lock.ttl", "30s")
	v.SetDefault("lock.retry_interval", "100ms")
	v.SetDefault("lock.reap_interval", "1m")

	v.SetDefault("discovery.registry_url", "")
	v.SetDefault("discovery.default_address", "")
	v.SetDefault("discovery.port_label", "devtools")
	v.SetDefault("discovery.tier_timeout", "5s")

	v.SetDefault("orchestrator.base_url", "")
	v.SetDefault("orchestrator.timeout", "10s")

	v.SetDefault("query.lock_timeout", "30s")
	v.SetDefault("query.poll_interval", "2s")
	v.SetDefault("query.watch_deadline", "5m")
	v.SetDefault("query.typing_min_delay", "50ms")
	v.SetDefault("query.typing_max_delay", "200ms")
	v.SetDefault("query.webhook_retries", 3)

	v.SetDefault("auth.enabled", true)

	v.SetDefault("log.level", "info")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:         v.GetString("server.host"),
			Port:         v.GetInt("server.port"),
			ReadTimeout:  v.GetDuration("server.read_timeout"),
			WriteTimeout: v.GetDuration("server.write_timeout"),
		},
		Database: DatabaseConfig{
			Host:         v.GetString("database.host"),
			Port:         v.GetInt("database.port"),
			User:         v.GetString("database.user"),
			Password:     v.GetString("database.password"),
			Database:     v.GetString("database.database"),
			MaxOpenConns: v.GetInt("database.max_open_conns"),
			MaxIdleConns: v.GetInt("database.max_idle_conns"),
		},
		Browser: BrowserConfig{
			DebugURL:    v.GetString("browser.debug_url"),
			ServiceName: v.GetString("browser.service_name"),
			OpTimeout:   v.GetDuration("browser.op_timeout"),
		},
		Pool: PoolConfig{
			MaxTabs:       v.GetInt("pool.max_tabs"),
			PruneInterval: v.GetDuration("pool.prune_interval"),
		},
		Lock: LockConfig{
			Key:           v.GetString("lock.key"),
			TTL:           v.GetDuration("lock.ttl"),
			RetryInterval: v.GetDuration("lock.retry_interval"),
			ReapInterval:  v.GetDuration("lock.reap_interval"),
		},
		Discovery: DiscoveryConfig{
			RegistryURL:    v.GetString("discovery.registry_url"),
			DefaultAddress: v.GetString("discovery.default_address"),
			PortLabel:      v.GetString("discovery.port_label"),
			TierTimeout:    v.GetDuration("discovery.tier_timeout"),
		},
		Orchestrator: OrchestratorConfig{
			BaseURL: v.GetString("orchestrator.base_url"),
			Timeout: v.GetDuration("orchestrator.timeout"),
		},
		Query: QueryConfig{
			LockTimeout:    v.GetDuration("query.lock_timeout"),
			PollInterval:   v.GetDuration("query.poll_interval"),
			WatchDeadline:  v.GetDuration("query.watch_deadline"),
			TypingMinDelay: v.GetDuration("query.typing_min_delay"),
			TypingMaxDelay: v.GetDuration("query.typing_max_delay"),
			WebhookRetries: v.GetInt("query.webhook_retries"),
		},
		Auth: AuthConfig{
			Enabled: v.GetBool("auth.enabled"),
		},
		Log: LogConfig{
			Level: v.GetString("log.level"),
		},
	}

	return cfg, nil
}
