package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string        `mapstructure:"log_format" yaml:"log_format"`

	// WebSocket limits.
	MaxMessageBytes    int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	SendQueueSize      int           `mapstructure:"send_queue_size" yaml:"send_queue_size"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	PingInterval       time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
	PingTimeout        time.Duration `mapstructure:"ping_timeout" yaml:"ping_timeout"`
	RateLimitPerSecond float64       `mapstructure:"rate_limit_per_second" yaml:"rate_limit_per_second"`
	RateLimitBurst     int           `mapstructure:"rate_limit_burst" yaml:"rate_limit_burst"`
	AllowedOrigins     []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`

	// Optional connect-time token check. Empty secret disables it.
	JWTSecret   string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string `mapstructure:"jwt_audience" yaml:"jwt_audience"`

	ICEServers []ICEServer `mapstructure:"ice_servers" yaml:"ice_servers"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:               ":8080",
		ReadHeaderTimeout:  5 * time.Second,
		ShutdownTimeout:    5 * time.Second,
		LogLevel:           "info",
		LogFormat:          "console",
		MaxMessageBytes:    64 << 10,
		SendQueueSize:      64,
		WriteTimeout:       5 * time.Second,
		PingInterval:       25 * time.Second,
		PingTimeout:        10 * time.Second,
		RateLimitPerSecond: 50,
		RateLimitBurst:     100,
		AllowedOrigins:     []string{"localhost:5173"},
		ICEServers: []ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogFormat != "" {
		c.LogFormat = other.LogFormat
	}
	if other.MaxMessageBytes != 0 {
		c.MaxMessageBytes = other.MaxMessageBytes
	}
	if other.SendQueueSize != 0 {
		c.SendQueueSize = other.SendQueueSize
	}
	if other.WriteTimeout != 0 {
		c.WriteTimeout = other.WriteTimeout
	}
	if other.PingInterval != 0 {
		c.PingInterval = other.PingInterval
	}
	if other.PingTimeout != 0 {
		c.PingTimeout = other.PingTimeout
	}
	if other.RateLimitPerSecond != 0 {
		c.RateLimitPerSecond = other.RateLimitPerSecond
	}
	if other.RateLimitBurst != 0 {
		c.RateLimitBurst = other.RateLimitBurst
	}
	if len(other.AllowedOrigins) > 0 {
		c.AllowedOrigins = other.AllowedOrigins
	}
	if other.JWTSecret != "" {
		c.JWTSecret = other.JWTSecret
	}
	if other.JWTIssuer != "" {
		c.JWTIssuer = other.JWTIssuer
	}
	if other.JWTAudience != "" {
		c.JWTAudience = other.JWTAudience
	}
	if len(other.ICEServers) > 0 {
		c.ICEServers = other.ICEServers
	}
}
