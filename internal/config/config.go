package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type APICfg struct {
	BaseURL                string `mapstructure:"base_url"`
	TimeoutSeconds         int    `mapstructure:"timeout_seconds"`
	RetryInitialMs         int    `mapstructure:"retry_initial_ms"`
	RetryMaxElapsedSeconds int    `mapstructure:"retry_max_elapsed_seconds"`
	MaxIdleConns           int    `mapstructure:"max_idle_conns"`
	IdleConnTimeoutSeconds int    `mapstructure:"idle_conn_timeout_seconds"`
	BreakerMaxFailures     uint32 `mapstructure:"breaker_max_failures"`
	BreakerTimeoutSeconds  int    `mapstructure:"breaker_timeout_seconds"`
}

type SocketCfg struct {
	URL                      string `mapstructure:"url"`
	HandshakeTimeoutSeconds  int    `mapstructure:"handshake_timeout_seconds"`
	PongWaitSeconds          int    `mapstructure:"pong_wait_seconds"`
	ReconnectMaxWaitSeconds  int    `mapstructure:"reconnect_max_wait_seconds"`
	ReadLimitBytes           int64  `mapstructure:"read_limit_bytes"`
	SendBuffer               int    `mapstructure:"send_buffer"`
}

type SyncCfg struct {
	PageSize                  int `mapstructure:"page_size"`
	BufferCap                 int `mapstructure:"buffer_cap"`
	QueueSize                 int `mapstructure:"queue_size"`
	RefetchMinIntervalSeconds int `mapstructure:"refetch_min_interval_seconds"`
}

type TypingCfg struct {
	IdleSeconds      int `mapstructure:"idle_seconds"`
	RemoteTTLSeconds int `mapstructure:"remote_ttl_seconds"`
}

type MetricsCfg struct {
	Addr string `mapstructure:"addr"`
}

type ControlCfg struct {
	Addr string `mapstructure:"addr"`
}

type Config struct {
	Development       bool       `mapstructure:"development"`
	DecisionCachePath string     `mapstructure:"decision_cache_path"`
	API               APICfg     `mapstructure:"api"`
	Socket            SocketCfg  `mapstructure:"socket"`
	Sync              SyncCfg    `mapstructure:"sync"`
	Typing            TypingCfg  `mapstructure:"typing"`
	Metrics           MetricsCfg `mapstructure:"metrics"`
	Control           ControlCfg `mapstructure:"control"`

	// Derived
	APITimeout         time.Duration
	RetryInitial       time.Duration
	RetryMaxElapsed    time.Duration
	IdleConnTimeout    time.Duration
	BreakerTimeout     time.Duration
	HandshakeTimeout   time.Duration
	PongWait           time.Duration
	ReconnectMaxWait   time.Duration
	RefetchMinInterval time.Duration
	TypingIdle         time.Duration
	TypingRemoteTTL    time.Duration
}

// Load reads the config file at path and applies CHATSYNC_-prefixed env
// overrides (CHATSYNC_API_BASE_URL etc.).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("CHATSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	cfg.derive()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DecisionCachePath == "" {
		c.DecisionCachePath = "decisions.json"
	}
	if c.API.TimeoutSeconds == 0 {
		c.API.TimeoutSeconds = 15
	}
	if c.API.RetryInitialMs == 0 {
		c.API.RetryInitialMs = 500
	}
	if c.API.RetryMaxElapsedSeconds == 0 {
		c.API.RetryMaxElapsedSeconds = 30
	}
	if c.API.MaxIdleConns == 0 {
		c.API.MaxIdleConns = 16
	}
	if c.API.IdleConnTimeoutSeconds == 0 {
		c.API.IdleConnTimeoutSeconds = 90
	}
	if c.API.BreakerMaxFailures == 0 {
		c.API.BreakerMaxFailures = 5
	}
	if c.API.BreakerTimeoutSeconds == 0 {
		c.API.BreakerTimeoutSeconds = 30
	}
	if c.Socket.HandshakeTimeoutSeconds == 0 {
		c.Socket.HandshakeTimeoutSeconds = 10
	}
	if c.Socket.PongWaitSeconds == 0 {
		c.Socket.PongWaitSeconds = 60
	}
	if c.Socket.ReconnectMaxWaitSeconds == 0 {
		c.Socket.ReconnectMaxWaitSeconds = 60
	}
	if c.Socket.ReadLimitBytes == 0 {
		c.Socket.ReadLimitBytes = 64 * 1024
	}
	if c.Socket.SendBuffer == 0 {
		c.Socket.SendBuffer = 256
	}
	if c.Sync.PageSize == 0 {
		c.Sync.PageSize = 50
	}
	if c.Sync.BufferCap == 0 {
		c.Sync.BufferCap = 1000
	}
	if c.Sync.QueueSize == 0 {
		c.Sync.QueueSize = 512
	}
	if c.Sync.RefetchMinIntervalSeconds == 0 {
		c.Sync.RefetchMinIntervalSeconds = 30
	}
	if c.Typing.IdleSeconds == 0 {
		c.Typing.IdleSeconds = 3
	}
	if c.Typing.RemoteTTLSeconds == 0 {
		c.Typing.RemoteTTLSeconds = 9
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9109"
	}
	if c.Control.Addr == "" {
		c.Control.Addr = "127.0.0.1:8990"
	}
}

func (c *Config) derive() {
	sec := func(n int) time.Duration { return time.Duration(n) * time.Second }
	c.APITimeout = sec(c.API.TimeoutSeconds)
	c.RetryInitial = time.Duration(c.API.RetryInitialMs) * time.Millisecond
	c.RetryMaxElapsed = sec(c.API.RetryMaxElapsedSeconds)
	c.IdleConnTimeout = sec(c.API.IdleConnTimeoutSeconds)
	c.BreakerTimeout = sec(c.API.BreakerTimeoutSeconds)
	c.HandshakeTimeout = sec(c.Socket.HandshakeTimeoutSeconds)
	c.PongWait = sec(c.Socket.PongWaitSeconds)
	c.ReconnectMaxWait = sec(c.Socket.ReconnectMaxWaitSeconds)
	c.RefetchMinInterval = sec(c.Sync.RefetchMinIntervalSeconds)
	c.TypingIdle = sec(c.Typing.IdleSeconds)
	c.TypingRemoteTTL = sec(c.Typing.RemoteTTLSeconds)
}
