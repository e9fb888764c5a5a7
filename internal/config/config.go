package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/trickstertwo/xcorr"
	"github.com/trickstertwo/xcorr/adapter/redisstream"
)

// DefaultPath is the optional YAML file read before the environment.
const DefaultPath = "config.yaml"

type Config struct {
	Redis     Redis     `yaml:"redis"`
	Responder Responder `yaml:"responder"`
	HTTP      HTTP      `yaml:"http"`
	Log       Log       `yaml:"log"`
}

type Redis struct {
	URL           string        `yaml:"url" env:"REDIS_URL" env-default:"redis://localhost:6379/0"`
	RequestStream string        `yaml:"request_stream" env:"REDIS_STREAM_DATA_REQUESTS" env-default:"data-requests"`
	ResultStream  string        `yaml:"result_stream" env:"REDIS_STREAM_DATA_RESULTS" env-default:"data-results"`
	Group         string        `yaml:"group" env:"REDIS_CONSUMER_GROUP" env-default:"chatbot-consumers"`
	ConsumerName  string        `yaml:"consumer_name" env:"REDIS_CONSUMER_NAME" env-default:"chatbot"`
	WaitTimeout   time.Duration `yaml:"wait_timeout" env:"REDIS_WAIT_TIMEOUT" env-default:"30s"`
	PendingIdleMs int64         `yaml:"pending_idle_ms" env:"REDIS_PENDING_IDLE_MS" env-default:"600000"`
	ReclaimEvery  time.Duration `yaml:"reclaim_interval" env:"REDIS_RECLAIM_INTERVAL" env-default:"5m"`
	PoolSize      int           `yaml:"pool_size" env:"REDIS_POOL_SIZE" env-default:"32"`
	MaxLenApprox  int64         `yaml:"max_len_approx" env:"REDIS_MAX_LEN_APPROX" env-default:"0"`
	KeepConsumers bool          `yaml:"keep_consumers" env:"REDIS_KEEP_CONSUMERS" env-default:"false"`
}

type Responder struct {
	Group       string `yaml:"group" env:"REDIS_RESPONDER_GROUP" env-default:"spring-consumers"`
	Concurrency int    `yaml:"concurrency" env:"REDIS_RESPONDER_CONCURRENCY" env-default:"4"`
}

type HTTP struct {
	Addr string `yaml:"addr" env:"HTTP_ADDR" env-default:":8080"`
}

type Log struct {
	Level   string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Console bool   `yaml:"console" env:"LOG_CONSOLE" env-default:"false"`
}

// New reads DefaultPath when present and applies environment overrides.
func New() (*Config, error) {
	return Load(DefaultPath)
}

// Load reads the YAML file at path, falling back to the environment alone
// when the file does not exist. Environment variables always win.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	var err error
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		err = cleanenv.ReadEnv(cfg)
	} else {
		err = cleanenv.ReadConfig(path, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Redis.URL == "" {
		return fmt.Errorf("config: REDIS_URL required")
	}
	if c.Redis.PendingIdleMs <= 0 {
		return fmt.Errorf("config: REDIS_PENDING_IDLE_MS must be > 0, got %d", c.Redis.PendingIdleMs)
	}
	if c.Redis.WaitTimeout <= 0 {
		return fmt.Errorf("config: REDIS_WAIT_TIMEOUT must be > 0, got %v", c.Redis.WaitTimeout)
	}
	return c.ClientOptions().Validate()
}

// ClientOptions maps the configuration onto xcorr.Options.
func (c *Config) ClientOptions() xcorr.Options {
	o := xcorr.DefaultOptions()
	o.RequestStream = c.Redis.RequestStream
	o.ResultStream = c.Redis.ResultStream
	o.Group = c.Redis.Group
	o.ConsumerPrefix = c.Redis.ConsumerName
	o.WaitTimeout = c.Redis.WaitTimeout
	o.ReclaimMinIdle = time.Duration(c.Redis.PendingIdleMs) * time.Millisecond
	o.ReclaimInterval = c.Redis.ReclaimEvery
	o.KeepConsumers = c.Redis.KeepConsumers
	return o
}

// BrokerConfig maps the configuration onto the Redis broker settings.
func (c *Config) BrokerConfig() redisstream.Config {
	rc := redisstream.Defaults()
	rc.URL = c.Redis.URL
	if c.Redis.PoolSize > 0 {
		rc.PoolSize = c.Redis.PoolSize
	}
	rc.MaxLenApprox = c.Redis.MaxLenApprox
	return rc
}

// ResponderConfig maps the configuration onto xcorr.ResponderConfig.
func (c *Config) ResponderConfig() xcorr.ResponderConfig {
	rc := xcorr.DefaultResponderConfig()
	rc.RequestStream = c.Redis.RequestStream
	rc.ResultStream = c.Redis.ResultStream
	rc.Group = c.Responder.Group
	rc.Concurrency = c.Responder.Concurrency
	return rc
}
