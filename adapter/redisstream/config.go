package redisstream

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config for the Redis Streams broker.
type Config struct {
	// URL is a redis:// or rediss:// URL. When set it overrides Addr,
	// Username, Password, DB and TLS.
	URL string

	// Connection
	Addr          string
	Username      string
	Password      string
	DB            int
	TLS           bool
	TLSServerName string

	// Pool. Every in-flight Wait holds one connection for the length of a
	// blocking read, so PoolSize caps concurrent waits per process.
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration

	// Stream management
	MaxLenApprox int64
}

// Defaults returns a Config for a local Redis.
func Defaults() Config {
	return Config{
		Addr:         "127.0.0.1:6379",
		PoolSize:     32,
		MinIdleConns: 4,
		MaxRetries:   3,
		DialTimeout:  2 * time.Second,
	}
}

// Validate checks Config for completeness.
func (c Config) Validate() error {
	if c.URL == "" && c.Addr == "" {
		return fmt.Errorf("config: url or addr required")
	}
	if c.URL != "" {
		if _, err := redis.ParseURL(c.URL); err != nil {
			return fmt.Errorf("config: url: %w", err)
		}
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("config: pool_size must be >= 1, got %d", c.PoolSize)
	}
	if c.MinIdleConns < 0 || c.MinIdleConns > c.PoolSize {
		return fmt.Errorf("config: min_idle_conns must be within [0, pool_size], got %d", c.MinIdleConns)
	}
	if c.MaxLenApprox < 0 {
		return fmt.Errorf("config: max_len_approx must be >= 0, got %d", c.MaxLenApprox)
	}
	return nil
}

func (c Config) redisOptions() (*redis.Options, error) {
	var opts *redis.Options
	if c.URL != "" {
		var err error
		opts, err = redis.ParseURL(c.URL)
		if err != nil {
			return nil, err
		}
	} else {
		opts = &redis.Options{
			Addr:     c.Addr,
			Username: c.Username,
			Password: c.Password,
			DB:       c.DB,
		}
		if c.TLS {
			opts.TLSConfig = tlsConfig(c.TLSServerName)
		}
	}
	opts.PoolSize = c.PoolSize
	opts.MinIdleConns = c.MinIdleConns
	opts.MaxRetries = c.MaxRetries
	if c.DialTimeout > 0 {
		opts.DialTimeout = c.DialTimeout
	}
	return opts, nil
}

// toMap converts Config to the generic map taken by the broker registry.
func (c Config) toMap() map[string]any {
	return map[string]any{
		"url":             c.URL,
		"addr":            c.Addr,
		"username":        c.Username,
		"password":        c.Password,
		"db":              c.DB,
		"tls":             c.TLS,
		"tls_server_name": c.TLSServerName,
		"pool_size":       c.PoolSize,
		"min_idle_conns":  c.MinIdleConns,
		"max_retries":     c.MaxRetries,
		"dial_timeout":    c.DialTimeout,
		"max_len_approx":  c.MaxLenApprox,
	}
}

// ConfigFromMap safely converts a generic map to Config, starting from Defaults.
func ConfigFromMap(m map[string]any) Config {
	c := Defaults()

	if v, ok := m["url"].(string); ok {
		c.URL = v
	}
	if v, ok := m["addr"].(string); ok && v != "" {
		c.Addr = v
	}
	if v, ok := m["username"].(string); ok {
		c.Username = v
	}
	if v, ok := m["password"].(string); ok {
		c.Password = v
	}
	if v, ok := m["db"].(int); ok {
		c.DB = v
	}
	if v, ok := m["tls"].(bool); ok {
		c.TLS = v
	}
	if v, ok := m["tls_server_name"].(string); ok {
		c.TLSServerName = v
	}
	if v, ok := m["pool_size"].(int); ok && v > 0 {
		c.PoolSize = v
	}
	if v, ok := m["min_idle_conns"].(int); ok && v >= 0 {
		c.MinIdleConns = v
	}
	if v, ok := m["max_retries"].(int); ok {
		c.MaxRetries = v
	}
	if v, ok := m["dial_timeout"].(time.Duration); ok && v > 0 {
		c.DialTimeout = v
	}
	switch v := m["max_len_approx"].(type) {
	case int64:
		c.MaxLenApprox = v
	case int:
		c.MaxLenApprox = int64(v)
	}

	return c
}
