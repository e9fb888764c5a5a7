// Package redisstream provides the Redis Streams broker for xcorr.
//
// Broker name: "redis-streams"
//
// Config keys accepted through the registry:
//   - url: redis:// URL (overrides the connection keys below)
//   - addr: "host:port" (default "127.0.0.1:6379")
//   - username, password, db, tls, tls_server_name
//   - pool_size (default 32), min_idle_conns (default 4), max_retries (default 3)
//   - dial_timeout (default 2s)
//   - max_len_approx: XADD MAXLEN ~ bound, 0 disables trimming
//
// Example:
//
//	client, err := xcorr.NewClientBuilder().
//		WithBroker(redisstream.BrokerName, map[string]any{
//			"url": "redis://localhost:6379/0",
//		}).
//		Build()
package redisstream
