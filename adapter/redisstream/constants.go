package redisstream

// BrokerName is the registry name of this adapter.
const BrokerName = "redis-streams"

// Redis reply markers
const (
	errBusyGroup = "BUSYGROUP"
	errNoGroup   = "NOGROUP"
	errNoSuchKey = "no such key"
)
