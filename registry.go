package xcorr

import (
	"errors"
	"sort"
	"sync"
)

// BrokerFactory constructs brokers from a config blob.
type BrokerFactory func(cfg map[string]any) (Broker, error)

var (
	brokerRegistryMu sync.RWMutex
	brokerRegistry   = map[string]BrokerFactory{}
)

// RegisterBroker registers a backend adapter.
func RegisterBroker(name string, factory BrokerFactory) error {
	if name == "" {
		return errors.New("broker name must not be empty")
	}
	if factory == nil {
		return errors.New("broker factory must not be nil")
	}
	brokerRegistryMu.Lock()
	brokerRegistry[name] = factory
	brokerRegistryMu.Unlock()
	return nil
}

// NewBroker constructs a broker by name with config.
func NewBroker(name string, cfg map[string]any) (Broker, error) {
	brokerRegistryMu.RLock()
	f, ok := brokerRegistry[name]
	brokerRegistryMu.RUnlock()
	if !ok {
		return nil, ErrUnknownBroker{name: name}
	}
	return f(cfg)
}

// Brokers returns the registered broker names in sorted order.
func Brokers() []string {
	brokerRegistryMu.RLock()
	defer brokerRegistryMu.RUnlock()
	names := make([]string, 0, len(brokerRegistry))
	for n := range brokerRegistry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
