package director

import (
	"sort"
	"strings"
	"sync"
)

// ConfigSource supplies key/value configuration grouped by config name.
// Provider definitions use the provider name as config name.
type ConfigSource interface {
	// Get returns the value of key in config, or "" when absent
	Get(config, key string) string
	// Data returns a copy of every key of config
	Data(config string) map[string]string
	// List returns the config names in sorted order
	List() []string
	// OnSynchronized registers fn to run after every complete (re)load
	OnSynchronized(fn func())
}

// syncNotifier fans a synchronized event out to registered handlers
type syncNotifier struct {
	mu       sync.Mutex
	handlers []func()
}

func (n *syncNotifier) OnSynchronized(fn func()) {
	n.mu.Lock()
	n.handlers = append(n.handlers, fn)
	n.mu.Unlock()
}

func (n *syncNotifier) notify() {
	n.mu.Lock()
	handlers := append([]func(){}, n.handlers...)
	n.mu.Unlock()

	for _, fn := range handlers {
		fn()
	}
}

// MemoryConfig is an in-memory ConfigSource. It is safe for concurrent use.
type MemoryConfig struct {
	syncNotifier

	mu   sync.RWMutex
	data map[string]map[string]string
}

// NewMemoryConfig creates an empty configuration
func NewMemoryConfig() *MemoryConfig {
	return &MemoryConfig{data: make(map[string]map[string]string)}
}

// Get returns the value of key in config
func (c *MemoryConfig) Get(config, key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data[config][key]
}

// Data returns a copy of config
func (c *MemoryConfig) Data(config string) map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.data[config]))
	for k, v := range c.data[config] {
		out[k] = v
	}
	return out
}

// List returns the config names in sorted order
func (c *MemoryConfig) List() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.data))
	for name := range c.data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Set stores value under key in config, creating the config if needed
func (c *MemoryConfig) Set(config, key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.data[config]
	if !ok {
		m = make(map[string]string)
		c.data[config] = m
	}
	m[key] = value
}

// Unset removes key and every key below it from config
func (c *MemoryConfig) Unset(config, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.data[config]
	if !ok {
		return
	}
	prefix := strings.TrimSuffix(key, "/") + "/"
	for k := range m {
		if k == key || strings.HasPrefix(k, prefix) {
			delete(m, k)
		}
	}
}

// Remove deletes a whole config
func (c *MemoryConfig) Remove(config string) {
	c.mu.Lock()
	delete(c.data, config)
	c.mu.Unlock()
}

// Replace swaps the entire contents of the configuration
func (c *MemoryConfig) Replace(data map[string]map[string]string) {
	fresh := make(map[string]map[string]string, len(data))
	for name, kv := range data {
		m := make(map[string]string, len(kv))
		for k, v := range kv {
			m[k] = v
		}
		fresh[name] = m
	}
	c.mu.Lock()
	c.data = fresh
	c.mu.Unlock()
}

// Sync announces that the configuration is complete
func (c *MemoryConfig) Sync() {
	c.notify()
}
