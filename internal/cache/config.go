package cache

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
)

// ErrKeyNotFound is returned when an optional key is absent.
// Callers treat it as "feature not configured".
var ErrKeyNotFound = errors.New("key not found")

// ErrConfigurationFault is returned when a key that must be present at this
// point is missing or malformed. It aborts the code path that needed it.
var ErrConfigurationFault = errors.New("configuration fault")

// Well-known config keys.
const (
	KeyBotID       = "BOT_ID"
	KeyJoinLog     = "JOIN_LOG"
	KeyBotAvatar   = "BOT_AVATAR"
	KeyFleetGuilds = "FLEET_GUILDS"
	KeyFleetShards = "FLEET_SHARDS"
)

// ConfigView is the read-only surface handed to View callbacks.
type ConfigView interface {
	Lookup(key string) (string, bool)
}

// ConfigStore is a string key/value store that is written once at boot and
// again at fleet-ready, and read by every event handler in between.
// Uses sync.RWMutex so readers never block each other.
type ConfigStore struct {
	mu   sync.RWMutex      // Protects data
	data map[string]string // Config key -> value
}

// NewConfigStore creates an empty config store.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{
		data: make(map[string]string),
	}
}

// Get returns the value for key or ErrKeyNotFound.
func (c *ConfigStore) Get(key string) (string, error) {
	v, ok := c.Lookup(key)
	if !ok {
		return "", fmt.Errorf("%s: %w", key, ErrKeyNotFound)
	}
	return v, nil
}

// Lookup returns the value for key and whether it was present.
func (c *ConfigStore) Lookup(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.data[key]
	return v, ok
}

// Require returns the value for a key that must exist. A miss is a
// configuration fault, not a lookup miss.
func (c *ConfigStore) Require(key string) (string, error) {
	v, ok := c.Lookup(key)
	if !ok || v == "" {
		return "", fmt.Errorf("required key %s missing: %w", key, ErrConfigurationFault)
	}
	return v, nil
}

// RequireUint64 is Require for numeric identifiers such as BOT_ID.
func (c *ConfigStore) RequireUint64(key string) (uint64, error) {
	v, err := c.Require(key)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("required key %s is not numeric (%q): %w", key, v, ErrConfigurationFault)
	}
	return id, nil
}

// LookupUint64 returns a numeric optional value. Absent and unparsable values
// are both reported as a miss.
func (c *ConfigStore) LookupUint64(key string) (uint64, bool) {
	v, ok := c.Lookup(key)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Set stores value under key, overwriting any previous value.
func (c *ConfigStore) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
}

// SetMany writes all entries inside a single write scope.
func (c *ConfigStore) SetMany(entries map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range entries {
		c.data[k] = v
	}
}

// View runs fn with the read lock held. The lock is released on every exit
// path, including a panic inside fn. fn must not call back into c.
func (c *ConfigStore) View(fn func(ConfigView) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fn(lockedView(c.data))
}

// Snapshot returns a copy of every entry.
func (c *ConfigStore) Snapshot() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]string, len(c.data))
	for k, v := range c.data {
		out[k] = v
	}
	return out
}

// lockedView reads the map directly; only valid while View holds the lock.
type lockedView map[string]string

func (v lockedView) Lookup(key string) (string, bool) {
	s, ok := v[key]
	return s, ok
}
