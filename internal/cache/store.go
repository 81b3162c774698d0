package cache

import (
	"errors"
	"sync"

	"github.com/dreamware/fleetcore/internal/platform"
)

// ErrHandleInstalled is returned when a handle is installed a second time.
var ErrHandleInstalled = errors.New("handle already installed")

// Store is the registry of independently locked caches. Holding a lock on one
// container never requires a lock on another.
type Store struct {
	Config    *ConfigStore
	Blocklist *Blocklist
	Pending   *PendingMessages
	Handles   *Handles
}

// NewStore creates a Store with every container empty.
func NewStore() *Store {
	return &Store{
		Config:    NewConfigStore(),
		Blocklist: NewBlocklist(),
		Pending:   NewPendingMessages(),
		Handles:   &Handles{},
	}
}

// Handles holds the presence manager and stats sink. Each is installed once at
// boot and then only read.
type Handles struct {
	mu      sync.RWMutex
	manager platform.PresenceManager
	sink    platform.StatsSink
}

// SetManager installs the presence manager.
func (h *Handles) SetManager(m platform.PresenceManager) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.manager != nil {
		return ErrHandleInstalled
	}
	h.manager = m
	return nil
}

// Manager returns the presence manager, if installed.
func (h *Handles) Manager() (platform.PresenceManager, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.manager, h.manager != nil
}

// SetSink installs the stats sink.
func (h *Handles) SetSink(s platform.StatsSink) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sink != nil {
		return ErrHandleInstalled
	}
	h.sink = s
	return nil
}

// Sink returns the stats sink, if installed.
func (h *Handles) Sink() (platform.StatsSink, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sink, h.sink != nil
}
