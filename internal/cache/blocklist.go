package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Blocklist is the set of user and guild ids that may not run commands.
// It is read before every command and changed only by administrators.
type Blocklist struct {
	mu  sync.RWMutex        // Protects ids
	ids map[uint64]struct{} // Blocked user or guild ids
}

// blocklistFile is the on-disk shape accepted by LoadFile.
type blocklistFile struct {
	IDs []uint64 `yaml:"ids" json:"ids"`
}

// NewBlocklist creates an empty blocklist.
func NewBlocklist() *Blocklist {
	return &Blocklist{
		ids: make(map[uint64]struct{}),
	}
}

// Contains reports whether id is blocked.
func (b *Blocklist) Contains(id uint64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.ids[id]
	return ok
}

// Add blocks id. Adding an existing id is a no-op.
func (b *Blocklist) Add(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ids[id] = struct{}{}
}

// Remove unblocks id. Removing an absent id is a no-op.
func (b *Blocklist) Remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.ids, id)
}

// Replace swaps the whole set atomically.
func (b *Blocklist) Replace(ids []uint64) {
	next := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		next[id] = struct{}{}
	}

	b.mu.Lock()
	b.ids = next
	b.mu.Unlock()
}

// Len returns the number of blocked ids.
func (b *Blocklist) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.ids)
}

// IDs returns a copy of the blocked ids in no particular order.
func (b *Blocklist) IDs() []uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]uint64, 0, len(b.ids))
	for id := range b.ids {
		out = append(out, id)
	}
	return out
}

// LoadFile replaces the set with the ids listed in a .yaml, .yml or .json
// file of the form {ids: [...]}. On error the current set is kept.
func (b *Blocklist) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read blocklist: %w", err)
	}

	var f blocklistFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &f)
	case ".json":
		err = json.Unmarshal(data, &f)
	default:
		return fmt.Errorf("unsupported blocklist file extension: %s", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("parse blocklist %s: %w", path, err)
	}

	b.Replace(f.IDs)
	return nil
}

// Watch reloads the blocklist whenever path is written or recreated, until
// ctx is canceled. The parent directory is watched so editors that replace
// the file via rename are still seen. Reload failures are logged and the
// previous set stays in effect.
func (b *Blocklist) Watch(ctx context.Context, path string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if err := b.LoadFile(path); err != nil {
				logger.Warn("blocklist reload failed", zap.String("path", path), zap.Error(err))
				continue
			}
			logger.Info("blocklist reloaded", zap.String("path", path), zap.Int("entries", b.Len()))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("blocklist watcher error", zap.Error(err))
		}
	}
}
