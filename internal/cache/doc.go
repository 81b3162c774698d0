// Package cache provides the shared, concurrently accessed state that every
// fleetcore event handler reads: boot configuration, the command blocklist,
// reply correlations for cascade deletes, and the collaborator handles.
//
// # Overview
//
// Handlers run one goroutine per inbound event. They all need the same few
// pieces of state, but rarely more than one at a time. Instead of a single
// global lock, each container carries its own, so a config read in one
// handler never waits on a reply being recorded in another.
//
// # Architecture
//
//	┌──────────────────────────────────────────────┐
//	│                    Store                     │
//	├──────────────────────────────────────────────┤
//	│  Config     RWMutex  map[string]string       │
//	│  Blocklist  RWMutex  set of uint64           │
//	│  Pending    Mutex    trigger id → Reply      │
//	│  Handles    RWMutex  presence mgr, sink      │
//	└──────────────────────────────────────────────┘
//	      ▲            ▲             ▲        ▲
//	      │            │             │        │
//	  fleet-ready   gateway      commands   join/leave,
//	  (BOT_ID)      (Before)     & deletes  fleet-ready
//
// Store is a plain registry of pointers. It has no lock of its own and no
// methods beyond construction.
//
// # Core Components
//
// ConfigStore:
//   - String keys and values, written mostly at boot
//   - Typed helpers for snowflake ids (RequireUint64, LookupUint64)
//   - Scoped multi-key reads through View
//
// Blocklist:
//   - Set of user and guild ids whose commands are refused
//   - Seeded and reloaded from a YAML or JSON file
//   - Administered at runtime with Add and Remove
//
// PendingMessages:
//   - Maps a triggering message id to the bot reply it produced
//   - Entries are consumed by Take when the trigger is deleted
//
// Handles:
//   - The presence manager and the stats sink
//   - Each is installed once; a second install returns ErrHandleInstalled
//
// # Operations
//
// Read Operations:
//   - ConfigStore.Get, Lookup, Require, View, Snapshot
//   - Blocklist.Contains, Len, IDs
//   - PendingMessages.Len
//   - Handles.Manager, Sink
//
// Write Operations:
//   - ConfigStore.Set, SetMany
//   - Blocklist.Add, Remove, Replace, LoadFile
//   - PendingMessages.Record, Take
//   - Handles.SetManager, SetSink
//
// # Lookup Semantics
//
// Two kinds of miss are distinguished:
//
//   - ErrKeyNotFound / (v, false): an optional feature is not configured, for
//     example no JOIN_LOG audit channel. The caller skips that feature.
//   - ErrConfigurationFault: a key that must exist by now (BOT_ID) is missing
//     or unparsable. The caller logs at error level and abandons the current
//     code path.
//
// Both are wrapped with the key name, so callers match with errors.Is.
//
// # Blocklist Administration
//
// The blocklist file holds a single list:
//
//	# blocklist.yaml
//	ids:
//	  - 123456789012345678
//	  - 234567890123456789
//
// LoadFile picks the decoder from the extension (.yaml, .yml or .json) and
// swaps the whole set in one write. A file that fails to read or parse leaves
// the current set in place.
//
// Watch uses fsnotify on the file's parent directory, so an editor that saves
// by writing a temp file and renaming it over the original is still seen.
// Events for other files in the directory are ignored. Reload failures are
// logged at warn level and the watch continues until its context is canceled.
//
// # Reply Correlation
//
//	user message 42 ──► command handler ──► bot reply 77
//	                         │
//	                         └─► Pending.Record(42, Reply{channel, 77})
//
//	delete of 42 ──► Pending.Take(42) ──► delete reply 77
//	delete of 42 ──► Pending.Take(42) ──► (nothing)
//
// Take removes an entry in the same critical section that finds it. A second
// delete notification for the same trigger therefore finds nothing and does
// nothing. Triggers that are never deleted stay in the map.
//
// # Concurrency Model
//
// Lock discipline:
//   - Every accessor takes exactly one container lock and releases it before
//     returning. No method of one container calls into another.
//   - No lock is held across network I/O. Callers copy what they need out and
//     perform sends afterwards.
//   - ConfigStore.View hands out a scoped read lock whose release is deferred,
//     so an error or panic inside the callback cannot leak it.
//
// Lock choice:
//   - Config, Blocklist and Handles are read far more than written and use
//     sync.RWMutex
//   - Pending is mutated on every access and uses sync.Mutex
//
// Returned slices and maps (IDs, Snapshot) are copies and may be modified by
// the caller.
//
// # Usage Example
//
//	store := cache.NewStore()
//	store.Config.SetMany(map[string]string{
//	    "BOT_ID":   "111111111111111111",
//	    "JOIN_LOG": "222222222222222222",
//	})
//	if err := store.Blocklist.LoadFile("blocklist.yaml"); err != nil {
//	    logger.Warn("blocklist not loaded", zap.Error(err))
//	}
//	go store.Blocklist.Watch(ctx, "blocklist.yaml", logger)
//
//	botID, err := store.Config.RequireUint64("BOT_ID")
//	if errors.Is(err, cache.ErrConfigurationFault) {
//	    // abandon this code path
//	}
//
//	if reply, ok := store.Pending.Take(triggerID); ok {
//	    // delete reply.MessageID in reply.ChannelID
//	}
//
// # Testing
//
// The test suite covers:
//   - Required and optional lookups, including unparsable ids
//   - View releasing its lock after an error
//   - Blocklist file loading in both formats and reload through Watch
//   - Concurrent Take handing each entry out once
//   - Single installation of each handle
//
// Tests run under goleak so a Watch left running fails the package.
//
// # See Also
//
// Related packages:
//   - events: the router that reads and writes these containers
//   - gateway: the command gate that consults the blocklist
//   - config: the process configuration that seeds ConfigStore
package cache
