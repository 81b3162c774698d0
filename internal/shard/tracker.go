package shard

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dreamware/fleetcore/internal/platform"
)

// ErrInvalidSignal is returned for shard-ready payloads that cannot belong to
// any fleet: a non-positive total or an index outside [0, total).
var ErrInvalidSignal = errors.New("invalid shard-ready signal")

// Outcome is what the tracker did with a shard-ready signal.
type Outcome int

const (
	// OutcomeAccepted means the shard was counted and the fleet is still waiting.
	OutcomeAccepted Outcome = iota
	// OutcomeDuplicate means the signal was a replay and nothing changed.
	OutcomeDuplicate
	// OutcomeFleetReady means this signal completed the fleet. Returned once.
	OutcomeFleetReady
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeFleetReady:
		return "fleet_ready"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Report describes the tracker state right after a signal was observed.
type Report struct {
	Outcome     Outcome
	Arrived     int    // Shards counted so far
	Expected    int    // Authoritative fleet size (first total seen)
	TotalGuilds uint64 // Sum of per-shard guild counts; set on OutcomeFleetReady
	Anomaly     bool   // Signal declared a total different from Expected
}

// State is a point-in-time copy of the tracker.
type State struct {
	Reported []uint64 `json:"reported"` // Guild count per shard, in arrival order
	Arrived  int      `json:"arrived"`
	Expected int      `json:"expected"`
	Ready    bool     `json:"ready"`
}

// Tracker aggregates shard-ready signals into a single fleet-ready transition.
//
// The fleet size is learned from the first signal. Signals for shards that
// were already counted, or that arrive once the fleet is complete, are
// discarded without touching state. The duplicate check and the increment run
// under one lock, so concurrent signals can never both see "one short" and
// both complete the fleet.
//
// Thread Safety:
// All methods are safe for concurrent use. Tracker never calls out while
// holding its lock.
type Tracker struct {
	mu       sync.Mutex
	reported []uint64         // guild counts in arrival order
	seen     map[int]struct{} // shard indices already counted
	expected int              // 0 until the first valid signal
}

// NewTracker creates a tracker waiting for its first signal.
func NewTracker() *Tracker {
	return &Tracker{
		seen: make(map[int]struct{}),
	}
}

// Observe records a shard-ready signal and reports the transition it caused.
//
// Returns ErrInvalidSignal (wrapped) for malformed payloads; state is not
// modified in that case.
func (t *Tracker) Observe(sig platform.ShardReady) (Report, error) {
	if sig.TotalShards <= 0 || sig.ShardIndex < 0 || sig.ShardIndex >= sig.TotalShards {
		return Report{}, fmt.Errorf("shard %d of %d: %w", sig.ShardIndex, sig.TotalShards, ErrInvalidSignal)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rep := Report{}
	if t.expected == 0 {
		t.expected = sig.TotalShards
	} else if sig.TotalShards != t.expected {
		rep.Anomaly = true
	}
	rep.Expected = t.expected

	if sig.ShardIndex >= t.expected {
		rep.Arrived = len(t.reported)
		return rep, fmt.Errorf("shard %d outside fleet of %d: %w", sig.ShardIndex, t.expected, ErrInvalidSignal)
	}

	// A late ready after the fleet completed, or a replay of a counted shard.
	_, counted := t.seen[sig.ShardIndex]
	if len(t.reported)+1 > t.expected || counted {
		rep.Outcome = OutcomeDuplicate
		rep.Arrived = len(t.reported)
		return rep, nil
	}

	t.reported = append(t.reported, sig.GuildCount)
	t.seen[sig.ShardIndex] = struct{}{}
	rep.Arrived = len(t.reported)

	if rep.Arrived == t.expected {
		rep.Outcome = OutcomeFleetReady
		for _, n := range t.reported {
			rep.TotalGuilds += n
		}
		return rep, nil
	}

	rep.Outcome = OutcomeAccepted
	return rep, nil
}

// Ready reports whether every shard of the fleet has been counted.
func (t *Tracker) Ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expected > 0 && len(t.reported) == t.expected
}

// State returns a copy of the tracker state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	reported := make([]uint64, len(t.reported))
	copy(reported, t.reported)
	return State{
		Reported: reported,
		Arrived:  len(t.reported),
		Expected: t.expected,
		Ready:    t.expected > 0 && len(t.reported) == t.expected,
	}
}
