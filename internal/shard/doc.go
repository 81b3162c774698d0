// Package shard tracks shard readiness for a fleet of transport connections
// and turns N independent "shard ready" signals into a single fleet-ready
// transition.
//
// # Overview
//
// A bot that serves many guilds splits its gateway connection into N shards.
// Each shard connects on its own schedule and announces itself once it has
// received its initial guild list. The fleet is ready when every shard has
// announced, and the total guild count is the sum of the per-shard counts.
//
// The transport may deliver the same announcement more than once: a shard
// that reconnects replays its ready event, and a relay that retries a POST
// may deliver it twice. The tracker absorbs those replays so the fleet-ready
// side effects (stats push, presence broadcast, config update) run once.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────┐
//	│                       Tracker                         │
//	├──────────────────────────────────────────────────────┤
//	│  mu        sync.Mutex                                 │
//	│  expected  int               0 until the first signal │
//	│  reported  []uint64          guild count per arrival  │
//	│  seen      map[int]struct{}  shard indices counted    │
//	└──────────────────────────────────────────────────────┘
//	           ▲                              │
//	           │ Observe(ShardReady)          │ Report{Outcome, ...}
//	           │                              ▼
//	   events.Router.ShardReady ──► AddShard / fleetReady side effects
//
// The tracker performs no I/O and knows nothing about the caches or the
// stats aggregator. It only answers "what did this signal do".
//
// # Core Components
//
// Tracker:
//   - Owns the arrival tally and the set of counted shard indices
//   - Learns the fleet size from the first valid signal
//   - Never resets; one Tracker lives for one process boot
//
// Outcome:
//   - OutcomeAccepted: counted, fleet still waiting
//   - OutcomeDuplicate: replay or late arrival, nothing changed
//   - OutcomeFleetReady: this signal completed the fleet
//
// Report:
//   - Outcome plus Arrived and Expected after the signal
//   - TotalGuilds, set only with OutcomeFleetReady
//   - Anomaly, set when the signal declared a different fleet size
//
// State:
//   - Point-in-time copy for /stats and tests
//
// # Signal Lifecycle
//
// Two-shard boot with one replay:
//
//	signal               expected  reported   outcome
//	─────────────────────────────────────────────────────────
//	shard 0/2, 10 guilds     2      [10]       accepted
//	shard 0/2, 10 guilds     2      [10]       duplicate
//	shard 1/2, 15 guilds     2      [10 15]    fleet_ready (25)
//	shard 1/2, 15 guilds     2      [10 15]    duplicate
//
// Observe runs these steps in order:
//  1. Reject a non-positive total or an index outside [0, total)
//  2. Take the lock
//  3. Record the total if this is the first signal, otherwise compare it
//  4. Reject an index outside the recorded fleet size
//  5. Discard the signal if the fleet is complete or the index was counted
//  6. Append the guild count and mark the index
//  7. Report OutcomeFleetReady with the guild sum if the tally is full
//
// # Fleet Size
//
// The fleet size is not configured. The first valid signal's TotalShards is
// taken as authoritative. A later signal declaring a different total is still
// processed against the first total and reported with Anomaly set so the
// caller can log it at warn level. An index that only fits the later total is
// rejected with ErrInvalidSignal.
//
// # Concurrency Model
//
// Exactly once:
//   - The duplicate check, the append and the completion check share one
//     critical section
//   - Two concurrent signals can never both observe "one short" and both
//     report OutcomeFleetReady
//   - There is no separate ready flag read outside the lock
//
// Lock scope:
//   - Observe, Ready and State each take the mutex once and release it
//     before returning
//   - The tracker never calls out while holding the lock
//   - Validation of the payload happens before the lock is taken
//
// Callers run fleet-ready side effects after Observe returns, so slow I/O in
// one handler never delays another shard's signal.
//
// # Error Handling
//
// ErrInvalidSignal (wrapped with the shard index and total) is returned for
// payloads that cannot belong to any fleet. State is not modified in that
// case. A duplicate is not an error: it is an Outcome, and the router logs it
// at info level.
//
// # Usage Example
//
//	tr := shard.NewTracker()
//
//	rep, err := tr.Observe(platform.ShardReady{ShardIndex: 0, TotalShards: 2, GuildCount: 10})
//	if err != nil {
//	    // malformed signal, log and drop
//	}
//	if rep.Anomaly {
//	    // shard disagrees about the fleet size
//	}
//	switch rep.Outcome {
//	case shard.OutcomeDuplicate:
//	    // replay, nothing to do
//	case shard.OutcomeFleetReady:
//	    // run the one-time side effects with rep.TotalGuilds
//	}
//
// # Testing
//
// The test suite covers:
//   - The two-shard boot from start to finish
//   - Replays before and after completion
//   - Malformed payloads and fleet-size anomalies
//   - Random arrival orders, checked against the exactly-once property
//   - Many goroutines delivering every signal several times
//
// Thread Safety:
// Tracker is safe for concurrent use. It performs no I/O.
//
// # See Also
//
// Related packages:
//   - events: routes shard-ready signals into the tracker and runs the
//     fleet-ready side effects
//   - stats: counts ready shards for the external stats push
//   - platform: the ShardReady payload
package shard
