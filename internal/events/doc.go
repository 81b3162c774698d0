// Package events routes transport lifecycle events into fleetcore state.
//
// # Overview
//
// The transport delivers five kinds of lifecycle event: guild create, guild
// delete, shard ready, resumed and message delete. Router has one method per
// kind. Each method updates the counters first and then schedules whatever
// network calls the event implies (audit log post, stats push, presence
// broadcast, reply delete).
//
// # Event Flow
//
//	  transport ──► Router ──► Tracker / Aggregator / Store   (locked, brief)
//	                  │
//	                  └──► Tasks ──► Messenger, PresenceManager, StatsSink
//	                                 (detached, timeout bounded, warn on error)
//
// Every handler completes its counter mutations synchronously and hands the
// network side effects to Tasks. A failed audit post or stats push is logged
// and never unwinds the mutation that preceded it.
//
// # Core Components
//
// Router:
//   - Holds the cache store, stats aggregator, shard tracker and messenger
//   - Configured with WithLogger, WithJoinFreshness and WithClock
//   - messenger may be nil; audit posts and cascade deletes are then skipped
//
// Tasks:
//   - errgroup-backed runner for detached side effects
//   - Each task gets a context derived from the base context with
//     DefaultTaskTimeout (or the configured timeout)
//   - Failures are logged at warn with the task name; Wait never returns them
//
// # Guild Joins
//
// After a reconnect the transport replays a guild-create for every guild the
// bot is already in. Only joins whose join time is within the freshness window
// (DefaultJoinFreshness) count as new servers. Backfilled guilds are logged at
// debug and dropped before any counter moves.
//
// A real join or leave:
//  1. Moves the server counter
//  2. Requires BOT_ID; without it the side effects are abandoned with an
//     error log, but the counter change stands
//  3. Posts an embed to the JOIN_LOG channel if one is configured
//  4. Pushes the stats when tracking is enabled
//  5. Broadcasts the new server count as presence
//
// # Fleet Ready
//
// ShardReady feeds shard.Tracker. The one signal that completes the fleet
// stores the fleet totals in the config cache, sets the server count, pushes
// it to the stats sink and broadcasts presence. Replays are logged and
// dropped.
//
// The server count is set before ShardReady returns. Only the push and the
// presence broadcast are detached, so a join handled right after fleet ready
// always counts on top of the fleet total.
//
// # Cascade Deletes
//
// RecordReply links a user message to the bot reply it produced. When the
// user message is deleted, MessageDelete takes the correlation and deletes
// the reply. A delete failure is logged at debug; the correlation is consumed
// either way, so a repeated delete notification does nothing.
//
// # Concurrency Model
//
//   - Router holds no lock of its own; every piece of state it touches locks
//     internally
//   - Handlers may run concurrently for any mix of events
//   - No handler holds a lock across a network call
//   - Router.Wait blocks until every detached task has finished and is called
//     once during shutdown, after no more events can arrive
//
// # Usage Example
//
//	tasks := events.NewTasks(ctx, 10*time.Second, logger)
//	router := events.NewRouter(store, agg, shard.NewTracker(), messenger, tasks,
//	    events.WithLogger(logger))
//
//	router.ShardReady(ctx, platform.ShardReady{ShardIndex: 0, TotalShards: 1, GuildCount: 25})
//	router.GuildCreate(ctx, join)
//
//	// on shutdown
//	router.Wait()
//
// # Testing
//
// Tests drive the router with in-memory fakes for the messenger, presence
// manager and stats sink, and a fixed clock. They cover the two-shard boot,
// duplicate and concurrent shard signals, the freshness window, missing
// BOT_ID, join and leave interleaving, cascade deletes and task timeouts.
// The package runs under goleak.
//
// # See Also
//
// Related packages:
//   - shard: exactly-once fleet readiness
//   - stats: counters and the external stats push
//   - cache: config, pending replies and collaborator handles
package events
