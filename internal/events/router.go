package events

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/fleetcore/internal/cache"
	"github.com/dreamware/fleetcore/internal/platform"
	"github.com/dreamware/fleetcore/internal/shard"
	"github.com/dreamware/fleetcore/internal/stats"
)

// DefaultJoinFreshness is how old a guild join may be and still count as a
// real join rather than backfill after a reconnect.
const DefaultJoinFreshness = 30 * time.Second

// Router turns transport lifecycle events into counter updates and
// best-effort side effects.
//
// Each handler mutates state through the tracker, aggregator and caches (all of
// which lock internally and briefly) and then hands network work to Tasks. No
// handler performs I/O while any of those locks is held.
type Router struct {
	store     *cache.Store
	stats     *stats.Aggregator
	tracker   *shard.Tracker
	messenger platform.Messenger
	tasks     *Tasks
	logger    *zap.Logger
	now       func() time.Time
	freshness time.Duration
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithJoinFreshness overrides DefaultJoinFreshness.
func WithJoinFreshness(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.freshness = d
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// NewRouter wires a router. messenger may be nil, in which case audit posts
// and cascade deletes are skipped.
func NewRouter(store *cache.Store, agg *stats.Aggregator, tracker *shard.Tracker, messenger platform.Messenger, tasks *Tasks, opts ...Option) *Router {
	r := &Router{
		store:     store,
		stats:     agg,
		tracker:   tracker,
		messenger: messenger,
		tasks:     tasks,
		logger:    zap.NewNop(),
		now:       time.Now,
		freshness: DefaultJoinFreshness,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GuildCreate handles a guild becoming available. Only joins newer than the
// freshness window are treated as real joins; the rest are reconnect backfill
// and ignored.
func (r *Router) GuildCreate(_ context.Context, ev platform.GuildJoin) {
	if !ev.JoinedAt.Add(r.freshness).After(r.now()) {
		r.logger.Debug("ignoring backfilled guild", zap.Uint64("guild_id", ev.GuildID))
		return
	}

	r.stats.NewServer()
	serverCount := r.stats.ServerCount()

	botID, err := r.store.Config.RequireUint64(cache.KeyBotID)
	if err != nil {
		r.logger.Error("abandoning guild join side effects", zap.Uint64("guild_id", ev.GuildID), zap.Error(err))
		return
	}

	r.audit(platform.JoinEmbed(ev))
	r.publish(botID)
	r.presence(serverCount)

	r.logger.Info("joining guild", zap.String("name", ev.Name), zap.Uint64("guild_id", ev.GuildID))
}

// GuildDelete handles the bot leaving or being removed from a guild.
func (r *Router) GuildDelete(_ context.Context, ev platform.GuildLeave) {
	r.stats.LeaveServer()
	serverCount := r.stats.ServerCount()

	botID, err := r.store.Config.RequireUint64(cache.KeyBotID)
	if err != nil {
		r.logger.Error("abandoning guild leave side effects", zap.Uint64("guild_id", ev.GuildID), zap.Error(err))
		return
	}

	r.audit(platform.LeaveEmbed(ev.GuildID, r.now()))
	r.publish(botID)
	r.presence(serverCount)

	r.logger.Info("leaving guild", zap.Uint64("guild_id", ev.GuildID))
}

// ShardReady feeds the readiness tracker and runs the fleet-ready side
// effects on the one signal that completes the fleet.
func (r *Router) ShardReady(_ context.Context, ev platform.ShardReady) {
	log := r.logger.With(zap.Int("shard", ev.ShardIndex))
	log.Info("shard ready", zap.Int("total", ev.TotalShards), zap.Uint64("guilds", ev.GuildCount))

	rep, err := r.tracker.Observe(ev)
	if rep.Anomaly {
		log.Warn("shard declared a different fleet size",
			zap.Int("declared", ev.TotalShards),
			zap.Int("expected", rep.Expected))
	}
	if err != nil {
		log.Warn("rejecting shard ready signal", zap.Error(err))
		return
	}

	switch rep.Outcome {
	case shard.OutcomeDuplicate:
		log.Info("skipping duplicate ready event", zap.Int("arrived", rep.Arrived), zap.Int("expected", rep.Expected))
		return
	case shard.OutcomeAccepted:
		r.stats.AddShard(ev.GuildCount)
	case shard.OutcomeFleetReady:
		r.stats.AddShard(ev.GuildCount)
		r.fleetReady(ev, rep)
	}
}

// fleetReady runs exactly once per process, on the signal that completed the fleet.
func (r *Router) fleetReady(ev platform.ShardReady, rep shard.Report) {
	entries := map[string]string{
		cache.KeyFleetGuilds: strconv.FormatUint(rep.TotalGuilds, 10),
		cache.KeyFleetShards: strconv.Itoa(rep.Expected),
	}
	if ev.AvatarURL != "" {
		entries[cache.KeyBotAvatar] = ev.AvatarURL
	}
	r.store.Config.SetMany(entries)

	// The count is set before returning so a join handled next builds on it.
	r.stats.SetServers(rep.TotalGuilds)
	if r.stats.ShouldTrack() {
		botID, err := r.store.Config.RequireUint64(cache.KeyBotID)
		if err != nil {
			r.logger.Error("skipping fleet ready stats push", zap.Error(err))
		} else {
			r.publish(botID)
		}
	}

	r.presence(rep.TotalGuilds)

	r.logger.Info("fleet ready", zap.Uint64("guilds", rep.TotalGuilds), zap.Int("shards", rep.Expected))
}

// Resumed only logs; a resumed session replays nothing that needs counting.
func (r *Router) Resumed(_ context.Context, ev platform.Resumed) {
	r.logger.Info("resumed", zap.Int("shard", ev.ShardIndex))
}

// MessageDelete cascades the deletion of a user message to the bot reply it
// triggered, if one was recorded. The correlation is consumed either way.
func (r *Router) MessageDelete(ctx context.Context, ev platform.MessageDelete) {
	reply, ok := r.store.Pending.Take(ev.MessageID)
	if !ok || r.messenger == nil {
		return
	}
	if err := r.messenger.DeleteMessage(ctx, reply.ChannelID, reply.MessageID); err != nil {
		r.logger.Debug("correlated reply delete failed",
			zap.Uint64("message_id", reply.MessageID),
			zap.Error(err))
	}
}

// RecordReply links a user message to the bot reply it produced.
func (r *Router) RecordReply(trigger uint64, reply cache.Reply) {
	r.store.Pending.Record(trigger, reply)
}

// Wait blocks until all detached side effects have finished.
func (r *Router) Wait() {
	r.tasks.Wait()
}

// audit posts embed to the JOIN_LOG channel, if one is configured.
func (r *Router) audit(embed platform.Embed) {
	channel, ok := r.store.Config.LookupUint64(cache.KeyJoinLog)
	if !ok || r.messenger == nil {
		return
	}
	r.tasks.Go("audit log", func(ctx context.Context) error {
		_, err := r.messenger.SendEmbed(ctx, channel, embed)
		return err
	})
}

func (r *Router) publish(botID uint64) {
	if !r.stats.ShouldTrack() {
		return
	}
	r.tasks.Go("stats push", func(ctx context.Context) error {
		r.stats.Publish(ctx, botID)
		return nil
	})
}

func (r *Router) presence(guildCount uint64) {
	r.tasks.Go("presence", func(ctx context.Context) error {
		m, ok := r.store.Handles.Manager()
		if !ok {
			return platform.ErrNotConfigured
		}
		return m.SetGlobalPresence(ctx, guildCount)
	})
}
