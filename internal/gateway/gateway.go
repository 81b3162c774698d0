// Package gateway implements the hooks the command dispatcher runs around
// every command: blocklist authorization, request and command counting, and
// translation of failures into user-facing replies.
package gateway

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/fleetcore/internal/cache"
	"github.com/dreamware/fleetcore/internal/platform"
	"github.com/dreamware/fleetcore/internal/stats"
)

// Reply texts shown to users.
const (
	BlockedText = "This server or user is blocked from executing commands. " +
		"This may have happened due to abuse, spam, or other reasons. " +
		"If you feel that this has been done in error, request an unban in the support server."
	TooFastText = "You are sending requests too fast!"
)

// Gateway holds the pre, post and dispatch-error hooks.
//
// Thread Safety:
// Hooks are called concurrently, one goroutine per command. Gateway keeps no
// state of its own; the blocklist and counters lock internally.
type Gateway struct {
	store     *cache.Store
	stats     *stats.Aggregator
	messenger platform.Messenger
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the gateway logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithClock overrides time.Now for embed timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// NewGateway creates the command hooks. messenger may be nil, in which case
// replies are skipped.
func NewGateway(store *cache.Store, agg *stats.Aggregator, messenger platform.Messenger, opts ...Option) *Gateway {
	g := &Gateway{
		store:     store,
		stats:     agg,
		messenger: messenger,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Before runs ahead of every command and reports whether it may execute.
//
// A blocklisted author or guild gets a rejection reply and the command is
// aborted. Direct messages are checked against guild id 0.
func (g *Gateway) Before(ctx context.Context, msg platform.Message) bool {
	g.stats.PostRequest()

	guildID := msg.GuildID // zero outside a guild
	authorBlocked := g.store.Blocklist.Contains(msg.Author.ID)
	guildBlocked := g.store.Blocklist.Contains(guildID)
	if !authorBlocked && !guildBlocked {
		return true
	}

	g.reply(ctx, msg, BlockedText)
	if authorBlocked {
		g.logger.Warn("blocked user", zap.String("tag", msg.Author.Tag), zap.Uint64("user_id", msg.Author.ID))
	} else {
		g.logger.Warn("blocked guild", zap.Uint64("guild_id", guildID))
	}
	return false
}

// After runs once a command has finished, whatever its outcome. A command
// error is echoed back to the user; the command counter is bumped either way.
func (g *Gateway) After(ctx context.Context, msg platform.Message, command string, cmdErr error) {
	if cmdErr != nil {
		g.reply(ctx, msg, cmdErr.Error())
	}
	g.stats.CommandExecuted(command)
}

// DispatchError handles a command the dispatcher refused to run. Only rate
// limiting is reported to the user.
func (g *Gateway) DispatchError(ctx context.Context, msg platform.Message, kind platform.DispatchErrorKind) {
	if kind != platform.DispatchRateLimited {
		g.logger.Debug("ignoring dispatch error", zap.String("kind", string(kind)))
		return
	}
	g.reply(ctx, msg, TooFastText)
}

// reply sends a failure embed to the message's channel. Delivery failures,
// typically missing permissions, are logged at debug and otherwise ignored.
func (g *Gateway) reply(ctx context.Context, msg platform.Message, text string) {
	if g.messenger == nil {
		return
	}
	embed := platform.FailEmbed(msg.Author, text, g.now())
	if _, err := g.messenger.SendEmbed(ctx, msg.ChannelID, embed); err != nil {
		g.logger.Debug("reply delivery failed", zap.Uint64("channel_id", msg.ChannelID), zap.Error(err))
	}
}
