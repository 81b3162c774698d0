// Package platform declares the payloads and collaborator contracts that sit
// between fleetcore and the chat-platform transport. Nothing in here talks to
// the network; implementations live in relay and stats.
package platform

import (
	"context"
	"errors"
	"time"
)

// ErrNotConfigured is returned when a collaborator handle was never installed.
var ErrNotConfigured = errors.New("collaborator not configured")

// ShardReady is delivered once per shard when its gateway session becomes ready.
// Transports may replay it after a reconnect.
type ShardReady struct {
	AvatarURL   string `json:"avatar_url,omitempty"`
	GuildCount  uint64 `json:"guild_count"`
	ShardIndex  int    `json:"shard_index"`
	TotalShards int    `json:"total_shards"`
}

// GuildJoin is delivered whenever a guild becomes available, including
// backfill after a reconnect. JoinedAt separates real joins from backfill.
type GuildJoin struct {
	JoinedAt time.Time `json:"joined_at"`
	Name     string    `json:"name"`
	GuildID  uint64    `json:"guild_id,string"`
}

type GuildLeave struct {
	GuildID uint64 `json:"guild_id,string"`
}

type MessageDelete struct {
	ChannelID uint64 `json:"channel_id,string"`
	MessageID uint64 `json:"message_id,string"`
}

type Resumed struct {
	ShardIndex int `json:"shard_index"`
}

// User is the invoking author of a command message.
type User struct {
	Tag string `json:"tag"`
	ID  uint64 `json:"id,string"`
}

// Message is the command message handed to the gateway hooks.
// GuildID is zero for direct messages.
type Message struct {
	Author    User   `json:"author"`
	ID        uint64 `json:"id,string"`
	ChannelID uint64 `json:"channel_id,string"`
	GuildID   uint64 `json:"guild_id,string,omitempty"`
}

// DispatchErrorKind classifies why the command framework refused to dispatch.
type DispatchErrorKind string

const (
	DispatchRateLimited   DispatchErrorKind = "rate_limited"
	DispatchCheckFailed   DispatchErrorKind = "check_failed"
	DispatchNotEnoughArgs DispatchErrorKind = "not_enough_args"
)

// Aggregate is the payload pushed to the external stats sink.
type Aggregate struct {
	ServerCount uint64 `json:"server_count"`
	ShardCount  uint64 `json:"shard_count"`
}

// Messenger sends and deletes channel messages through the transport.
type Messenger interface {
	SendEmbed(ctx context.Context, channelID uint64, embed Embed) (uint64, error)
	DeleteMessage(ctx context.Context, channelID, messageID uint64) error
}

// PresenceManager broadcasts a presence update to every shard.
type PresenceManager interface {
	SetGlobalPresence(ctx context.Context, guildCount uint64) error
}

// StatsSink receives aggregate usage statistics. Calls are best-effort.
type StatsSink interface {
	PostAggregate(ctx context.Context, botID uint64, agg Aggregate) error
}
