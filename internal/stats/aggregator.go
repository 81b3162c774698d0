// Package stats owns the fleet's usage counters and publishes them to the
// external stats sink.
package stats

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/dreamware/fleetcore/internal/cache"
	"github.com/dreamware/fleetcore/internal/platform"
)

// CommandCount is one row of Snapshot.Commands.
type CommandCount struct {
	Name  string `json:"name"`
	Count uint64 `json:"count"`
}

// Snapshot is a copy of the counters taken under the lock.
type Snapshot struct {
	Commands    []CommandCount `json:"commands"`
	ServerCount uint64         `json:"server_count"`
	ShardCount  uint64         `json:"shard_count"`
	Requests    uint64         `json:"requests"`
	Tracking    bool           `json:"tracking"`
}

// Aggregator holds the authoritative usage counters.
//
// Every mutation runs under one mutex and does no I/O. Pushes to the sink copy
// the counters, release the lock and only then call out; failures are logged
// and never returned.
//
// Tracking is on only when a sink handle is installed and it was not disabled
// explicitly. With tracking off every operation is a no-op.
type Aggregator struct {
	mu          sync.Mutex
	commands    map[string]uint64
	serverCount uint64
	shardCount  uint64
	requests    uint64

	handles  *cache.Handles
	metrics  *Metrics
	logger   *zap.Logger
	disabled bool
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithMetrics mirrors counters into Prometheus.
func WithMetrics(m *Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// WithLogger sets the logger used for push failures.
func WithLogger(l *zap.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

// Disabled turns tracking off even if a sink is installed.
func Disabled() Option {
	return func(a *Aggregator) { a.disabled = true }
}

// NewAggregator creates an aggregator that reads the sink from handles.
func NewAggregator(handles *cache.Handles, opts ...Option) *Aggregator {
	a := &Aggregator{
		commands: make(map[string]uint64),
		handles:  handles,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ShouldTrack gates every other operation.
func (a *Aggregator) ShouldTrack() bool {
	if a.disabled || a.handles == nil {
		return false
	}
	_, ok := a.handles.Sink()
	return ok
}

// NewServer counts one guild join. Call at most once per join notification.
func (a *Aggregator) NewServer() {
	if !a.ShouldTrack() {
		return
	}
	a.mu.Lock()
	a.serverCount++
	a.mirrorLocked()
	a.mu.Unlock()
}

// LeaveServer counts one guild leave, never going below zero.
func (a *Aggregator) LeaveServer() {
	if !a.ShouldTrack() {
		return
	}
	a.mu.Lock()
	if a.serverCount > 0 {
		a.serverCount--
	}
	a.mirrorLocked()
	a.mu.Unlock()
}

// AddShard counts one ready shard. The per-shard guild tally itself is kept
// by shard.Tracker; guildCount is accepted for the debug log only.
func (a *Aggregator) AddShard(guildCount uint64) {
	if !a.ShouldTrack() {
		return
	}
	a.mu.Lock()
	a.shardCount++
	a.mirrorLocked()
	a.mu.Unlock()
	a.logger.Debug("shard counted", zap.Uint64("guilds", guildCount))
}

// CommandExecuted counts one execution of the named command.
func (a *Aggregator) CommandExecuted(name string) {
	if !a.ShouldTrack() {
		return
	}
	a.mu.Lock()
	a.commands[name]++
	a.mu.Unlock()
	a.metrics.command(name)
}

// PostRequest counts one inbound command attempt.
func (a *Aggregator) PostRequest() {
	if !a.ShouldTrack() {
		return
	}
	a.mu.Lock()
	a.requests++
	a.mu.Unlock()
	a.metrics.request()
}

// SetServers replaces the server count with count, the aggregate computed at
// fleet-ready.
func (a *Aggregator) SetServers(count uint64) {
	if !a.ShouldTrack() {
		return
	}
	a.mu.Lock()
	a.serverCount = count
	a.mirrorLocked()
	a.mu.Unlock()
}

// PostServers is SetServers followed by Publish.
func (a *Aggregator) PostServers(ctx context.Context, botID, count uint64) {
	a.SetServers(count)
	a.Publish(ctx, botID)
}

// Publish pushes the current counters to the sink.
func (a *Aggregator) Publish(ctx context.Context, botID uint64) {
	if !a.ShouldTrack() {
		return
	}
	sink, ok := a.handles.Sink()
	if !ok {
		return
	}

	a.mu.Lock()
	agg := platform.Aggregate{ServerCount: a.serverCount, ShardCount: a.shardCount}
	a.mu.Unlock()

	if err := sink.PostAggregate(ctx, botID, agg); err != nil {
		a.metrics.pushFailed()
		a.logger.Warn("failed to post stats to sink",
			zap.Uint64("server_count", agg.ServerCount),
			zap.Uint64("shard_count", agg.ShardCount),
			zap.Error(err))
	}
}

// ServerCount returns the current guild count.
func (a *Aggregator) ServerCount() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.serverCount
}

// ShardCount returns the number of shards counted.
func (a *Aggregator) ShardCount() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.shardCount
}

// CommandCount returns the executions recorded for name.
func (a *Aggregator) CommandCount(name string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.commands[name]
}

// Snapshot copies every counter. Commands are sorted by name.
func (a *Aggregator) Snapshot() Snapshot {
	tracking := a.ShouldTrack()

	a.mu.Lock()
	defer a.mu.Unlock()

	names := make([]string, 0, len(a.commands))
	for n := range a.commands {
		names = append(names, n)
	}
	slices.Sort(names)
	cmds := make([]CommandCount, 0, len(names))
	for _, n := range names {
		cmds = append(cmds, CommandCount{Name: n, Count: a.commands[n]})
	}
	return Snapshot{
		Commands:    cmds,
		ServerCount: a.serverCount,
		ShardCount:  a.shardCount,
		Requests:    a.requests,
		Tracking:    tracking,
	}
}

// mirrorLocked copies the gauges into metrics. Caller holds a.mu.
func (a *Aggregator) mirrorLocked() {
	a.metrics.setCounts(a.serverCount, a.shardCount)
}
