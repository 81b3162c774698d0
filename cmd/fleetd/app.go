package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/dreamware/fleetcore/internal/cache"
	"github.com/dreamware/fleetcore/internal/config"
	"github.com/dreamware/fleetcore/internal/events"
	"github.com/dreamware/fleetcore/internal/gateway"
	"github.com/dreamware/fleetcore/internal/platform"
	"github.com/dreamware/fleetcore/internal/relay"
	"github.com/dreamware/fleetcore/internal/shard"
	"github.com/dreamware/fleetcore/internal/stats"
)

// Event type names accepted on /events/{type} and in websocket envelopes.
const (
	eventShardReady    = "shard-ready"
	eventGuildCreate   = "guild-create"
	eventGuildDelete   = "guild-delete"
	eventMessageDelete = "message-delete"
	eventResumed       = "resumed"
)

var (
	errUnknownEvent = errors.New("unknown event type")
	errBadPayload   = errors.New("bad event payload")
)

// app is everything a request handler needs.
type app struct {
	store   *cache.Store
	stats   *stats.Aggregator
	tracker *shard.Tracker
	router  *events.Router
	gateway *gateway.Gateway
	limiter *gateway.Limiter
	gather  prometheus.Gatherer
	logger  *zap.Logger

	streamsMu sync.Mutex
	streams   map[*websocket.Conn]struct{}
	closing   bool           // set by closeStreams; no stream is tracked after
	streamsWG sync.WaitGroup // one per running stream handler
}

// newApp builds the store, installs collaborator handles and wires the event
// router and command gateway on top of them.
func newApp(cfg config.Config, logger *zap.Logger, reg *prometheus.Registry) (*app, error) {
	store := cache.NewStore()
	cfg.Seed(store.Config)

	var messenger platform.Messenger
	if cfg.Relay.URL != "" {
		rc := relay.NewClient(cfg.Relay.URL, cfg.Relay.Token)
		messenger = rc
		if err := store.Handles.SetManager(rc); err != nil {
			return nil, err
		}
	} else {
		logger.Warn("no relay configured, audit posts and presence updates are disabled")
	}

	if cfg.TrackingEnabled() {
		if err := store.Handles.SetSink(stats.NewHTTPSink(cfg.Sink.URL, cfg.Sink.Token)); err != nil {
			return nil, err
		}
	}

	if cfg.BlocklistFile != "" {
		if err := store.Blocklist.LoadFile(cfg.BlocklistFile); err != nil {
			logger.Warn("starting with an empty blocklist", zap.Error(err))
		} else {
			logger.Info("blocklist loaded", zap.Int("entries", store.Blocklist.Len()))
		}
	}

	agg := stats.NewAggregator(store.Handles,
		stats.WithMetrics(stats.NewMetrics(reg)),
		stats.WithLogger(logger.Named("stats")))
	tracker := shard.NewTracker()
	tasks := events.NewTasks(context.Background(), time.Duration(cfg.TaskTimeout), logger.Named("tasks"))

	return &app{
		store:   store,
		stats:   agg,
		tracker: tracker,
		router: events.NewRouter(store, agg, tracker, messenger, tasks,
			events.WithLogger(logger.Named("events")),
			events.WithJoinFreshness(time.Duration(cfg.JoinFreshness))),
		gateway: gateway.NewGateway(store, agg, messenger, gateway.WithLogger(logger.Named("gateway"))),
		limiter: gateway.NewLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst),
		gather:  reg,
		logger:  logger,
		streams: make(map[*websocket.Conn]struct{}),
	}, nil
}

// dispatch decodes data as the payload for kind and hands it to the router.
func (a *app) dispatch(ctx context.Context, kind string, data []byte) error {
	switch kind {
	case eventShardReady:
		ev, err := decode[platform.ShardReady](data)
		if err != nil {
			return err
		}
		a.router.ShardReady(ctx, ev)
	case eventGuildCreate:
		ev, err := decode[platform.GuildJoin](data)
		if err != nil {
			return err
		}
		a.router.GuildCreate(ctx, ev)
	case eventGuildDelete:
		ev, err := decode[platform.GuildLeave](data)
		if err != nil {
			return err
		}
		a.router.GuildDelete(ctx, ev)
	case eventMessageDelete:
		ev, err := decode[platform.MessageDelete](data)
		if err != nil {
			return err
		}
		a.router.MessageDelete(ctx, ev)
	case eventResumed:
		ev, err := decode[platform.Resumed](data)
		if err != nil {
			return err
		}
		a.router.Resumed(ctx, ev)
	default:
		return fmt.Errorf("%w: %q", errUnknownEvent, kind)
	}
	return nil
}

// decode treats an empty body as the zero payload.
func decode[T any](data []byte) (T, error) {
	var v T
	if len(bytes.TrimSpace(data)) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %v", errBadPayload, err)
	}
	return v, nil
}
