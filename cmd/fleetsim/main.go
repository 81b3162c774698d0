// Command fleetsim plays the transport role against a running fleetd: it
// brings up a simulated shard fleet, optionally replays ready events, and can
// follow up with a burst of guild joins and leaves.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/fleetcore/internal/platform"
	"github.com/dreamware/fleetcore/internal/relay"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

type simOptions struct {
	target         string
	shards         int
	guildsPerShard uint64
	duplicates     int
	joins          int
	leaves         int
	concurrency    int
	retries        int
	backoff        time.Duration
}

// simResult counts the events fleetd accepted.
type simResult struct {
	Ready      int64
	Duplicates int64
	Joins      int64
	Leaves     int64
}

func newRootCmd() *cobra.Command {
	opts := simOptions{}
	var verbose bool

	cmd := &cobra.Command{
		Use:          "fleetsim",
		Short:        "Simulate a shard fleet booting against fleetd",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			zc := zap.NewDevelopmentConfig()
			if !verbose {
				zc.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
			}
			logger, err := zc.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := simulate(ctx, opts, logger)
			if err != nil {
				return err
			}
			logger.Info("simulation finished",
				zap.Int64("ready", res.Ready),
				zap.Int64("duplicates", res.Duplicates),
				zap.Int64("joins", res.Joins),
				zap.Int64("leaves", res.Leaves))

			var st json.RawMessage
			if err := getJSON(ctx, opts.target+"/stats", &st); err != nil {
				logger.Warn("could not read fleetd stats", zap.Error(err))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(st))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.target, "target", getenv("FLEET_SIM_TARGET", "http://127.0.0.1:8080"), "fleetd base URL")
	f.IntVar(&opts.shards, "shards", 2, "number of shards in the fleet")
	f.Uint64Var(&opts.guildsPerShard, "guilds-per-shard", 10, "guilds reported by each shard")
	f.IntVar(&opts.duplicates, "duplicates", 0, "ready events to replay after the fleet is up")
	f.IntVar(&opts.joins, "joins", 0, "fresh guild joins to send after boot")
	f.IntVar(&opts.leaves, "leaves", 0, "guild leaves to send after the joins")
	f.IntVar(&opts.concurrency, "concurrency", 8, "maximum events in flight")
	f.IntVar(&opts.retries, "retries", 10, "attempts per event before giving up")
	f.DurationVar(&opts.backoff, "backoff", 400*time.Millisecond, "delay between attempts")
	f.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	return cmd
}

// simulate brings the fleet up, replays duplicates and then runs the guild
// burst. Each phase completes before the next starts.
func simulate(ctx context.Context, opts simOptions, logger *zap.Logger) (simResult, error) {
	if opts.shards <= 0 {
		return simResult{}, fmt.Errorf("shards must be positive, got %d", opts.shards)
	}
	if opts.concurrency <= 0 {
		opts.concurrency = 1
	}

	var res simResult
	ready := func(idx int) platform.ShardReady {
		return platform.ShardReady{ShardIndex: idx, TotalShards: opts.shards, GuildCount: opts.guildsPerShard}
	}

	// Boot: every shard concurrently, in random order.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.concurrency)
	for _, idx := range rand.Perm(opts.shards) {
		g.Go(func() error {
			if err := postEvent(gctx, opts, "shard-ready", ready(idx), logger); err != nil {
				return fmt.Errorf("shard %d: %w", idx, err)
			}
			atomic.AddInt64(&res.Ready, 1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	logger.Info("fleet booted", zap.Int("shards", opts.shards))

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(opts.concurrency)
	for i := 0; i < opts.duplicates; i++ {
		idx := rand.Intn(opts.shards)
		g.Go(func() error {
			if err := postEvent(gctx, opts, "shard-ready", ready(idx), logger); err != nil {
				return fmt.Errorf("replay shard %d: %w", idx, err)
			}
			atomic.AddInt64(&res.Duplicates, 1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	base := uint64(time.Now().UnixNano())
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(opts.concurrency)
	for i := 0; i < opts.joins; i++ {
		join := platform.GuildJoin{GuildID: base + uint64(i), Name: "sim-" + strconv.Itoa(i), JoinedAt: time.Now()}
		g.Go(func() error {
			if err := postEvent(gctx, opts, "guild-create", join, logger); err != nil {
				return fmt.Errorf("join %d: %w", join.GuildID, err)
			}
			atomic.AddInt64(&res.Joins, 1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(opts.concurrency)
	for i := 0; i < opts.leaves; i++ {
		leave := platform.GuildLeave{GuildID: base + uint64(i)}
		g.Go(func() error {
			if err := postEvent(gctx, opts, "guild-delete", leave, logger); err != nil {
				return fmt.Errorf("leave %d: %w", leave.GuildID, err)
			}
			atomic.AddInt64(&res.Leaves, 1)
			return nil
		})
	}
	return res, g.Wait()
}

// postEvent delivers one event, retrying with a fixed backoff while fleetd is
// unreachable or failing.
func postEvent(ctx context.Context, opts simOptions, kind string, payload any, logger *zap.Logger) error {
	url := opts.target + "/events/" + kind
	attempts := opts.retries
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		lastErr = relay.PostJSON(ctx, url, payload, nil)
		if lastErr == nil {
			return nil
		}
		logger.Debug("event retry", zap.String("type", kind), zap.Int("attempt", i+1), zap.Error(lastErr))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(opts.backoff):
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", attempts, lastErr)
}

func getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
