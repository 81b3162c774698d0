package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dreamware/fleetcore/internal/cache"
	"github.com/dreamware/fleetcore/internal/config"
	"github.com/dreamware/fleetcore/internal/platform"
	"github.com/dreamware/fleetcore/internal/relay"
)

// fakeUpstream records what fleetd sends to the relay and the stats sink.
type fakeUpstream struct {
	mu       sync.Mutex
	paths    []string
	presence []uint64
	embeds   []platform.Embed
	pushes   []platform.Aggregate

	// When set, delete requests signal entered and block until held closes.
	entered chan struct{}
	held    chan struct{}
}

// holdDeletes makes delete requests block until release is called.
func (f *fakeUpstream) holdDeletes(t *testing.T) (<-chan struct{}, func()) {
	t.Helper()
	entered := make(chan struct{}, 1)
	held := make(chan struct{})
	f.mu.Lock()
	f.entered, f.held = entered, held
	f.mu.Unlock()

	var once sync.Once
	release := func() { once.Do(func() { close(held) }) }
	t.Cleanup(release)
	return entered, release
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	entered, held := f.entered, f.held
	f.mu.Unlock()
	if held != nil && strings.HasSuffix(r.URL.Path, "/delete") {
		entered <- struct{}{}
		<-held
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.paths = append(f.paths, r.URL.Path)
	switch {
	case r.URL.Path == "/presence":
		var p relay.PresenceRequest
		_ = json.NewDecoder(r.Body).Decode(&p)
		f.presence = append(f.presence, p.GuildCount)
		w.WriteHeader(http.StatusNoContent)
	case strings.HasPrefix(r.URL.Path, "/stats/"):
		var agg platform.Aggregate
		_ = json.NewDecoder(r.Body).Decode(&agg)
		f.pushes = append(f.pushes, agg)
		w.WriteHeader(http.StatusOK)
	case strings.HasSuffix(r.URL.Path, "/messages"):
		var m relay.SendMessageRequest
		_ = json.NewDecoder(r.Body).Decode(&m)
		f.embeds = append(f.embeds, m.Embed)
		_, _ = w.Write([]byte(`{"id":"9001"}`))
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

type upstreamView struct {
	paths    []string
	presence []uint64
	embeds   []platform.Embed
	pushes   []platform.Aggregate
}

func (f *fakeUpstream) snapshot() upstreamView {
	f.mu.Lock()
	defer f.mu.Unlock()
	return upstreamView{
		paths:    append([]string(nil), f.paths...),
		presence: append([]uint64(nil), f.presence...),
		embeds:   append([]platform.Embed(nil), f.embeds...),
		pushes:   append([]platform.Aggregate(nil), f.pushes...),
	}
}

type testEnv struct {
	app      *app
	srv      *httptest.Server
	upstream *fakeUpstream
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()

	up := &fakeUpstream{}
	upSrv := httptest.NewServer(up)
	t.Cleanup(upSrv.Close)

	cfg := config.Default()
	cfg.BotID = 1234
	cfg.JoinLogChannel = 555
	cfg.Relay.URL = upSrv.URL
	cfg.Sink.URL = upSrv.URL + "/stats/%d"
	cfg.RateLimit = config.RateLimit{PerSecond: 100, Burst: 100}
	for _, m := range mutate {
		m(&cfg)
	}

	a, err := newApp(cfg, zap.NewNop(), prometheus.NewRegistry())
	require.NoError(t, err)

	srv := httptest.NewServer(a.routes())
	t.Cleanup(func() {
		srv.Close()
		a.router.Wait()
	})
	return &testEnv{app: a, srv: srv, upstream: up}
}

func (e *testEnv) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	resp, err := http.Post(e.srv.URL+path, "application/json", &buf)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) getJSON(t *testing.T, path string, out any) {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func (e *testEnv) stats(t *testing.T) statsResponse {
	t.Helper()
	var s statsResponse
	e.getJSON(t, "/stats", &s)
	return s
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// TestFleetReadyOverHTTP plays a two-shard boot against the daemon.
func TestFleetReadyOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	for _, ev := range []platform.ShardReady{
		{ShardIndex: 0, TotalShards: 2, GuildCount: 10},
		{ShardIndex: 0, TotalShards: 2, GuildCount: 10},
		{ShardIndex: 1, TotalShards: 2, GuildCount: 15, AvatarURL: "https://cdn/a.png"},
	} {
		resp := env.post(t, "/events/shard-ready", ev)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)

		var ack eventAck
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
		assert.NotEmpty(t, ack.EventID)
		assert.Equal(t, "shard-ready", ack.Type)
	}
	env.app.router.Wait()

	up := env.upstream.snapshot()
	assert.Equal(t, []uint64{25}, up.presence)
	assert.Equal(t, []platform.Aggregate{{ServerCount: 25, ShardCount: 2}}, up.pushes)
	assert.Contains(t, up.paths, "/stats/1234")

	s := env.stats(t)
	assert.Equal(t, uint64(25), s.Stats.ServerCount)
	assert.Equal(t, uint64(2), s.Stats.ShardCount)
	assert.True(t, s.Fleet.Ready)
	assert.Equal(t, []uint64{10, 15}, s.Fleet.Reported)
	assert.Equal(t, "25", s.Cache["FLEET_GUILDS"])
	assert.Equal(t, "https://cdn/a.png", s.Cache["BOT_AVATAR"])
}

func TestGuildEventsOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/events/guild-create", map[string]any{
		"guild_id":  "42",
		"name":      "Gophers",
		"joined_at": time.Now().Add(-time.Second),
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = env.post(t, "/events/guild-create", map[string]any{
		"guild_id":  "43",
		"joined_at": time.Now().Add(-45 * time.Second),
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	env.app.router.Wait()

	assert.Equal(t, uint64(1), env.stats(t).Stats.ServerCount, "stale join ignored")
	up := env.upstream.snapshot()
	require.Len(t, up.embeds, 1)
	assert.Equal(t, "Guild joined", up.embeds[0].Title)
	assert.Contains(t, up.paths, "/channels/555/messages")

	resp = env.post(t, "/events/guild-delete", map[string]any{"guild_id": "42"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	env.app.router.Wait()

	assert.Zero(t, env.stats(t).Stats.ServerCount)
	assert.Len(t, env.upstream.snapshot().embeds, 2)
}

func TestEventErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{name: "unknown type", path: "/events/typing-start", body: "{}", status: http.StatusNotFound},
		{name: "bad json", path: "/events/shard-ready", body: "{", status: http.StatusBadRequest},
		{name: "empty resumed body", path: "/events/resumed", body: "", status: http.StatusAccepted},
		{name: "wrong method", path: "/events/resumed", status: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				resp *http.Response
				err  error
			)
			if tt.status == http.StatusMethodNotAllowed {
				resp, err = http.Get(env.srv.URL + tt.path)
			} else {
				resp, err = http.Post(env.srv.URL+tt.path, "application/json", strings.NewReader(tt.body))
			}
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestMessageDeleteCascadeOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/replies", map[string]string{"trigger_id": "100", "channel_id": "7", "message_id": "900"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	for i := 0; i < 2; i++ {
		resp = env.post(t, "/events/message-delete", map[string]string{"channel_id": "7", "message_id": "100"})
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
	}

	deletes := 0
	for _, p := range env.upstream.snapshot().paths {
		if p == "/channels/7/messages/900/delete" {
			deletes++
		}
	}
	assert.Equal(t, 1, deletes)

	resp = env.post(t, "/replies", map[string]string{"channel_id": "7"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCommandHooks(t *testing.T) {
	env := newTestEnv(t)
	msg := platform.Message{Author: platform.User{Tag: "ferris#0001", ID: 1}, ID: 50, ChannelID: 7, GuildID: 2}

	var before beforeResponse
	resp := env.post(t, "/commands/before", msg)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&before))
	assert.True(t, before.Allowed)

	resp = env.post(t, "/commands/after", afterRequest{Message: msg, Command: "compile", Error: "compilation failed"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.post(t, "/commands/after", afterRequest{Message: msg})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	s := env.stats(t)
	assert.Equal(t, uint64(1), s.Stats.Requests)
	require.Len(t, s.Stats.Commands, 1)
	assert.Equal(t, uint64(1), s.Stats.Commands[0].Count)

	up := env.upstream.snapshot()
	require.Len(t, up.embeds, 1)
	assert.Equal(t, "compilation failed", up.embeds[0].Description)

	t.Run("blocked guild", func(t *testing.T) {
		resp := env.post(t, "/blocklist", map[string]string{"id": "2"})
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		var before beforeResponse
		resp = env.post(t, "/commands/before", msg)
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&before))
		assert.False(t, before.Allowed)
		assert.Equal(t, "blocked", before.Reason)
	})

	t.Run("dispatch error", func(t *testing.T) {
		resp := env.post(t, "/commands/dispatch-error", dispatchErrorRequest{Message: msg, Kind: platform.DispatchRateLimited})
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		embeds := env.upstream.snapshot().embeds
		assert.Equal(t, "You are sending requests too fast!", embeds[len(embeds)-1].Description)
	})
}

func TestCommandRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.RateLimit = config.RateLimit{PerSecond: 0.001, Burst: 1}
	})
	msg := platform.Message{Author: platform.User{ID: 1}, ChannelID: 7}

	var first, second beforeResponse
	require.NoError(t, json.NewDecoder(env.post(t, "/commands/before", msg).Body).Decode(&first))
	require.NoError(t, json.NewDecoder(env.post(t, "/commands/before", msg).Body).Decode(&second))

	assert.True(t, first.Allowed)
	assert.False(t, second.Allowed)
	assert.Equal(t, "rate_limited", second.Reason)

	embeds := env.upstream.snapshot().embeds
	require.Len(t, embeds, 1)
	assert.Equal(t, "You are sending requests too fast!", embeds[0].Description)
}

func TestBlocklistAdmin(t *testing.T) {
	env := newTestEnv(t)

	for _, id := range []string{"30", "10", "20"} {
		resp := env.post(t, "/blocklist", map[string]string{"id": id})
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
	}

	var list blocklistResponse
	env.getJSON(t, "/blocklist", &list)
	assert.Equal(t, []string{"10", "20", "30"}, list.IDs)

	req, err := http.NewRequest(http.MethodDelete, env.srv.URL+"/blocklist/20", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	env.getJSON(t, "/blocklist", &list)
	assert.Equal(t, []string{"10", "30"}, list.IDs)

	req, err = http.NewRequest(http.MethodDelete, env.srv.URL+"/blocklist/abc", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	resp := env.post(t, "/events/shard-ready", platform.ShardReady{ShardIndex: 0, TotalShards: 1, GuildCount: 3})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	env.app.router.Wait()

	res, err := http.Get(env.srv.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "fleet_shards_ready 1")
	assert.Contains(t, string(body), "fleet_guilds 3")
}

func dialStream(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/events/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	resp.Body.Close()
	return conn
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t)

	conn := dialStream(t, env)
	defer conn.Close()

	send := func(v any) eventAck {
		t.Helper()
		require.NoError(t, conn.WriteJSON(v))
		var ack eventAck
		require.NoError(t, conn.ReadJSON(&ack))
		return ack
	}

	ack := send(map[string]any{
		"type": "guild-create",
		"data": map[string]any{"guild_id": "42", "joined_at": time.Now()},
	})
	assert.NotEmpty(t, ack.EventID)
	assert.Empty(t, ack.Error)

	ack = send(map[string]any{"type": "presence-update", "data": map[string]any{}})
	assert.Contains(t, ack.Error, "unknown event type")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	var bad eventAck
	require.NoError(t, conn.ReadJSON(&bad))
	assert.Equal(t, "bad json", bad.Error)

	ack = send(map[string]any{"type": "resumed", "data": map[string]any{"shard_index": 0}})
	assert.Empty(t, ack.Error, "stream survives a bad envelope")

	env.app.router.Wait()
	assert.Equal(t, uint64(1), env.stats(t).Stats.ServerCount)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
}

func TestNewAppWithoutRelay(t *testing.T) {
	cfg := config.Default()
	cfg.BotID = 1

	a, err := newApp(cfg, zap.NewNop(), prometheus.NewRegistry())
	require.NoError(t, err)

	_, ok := a.store.Handles.Manager()
	assert.False(t, ok)
	_, ok = a.store.Handles.Sink()
	assert.False(t, ok)
	assert.False(t, a.stats.ShouldTrack())
}

// TestDrainWaitsForOpenStreams keeps a stream busy across shutdown and checks
// drain returns only after its handler has finished.
func TestDrainWaitsForOpenStreams(t *testing.T) {
	env := newTestEnv(t)
	entered, release := env.upstream.holdDeletes(t)
	env.app.router.RecordReply(100, cache.Reply{ChannelID: 7, MessageID: 900})

	conn := dialStream(t, env)
	defer conn.Close()
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "message-delete",
		"data": map[string]string{"channel_id": "7", "message_id": "100"},
	}))

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("delete never reached the relay")
	}

	env.app.closeStreams()
	drained := make(chan struct{})
	go func() {
		env.app.drain()
		close(drained)
	}()

	select {
	case <-drained:
		t.Fatal("drain returned while a stream handler was still dispatching")
	case <-time.After(100 * time.Millisecond):
	}

	release()
	select {
	case <-drained:
	case <-time.After(5 * time.Second):
		t.Fatal("drain did not return after the handler finished")
	}

	env.app.streamsMu.Lock()
	assert.Empty(t, env.app.streams)
	env.app.streamsMu.Unlock()
	assert.Contains(t, env.upstream.snapshot().paths, "/channels/7/messages/900/delete")

	t.Run("streams opened after close are refused", func(t *testing.T) {
		late := dialStream(t, env)
		defer late.Close()

		require.NoError(t, late.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, _, err := late.ReadMessage()
		assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	})
}
