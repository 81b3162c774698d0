package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/dreamware/fleetcore/internal/cache"
	"github.com/dreamware/fleetcore/internal/platform"
	"github.com/dreamware/fleetcore/internal/shard"
	"github.com/dreamware/fleetcore/internal/stats"
)

const maxBodyBytes = 1 << 20

// eventAck is returned for every accepted event.
type eventAck struct {
	EventID string `json:"event_id"`
	Type    string `json:"type,omitempty"`
	Error   string `json:"error,omitempty"`
}

type beforeResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

type afterRequest struct {
	Message platform.Message `json:"message"`
	Command string           `json:"command"`
	Error   string           `json:"error,omitempty"`
}

type dispatchErrorRequest struct {
	Message platform.Message           `json:"message"`
	Kind    platform.DispatchErrorKind `json:"kind"`
}

type replyRequest struct {
	TriggerID uint64 `json:"trigger_id,string"`
	ChannelID uint64 `json:"channel_id,string"`
	MessageID uint64 `json:"message_id,string"`
}

type blocklistEntry struct {
	ID uint64 `json:"id,string"`
}

type blocklistResponse struct {
	IDs []string `json:"ids"`
}

type statsResponse struct {
	Stats stats.Snapshot    `json:"stats"`
	Fleet shard.State       `json:"fleet"`
	Cache map[string]string `json:"cache"`
}

func (a *app) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /events/{type}", a.handleEvent)
	mux.HandleFunc("GET /events/ws", a.handleStream)
	mux.HandleFunc("POST /commands/before", a.handleBefore)
	mux.HandleFunc("POST /commands/after", a.handleAfter)
	mux.HandleFunc("POST /commands/dispatch-error", a.handleDispatchError)
	mux.HandleFunc("POST /replies", a.handleReply)
	mux.HandleFunc("GET /blocklist", a.handleListBlocklist)
	mux.HandleFunc("POST /blocklist", a.handleAddBlocklist)
	mux.HandleFunc("DELETE /blocklist/{id}", a.handleRemoveBlocklist)
	mux.HandleFunc("GET /stats", a.handleStats)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.gather, promhttp.HandlerOpts{}))
	return mux
}

func (a *app) handleEvent(w http.ResponseWriter, r *http.Request) {
	kind := r.PathValue("type")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	ack := eventAck{EventID: uuid.NewString(), Type: kind}
	a.logger.Debug("event received", zap.String("event_id", ack.EventID), zap.String("type", kind))

	switch err := a.dispatch(r.Context(), kind, body); {
	case errors.Is(err, errUnknownEvent):
		http.Error(w, err.Error(), http.StatusNotFound)
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		writeJSON(w, http.StatusAccepted, ack)
	}
}

func (a *app) handleBefore(w http.ResponseWriter, r *http.Request) {
	var msg platform.Message
	if !readJSON(w, r, &msg) {
		return
	}
	if !a.limiter.Allow(msg.Author.ID) {
		a.gateway.DispatchError(r.Context(), msg, platform.DispatchRateLimited)
		writeJSON(w, http.StatusOK, beforeResponse{Reason: string(platform.DispatchRateLimited)})
		return
	}
	resp := beforeResponse{Allowed: a.gateway.Before(r.Context(), msg)}
	if !resp.Allowed {
		resp.Reason = "blocked"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *app) handleAfter(w http.ResponseWriter, r *http.Request) {
	var req afterRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Command == "" {
		http.Error(w, "missing command", http.StatusBadRequest)
		return
	}
	var cmdErr error
	if req.Error != "" {
		cmdErr = errors.New(req.Error)
	}
	a.gateway.After(r.Context(), req.Message, req.Command, cmdErr)
	w.WriteHeader(http.StatusNoContent)
}

func (a *app) handleDispatchError(w http.ResponseWriter, r *http.Request) {
	var req dispatchErrorRequest
	if !readJSON(w, r, &req) {
		return
	}
	a.gateway.DispatchError(r.Context(), req.Message, req.Kind)
	w.WriteHeader(http.StatusNoContent)
}

func (a *app) handleReply(w http.ResponseWriter, r *http.Request) {
	var req replyRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.TriggerID == 0 || req.MessageID == 0 {
		http.Error(w, "missing trigger_id/message_id", http.StatusBadRequest)
		return
	}
	a.router.RecordReply(req.TriggerID, cache.Reply{ChannelID: req.ChannelID, MessageID: req.MessageID})
	w.WriteHeader(http.StatusNoContent)
}

func (a *app) handleListBlocklist(w http.ResponseWriter, r *http.Request) {
	ids := a.store.Blocklist.IDs()
	slices.Sort(ids)

	resp := blocklistResponse{IDs: make([]string, 0, len(ids))}
	for _, id := range ids {
		resp.IDs = append(resp.IDs, strconv.FormatUint(id, 10))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *app) handleAddBlocklist(w http.ResponseWriter, r *http.Request) {
	var req blocklistEntry
	if !readJSON(w, r, &req) {
		return
	}
	a.store.Blocklist.Add(req.ID)
	a.logger.Info("blocklist entry added", zap.Uint64("id", req.ID))
	w.WriteHeader(http.StatusNoContent)
}

func (a *app) handleRemoveBlocklist(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "id must be numeric", http.StatusBadRequest)
		return
	}
	a.store.Blocklist.Remove(id)
	a.logger.Info("blocklist entry removed", zap.Uint64("id", id))
	w.WriteHeader(http.StatusNoContent)
}

func (a *app) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{
		Stats: a.stats.Snapshot(),
		Fleet: a.tracker.State(),
		Cache: a.store.Config.Snapshot(),
	})
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
