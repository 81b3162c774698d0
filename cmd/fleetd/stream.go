package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// envelope is one event on the websocket stream.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

var upgrader = websocket.Upgrader{
	// The relay is a trusted peer on a private network; there is no browser origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStream accepts a long-lived event stream from the relay. Each envelope
// is dispatched in order and acknowledged with an eventAck carrying its id.
func (a *app) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		a.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	if !a.track(conn) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	defer a.untrack(conn)

	log := a.logger.With(zap.String("remote", r.RemoteAddr))
	log.Info("event stream connected")

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("event stream read ended", zap.Error(err))
			}
			log.Info("event stream disconnected")
			return
		}

		ack := eventAck{EventID: uuid.NewString()}
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			ack.Error = "bad json"
		} else {
			ack.Type = env.Type
			log.Debug("event received", zap.String("event_id", ack.EventID), zap.String("type", env.Type))
			if err := a.dispatch(r.Context(), env.Type, env.Data); err != nil {
				ack.Error = err.Error()
			}
		}
		if err := conn.WriteJSON(ack); err != nil {
			log.Debug("event stream write failed", zap.Error(err))
			return
		}
	}
}

// track registers a stream handler. It refuses once closeStreams has run.
func (a *app) track(conn *websocket.Conn) bool {
	a.streamsMu.Lock()
	defer a.streamsMu.Unlock()
	if a.closing {
		return false
	}
	a.streams[conn] = struct{}{}
	a.streamsWG.Add(1)
	return true
}

func (a *app) untrack(conn *websocket.Conn) {
	a.streamsMu.Lock()
	delete(a.streams, conn)
	a.streamsMu.Unlock()
	_ = conn.Close()
	a.streamsWG.Done()
}

// closeStreams closes every open event stream and refuses new ones.
// http.Server.Shutdown does not touch hijacked connections.
func (a *app) closeStreams() {
	a.streamsMu.Lock()
	defer a.streamsMu.Unlock()
	a.closing = true
	for conn := range a.streams {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
		_ = conn.Close()
	}
}

// drain waits for stream handlers to return and then for the side effects
// they and the HTTP handlers started. Call after closeStreams.
func (a *app) drain() {
	a.streamsWG.Wait()
	a.router.Wait()
}
