package controller

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"vpnconnect/internal/api"
	"vpnconnect/internal/connection"
)

const eventWriteTimeout = 10 * time.Second

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API listens on loopback for a local UI.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEvents streams orchestrator events to a websocket client. New clients
// first receive the current state and statistics.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sub, err := s.cfg.Connections.Subscribe()
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	defer sub.Cancel()

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// gorilla already answered with 400
		return
	}
	defer conn.Close()

	// The reader only detects the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case raw := <-sub.Updates():
			ev, ok := toEvent(raw)
			if !ok {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				log.Printf("event stream write failed remote=%s: %v", r.RemoteAddr, err)
				return
			}
		case <-sub.Quit():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(time.Second))
			return
		case <-closed:
			return
		case <-s.base.Done():
			return
		}
	}
}

func toEvent(raw interface{}) (api.Event, bool) {
	switch ev := raw.(type) {
	case connection.StateChanged:
		return api.Event{Type: api.EventState, State: ev.State}, true
	case connection.StatisticsUpdated:
		stat := ev.Statistic
		return api.Event{Type: api.EventStatistics, Statistic: &stat}, true
	case connection.ConnectionFailed:
		msg := ""
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		return api.Event{Type: api.EventConnectionFailed, AttemptID: ev.AttemptID, ProviderID: ev.ProviderID, Error: msg}, true
	case connection.ManualDisconnect:
		return api.Event{Type: api.EventManualDisconnect}, true
	case connection.PushDisconnect:
		return api.Event{Type: api.EventPushDisconnect}, true
	default:
		return api.Event{}, false
	}
}
