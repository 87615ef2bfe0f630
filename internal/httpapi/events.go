package httpapi

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"counterpos/backend/internal/terminal"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

func (a *API) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	terminalID := chi.URLParam(r, "terminalID")
	if !terminal.ValidTerminalID(terminalID) {
		writeServiceError(w, terminal.ErrInvalidTerminal)
		return
	}
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 20, 50)
	writeJSON(w, http.StatusOK, map[string]any{"events": a.hub.Recent(terminalID, limit)})
}

// handleEventStream pushes the terminal's sale and share events over a
// websocket. Client messages are read only to notice the close.
func (a *API) handleEventStream(w http.ResponseWriter, r *http.Request) {
	terminalID := chi.URLParam(r, "terminalID")
	if !terminal.ValidTerminalID(terminalID) {
		writeServiceError(w, terminal.ErrInvalidTerminal)
		return
	}

	// Subscribed before the handshake completes so no event slips between.
	sub := a.hub.Subscribe(terminalID)
	defer sub.Cancel()

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[events] WARN: websocket upgrade for %s: %v", terminalID, err)
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case event, ok := <-sub.C:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(event); err != nil {
				log.Printf("[events] WARN: websocket write for %s: %v", terminalID, err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
