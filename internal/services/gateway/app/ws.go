package app

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Parameshwar06/Drip/internal/services/reconciler"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// the dashboard is served from another origin during development
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWS streams the presented state: the current value on connect, then
// every change. A slow client only ever sees the latest state.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("gateway: ws upgrade: %v", err)
		return
	}
	defer conn.Close()
	g.cfg.Metrics.WSClients(1)
	defer g.cfg.Metrics.WSClients(-1)

	updates := make(chan reconciler.State, 1)
	push := func(s reconciler.State) {
		for {
			select {
			case updates <- s:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	}
	remove := g.reconciler.OnChange(push)
	defer remove()
	push(g.reconciler.State())

	closed := make(chan struct{})
	go func() {
		defer close(closed)
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

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case s := <-updates:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(s); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
