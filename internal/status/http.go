package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/voxbridge/voxbridge/internal/observe"
)

const streamWriteTimeout = 5 * time.Second

// Register mounts the status endpoints on mux:
//
//   - GET /status     returns the current [Snapshot] as JSON
//   - GET /status/ws  streams [Event] values as JSON text frames
func (b *Bus) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /status", b.serveSnapshot)
	mux.HandleFunc("GET /status/ws", b.serveStream)
}

func (b *Bus) serveSnapshot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(b.Latest())
}

// serveStream upgrades to a websocket, sends the current snapshot as a
// status event, then forwards every bus event until either side goes away.
func (b *Bus) serveStream(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Warn("status: websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.CloseNow()

	events, cancel := b.Subscribe()
	defer cancel()

	// Clients only listen; CloseRead handles control frames and cancels ctx
	// when the peer closes.
	ctx := conn.CloseRead(r.Context())

	if snap := b.Latest(); snap.Status != "" {
		if err := writeEvent(ctx, conn, Event{Kind: KindStatus, Text: snap.Status, Time: snap.Updated}); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "status bus stopped")
				return
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				if !errors.Is(err, context.Canceled) {
					log.Debug("status: websocket write failed", "remote", r.RemoteAddr, "err", err)
				}
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
