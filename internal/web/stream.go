package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// writeTimeout bounds a single websocket write; a viewer that cannot keep up
// is disconnected.
const writeTimeout = 5 * time.Second

// snapshotMessage is the first message on every stream.
type snapshotMessage struct {
	Type  string        `json:"type"`
	State StateResponse `json:"state"`
}

// handleStream upgrades to a websocket and forwards loop and bubble events
// until the client goes away. The client sends nothing; anything it does send
// is discarded.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		slog.Warn("stream: accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	s.metrics.StreamClients.Add(ctx, 1)
	defer s.metrics.StreamClients.Add(context.Background(), -1)

	// Subscribe before the snapshot so nothing falls in between.
	loopEvents, unsubLoop := s.loop.Subscribe(64)
	defer unsubLoop()
	bubbleEvents, unsubBubbles := s.loop.Presenter().Subscribe(64)
	defer unsubBubbles()

	if err := writeMessage(ctx, conn, snapshotMessage{Type: "snapshot", State: s.Snapshot()}); err != nil {
		return
	}

	ping := time.NewTicker(s.ping)
	defer ping.Stop()

	for {
		var msg any
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-loopEvents:
			if !ok {
				return
			}
			msg = ev
		case ev, ok := <-bubbleEvents:
			if !ok {
				return
			}
			msg = ev
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
			continue
		}
		if err := writeMessage(ctx, conn, msg); err != nil {
			if !errors.Is(err, context.Canceled) {
				slog.Debug("stream: write failed", "err", err)
			}
			return
		}
	}
}

func writeMessage(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
