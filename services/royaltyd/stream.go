package royaltyd

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"royaltysync/core/activity"
)

const (
	wsWriteTimeout = 10 * time.Second
	streamBuffer   = 32
)

// handleActivityStream replays the retained log oldest first, then pushes
// every new entry until the client goes away.
func (s *AdminServer) handleActivityStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx := conn.CloseRead(r.Context())
	if err := s.streamActivity(ctx, conn); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			s.logger.Warn("activity stream ended", slog.Any("error", err))
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *AdminServer) streamActivity(ctx context.Context, conn *websocket.Conn) error {
	log := s.engine.Log()
	updates, cancel := log.Subscribe(streamBuffer)
	defer cancel()

	backlog := log.Entries()
	seen := make(map[string]struct{}, len(backlog))
	for i := len(backlog) - 1; i >= 0; i-- {
		seen[backlog[i].ID] = struct{}{}
		if err := writeEntry(ctx, conn, backlog[i]); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry, ok := <-updates:
			if !ok {
				return nil
			}
			// entries added between Subscribe and Entries arrive twice
			if _, dup := seen[entry.ID]; dup {
				delete(seen, entry.ID)
				continue
			}
			if err := writeEntry(ctx, conn, entry); err != nil {
				return err
			}
		}
	}
}

func writeEntry(ctx context.Context, conn *websocket.Conn, entry activity.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
