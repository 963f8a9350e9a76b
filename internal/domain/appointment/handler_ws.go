package appointment

import (
	"context"
	"encoding/json"
	"net/http"

	"cloud.google.com/go/civil"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// watchMessage is sent by a client to switch the watched date.
type watchMessage struct {
	Action string `json:"action"`
	Date   string `json:"date"`
}

// wsFrame is one server message: a snapshot ("slots" or "error") or the
// rejection of a malformed client message ("invalid").
type wsFrame struct {
	Type     string    `json:"type"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// AllowOrigins sets the browser origins allowed to open slot sockets. With
// none set only same-origin requests are accepted.
func (h *Handler) AllowOrigins(origins ...string) {
	h.origins = make(map[string]bool, len(origins))
	for _, o := range origins {
		h.origins[o] = true
	}
}

func (h *Handler) upgrader() *websocket.Upgrader {
	u := &websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}
	if len(h.origins) > 0 {
		u.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || h.origins["*"] || h.origins[origin]
		}
	}
	return u
}

// WatchPatientSlots streams slot snapshots over a WebSocket. The client can
// send {"action":"watch","date":"YYYY-MM-DD"} at any time; the read for the
// previous date is cancelled and its late result dropped.
func (h *Handler) WatchPatientSlots(c echo.Context) error {
	date, err := dateQuery(c, "date", h.today())
	if err != nil {
		return err
	}
	ws, err := h.upgrader().Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		return nil
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	w := NewSlotWatcher(h.svc, date, h.refresh, h.logger)
	go w.Run(ctx)

	replies := make(chan wsFrame, 4)
	go h.readWatch(ws, w, replies, cancel)

	for {
		select {
		case snap, ok := <-w.Updates():
			if !ok {
				return nil
			}
			f := wsFrame{Type: "slots", Snapshot: &snap}
			if snap.Err != nil {
				f.Type = "error"
			}
			if err := ws.WriteJSON(f); err != nil {
				return nil
			}
		case f := <-replies:
			if err := ws.WriteJSON(f); err != nil {
				return nil
			}
		}
	}
}

// readWatch applies client messages until the socket fails, then stops the
// watcher.
func (h *Handler) readWatch(ws *websocket.Conn, w *SlotWatcher, replies chan<- wsFrame, stop context.CancelFunc) {
	defer stop()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var msg watchMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Action != "watch" {
			h.reply(replies, wsFrame{Type: "invalid", Message: `expected {"action":"watch","date":"YYYY-MM-DD"}`})
			continue
		}
		d, err := civil.ParseDate(msg.Date)
		if err != nil {
			h.reply(replies, wsFrame{Type: "invalid", Message: "invalid date: expected YYYY-MM-DD"})
			continue
		}
		w.SetDate(d)
	}
}

func (h *Handler) reply(replies chan<- wsFrame, f wsFrame) {
	select {
	case replies <- f:
	default:
		h.logger.Debug().Str("type", f.Type).Msg("dropping websocket reply")
	}
}
