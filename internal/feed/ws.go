package feed

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/streamchat/internal/chat"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Frame is one message on the feed socket.
type Frame struct {
	Type     string         `json:"type"` // "snapshot"
	Room     string         `json:"room"`
	Messages []chat.Message `json:"messages"`
	Loading  bool           `json:"loading"`
	Error    string         `json:"error,omitempty"`
}

func frameOf(s chat.Snapshot) Frame {
	return Frame{
		Type:     "snapshot",
		Room:     s.Room,
		Messages: s.Messages,
		Loading:  s.Loading,
		Error:    s.Err,
	}
}

// ServeWS upgrades GET /ws?room= and streams the room's snapshots until the
// client disconnects or the room's pipeline stops.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")

	sub, err := h.Subscribe(room)
	if err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, chat.ErrRoomTooLong) {
			status = http.StatusBadRequest
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{
		conn:   conn,
		sub:    sub,
		logger: h.logger.With().Str("conn", sub.ID).Str("room", room).Logger(),
	}
	c.logger.Debug().Msg("feed client connected")

	go c.writePump()
	c.readPump()
}

type client struct {
	conn   *websocket.Conn
	sub    *Subscription
	logger zerolog.Logger
}

// readPump discards client frames and keeps the read deadline fresh. It
// ends the subscription when the client goes away.
func (c *client) readPump() {
	defer func() {
		c.sub.Close()
		c.conn.Close()
		c.logger.Debug().Msg("feed client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("websocket error")
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case snap, ok := <-c.sub.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(frameOf(snap)); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
