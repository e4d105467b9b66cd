package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mossy-p/conference-signaling/internal/models"
)

const (
	sendBufferSize = 256
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	writeWait      = 10 * time.Second
)

var (
	errClientClosed   = errors.New("client closed")
	errSendBufferFull = errors.New("send buffer full")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// Client is one push-channel connection. It satisfies hub.Subscriber.
type Client struct {
	ID   string
	Conn *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// Send queues payload without blocking. It fails when the client is gone
// or too far behind, which makes the hub drop it.
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return errSendBufferFull
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// HandleWebSocket upgrades the request into a push-channel subscriber. The
// client receives the current state immediately, then every broadcast.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to upgrade connection")
		return
	}

	client := &Client{
		Conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
	client.ID = h.coord.Hub().Subscribe(client)

	log := h.logger.With().Str("subscriber", client.ID).Str("remote", c.ClientIP()).Logger()
	log.Info().Msg("push client connected")

	h.sendState(client, log)

	go client.writePump(log)
	go h.readPump(client, log)
}

func (h *Handler) readPump(client *Client, log zerolog.Logger) {
	defer func() {
		h.coord.Hub().Unsubscribe(client.ID)
		client.close()
		client.Conn.Close()
		log.Info().Msg("push client disconnected")
	}()

	client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("websocket error")
			}
			return
		}

		var msg models.PushMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Debug().Err(err).Msg("failed to parse message")
			h.sendMessage(client, models.PushMessage{Type: models.PushTypeError, Error: "invalid message"}, log)
			continue
		}

		switch msg.Type {
		case models.PushTypePing:
			h.sendMessage(client, models.PushMessage{Type: models.PushTypePong}, log)
		case models.PushTypeRequestState:
			h.sendState(client, log)
		default:
			log.Debug().Str("type", string(msg.Type)).Msg("unknown message type")
			h.sendMessage(client, models.PushMessage{Type: models.PushTypeError, Error: "unknown message type"}, log)
		}
	}
}

func (c *Client) writePump(log zerolog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Msg("failed to write message")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendState replies to one client only; other subscribers are not touched.
func (h *Handler) sendState(client *Client, log zerolog.Logger) {
	h.sendMessage(client, models.NewStateUpdate(h.coord.State()), log)
}

func (h *Handler) sendMessage(client *Client, msg models.PushMessage, log zerolog.Logger) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal message")
		return
	}
	if err := client.Send(data); err != nil {
		log.Warn().Err(err).Str("type", string(msg.Type)).Msg("failed to queue message")
	}
}
