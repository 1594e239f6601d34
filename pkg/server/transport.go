package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/NicolasHaas/townhall/pkg/logging"
	"github.com/NicolasHaas/townhall/pkg/model"
	"github.com/NicolasHaas/townhall/pkg/town"
)

// Event types pushed to websocket clients.
const (
	EventPlayerJoined     = "playerJoined"
	EventPlayerMoved      = "playerMoved"
	EventPlayerDisconnect = "playerDisconnect"
	EventTownClosing      = "townClosing"
	EventMessageNotify    = "messageNotify"

	// InboundPlayerMovement is the only frame a client may send.
	InboundPlayerMovement = "playerMovement"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
	sendBufferSize = 256
)

// WireEvent is one JSON text frame sent to a client.
type WireEvent struct {
	Type         string                     `json:"type"`
	Player       *model.Player              `json:"player,omitempty"`
	Notification *model.NotificationRequest `json:"notification,omitempty"`
}

// InboundFrame is a JSON text frame received from a client.
type InboundFrame struct {
	Type     string         `json:"type"`
	Location model.Location `json:"location"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The stream is read-only apart from the caller's own movement and
	// carries no town password.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsClient is a town listener that forwards every event to one websocket
// connection. Listeners are never unregistered, so after the connection
// ends the client stays registered and drops everything it receives.
type wsClient struct {
	conn     *websocket.Conn
	town     *town.Controller
	playerID string // empty for spectators
	metrics  *Metrics
	log      *slog.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

var _ town.Listener = (*wsClient)(nil)

func newWSClient(conn *websocket.Conn, c *town.Controller, metrics *Metrics) *wsClient {
	conn.SetReadLimit(maxMessageSize)
	return &wsClient{
		conn:    conn,
		town:    c,
		metrics: metrics,
		log:     logging.For("transport").With(logging.Town(c.ID()), "remote", conn.RemoteAddr().String()),
		send:    make(chan []byte, sendBufferSize),
	}
}

func (c *wsClient) OnPlayerJoined(p model.Player) {
	c.push(WireEvent{Type: EventPlayerJoined, Player: &p})
}

func (c *wsClient) OnPlayerMoved(p model.Player) {
	c.push(WireEvent{Type: EventPlayerMoved, Player: &p})
}

func (c *wsClient) OnPlayerDisconnected(p model.Player) {
	c.push(WireEvent{Type: EventPlayerDisconnect, Player: &p})
}

func (c *wsClient) OnMessageNotify(req model.NotificationRequest) {
	c.push(WireEvent{Type: EventMessageNotify, Notification: &req})
}

// OnTownDestroyed sends townClosing and then closes the connection.
func (c *wsClient) OnTownDestroyed() {
	c.push(WireEvent{Type: EventTownClosing})
	c.closeSend()
}

// push never blocks the fanout: a client whose buffer is full loses the event.
func (c *wsClient) push(ev WireEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		c.log.Error("encode event", "type", ev.Type, logging.Err(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.metrics.EventsDropped.Add(1)
		c.log.Warn("send buffer full, dropping event", "type", ev.Type)
	}
}

func (c *wsClient) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *wsClient) readPump() {
	defer func() {
		if c.playerID != "" {
			c.town.RemovePlayer(c.playerID)
		}
		c.closeSend()
		c.metrics.ActiveConnections.Add(-1)
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		c.handleFrame(raw)
	}
}

func (c *wsClient) handleFrame(raw []byte) {
	var frame InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.log.Debug("invalid frame", logging.Err(err))
		return
	}
	switch {
	case frame.Type != InboundPlayerMovement:
		c.log.Debug("unknown frame type", "type", frame.Type)
	case c.playerID == "":
		c.log.Debug("movement from spectator ignored")
	default:
		c.town.UpdatePlayerLocation(c.playerID, frame.Location)
	}
}

func (c *wsClient) logReadError(err error) {
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		c.log.Debug("client disconnected", logging.Err(err))
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("frame exceeded maximum size", "limit", maxMessageSize)
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		c.log.Debug("connection closed", logging.Err(err))
	default:
		c.log.Info("websocket read error", logging.Err(err))
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug("write failed", logging.Err(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
