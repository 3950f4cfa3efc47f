package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/gravitas-games/hacksim/internal/network"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10
)

// Connection represents a WebSocket connection to a client.
// Its id is the identity of the player it controls.
type Connection struct {
	id string

	// WebSocket connection
	ws *websocket.Conn

	// Server reference
	server *Server

	// Buffered channel for outbound messages
	send   chan []byte
	sendMu sync.Mutex
	closed bool

	// Inbound intent limiter
	limiter   *rate.Limiter
	throttled bool

	log       zerolog.Logger
	closeOnce sync.Once
}

// NewConnection creates a new connection
func NewConnection(id string, ws *websocket.Conn, server *Server, logger zerolog.Logger) *Connection {
	rl := server.config.RateLimit

	return &Connection{
		id:      id,
		ws:      ws,
		server:  server,
		send:    make(chan []byte, server.config.Server.SendBuffer),
		limiter: rate.NewLimiter(rate.Limit(rl.MessagesPerSecond), rl.Burst),
		log:     logger,
	}
}

// ID returns the player identity bound to the connection
func (c *Connection) ID() string {
	return c.id
}

// Handle manages the connection lifecycle
func (c *Connection) Handle() {
	c.ws.SetReadLimit(c.server.config.Server.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.writePump()
	c.readPump() // Blocking
}

// readPump pumps messages from the WebSocket connection to the engine
func (c *Connection) readPump() {
	defer c.Close()

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Debug().Err(err).Msg("WebSocket read error")
			}
			return
		}

		if !c.limiter.Allow() {
			c.server.metrics.DroppedIntents.Inc()
			if !c.throttled {
				c.throttled = true
				c.log.Warn().Msg("Client rate limited")
				c.SendLog("[ERR] Too many requests. Slow down.")
			}
			continue
		}
		c.throttled = false

		var clientMsg network.ClientMessage
		if err := json.Unmarshal(message, &clientMsg); err != nil {
			c.log.Debug().Err(err).Msg("Failed to parse client message")
			c.SendLog("[ERR] Invalid message.")
			continue
		}

		c.handleMessage(&clientMsg)
	}
}

// writePump pumps messages from the send channel to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug().Err(err).Msg("WebSocket write error")
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.server.ctx.Done():
			// Server shutting down
			return
		}
	}
}

// handleMessage routes intents to the engine
func (c *Connection) handleMessage(msg *network.ClientMessage) {
	c.log.Trace().Str("type", msg.Type).Msg("Received message")

	engine := c.server.engine

	switch msg.Type {
	case network.MsgTypeJoinGame:
		var p network.JoinGamePayload
		if !c.decode(msg, &p) {
			return
		}
		engine.Join(c.id, p.Username, p.PasswordText())

	case network.MsgTypeUpdateFirewall:
		var p network.UpdateFirewallPayload
		if !c.decode(msg, &p) {
			return
		}
		engine.UpdateFirewall(c.id, p)

	case network.MsgTypeStartAttack:
		var p network.StartAttackPayload
		if !c.decode(msg, &p) {
			return
		}
		engine.StartAttack(c.id, p.TargetID, p.TargetPort, p.TargetProto)

	case network.MsgTypeStopAttack:
		engine.StopAttack(c.id)

	case network.MsgTypePing:
		c.SendMessage(&network.ServerMessage{
			Type:    network.MsgTypePong,
			Payload: map[string]interface{}{"timestamp": time.Now().Unix()},
		})

	default:
		c.log.Debug().Str("type", msg.Type).Msg("Unknown message type")
		c.SendLog("[ERR] Unknown message type.")
	}
}

// decode unmarshals the payload, reporting failures to the client
func (c *Connection) decode(msg *network.ClientMessage, v interface{}) bool {
	payload := msg.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	if err := json.Unmarshal(payload, v); err != nil {
		c.log.Debug().Err(err).Str("type", msg.Type).Msg("Failed to parse payload")
		c.SendLog("[ERR] Invalid " + msg.Type + " payload.")
		return false
	}
	return true
}

// SendMessage sends a message to the client
func (c *Connection) SendMessage(msg *network.ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal message")
		return
	}

	c.enqueue(data)
}

// SendLog sends a human-readable status line to the client
func (c *Connection) SendLog(text string) {
	c.SendMessage(network.LogMessage(text))
}

// enqueue queues encoded data without blocking; a full buffer drops it
func (c *Connection) enqueue(data []byte) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- data:
	default:
		c.log.Warn().Msg("Send buffer full, dropping message")
	}
}

// Close detaches the player from the game and closes the connection
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.server.session.RemoveConnection(c)
		c.server.engine.Remove(c.id)

		c.sendMu.Lock()
		c.closed = true
		close(c.send)
		c.sendMu.Unlock()

		_ = c.ws.Close()
	})
}
