package ws

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Client is one connected observer.
type Client struct {
	ID          string
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	connectedAt time.Time
}

// ClientMessage is an inbound envelope.
type ClientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type clickData struct {
	Team string `json:"team"`
}

// writePump drains the send queue into the socket and keeps the peer alive
// with pings. It owns every write on the connection.
func (c *Client) writePump() {
	cfg := c.hub.config
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if !ok {
				// Hub closed the queue.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("conn_id", c.ID).Msg("write failed")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("conn_id", c.ID).Msg("ping failed")
				return
			}
		}
	}
}

// readPump turns inbound frames into controller calls. Its exit is the single
// place a connection is reported as gone.
func (c *Client) readPump(ctrl Controller) {
	cfg := c.hub.config
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
		ctrl.Disconnect(c.ID)
		log.Info().
			Str("conn_id", c.ID).
			Dur("connected_for", time.Since(c.connectedAt)).
			Msg("websocket connection closed")
	}()

	c.conn.SetReadLimit(cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("conn_id", c.ID).Msg("unexpected websocket close")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		c.handleMessage(ctrl, data)
	}
}

// handleMessage never answers: bad input and rejected clicks are dropped.
func (c *Client) handleMessage(ctrl Controller, data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Debug().Err(err).Str("conn_id", c.ID).Msg("failed to parse client message")
		return
	}

	switch msg.Type {
	case "click":
		var click clickData
		if err := json.Unmarshal(msg.Data, &click); err != nil {
			log.Debug().Err(err).Str("conn_id", c.ID).Msg("failed to parse click")
			return
		}
		ctrl.Submit(c.ID, click.Team)

	default:
		log.Debug().Str("conn_id", c.ID).Str("type", msg.Type).Msg("unknown message type")
	}
}
