package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/camlive/signaling-relay/internal/models"
	"github.com/camlive/signaling-relay/internal/relay"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// Client is one WebSocket signaling connection. PeerID stays empty until the
// peer registers (or conflates registration into `__connectto`).
type Client struct {
	PeerID string
	Conn   *websocket.Conn
	Send   chan []byte
}

// Deliver implements relay.PeerHandle. Outbound frames are queued on the
// buffered send channel drained by writePump, which keeps per-destination
// ordering; a full buffer drops the frame with a log line instead of
// blocking the router.
func (c *Client) Deliver(env *models.Envelope) {
	data, err := env.Encode()
	if err != nil {
		log.Printf("Failed to marshal %s envelope: %v", env.Event, err)
		return
	}

	select {
	case c.Send <- data:
	default:
		log.Printf("Failed to send %s to peer %q, buffer full", env.Event, c.PeerID)
	}
}

// HandleSignaling upgrades the connection and runs it against the relay.
func HandleSignaling(r *relay.Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("Failed to upgrade connection: %v", err)
			return
		}

		client := &Client{
			Conn: conn,
			Send: make(chan []byte, 256),
		}

		go client.writePump()
		go client.readPump(r)
	}
}

func (c *Client) readPump(r *relay.Relay) {
	defer func() {
		r.Disconnect(c.PeerID, c)
		c.Conn.Close()
	}()

	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		env, err := models.Decode(message)
		if err != nil {
			// Bad frames are dropped; the connection stays usable.
			log.Printf("Failed to parse message: %v", err)
			continue
		}

		c.PeerID = r.Handle(c.PeerID, c, env)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("Failed to write message: %v", err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
