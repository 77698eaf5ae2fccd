package server

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/teris-io/shortid"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
	// Colonist and animal payloads carry opaque game blobs, so the limit
	// is well above chat-sized messages.
	maxMessageSize = 256 * 1024

	sendQueueSize = 256
)

// Client is one live transport connection. It may or may not be associated
// with an identity yet; the RealmServer owns that mapping.
type Client struct {
	id          string
	conn        *websocket.Conn
	realmServer *RealmServer
	log         *log.Logger
	send        chan []byte
	stop        chan struct{}
	stopOnce    sync.Once
}

func NewClient(conn *websocket.Conn, rs *RealmServer, l *log.Logger) *Client {
	id, err := shortid.Generate()
	if err != nil {
		id = "conn-?"
	}

	return &Client{
		id:          id,
		conn:        conn,
		realmServer: rs,
		log:         l,
		send:        make(chan []byte, sendQueueSize),
		stop:        make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Printf("[%s] write exiting", c.id)
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}

			if !c.sendMessage(websocket.TextMessage, data) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.realmServer.HandleDisconnect(c)
		c.stopClient()
		c.log.Printf("[%s] read exiting", c.id)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("[%s] ws: read: %v", c.id, err)
			}
			break
		}

		c.realmServer.HandleMessage(c, raw)
	}
}

// queueMessage enqueues pre-serialized bytes without blocking. A full
// queue drops the packet; the slow client will resynchronize on its next
// explicit request.
func (c *Client) queueMessage(data []byte) bool {
	select {
	case c.send <- data:
	default:
		c.log.Printf("[%s] send queue full, dropping packet", c.id)
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, data []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, data); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("[%s] write message: %s", c.id, err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}
