package websocket

import (
	"time"

	"github.com/coder/websocket"
)

// Message types sent to connected browsers.
const (
	MessageReload    = "reload"
	MessageConnected = "connected"
)

// Client is one connected browser tab.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// ID returns the identifier assigned when the client connected.
func (c *Client) ID() string {
	return c.id
}

// UpdateMessage represents a message sent to the browser
type UpdateMessage struct {
	Type      string    `json:"type"`
	Target    string    `json:"target,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// OriginValidator decides which page origins may open a live reload socket.
type OriginValidator interface {
	IsAllowedOrigin(origin string) bool
}
