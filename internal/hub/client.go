// internal/hub/client.go
package hub

import (
	"time"

	"github.com/erilali/vossync/internal/message"
	"github.com/gorilla/websocket"
)

// Client is one websocket connection to the relay and the patterns it listens on.
type Client struct {
	Name          string
	Conn          *websocket.Conn
	Send          chan []byte
	LastActive    time.Time
	Subscriptions map[string]bool
}

func (c *Client) matches(topic string) bool {
	for pattern := range c.Subscriptions {
		if message.MatchTopic(pattern, topic) {
			return true
		}
	}
	return false
}
