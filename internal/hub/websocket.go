// internal/hub/websocket.go
package hub

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/erilali/vossync/internal/message"
	"github.com/gorilla/websocket"
)

const (
	webSocketReadDeadline  = 60 * time.Second
	webSocketWriteDeadline = 10 * time.Second
	webSocketPingPeriod    = (webSocketReadDeadline * 9) / 10 // Must be less than readDeadline
	webSocketReadLimit     = 1 << 20                          // snapshots can be large
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Relay clients are native peers, not browsers.
		return true
	},
}

// ServeWs upgrades the HTTP connection to a WebSocket and registers the relay client.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Errorf("WebSocket upgrade error: %v", err)
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		name = conn.RemoteAddr().String()
	}
	client := &Client{
		Name:          name,
		Conn:          conn,
		Send:          make(chan []byte, 256),
		LastActive:    time.Now(),
		Subscriptions: make(map[string]bool),
	}
	select {
	case h.Register <- client:
	case <-h.done:
		conn.Close()
		return
	}
	go h.ReadPump(client)
	go h.WritePump(client)
}

// ReadPump reads frames from the WebSocket connection.
func (h *Hub) ReadPump(client *Client) {
	defer func() {
		select {
		case h.Unregister <- client:
		case <-h.done:
		}
		client.Conn.Close()
	}()

	client.Conn.SetReadLimit(webSocketReadLimit)
	client.Conn.SetReadDeadline(time.Now().Add(webSocketReadDeadline))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(webSocketReadDeadline))
		return nil
	})

	for {
		_, data, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.Logger.Errorf("WebSocket error for %s: %v", client.Name, err)
			}
			break
		}

		var frame message.RelayFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.SendErrorMessage(client, "bad_frame", "Invalid frame format")
			continue
		}
		client.LastActive = time.Now()
		h.HandleClientMessage(client, frame)
	}
}

// WritePump writes queued frames to the WebSocket connection.
func (h *Hub) WritePump(client *Client) {
	ticker := time.NewTicker(webSocketPingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case frame, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(webSocketWriteDeadline))
			if !ok {
				// The hub closed the channel.
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// One frame per websocket message; relay frames are JSON objects and
			// clients decode them individually.
			if err := client.Conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(webSocketWriteDeadline))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return // Client connection is likely broken
			}
		}
	}
}
