// internal/hub/hub.go
// Provides the Hub: a websocket topic relay that fans published frames out to every
// client holding a matching subscription.
package hub

import (
	"sync"
	"time"

	"github.com/erilali/vossync/internal/logger"
)

// Publication is one frame to route by topic.
type Publication struct {
	Topic string
	Data  []byte
}

// Hub manages relay clients and their subscriptions.
type Hub struct {
	Clients    map[*Client]bool
	Register   chan *Client
	Unregister chan *Client
	Broadcast  chan Publication
	Mu         sync.Mutex

	StartTime time.Time
	Published uint64
	Delivered uint64
	Dropped   uint64
	Logger    *logger.Logger

	done     chan struct{}
	stopOnce sync.Once
}

// NewHub creates a Hub. Call Run to start routing.
func NewHub(logger *logger.Logger) *Hub {
	return &Hub{
		Clients:    make(map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Broadcast:  make(chan Publication, 256),
		StartTime:  time.Now(),
		Logger:     logger,
		done:       make(chan struct{}),
	}
}

// Stop ends Run and closes every client's send channel.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Publish routes a frame from inside the process, e.g. a health probe.
func (h *Hub) Publish(topic string, data []byte) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.Broadcast <- Publication{Topic: topic, Data: data}:
		return true
	case <-h.done:
		return false
	}
}

// Run is the hub's event loop. It returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.Mu.Lock()
			for client := range h.Clients {
				delete(h.Clients, client)
				close(client.Send)
			}
			h.Mu.Unlock()
			return

		case client := <-h.Register:
			h.Mu.Lock()
			h.Clients[client] = true
			h.Mu.Unlock()
			h.Logger.Infof("Relay client registered: %s", client.Name)

		case client := <-h.Unregister:
			h.removeClient(client)

		case pub := <-h.Broadcast:
			h.route(pub)
		}
	}
}

func (h *Hub) removeClient(client *Client) {
	h.Mu.Lock()
	defer h.Mu.Unlock()
	if _, ok := h.Clients[client]; ok {
		delete(h.Clients, client)
		close(client.Send)
		h.Logger.Infof("Relay client unregistered: %s", client.Name)
	}
}

func (h *Hub) route(pub Publication) {
	frame, err := encodeFrame(messageFrame(pub.Topic, pub.Data))
	if err != nil {
		h.Logger.Errorf("Failed to encode relay frame for %s: %v", pub.Topic, err)
		return
	}

	// Collect targets under the lock, send outside it.
	h.Mu.Lock()
	h.Published++
	targets := make([]*Client, 0, len(h.Clients))
	for client := range h.Clients {
		if client.matches(pub.Topic) {
			targets = append(targets, client)
		}
	}
	h.Mu.Unlock()

	var slow []*Client
	for _, client := range targets {
		select {
		case client.Send <- frame:
			h.Mu.Lock()
			h.Delivered++
			h.Mu.Unlock()
		default:
			slow = append(slow, client)
		}
	}
	for _, client := range slow {
		h.Logger.Warnf("Dropping slow relay client %s", client.Name)
		h.Mu.Lock()
		h.Dropped++
		h.Mu.Unlock()
		h.removeClient(client)
	}
}

// Stats is a snapshot of hub counters for health reporting.
type Stats struct {
	Clients       int           `json:"clients"`
	Subscriptions int           `json:"subscriptions"`
	Published     uint64        `json:"published"`
	Delivered     uint64        `json:"delivered"`
	Dropped       uint64        `json:"dropped"`
	Uptime        time.Duration `json:"uptime_ns"`
}

func (h *Hub) Stats() Stats {
	h.Mu.Lock()
	defer h.Mu.Unlock()
	s := Stats{
		Clients:   len(h.Clients),
		Published: h.Published,
		Delivered: h.Delivered,
		Dropped:   h.Dropped,
		Uptime:    time.Since(h.StartTime),
	}
	for client := range h.Clients {
		s.Subscriptions += len(client.Subscriptions)
	}
	return s
}
