package hub

import (
	"encoding/json"
	"strings"

	"github.com/erilali/vossync/internal/message"
)

const (
	maxTopicLength   = 256
	maxSubscriptions = 64
)

// validateTopic checks a concrete publish topic: bounded length, no wildcards,
// no empty levels.
func validateTopic(topic string) bool {
	if len(topic) == 0 || len(topic) > maxTopicLength {
		return false
	}
	if strings.ContainsAny(topic, "#+") {
		return false
	}
	for _, level := range strings.Split(topic, "/") {
		if level == "" {
			return false
		}
	}
	return true
}

// validatePattern checks a subscription pattern.
func validatePattern(pattern string) bool {
	return len(pattern) <= maxTopicLength && message.ValidPattern(pattern)
}

// HandleClientMessage processes one frame read from a relay client.
func (h *Hub) HandleClientMessage(client *Client, frame message.RelayFrame) {
	switch frame.Type {
	case message.FrameSubscribe:
		if !validatePattern(frame.Topic) {
			h.SendErrorMessage(client, "bad_pattern", "Invalid subscription pattern: "+frame.Topic)
			return
		}
		h.Mu.Lock()
		if len(client.Subscriptions) >= maxSubscriptions && !client.Subscriptions[frame.Topic] {
			h.Mu.Unlock()
			h.SendErrorMessage(client, "too_many_subscriptions", "Subscription limit reached")
			return
		}
		client.Subscriptions[frame.Topic] = true
		h.Mu.Unlock()
		h.Logger.Debugf("%s subscribed to %s", client.Name, frame.Topic)
		h.reply(client, message.RelayFrame{Type: message.FrameSubAck, Topic: frame.Topic})

	case message.FrameUnsubscribe:
		h.Mu.Lock()
		delete(client.Subscriptions, frame.Topic)
		h.Mu.Unlock()
		h.reply(client, message.RelayFrame{Type: message.FrameUnsubAck, Topic: frame.Topic})

	case message.FramePublish:
		if !validateTopic(frame.Topic) {
			h.SendErrorMessage(client, "bad_topic", "Invalid publish topic: "+frame.Topic)
			return
		}
		h.Publish(frame.Topic, []byte(frame.Data))

	default:
		h.SendErrorMessage(client, "unknown_type", "Unknown frame type")
	}
}

// SendErrorMessage sends an error frame to a single client.
func (h *Hub) SendErrorMessage(client *Client, code, errorMsg string) {
	h.reply(client, message.RelayFrame{Type: message.FrameError, Data: errorMsg, ErrorCode: code})
}

// reply sends a frame to one client. It holds the hub lock so it cannot race the
// channel close in removeClient.
func (h *Hub) reply(client *Client, frame message.RelayFrame) {
	data, err := encodeFrame(frame)
	if err != nil {
		h.Logger.Errorf("Failed to encode reply for %s: %v", client.Name, err)
		return
	}
	h.Mu.Lock()
	defer h.Mu.Unlock()
	if !h.Clients[client] {
		return
	}
	select {
	case client.Send <- data:
	default:
		h.Logger.Warnf("Reply to %s dropped, send buffer full", client.Name)
	}
}

func messageFrame(topic string, data []byte) message.RelayFrame {
	return message.RelayFrame{Type: message.FrameMessage, Topic: topic, Data: string(data)}
}

func encodeFrame(frame message.RelayFrame) ([]byte, error) {
	frame.Version = message.RelayVersion
	return json.Marshal(frame)
}
