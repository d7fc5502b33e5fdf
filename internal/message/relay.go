package message

// RelayVersion is the websocket relay frame revision.
const RelayVersion = "1.0"

// Relay frame types. The first three flow client to relay, the rest relay to client.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePublish     = "publish"
	FrameSubAck      = "suback"
	FrameUnsubAck    = "unsuback"
	FrameMessage     = "message"
	FrameError       = "error"
)

// RelayFrame is one websocket frame exchanged with the topic relay.
type RelayFrame struct {
	Version   string `json:"version"`
	Type      string `json:"type"`
	Topic     string `json:"topic,omitempty"`
	Data      string `json:"data,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}
