// Package transport defines the pub/sub adapter contract the synchronizer and the
// session authority publish and subscribe through, plus its implementations.
//
// Delivery is at-least-once per active subscription with no ordering across topics.
// Callbacks fire on the adapter's own goroutines; consumers must hand them off to
// their own execution context before touching state.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// Kind selects the wire a broker is reached over.
type Kind string

const (
	KindNATS      Kind = "nats"
	KindRedis     Kind = "redis"
	KindWebSocket Kind = "websocket"
	KindMemory    Kind = "memory"
)

// State is the adapter connection state reported through Callbacks.OnStateChanged.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

var (
	ErrNotConnected = errors.New("transport not connected")
	ErrBadPattern   = errors.New("invalid topic pattern")
)

// Endpoint addresses a broker.
type Endpoint struct {
	Host string
	Port int
	TLS  bool
	// Path is only used by the websocket relay.
	Path string
}

func (e Endpoint) HostPort() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// Callbacks receive connection lifecycle events. Any may be nil.
type Callbacks struct {
	OnConnected    func()
	OnDisconnected func(reason string)
	OnStateChanged func(State)
	OnError        func(error)
}

func (c Callbacks) connected() {
	if c.OnConnected != nil {
		c.OnConnected()
	}
}

func (c Callbacks) disconnected(reason string) {
	if c.OnDisconnected != nil {
		c.OnDisconnected(reason)
	}
}

func (c Callbacks) stateChanged(s State) {
	if c.OnStateChanged != nil {
		c.OnStateChanged(s)
	}
}

func (c Callbacks) error(err error) {
	if c.OnError != nil && err != nil {
		c.OnError(err)
	}
}

// MessageHandler receives one delivered message.
type MessageHandler func(topic string, payload []byte)

// Adapter is a pub/sub client. Topics are slash separated; patterns use "+" and "#".
type Adapter interface {
	Connect(ctx context.Context, endpoint Endpoint, callbacks Callbacks) error
	Disconnect(reason string) error
	Publish(topic string, payload []byte) error
	Subscribe(pattern string, onSubscribed func(), onMessage MessageHandler) error
	Unsubscribe(pattern string, onUnsubscribed func()) error
}

func call(fn func()) {
	if fn != nil {
		fn()
	}
}
