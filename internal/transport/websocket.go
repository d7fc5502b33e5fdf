package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/erilali/vossync/internal/logger"
	"github.com/erilali/vossync/internal/message"
	"github.com/gorilla/websocket"
)

const (
	wsReadDeadline  = 60 * time.Second
	wsWriteDeadline = 10 * time.Second
	wsPingPeriod    = (wsReadDeadline * 9) / 10 // Must be less than wsReadDeadline
	wsSendBuffer    = 256
	defaultWSPath   = "/ws"
)

type wsSubscription struct {
	handler      MessageHandler
	onSubscribed func()
}

// WebSocketAdapter is a client of the topic relay served by internal/hub.
type WebSocketAdapter struct {
	Logger *logger.Logger
	Dialer *websocket.Dialer

	mu        sync.Mutex
	conn      *websocket.Conn
	send      chan message.RelayFrame
	done      chan struct{}
	subs      map[string]*wsSubscription
	leaving   map[string]func()
	callbacks Callbacks
	closing   bool
}

func NewWebSocketAdapter(log *logger.Logger) *WebSocketAdapter {
	if log == nil {
		log = logger.Nop()
	}
	return &WebSocketAdapter{Logger: log, Dialer: websocket.DefaultDialer}
}

func relayURL(endpoint Endpoint) string {
	scheme := "ws"
	if endpoint.TLS {
		scheme = "wss"
	}
	path := endpoint.Path
	if path == "" {
		path = defaultWSPath
	}
	u := url.URL{Scheme: scheme, Host: endpoint.HostPort(), Path: path}
	return u.String()
}

func (a *WebSocketAdapter) Connect(ctx context.Context, endpoint Endpoint, callbacks Callbacks) error {
	target := relayURL(endpoint)
	callbacks.stateChanged(StateConnecting)
	a.Logger.Infof("Connecting to relay at %s", target)

	dialer := a.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		callbacks.stateChanged(StateDisconnected)
		callbacks.error(err)
		return fmt.Errorf("dial relay %s: %w", target, err)
	}

	a.mu.Lock()
	a.conn = conn
	a.send = make(chan message.RelayFrame, wsSendBuffer)
	a.done = make(chan struct{})
	a.subs = make(map[string]*wsSubscription)
	a.leaving = make(map[string]func())
	a.callbacks = callbacks
	a.closing = false
	send, done := a.send, a.done
	a.mu.Unlock()

	go a.readPump(conn, done)
	go a.writePump(conn, send, done)

	callbacks.stateChanged(StateConnected)
	callbacks.connected()
	return nil
}

func (a *WebSocketAdapter) Disconnect(reason string) error {
	a.mu.Lock()
	if a.conn == nil || a.closing {
		a.mu.Unlock()
		return nil
	}
	a.closing = true
	conn, done := a.conn, a.done
	a.mu.Unlock()

	a.Logger.Infof("Disconnecting from relay: %s", reason)
	close(done)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteDeadline))
	return conn.Close()
}

func (a *WebSocketAdapter) enqueue(frame message.RelayFrame) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil || a.closing {
		return ErrNotConnected
	}
	frame.Version = message.RelayVersion
	select {
	case a.send <- frame:
		return nil
	default:
		return errors.New("relay send buffer full")
	}
}

func (a *WebSocketAdapter) Publish(topic string, payload []byte) error {
	return a.enqueue(message.RelayFrame{Type: message.FramePublish, Topic: topic, Data: string(payload)})
}

func (a *WebSocketAdapter) Subscribe(pattern string, onSubscribed func(), onMessage MessageHandler) error {
	if !message.ValidPattern(pattern) {
		return fmt.Errorf("%w: %q", ErrBadPattern, pattern)
	}
	a.mu.Lock()
	if a.subs != nil {
		a.subs[pattern] = &wsSubscription{handler: onMessage, onSubscribed: onSubscribed}
	}
	a.mu.Unlock()
	return a.enqueue(message.RelayFrame{Type: message.FrameSubscribe, Topic: pattern})
}

func (a *WebSocketAdapter) Unsubscribe(pattern string, onUnsubscribed func()) error {
	a.mu.Lock()
	if a.subs != nil {
		delete(a.subs, pattern)
		a.leaving[pattern] = onUnsubscribed
	}
	a.mu.Unlock()
	return a.enqueue(message.RelayFrame{Type: message.FrameUnsubscribe, Topic: pattern})
}

func (a *WebSocketAdapter) handleFrame(frame message.RelayFrame) {
	switch frame.Type {
	case message.FrameMessage:
		a.mu.Lock()
		var handlers []MessageHandler
		for pattern, sub := range a.subs {
			if message.MatchTopic(pattern, frame.Topic) {
				handlers = append(handlers, sub.handler)
			}
		}
		a.mu.Unlock()
		for _, h := range handlers {
			h(frame.Topic, []byte(frame.Data))
		}
	case message.FrameSubAck:
		a.mu.Lock()
		var cb func()
		if sub, ok := a.subs[frame.Topic]; ok {
			cb, sub.onSubscribed = sub.onSubscribed, nil
		}
		a.mu.Unlock()
		call(cb)
	case message.FrameUnsubAck:
		a.mu.Lock()
		cb := a.leaving[frame.Topic]
		delete(a.leaving, frame.Topic)
		a.mu.Unlock()
		call(cb)
	case message.FrameError:
		a.mu.Lock()
		callbacks := a.callbacks
		a.mu.Unlock()
		err := fmt.Errorf("relay error %s: %s", frame.ErrorCode, frame.Data)
		a.Logger.Warnf("%v", err)
		callbacks.error(err)
	default:
		a.Logger.Warnf("Ignoring relay frame of type %q", frame.Type)
	}
}

// readPump reads frames until the connection drops.
func (a *WebSocketAdapter) readPump(conn *websocket.Conn, done chan struct{}) {
	conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
		return nil
	})

	var reason string
	for {
		var frame message.RelayFrame
		_, data, err := conn.ReadMessage()
		if err != nil {
			reason = err.Error()
			break
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			a.Logger.Warnf("Dropping malformed relay frame: %v", err)
			continue
		}
		a.handleFrame(frame)
	}

	a.mu.Lock()
	wasClosing := a.closing
	callbacks := a.callbacks
	if a.conn == conn {
		a.conn = nil
	}
	a.mu.Unlock()

	if !wasClosing {
		close(done)
		a.Logger.Warnf("Relay connection lost: %s", reason)
	}
	callbacks.stateChanged(StateDisconnected)
	callbacks.disconnected(reason)
}

// writePump serializes writes; gorilla connections allow one concurrent writer.
func (a *WebSocketAdapter) writePump(conn *websocket.Conn, send chan message.RelayFrame, done chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case frame := <-send:
			conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
			if err := conn.WriteJSON(frame); err != nil {
				a.Logger.Errorf("Relay write failed: %v", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
