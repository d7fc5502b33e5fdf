package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/erilali/vossync/internal/logger"
	"github.com/erilali/vossync/internal/message"
	"github.com/nats-io/nats.go"
)

const (
	natsConnectTimeout = 5 * time.Second
	natsClientName     = "vossync"
)

// NATSAdapter speaks to a NATS server. Topics map onto subjects by replacing "/"
// with "."; "#" becomes ">" and "+" becomes "*".
//
// Reconnection is disabled on purpose: a dropped connection is reported through
// OnDisconnected and the caller decides whether to reconnect and resubscribe.
type NATSAdapter struct {
	// URL overrides the endpoint when set, e.g. from NATS_URL.
	URL    string
	Logger *logger.Logger

	mu        sync.Mutex
	nc        *nats.Conn
	subs      map[string]*nats.Subscription
	callbacks Callbacks
}

func NewNATSAdapter(url string, log *logger.Logger) *NATSAdapter {
	if log == nil {
		log = logger.Nop()
	}
	return &NATSAdapter{URL: url, Logger: log, subs: make(map[string]*nats.Subscription)}
}

// TopicToSubject converts a slash topic or pattern into a NATS subject.
func TopicToSubject(topic string) string {
	levels := strings.Split(topic, "/")
	for i, level := range levels {
		switch level {
		case "#":
			levels[i] = ">"
		case "+":
			levels[i] = "*"
		}
	}
	return strings.Join(levels, ".")
}

// SubjectToTopic converts a concrete NATS subject back into a slash topic.
func SubjectToTopic(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}

func (a *NATSAdapter) url(endpoint Endpoint) string {
	if a.URL != "" {
		return a.URL
	}
	scheme := "nats"
	if endpoint.TLS {
		scheme = "tls"
	}
	return fmt.Sprintf("%s://%s", scheme, endpoint.HostPort())
}

func (a *NATSAdapter) Connect(ctx context.Context, endpoint Endpoint, callbacks Callbacks) error {
	timeout := natsConnectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	a.mu.Lock()
	a.callbacks = callbacks
	if a.subs == nil {
		a.subs = make(map[string]*nats.Subscription)
	}
	a.mu.Unlock()

	url := a.url(endpoint)
	callbacks.stateChanged(StateConnecting)
	a.Logger.Infof("Connecting to NATS at %s", url)

	opts := []nats.Option{
		nats.Name(natsClientName),
		nats.Timeout(timeout),
		nats.NoReconnect(),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			reason := "connection closed"
			if err != nil {
				reason = err.Error()
			}
			a.Logger.Warnf("NATS disconnected: %s", reason)
			callbacks.stateChanged(StateDisconnected)
			callbacks.disconnected(reason)
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			if sub != nil {
				err = fmt.Errorf("subscription %s: %w", sub.Subject, err)
			}
			a.Logger.Errorf("NATS error: %v", err)
			callbacks.error(err)
		}),
	}
	if endpoint.TLS && a.URL == "" {
		opts = append(opts, nats.Secure())
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		callbacks.stateChanged(StateDisconnected)
		callbacks.error(err)
		return fmt.Errorf("connect nats %s: %w", url, err)
	}

	a.mu.Lock()
	a.nc = nc
	a.mu.Unlock()

	a.Logger.Info("Successfully connected to NATS")
	callbacks.stateChanged(StateConnected)
	callbacks.connected()
	return nil
}

func (a *NATSAdapter) conn() (*nats.Conn, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.nc == nil || a.nc.IsClosed() {
		return nil, ErrNotConnected
	}
	return a.nc, nil
}

func (a *NATSAdapter) Disconnect(reason string) error {
	a.mu.Lock()
	nc := a.nc
	a.nc = nil
	a.subs = make(map[string]*nats.Subscription)
	a.mu.Unlock()
	if nc == nil {
		return nil
	}
	a.Logger.Infof("Disconnecting from NATS: %s", reason)
	if err := nc.Drain(); err != nil {
		nc.Close()
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}

func (a *NATSAdapter) Publish(topic string, payload []byte) error {
	nc, err := a.conn()
	if err != nil {
		return err
	}
	if strings.ContainsAny(topic, ".#+* ") {
		return fmt.Errorf("topic %q cannot be mapped to a subject", topic)
	}
	if err := nc.Publish(TopicToSubject(topic), payload); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (a *NATSAdapter) Subscribe(pattern string, onSubscribed func(), onMessage MessageHandler) error {
	if !message.ValidPattern(pattern) {
		return fmt.Errorf("%w: %q", ErrBadPattern, pattern)
	}
	nc, err := a.conn()
	if err != nil {
		return err
	}
	sub, err := nc.Subscribe(TopicToSubject(pattern), func(m *nats.Msg) {
		onMessage(SubjectToTopic(m.Subject), m.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", pattern, err)
	}
	// Flush so the server has registered interest before we report success.
	if err := nc.Flush(); err != nil {
		sub.Unsubscribe()
		return fmt.Errorf("flush subscribe %s: %w", pattern, err)
	}

	a.mu.Lock()
	if old, ok := a.subs[pattern]; ok {
		old.Unsubscribe()
	}
	a.subs[pattern] = sub
	a.mu.Unlock()

	a.Logger.Debugf("Subscribed to %s", pattern)
	call(onSubscribed)
	return nil
}

func (a *NATSAdapter) Unsubscribe(pattern string, onUnsubscribed func()) error {
	a.mu.Lock()
	sub, ok := a.subs[pattern]
	delete(a.subs, pattern)
	a.mu.Unlock()
	if ok {
		if err := sub.Unsubscribe(); err != nil {
			a.Logger.Warnf("Error unsubscribing %s: %v", pattern, err)
		}
	}
	call(onUnsubscribed)
	return nil
}

// Status reports the connection status for health checks.
func (a *NATSAdapter) Status() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.nc != nil && a.nc.Status() == nats.CONNECTED {
		return "connected"
	}
	return "disconnected"
}
