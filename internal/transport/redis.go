package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"

	"github.com/erilali/vossync/internal/logger"
	"github.com/erilali/vossync/internal/message"
	"github.com/redis/go-redis/v9"
)

// RedisAdapter uses Redis PUBLISH/PSUBSCRIBE. Topics are used as channel names
// unchanged; wildcard levels become "*" globs and deliveries are re-filtered with
// MQTT semantics since a Redis glob also matches across "/".
type RedisAdapter struct {
	// Addr overrides the endpoint when set, e.g. from REDIS_ADDR.
	Addr   string
	Logger *logger.Logger

	mu        sync.Mutex
	rdb       *redis.Client
	subs      map[string]*redis.PubSub
	callbacks Callbacks
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewRedisAdapter(addr string, log *logger.Logger) *RedisAdapter {
	if log == nil {
		log = logger.Nop()
	}
	return &RedisAdapter{Addr: addr, Logger: log, subs: make(map[string]*redis.PubSub)}
}

// PatternToGlob converts an MQTT style pattern into a Redis glob.
func PatternToGlob(pattern string) string {
	levels := strings.Split(pattern, "/")
	for i, level := range levels {
		if level == "#" || level == "+" {
			levels[i] = "*"
		}
	}
	return strings.Join(levels, "/")
}

func (a *RedisAdapter) Connect(ctx context.Context, endpoint Endpoint, callbacks Callbacks) error {
	addr := a.Addr
	if addr == "" {
		addr = endpoint.HostPort()
	}
	opts := &redis.Options{Addr: addr}
	if endpoint.TLS {
		opts.TLSConfig = &tls.Config{ServerName: endpoint.Host, MinVersion: tls.VersionTLS12}
	}

	callbacks.stateChanged(StateConnecting)
	a.Logger.Infof("Connecting to Redis at %s", addr)
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		callbacks.stateChanged(StateDisconnected)
		callbacks.error(err)
		return fmt.Errorf("connect redis %s: %w", addr, err)
	}

	a.mu.Lock()
	a.rdb = rdb
	a.callbacks = callbacks
	a.ctx, a.cancel = context.WithCancel(context.Background())
	if a.subs == nil {
		a.subs = make(map[string]*redis.PubSub)
	}
	a.mu.Unlock()

	a.Logger.Info("Connected to Redis successfully")
	callbacks.stateChanged(StateConnected)
	callbacks.connected()
	return nil
}

func (a *RedisAdapter) client() (*redis.Client, context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.rdb == nil {
		return nil, nil, ErrNotConnected
	}
	return a.rdb, a.ctx, nil
}

func (a *RedisAdapter) Disconnect(reason string) error {
	a.mu.Lock()
	rdb, subs, cancel, callbacks := a.rdb, a.subs, a.cancel, a.callbacks
	a.rdb = nil
	a.subs = make(map[string]*redis.PubSub)
	a.mu.Unlock()
	if rdb == nil {
		return nil
	}

	a.Logger.Infof("Disconnecting from Redis: %s", reason)
	cancel()
	for _, ps := range subs {
		ps.Close()
	}
	err := rdb.Close()
	callbacks.stateChanged(StateDisconnected)
	callbacks.disconnected(reason)
	return err
}

func (a *RedisAdapter) Publish(topic string, payload []byte) error {
	rdb, ctx, err := a.client()
	if err != nil {
		return err
	}
	if err := rdb.Publish(ctx, topic, payload).Err(); err != nil {
		a.mu.Lock()
		callbacks := a.callbacks
		a.mu.Unlock()
		callbacks.error(err)
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (a *RedisAdapter) Subscribe(pattern string, onSubscribed func(), onMessage MessageHandler) error {
	if !message.ValidPattern(pattern) {
		return fmt.Errorf("%w: %q", ErrBadPattern, pattern)
	}
	rdb, ctx, err := a.client()
	if err != nil {
		return err
	}

	ps := rdb.PSubscribe(ctx, PatternToGlob(pattern))
	// Receive blocks until the subscription is confirmed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return fmt.Errorf("subscribe %s: %w", pattern, err)
	}

	a.mu.Lock()
	if old, ok := a.subs[pattern]; ok {
		old.Close()
	}
	a.subs[pattern] = ps
	a.mu.Unlock()

	go func() {
		for msg := range ps.Channel() {
			if !message.MatchTopic(pattern, msg.Channel) {
				continue
			}
			onMessage(msg.Channel, []byte(msg.Payload))
		}
	}()

	a.Logger.Debugf("Subscribed to %s", pattern)
	call(onSubscribed)
	return nil
}

func (a *RedisAdapter) Unsubscribe(pattern string, onUnsubscribed func()) error {
	a.mu.Lock()
	ps, ok := a.subs[pattern]
	delete(a.subs, pattern)
	a.mu.Unlock()
	if ok {
		if err := ps.Close(); err != nil {
			a.Logger.Warnf("Error unsubscribing %s: %v", pattern, err)
		}
	}
	call(onUnsubscribed)
	return nil
}

// Status reports the connection status for health checks.
func (a *RedisAdapter) Status() string {
	rdb, ctx, err := a.client()
	if err != nil {
		return "disconnected"
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		return "disconnected"
	}
	return "connected"
}
