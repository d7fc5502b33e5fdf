// Package synchronizer keeps a local scene mirror consistent with a shared session
// over a pub/sub transport: session lifecycle, entity creation/removal/deletion,
// property deltas, snapshot resync, heartbeating and echo suppression.
//
// A Synchronizer is single threaded. Local operations and Tick must be called from
// the same goroutine; transport callbacks are queued and only applied inside Tick.
package synchronizer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/erilali/vossync/internal/logger"
	"github.com/erilali/vossync/internal/message"
	"github.com/erilali/vossync/internal/transport"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultDedupCacheSize    = 1024
)

// Config tunes a Synchronizer.
type Config struct {
	HeartbeatInterval time.Duration
	// DedupCacheSize is how many recent messageIDs are remembered to drop
	// redelivered envelopes. Zero disables deduplication.
	DedupCacheSize int
	// ClientID fixes the local client id; a random one is used when zero.
	ClientID uuid.UUID
}

func DefaultConfig() Config {
	return Config{HeartbeatInterval: DefaultHeartbeatInterval, DedupCacheSize: DefaultDedupCacheSize}
}

// Synchronizer is the client side of the session protocol.
type Synchronizer struct {
	cfg     Config
	log     *logger.Logger
	scene   SceneContext
	adapter transport.Adapter

	inboxMu sync.Mutex
	inbox   []func()

	seen *lru.Cache[uuid.UUID, struct{}]

	initialized bool
	connected   bool
	clientID    uuid.UUID
	clientTag   string
	sessionID   uuid.UUID
	exiting     bool

	requestedState bool
	onState        func()

	// entities are the ones this client broadcasts changes for; mirrors were
	// created because a peer announced them.
	entities  map[uuid.UUID]Entity
	mirrors   map[uuid.UUID]Entity
	users     map[uuid.UUID]string
	sessions  map[uuid.UUID]string
	listeners []MessageListener

	heartbeatElapsed time.Duration
}

// New builds a Synchronizer that publishes through adapter and materializes
// remote entities into scene.
func New(adapter transport.Adapter, scene SceneContext, cfg Config, log *logger.Logger) (*Synchronizer, error) {
	if adapter == nil {
		return nil, fmt.Errorf("synchronizer: nil transport adapter")
	}
	if scene == nil {
		return nil, fmt.Errorf("synchronizer: nil scene context")
	}
	if log == nil {
		log = logger.Nop()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.ClientID == uuid.Nil {
		cfg.ClientID = uuid.New()
	}

	s := &Synchronizer{
		cfg:      cfg,
		log:      log.WithField("client_id", cfg.ClientID.String()),
		scene:    scene,
		adapter:  adapter,
		clientID: cfg.ClientID,
		entities: make(map[uuid.UUID]Entity),
		mirrors:  make(map[uuid.UUID]Entity),
		users:    make(map[uuid.UUID]string),
		sessions: make(map[uuid.UUID]string),
	}
	if cfg.DedupCacheSize > 0 {
		seen, err := lru.New[uuid.UUID, struct{}](cfg.DedupCacheSize)
		if err != nil {
			return nil, fmt.Errorf("synchronizer: dedup cache: %w", err)
		}
		s.seen = seen
	}
	return s, nil
}

// Connect opens the transport. Once connected the control wildcard is subscribed.
// Reconnecting after a drop is the caller's job.
func (s *Synchronizer) Connect(ctx context.Context, endpoint transport.Endpoint) error {
	err := s.adapter.Connect(ctx, endpoint, transport.Callbacks{
		OnConnected: func() { s.Post(s.handleConnected) },
		OnDisconnected: func(reason string) {
			s.Post(func() { s.handleDisconnected(reason) })
		},
		OnStateChanged: func(state transport.State) {
			s.Post(func() { s.log.Debugf("Transport state: %s", state) })
		},
		OnError: func(err error) {
			s.Post(func() { s.handleTransportError(err) })
		},
	})
	if err != nil {
		s.log.Errorf("Transport connect failed: %v", err)
		return err
	}
	s.initialized = true
	return nil
}

// Disconnect closes the transport. Session state is left as is.
func (s *Synchronizer) Disconnect(reason string) error {
	if !s.initialized {
		return ErrNotInitialized
	}
	return s.adapter.Disconnect(reason)
}

func (s *Synchronizer) handleConnected() {
	s.connected = true
	s.log.Info("Transport connected")
	err := s.adapter.Subscribe(message.SessionWildcard,
		func() { s.Post(func() { s.log.Debugf("Subscribed to %s", message.SessionWildcard) }) },
		s.receive)
	if err != nil {
		s.log.Errorf("Subscribe %s failed: %v", message.SessionWildcard, err)
	}
}

func (s *Synchronizer) handleDisconnected(reason string) {
	s.connected = false
	s.log.Warnf("Transport disconnected: %s", reason)
}

func (s *Synchronizer) handleTransportError(err error) {
	s.connected = false
	s.log.Errorf("Transport error: %v", err)
}

// receive is the transport's message callback; it only queues.
func (s *Synchronizer) receive(topic string, payload []byte) {
	data := append([]byte(nil), payload...)
	s.Post(func() { s.handleMessage(topic, data) })
}

// Post queues fn to run on the tick goroutine. Safe from any goroutine.
func (s *Synchronizer) Post(fn func()) {
	s.inboxMu.Lock()
	s.inbox = append(s.inbox, fn)
	s.inboxMu.Unlock()
}

func (s *Synchronizer) drain() {
	for {
		s.inboxMu.Lock()
		batch := s.inbox
		s.inbox = nil
		s.inboxMu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, fn := range batch {
			fn()
		}
	}
}

// Tick applies queued transport events, then advances the heartbeat by dt.
func (s *Synchronizer) Tick(dt time.Duration) {
	s.drain()
	s.tickHeartbeat(dt)
}

// Run ticks every interval until ctx is done.
func (s *Synchronizer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Tick(now.Sub(last))
			last = now
		}
	}
}

func (s *Synchronizer) ClientID() uuid.UUID { return s.clientID }

func (s *Synchronizer) CurrentSessionID() uuid.UUID { return s.sessionID }

func (s *Synchronizer) InSession() bool { return s.sessionID != uuid.Nil }

func (s *Synchronizer) IsConnected() bool { return s.connected }

// SynchronizedUsers returns a copy of the session roster.
func (s *Synchronizer) SynchronizedUsers() map[uuid.UUID]string {
	out := make(map[uuid.UUID]string, len(s.users))
	for id, tag := range s.users {
		out[id] = tag
	}
	return out
}

// AvailableSessions returns a copy of the advertised session directory.
func (s *Synchronizer) AvailableSessions() map[uuid.UUID]string {
	out := make(map[uuid.UUID]string, len(s.sessions))
	for id, tag := range s.sessions {
		out[id] = tag
	}
	return out
}

// SynchronizedEntities returns the entities this client broadcasts changes for.
func (s *Synchronizer) SynchronizedEntities() map[uuid.UUID]Entity {
	out := make(map[uuid.UUID]Entity, len(s.entities))
	for id, e := range s.entities {
		out[id] = e
	}
	return out
}

// IsSynchronized reports whether id is in the synchronized entity set.
func (s *Synchronizer) IsSynchronized(id uuid.UUID) bool {
	_, ok := s.entities[id]
	return ok
}

// IsMirrored reports whether id was materialized from a peer's announcement.
func (s *Synchronizer) IsMirrored(id uuid.UUID) bool {
	_, ok := s.mirrors[id]
	return ok
}

// AddMessageListener registers fn for messages relayed with SendMessage.
func (s *Synchronizer) AddMessageListener(fn MessageListener) {
	if fn != nil {
		s.listeners = append(s.listeners, fn)
	}
}

func (s *Synchronizer) publish(topic string, env message.Envelope) error {
	payload, err := message.Encode(env)
	if err != nil {
		s.log.Errorf("Failed to encode %s: %v", topic, err)
		return err
	}
	if err := s.adapter.Publish(topic, payload); err != nil {
		s.log.Errorf("Failed to publish %s: %v", topic, err)
		return err
	}
	s.log.Debugf("Published %s", topic)
	return nil
}

func (s *Synchronizer) header() message.Header {
	return message.NewHeader(s.clientID, s.sessionID)
}

// requireSession checks the preconditions shared by every in-session operation.
func (s *Synchronizer) requireSession(op string) error {
	var err error
	switch {
	case !s.initialized:
		err = ErrNotInitialized
	case s.sessionID == uuid.Nil || s.exiting:
		err = ErrNotInSession
	case s.clientID == uuid.Nil:
		err = ErrNoClientID
	}
	if err != nil {
		return s.fail(op, err)
	}
	return nil
}

func (s *Synchronizer) requireEntity(op string, e Entity) error {
	if err := s.requireSession(op); err != nil {
		return err
	}
	if isNil(e) {
		return s.fail(op, ErrNilEntity)
	}
	return nil
}

func (s *Synchronizer) fail(op string, err error) error {
	s.log.Errorf("%s: %v", op, err)
	return fmt.Errorf("%s: %w", op, err)
}
