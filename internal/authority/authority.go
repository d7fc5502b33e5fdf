// internal/authority/authority.go
// Package authority is the broker-side peer of the session protocol. It keeps the
// session directory, rosters and entity state, relays client requests to the
// session's status topics and answers snapshot requests.
package authority

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/erilali/vossync/internal/logger"
	"github.com/erilali/vossync/internal/message"
	"github.com/erilali/vossync/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultClientTimeout = 30 * time.Second
	DefaultReapInterval  = 5 * time.Second
)

var ErrUnknownSession = errors.New("unknown session")

type Config struct {
	// ClientTimeout is how long a client may go without a heartbeat before it is
	// treated as having exited. Zero disables reaping.
	ClientTimeout time.Duration
	ReapInterval  time.Duration
}

func DefaultConfig() Config {
	return Config{ClientTimeout: DefaultClientTimeout, ReapInterval: DefaultReapInterval}
}

type client struct {
	tag      string
	lastSeen time.Time
}

type entityState struct {
	record message.EntityRecord
	owner  uuid.UUID
}

type session struct {
	id       uuid.UUID
	tag      string
	created  time.Time
	clients  map[uuid.UUID]*client
	entities map[uuid.UUID]*entityState
	// order keeps entities in creation order so snapshots list parents first.
	order []uuid.UUID
}

func (s *session) dropEntity(id uuid.UUID) bool {
	if _, ok := s.entities[id]; !ok {
		return false
	}
	delete(s.entities, id)
	for i, eid := range s.order {
		if eid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// outbound is a publication computed under the lock and sent after it is released,
// since in-process transports deliver synchronously.
type outbound struct {
	topic string
	env   message.Envelope
	raw   []byte
}

// Authority serves every session on one transport connection.
type Authority struct {
	cfg     Config
	log     *logger.Logger
	adapter transport.Adapter
	id      uuid.UUID
	now     func() time.Time

	mu       sync.Mutex
	sessions map[uuid.UUID]*session

	relayed uint64
	dropped uint64
}

func New(adapter transport.Adapter, cfg Config, log *logger.Logger) *Authority {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = DefaultReapInterval
	}
	return &Authority{
		cfg:      cfg,
		log:      log,
		adapter:  adapter,
		id:       uuid.New(),
		now:      time.Now,
		sessions: make(map[uuid.UUID]*session),
	}
}

// ID is the client id the authority stamps on the envelopes it originates.
func (a *Authority) ID() uuid.UUID { return a.id }

// Start connects the transport and subscribes the control and request wildcards.
func (a *Authority) Start(ctx context.Context, endpoint transport.Endpoint) error {
	err := a.adapter.Connect(ctx, endpoint, transport.Callbacks{
		OnConnected: func() { a.log.Info("Authority connected") },
		OnDisconnected: func(reason string) {
			a.log.Warnf("Authority disconnected: %s", reason)
		},
		OnError: func(err error) { a.log.Event(zerolog.ErrorLevel, "transport_error", "", err) },
	})
	if err != nil {
		return fmt.Errorf("authority connect: %w", err)
	}
	for _, pattern := range []string{message.SessionWildcard, message.RequestWildcard} {
		err := a.adapter.Subscribe(pattern,
			func() { a.log.Infof("Authority subscribed to %s", pattern) },
			a.handle)
		if err != nil {
			return fmt.Errorf("authority subscribe %s: %w", pattern, err)
		}
	}
	return nil
}

// Stop disconnects the transport.
func (a *Authority) Stop() error {
	return a.adapter.Disconnect("authority shutting down")
}

// Run reaps timed out clients every ReapInterval until ctx is done.
func (a *Authority) Run(ctx context.Context) {
	if a.cfg.ClientTimeout <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(a.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			a.Reap(now)
		}
	}
}

// Reap treats every client silent for longer than ClientTimeout as exited and
// returns how many were removed.
func (a *Authority) Reap(now time.Time) int {
	if a.cfg.ClientTimeout <= 0 {
		return 0
	}
	a.mu.Lock()
	var out []outbound
	reaped := 0
	for _, s := range a.sessions {
		for id, c := range s.clients {
			if now.Sub(c.lastSeen) <= a.cfg.ClientTimeout {
				continue
			}
			a.log.Warnf("Client %q timed out of session %s", c.tag, s.id)
			out = append(out, a.removeClient(s, id)...)
			reaped++
		}
	}
	a.mu.Unlock()
	a.flush(out)
	return reaped
}

// Sessions lists the open sessions ordered by tag.
func (a *Authority) Sessions() []message.SessionInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]message.SessionInfo, 0, len(a.sessions))
	for _, s := range a.sessions {
		out = append(out, message.SessionInfo{ID: s.id, Tag: s.tag})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tag != out[j].Tag {
			return out[i].Tag < out[j].Tag
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// Snapshot returns the current state of sessionID as it would be sent to a client.
func (a *Authority) Snapshot(sessionID uuid.UUID) (message.SessionState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[sessionID]
	if !ok {
		return message.SessionState{}, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	return a.snapshot(s), nil
}

type Stats struct {
	Sessions int    `json:"sessions"`
	Clients  int    `json:"clients"`
	Entities int    `json:"entities"`
	Relayed  uint64 `json:"relayed"`
	Dropped  uint64 `json:"dropped"`
}

func (a *Authority) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := Stats{Sessions: len(a.sessions), Relayed: a.relayed, Dropped: a.dropped}
	for _, s := range a.sessions {
		st.Clients += len(s.clients)
		st.Entities += len(s.entities)
	}
	return st
}

// handle is the transport message callback.
func (a *Authority) handle(topic string, payload []byte) {
	route, err := message.ParseTopic(topic)
	if err != nil {
		a.log.Event(zerolog.WarnLevel, "unknown_topic", topic, err)
		return
	}
	env, err := message.Decode(route, payload)
	if err != nil {
		a.log.Event(zerolog.WarnLevel, "malformed", topic, err)
		return
	}

	a.mu.Lock()
	var out []outbound
	switch route.Scope {
	case message.ScopeSession:
		out = a.handleControl(route, env)
	case message.ScopeRequest:
		out = a.handleRequest(route, env, payload)
	}
	a.mu.Unlock()
	a.flush(out)
}

func (a *Authority) flush(out []outbound) {
	for _, o := range out {
		payload := o.raw
		if payload == nil {
			var err error
			if payload, err = message.Encode(o.env); err != nil {
				a.log.Event(zerolog.ErrorLevel, "encode_failed", o.topic, err)
				continue
			}
		}
		if err := a.adapter.Publish(o.topic, payload); err != nil {
			a.log.Event(zerolog.ErrorLevel, "publish_failed", o.topic, err)
		}
	}
}

func (a *Authority) header(sessionID uuid.UUID) message.Header {
	return message.NewHeader(a.id, sessionID)
}

func (a *Authority) snapshot(s *session) message.SessionState {
	state := message.SessionState{
		Header:   a.header(s.id),
		Clients:  make([]message.ClientInfo, 0, len(s.clients)),
		Entities: make([]message.EntityRecord, 0, len(s.order)),
	}
	for id, c := range s.clients {
		state.Clients = append(state.Clients, message.ClientInfo{ID: id, Tag: c.tag})
	}
	sort.Slice(state.Clients, func(i, j int) bool {
		return state.Clients[i].Tag < state.Clients[j].Tag
	})
	for _, id := range s.order {
		state.Entities = append(state.Entities, s.entities[id].record)
	}
	return state
}

// removeClient drops id from s and deletes the entities it created with
// deleteWithClient set. Called with the lock held.
func (a *Authority) removeClient(s *session, id uuid.UUID) []outbound {
	delete(s.clients, id)
	out := []outbound{{
		topic: message.StatusClientLeft(s.id),
		env:   message.ClientLeft{Header: message.NewHeader(id, s.id)},
	}}
	for _, eid := range append([]uuid.UUID(nil), s.order...) {
		st := s.entities[eid]
		if st.owner != id || !st.record.DeleteWithClient {
			continue
		}
		s.dropEntity(eid)
		out = append(out, outbound{
			topic: message.StatusEntity(s.id, eid, message.ActionDeleteEntity),
			env:   message.EntityRef{Header: a.header(s.id), EntityID: eid},
		})
	}
	return out
}
