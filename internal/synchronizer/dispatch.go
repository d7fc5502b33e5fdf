package synchronizer

import (
	"fmt"

	"github.com/erilali/vossync/internal/message"
	"github.com/google/uuid"
)

// handleMessage routes one inbound envelope. It runs on the tick goroutine.
func (s *Synchronizer) handleMessage(topic string, payload []byte) {
	route, err := message.ParseTopic(topic)
	if err != nil {
		s.log.Warnf("Dropping message: %v", err)
		return
	}
	env, err := message.Decode(route, payload)
	if err != nil {
		s.log.Warnf("Dropping message on %s: %v", topic, err)
		return
	}
	if s.seen != nil {
		if found, _ := s.seen.ContainsOrAdd(env.Head().MessageID, struct{}{}); found {
			s.log.Debugf("Dropping redelivered message %s on %s", env.Head().MessageID, topic)
			return
		}
	}

	switch route.Scope {
	case message.ScopeSession:
		s.handleControl(route, env)
	case message.ScopeStatus:
		if route.SessionID != s.sessionID || s.exiting {
			s.log.Debugf("Ignoring status for session %s", route.SessionID)
			return
		}
		s.handleStatus(route, env)
	default:
		s.log.Debugf("Ignoring %s message on %s", route.Scope, topic)
	}
}

func (s *Synchronizer) handleControl(route message.Route, env message.Envelope) {
	switch e := env.(type) {
	case *message.SessionAnnouncement:
		if route.Action == message.ActionNewSession {
			s.addAvailableSession(e.SessionID, e.SessionTag)
		} else {
			s.removeAvailableSession(e.SessionID)
		}
	case *message.SessionState:
		s.applySnapshot(e)
	default:
		// Other clients' control requests share the wildcard.
	}
}

func (s *Synchronizer) handleStatus(route message.Route, env message.Envelope) {
	switch e := env.(type) {
	case *message.NewClient:
		s.addUser(e.ClientID, e.ClientTag)
	case *message.ClientLeft:
		s.removeUser(e.ClientID)
	case *message.SessionState:
		s.applySnapshot(e)
	case *message.CustomMessage:
		for _, listener := range s.listeners {
			listener(e.Topic, e.ClientID, e.Message)
		}
	case *message.CreateEntity:
		if s.isEcho(env) {
			return
		}
		s.handleRemoteCreate(e.Entity)
	case *message.EntityRef:
		if s.isEcho(env) {
			return
		}
		if route.Action == message.ActionDeleteEntity {
			s.handleRemoteDelete(e.EntityID)
		} else {
			s.handleRemoteRemove(e.EntityID)
		}
	case message.Update:
		if s.isEcho(env) {
			return
		}
		s.handleRemoteUpdate(e)
	}
}

// isEcho reports whether env reports a change this client made itself; those were
// applied locally before publishing and must not be applied again.
func (s *Synchronizer) isEcho(env message.Envelope) bool {
	return env.Head().ClientID == s.clientID
}

func (s *Synchronizer) handleRemoteCreate(rec message.EntityRecord) {
	if _, ok := s.scene.Entity(rec.ID); ok {
		s.log.Warnf("Entity %s already exists, ignoring duplicate creation", rec.ID)
		return
	}
	e, err := s.materialize(rec)
	if err != nil {
		s.log.Warnf("Cannot materialize %s entity %s: %v", rec.Kind, rec.ID, err)
		return
	}
	s.mirrors[rec.ID] = e
}

// materialize constructs a local entity for rec and applies its placement.
func (s *Synchronizer) materialize(rec message.EntityRecord) (Entity, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	handler, ok := kindHandlers[rec.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: kind %q", ErrUnsupportedEntity, rec.Kind)
	}
	var parent Entity
	if rec.ParentID != nil {
		p, ok := s.scene.Entity(*rec.ParentID)
		if !ok {
			return nil, fmt.Errorf("%w: parent %s not found", ErrInvalidParent, *rec.ParentID)
		}
		parent = p
	}
	if err := checkParent(rec.Kind, parent); err != nil {
		return nil, err
	}
	e, err := handler.materialize(s.scene, parent, rec)
	if err != nil {
		return nil, err
	}
	if isNil(e) {
		return nil, fmt.Errorf("scene returned no %s entity", rec.Kind)
	}
	e.SetVisibility(true, false)
	applyPlacement(e, rec.Placement)
	return e, nil
}

func (s *Synchronizer) handleRemoteRemove(id uuid.UUID) {
	if e, ok := s.entities[id]; ok {
		e.StopSynchronizing()
		delete(s.entities, id)
		return
	}
	if _, ok := s.mirrors[id]; ok {
		delete(s.mirrors, id)
		return
	}
	s.log.Warnf("Remove for unknown entity %s", id)
}

func (s *Synchronizer) handleRemoteDelete(id uuid.UUID) {
	e, ok := s.scene.Entity(id)
	if !ok {
		s.log.Warnf("Delete for unknown entity %s", id)
		delete(s.entities, id)
		delete(s.mirrors, id)
		return
	}
	s.destroy(e)
}

func (s *Synchronizer) handleRemoteUpdate(update message.Update) {
	e, ok := s.scene.Entity(update.Target())
	if !ok {
		s.log.Warnf("%s update for unknown entity %s", update.Field(), update.Target())
		return
	}
	switch u := update.(type) {
	case *message.PositionUpdate:
		e.SetPosition(u.Position, false)
	case *message.RotationUpdate:
		e.SetRotation(u.Rotation, false)
	case *message.ScaleUpdate:
		e.SetScale(u.Scale, false)
	case *message.SizeUpdate:
		e.SetSize(u.Size, false)
	case *message.VisibilityUpdate:
		e.SetVisibility(u.Visible, false)
	default:
		s.log.Debugf("Not applying %s update for entity %s", update.Field(), update.Target())
	}
}
