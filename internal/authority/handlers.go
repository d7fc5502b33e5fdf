package authority

import (
	"github.com/erilali/vossync/internal/message"
	"github.com/google/uuid"
)

// handleControl serves vos/session/*. Called with the lock held.
func (a *Authority) handleControl(route message.Route, env message.Envelope) []outbound {
	h := env.Head()
	switch e := env.(type) {
	case *message.CreateSession:
		if _, ok := a.sessions[h.SessionID]; ok {
			a.log.Warnf("Session %s already exists", h.SessionID)
			return nil
		}
		if h.SessionID == uuid.Nil {
			a.log.Warn("Create session without a session id")
			return nil
		}
		a.sessions[h.SessionID] = &session{
			id:       h.SessionID,
			tag:      e.SessionTag,
			created:  a.now(),
			clients:  make(map[uuid.UUID]*client),
			entities: make(map[uuid.UUID]*entityState),
		}
		a.log.Infof("Session %q (%s) created", e.SessionTag, h.SessionID)
		return []outbound{{
			topic: message.TopicSessionNew,
			env:   message.SessionAnnouncement{Header: a.header(h.SessionID), SessionTag: e.SessionTag},
		}}

	case *message.DestroySession:
		s, ok := a.sessions[h.SessionID]
		if !ok {
			a.log.Warnf("Destroy for unknown session %s", h.SessionID)
			return nil
		}
		delete(a.sessions, h.SessionID)
		a.log.Infof("Session %q (%s) closed", s.tag, s.id)
		return []outbound{{
			topic: message.TopicSessionClosed,
			env:   message.SessionAnnouncement{Header: a.header(s.id), SessionTag: s.tag},
		}}

	case *message.JoinSession:
		s, ok := a.session(h.SessionID)
		if !ok {
			return nil
		}
		if c, ok := s.clients[h.ClientID]; ok {
			c.tag, c.lastSeen = e.ClientTag, a.now()
			a.log.Warnf("Client %q joined session %s twice", e.ClientTag, s.id)
		} else {
			s.clients[h.ClientID] = &client{tag: e.ClientTag, lastSeen: a.now()}
			a.log.Infof("Client %q joined session %s", e.ClientTag, s.id)
		}
		return []outbound{{
			topic: message.StatusNewClient(s.id),
			env:   message.NewClient{Header: message.NewHeader(h.ClientID, s.id), ClientTag: e.ClientTag},
		}}

	case *message.ExitSession:
		s, ok := a.session(h.SessionID)
		if !ok {
			return nil
		}
		c, ok := s.clients[h.ClientID]
		if !ok {
			a.log.Warnf("Exit from unknown client %s", h.ClientID)
			return nil
		}
		a.log.Infof("Client %q left session %s", c.tag, s.id)
		return a.removeClient(s, h.ClientID)

	case *message.Heartbeat:
		s, ok := a.session(h.SessionID)
		if !ok {
			return nil
		}
		c, ok := s.clients[h.ClientID]
		if !ok {
			a.log.Debugf("Heartbeat from unknown client %s", h.ClientID)
			return nil
		}
		c.lastSeen = a.now()
		return nil

	case *message.GetState:
		s, ok := a.session(h.SessionID)
		if !ok {
			return nil
		}
		if c, ok := s.clients[h.ClientID]; ok {
			c.lastSeen = a.now()
		}
		return []outbound{{topic: message.StatusState(s.id), env: a.snapshot(s)}}
	}

	// vos/session/new, closed and state are our own broadcasts.
	a.log.Debugf("Ignoring %s on control topic", route.Action)
	return nil
}

// handleRequest applies a client request to the stored state and relays the
// original payload to the matching status topic. Called with the lock held.
func (a *Authority) handleRequest(route message.Route, env message.Envelope, payload []byte) []outbound {
	s, ok := a.sessions[route.SessionID]
	if !ok {
		a.dropped++
		a.log.Warnf("Request %s for unknown session %s", route.Action, route.SessionID)
		return nil
	}
	sender := env.Head().ClientID
	if c, ok := s.clients[sender]; ok {
		c.lastSeen = a.now()
	}

	switch e := env.(type) {
	case *message.CreateEntity:
		rec := e.Entity
		if _, ok := s.entities[rec.ID]; ok {
			a.log.Warnf("Entity %s already exists in session %s", rec.ID, s.id)
		} else {
			s.entities[rec.ID] = &entityState{record: rec, owner: sender}
			s.order = append(s.order, rec.ID)
		}
	case *message.EntityRef:
		// A removed entity leaves the shared state like a deleted one; peers that
		// already hold it keep it materialized, later joiners never see it.
		if !s.dropEntity(e.EntityID) {
			a.log.Warnf("%s for unknown entity %s", route.Action, e.EntityID)
		}
	case message.Update:
		st, ok := s.entities[e.Target()]
		if !ok {
			a.log.Warnf("%s update for unknown entity %s", e.Field(), e.Target())
		} else {
			applyUpdate(&st.record, e)
		}
	}

	a.relayed++
	return []outbound{{topic: route.StatusOf().Topic(), raw: payload}}
}

func (a *Authority) session(id uuid.UUID) (*session, bool) {
	s, ok := a.sessions[id]
	if !ok {
		a.log.Warnf("Unknown session %s", id)
	}
	return s, ok
}

// applyUpdate folds a field delta into a stored record so later snapshots carry it.
func applyUpdate(rec *message.EntityRecord, update message.Update) {
	p := &rec.Placement
	switch u := update.(type) {
	case *message.PositionUpdate:
		v := u.Position
		p.Position = &v
	case *message.RotationUpdate:
		v := u.Rotation
		p.Rotation = &v
	case *message.ScaleUpdate:
		v := u.Scale
		p.Scale, p.Size, p.IsSize = &v, nil, false
	case *message.SizeUpdate:
		v := u.Size
		p.Size, p.Scale, p.IsSize = &v, nil, true
	case *message.ParentUpdate:
		rec.ParentID = u.ParentID
	}
}
