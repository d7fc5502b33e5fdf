package synchronizer

import (
	"github.com/erilali/vossync/internal/message"
	"github.com/google/uuid"
)

// applySnapshot replaces all synchronized state with the snapshot's, if one was
// requested for this session. Every tracked entity is torn down and recreated,
// including ones the snapshot still contains.
func (s *Synchronizer) applySnapshot(state *message.SessionState) {
	if !s.requestedState {
		s.log.Debug("Ignoring unrequested session state")
		return
	}
	if state.SessionID != s.sessionID {
		s.log.Debugf("Ignoring session state for %s", state.SessionID)
		return
	}

	for _, e := range s.entities {
		s.destroy(e)
	}
	for _, e := range s.mirrors {
		s.destroy(e)
	}

	s.users = make(map[uuid.UUID]string, len(state.Clients))
	for _, c := range state.Clients {
		s.users[c.ID] = c.Tag
	}

	// Stale local copies of snapshot entities go too.
	for _, rec := range state.Entities {
		if e, ok := s.scene.Entity(rec.ID); ok {
			s.destroy(e)
		}
	}

	rebuilt := make(map[uuid.UUID]Entity, len(state.Entities))
	pending := append([]message.EntityRecord(nil), state.Entities...)
	// Parents must exist before their children; retry until no progress.
	for len(pending) > 0 {
		var deferred []message.EntityRecord
		for _, rec := range pending {
			if rec.ParentID != nil {
				if _, ok := s.scene.Entity(*rec.ParentID); !ok {
					deferred = append(deferred, rec)
					continue
				}
			}
			e, err := s.materialize(rec)
			if err != nil {
				s.log.Warnf("Snapshot: skipping %s entity %s: %v", rec.Kind, rec.ID, err)
				continue
			}
			rebuilt[rec.ID] = e
		}
		if len(deferred) == len(pending) {
			for _, rec := range deferred {
				s.log.Warnf("Snapshot: skipping %s entity %s, parent %s never resolved", rec.Kind, rec.ID, *rec.ParentID)
			}
			break
		}
		pending = deferred
	}

	s.entities = rebuilt
	s.mirrors = make(map[uuid.UUID]Entity)
	for _, e := range rebuilt {
		e.StartSynchronizing(s)
	}

	s.requestedState = false
	onState := s.onState
	s.onState = nil
	s.log.Infof("Session state applied: %d clients, %d entities", len(s.users), len(rebuilt))
	if onState != nil {
		onState()
	}
}

func (s *Synchronizer) addUser(id uuid.UUID, tag string) {
	if old, ok := s.users[id]; ok {
		s.log.Debugf("Client %s already known as %q", id, old)
	}
	s.users[id] = tag
	s.log.Infof("Client %q joined", tag)
}

func (s *Synchronizer) removeUser(id uuid.UUID) {
	tag, ok := s.users[id]
	if !ok {
		s.log.Warnf("Unknown client %s left", id)
		return
	}
	delete(s.users, id)
	s.log.Infof("Client %q left", tag)
}

func (s *Synchronizer) addAvailableSession(id uuid.UUID, tag string) {
	if _, ok := s.sessions[id]; ok {
		s.log.Warnf("Session %s already advertised", id)
		return
	}
	s.sessions[id] = tag
}

func (s *Synchronizer) removeAvailableSession(id uuid.UUID) {
	if _, ok := s.sessions[id]; !ok {
		s.log.Warnf("Closed session %s was never advertised", id)
		return
	}
	delete(s.sessions, id)
}
