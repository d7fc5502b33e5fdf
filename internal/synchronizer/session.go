package synchronizer

import (
	"fmt"

	"github.com/erilali/vossync/internal/message"
	"github.com/google/uuid"
)

// CreateSession advertises a new session. It does not join it.
func (s *Synchronizer) CreateSession(id uuid.UUID, tag string) error {
	const op = "create session"
	if !s.initialized {
		return s.fail(op, ErrNotInitialized)
	}
	if id == uuid.Nil {
		return s.fail(op, ErrInvalidValue)
	}
	return s.publish(message.TopicSessionCreate, message.CreateSession{
		Header:     message.NewHeader(s.clientID, id),
		SessionTag: tag,
	})
}

// JoinSession enters sessionID as clientTag and subscribes to its status topics.
// It returns the local client id.
func (s *Synchronizer) JoinSession(sessionID uuid.UUID, clientTag string) (uuid.UUID, error) {
	const op = "join session"
	if !s.initialized {
		return uuid.Nil, s.fail(op, ErrNotInitialized)
	}
	if s.sessionID != uuid.Nil {
		return uuid.Nil, s.fail(op, ErrAlreadyInSession)
	}
	if sessionID == uuid.Nil {
		return uuid.Nil, s.fail(op, ErrInvalidValue)
	}

	s.sessionID = sessionID
	s.clientTag = clientTag
	s.heartbeatElapsed = 0
	err := s.publish(message.TopicSessionJoin, message.JoinSession{
		Header:    s.header(),
		ClientTag: clientTag,
	})
	if err != nil {
		s.sessionID = uuid.Nil
		return uuid.Nil, err
	}

	pattern := message.StatusWildcard(sessionID)
	err = s.adapter.Subscribe(pattern,
		func() { s.Post(func() { s.log.Infof("Joined session %s as %q", sessionID, clientTag) }) },
		s.receive)
	if err != nil {
		s.sessionID = uuid.Nil
		s.clientTag = ""
		return uuid.Nil, s.fail(op, fmt.Errorf("subscribe %s: %w", pattern, err))
	}
	return s.clientID, nil
}

// ExitSession leaves the current session. Every locally synchronized entity stops
// synchronizing but stays materialized. The session is only cleared once the
// status unsubscribe completes.
func (s *Synchronizer) ExitSession() error {
	const op = "exit session"
	if err := s.requireSession(op); err != nil {
		return err
	}

	sessionID := s.sessionID
	if err := s.publish(message.TopicSessionExit, message.ExitSession{Header: s.header()}); err != nil {
		return err
	}
	for id, e := range s.entities {
		e.StopSynchronizing()
		delete(s.entities, id)
	}
	s.exiting = true

	return s.adapter.Unsubscribe(message.StatusWildcard(sessionID), func() {
		s.Post(func() { s.finishExit(sessionID) })
	})
}

func (s *Synchronizer) finishExit(sessionID uuid.UUID) {
	if s.sessionID != sessionID {
		return
	}
	s.sessionID = uuid.Nil
	s.exiting = false
	s.requestedState = false
	s.onState = nil
	s.users = make(map[uuid.UUID]string)
	s.mirrors = make(map[uuid.UUID]Entity)
	s.log.Infof("Left session %s", sessionID)
}

// DestroySession asks for the current session to be closed. The caller stays in
// it until it exits.
func (s *Synchronizer) DestroySession() error {
	const op = "destroy session"
	if err := s.requireSession(op); err != nil {
		return err
	}
	return s.publish(message.TopicSessionDestroy, message.DestroySession{Header: s.header()})
}

// GetSessionState requests a snapshot. The next matching snapshot replaces the
// local synchronized state and onReceived is called once. No timeout applies.
func (s *Synchronizer) GetSessionState(onReceived func()) error {
	const op = "get session state"
	if err := s.requireSession(op); err != nil {
		return err
	}
	s.requestedState = true
	s.onState = onReceived
	return s.publish(message.TopicSessionGetState, message.GetState{Header: s.header()})
}
