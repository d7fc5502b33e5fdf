package message

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Encode renders an envelope as its JSON text payload.
func Encode(env Envelope) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("%w: nil envelope", ErrMalformed)
	}
	return json.Marshal(env)
}

// PeekHeader decodes only the common header of a payload.
func PeekHeader(payload []byte) (Header, error) {
	var h Header
	if err := json.Unmarshal(payload, &h); err != nil {
		return h, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if h.MessageID == uuid.Nil {
		return h, fmt.Errorf("%w: missing messageID", ErrMalformed)
	}
	return h, nil
}

// Decode parses payload into the concrete envelope type the route carries.
func Decode(route Route, payload []byte) (Envelope, error) {
	env, err := newEnvelope(route)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, env); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, route.Topic(), err)
	}
	if env.Head().MessageID == uuid.Nil {
		return nil, fmt.Errorf("%w: %s: missing messageID", ErrMalformed, route.Topic())
	}
	switch e := env.(type) {
	case *CreateEntity:
		if e.Entity.Kind != route.Kind {
			return nil, fmt.Errorf("%w: %s carries %q entity", ErrMalformed, route.Topic(), e.Entity.Kind)
		}
		if err := e.Entity.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, route.Topic(), err)
		}
	case Update:
		if e.Target() != route.EntityID {
			return nil, fmt.Errorf("%w: %s targets entity %s", ErrMalformed, route.Topic(), e.Target())
		}
	case *EntityRef:
		if e.EntityID == uuid.Nil {
			e.EntityID = route.EntityID
		} else if e.EntityID != route.EntityID {
			return nil, fmt.Errorf("%w: %s targets entity %s", ErrMalformed, route.Topic(), e.EntityID)
		}
	}
	return env, nil
}

func newEnvelope(route Route) (Envelope, error) {
	switch route.Action {
	case ActionCreateSession:
		return &CreateSession{}, nil
	case ActionDestroySession:
		return &DestroySession{}, nil
	case ActionJoin:
		return &JoinSession{}, nil
	case ActionExit:
		return &ExitSession{}, nil
	case ActionHeartbeat:
		return &Heartbeat{}, nil
	case ActionGetState:
		return &GetState{}, nil
	case ActionNewSession, ActionClosedSession:
		return &SessionAnnouncement{}, nil
	case ActionState:
		return &SessionState{}, nil
	case ActionNewClient:
		return &NewClient{}, nil
	case ActionClientLeft:
		return &ClientLeft{}, nil
	case ActionCreateEntity:
		return &CreateEntity{}, nil
	case ActionRemoveEntity, ActionDeleteEntity:
		return &EntityRef{}, nil
	case ActionUpdateEntity:
		return NewUpdate(route.Field)
	case ActionMessageCreate, ActionMessageNew:
		return &CustomMessage{}, nil
	}
	return nil, fmt.Errorf("%w: no envelope for action %q", ErrUnknownTopic, route.Action)
}
