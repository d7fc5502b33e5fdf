package message

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Topic roots and control topics. Topics are slash separated and use MQTT style
// wildcards ("+" for one level, "#" for the remainder) in subscription patterns.
const (
	Root = "vos"

	TopicSessionCreate    = "vos/session/create"
	TopicSessionDestroy   = "vos/session/destroy"
	TopicSessionJoin      = "vos/session/join"
	TopicSessionExit      = "vos/session/exit"
	TopicSessionHeartbeat = "vos/session/heartbeat"
	TopicSessionGetState  = "vos/session/getstate"
	TopicSessionNew       = "vos/session/new"
	TopicSessionClosed    = "vos/session/closed"
	TopicSessionState     = "vos/session/state"

	SessionWildcard = "vos/session/#"
	RequestWildcard = "vos/request/#"
)

// Scope is the second topic level: control, status or request.
type Scope string

const (
	ScopeSession Scope = "session"
	ScopeStatus  Scope = "status"
	ScopeRequest Scope = "request"
)

// Action identifies what a routed topic carries.
type Action string

const (
	ActionCreateSession  Action = "create"
	ActionDestroySession Action = "destroy"
	ActionJoin           Action = "join"
	ActionExit           Action = "exit"
	ActionHeartbeat      Action = "heartbeat"
	ActionGetState       Action = "getstate"
	ActionNewSession     Action = "new"
	ActionClosedSession  Action = "closed"
	ActionState          Action = "state"
	ActionNewClient      Action = "newclient"
	ActionClientLeft     Action = "clientleft"
	ActionCreateEntity   Action = "createentity"
	ActionRemoveEntity   Action = "remove"
	ActionDeleteEntity   Action = "delete"
	ActionUpdateEntity   Action = "update"
	ActionMessageCreate  Action = "message/create"
	ActionMessageNew     Action = "message/new"
)

var sessionActions = map[string]Action{
	"create":    ActionCreateSession,
	"destroy":   ActionDestroySession,
	"join":      ActionJoin,
	"exit":      ActionExit,
	"heartbeat": ActionHeartbeat,
	"getstate":  ActionGetState,
	"new":       ActionNewSession,
	"closed":    ActionClosedSession,
	"state":     ActionState,
}

// ErrUnknownTopic is returned by ParseTopic for topics outside the scheme.
var ErrUnknownTopic = errors.New("unknown topic")

// Route is the parsed form of a topic.
type Route struct {
	Scope     Scope
	Action    Action
	SessionID uuid.UUID
	Kind      EntityKind
	EntityID  uuid.UUID
	Field     Field
}

// ParseTopic splits a concrete topic into its route. Wildcards are rejected.
func ParseTopic(topic string) (Route, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[0] != Root {
		return Route{}, fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}

	scope := Scope(parts[1])
	switch scope {
	case ScopeSession:
		action, ok := sessionActions[parts[2]]
		if !ok || len(parts) != 3 {
			return Route{}, fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
		}
		return Route{Scope: scope, Action: action}, nil
	case ScopeStatus, ScopeRequest:
	default:
		return Route{}, fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}

	sessionID, err := uuid.Parse(parts[2])
	if err != nil {
		return Route{}, fmt.Errorf("%w: bad session id in %q", ErrUnknownTopic, topic)
	}
	route := Route{Scope: scope, SessionID: sessionID}
	rest := parts[3:]

	switch {
	case len(rest) == 1:
		switch rest[0] {
		case "newclient":
			route.Action = ActionNewClient
		case "clientleft":
			route.Action = ActionClientLeft
		case "state":
			route.Action = ActionState
		default:
			kind, ok := kindFromCreateTopic(rest[0])
			if !ok {
				return Route{}, fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
			}
			route.Action = ActionCreateEntity
			route.Kind = kind
		}
	case len(rest) == 2 && rest[0] == "message":
		switch rest[1] {
		case "create":
			route.Action = ActionMessageCreate
		case "new":
			route.Action = ActionMessageNew
		default:
			return Route{}, fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
		}
	case len(rest) == 3 && rest[0] == "entity":
		entityID, err := uuid.Parse(rest[1])
		if err != nil {
			return Route{}, fmt.Errorf("%w: bad entity id in %q", ErrUnknownTopic, topic)
		}
		route.EntityID = entityID
		switch rest[2] {
		case "remove":
			route.Action = ActionRemoveEntity
		case "delete":
			route.Action = ActionDeleteEntity
		default:
			field := Field(rest[2])
			if !field.Valid() {
				return Route{}, fmt.Errorf("%w: unknown field in %q", ErrUnknownTopic, topic)
			}
			route.Action = ActionUpdateEntity
			route.Field = field
		}
	default:
		return Route{}, fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}
	return route, nil
}

func kindFromCreateTopic(level string) (EntityKind, bool) {
	if !strings.HasPrefix(level, "create") || !strings.HasSuffix(level, "entity") {
		return "", false
	}
	name := strings.TrimSuffix(strings.TrimPrefix(level, "create"), "entity")
	kind := EntityKind(name)
	return kind, kind.Valid()
}

// Topic rebuilds the concrete topic for a route.
func (r Route) Topic() string {
	if r.Scope == ScopeSession {
		return Root + "/session/" + string(r.Action)
	}
	base := fmt.Sprintf("%s/%s/%s", Root, r.Scope, r.SessionID)
	switch r.Action {
	case ActionCreateEntity:
		return base + "/create" + string(r.Kind) + "entity"
	case ActionRemoveEntity, ActionDeleteEntity:
		return fmt.Sprintf("%s/entity/%s/%s", base, r.EntityID, r.Action)
	case ActionUpdateEntity:
		return fmt.Sprintf("%s/entity/%s/%s", base, r.EntityID, r.Field)
	case ActionMessageCreate, ActionMessageNew:
		return base + "/" + string(r.Action)
	default:
		return base + "/" + string(r.Action)
	}
}

// StatusOf returns the status-scope route an authority relays a request route to.
func (r Route) StatusOf() Route {
	out := r
	out.Scope = ScopeStatus
	if r.Action == ActionMessageCreate {
		out.Action = ActionMessageNew
	}
	return out
}

func StatusWildcard(sessionID uuid.UUID) string {
	return fmt.Sprintf("%s/status/%s/#", Root, sessionID)
}

func StatusState(sessionID uuid.UUID) string {
	return Route{Scope: ScopeStatus, SessionID: sessionID, Action: ActionState}.Topic()
}

func StatusNewClient(sessionID uuid.UUID) string {
	return Route{Scope: ScopeStatus, SessionID: sessionID, Action: ActionNewClient}.Topic()
}

func StatusClientLeft(sessionID uuid.UUID) string {
	return Route{Scope: ScopeStatus, SessionID: sessionID, Action: ActionClientLeft}.Topic()
}

func StatusEntity(sessionID, entityID uuid.UUID, action Action) string {
	return Route{Scope: ScopeStatus, SessionID: sessionID, EntityID: entityID, Action: action}.Topic()
}

func RequestCreateEntity(sessionID uuid.UUID, kind EntityKind) string {
	return Route{Scope: ScopeRequest, SessionID: sessionID, Action: ActionCreateEntity, Kind: kind}.Topic()
}

func RequestRemoveEntity(sessionID, entityID uuid.UUID) string {
	return Route{Scope: ScopeRequest, SessionID: sessionID, EntityID: entityID, Action: ActionRemoveEntity}.Topic()
}

func RequestDeleteEntity(sessionID, entityID uuid.UUID) string {
	return Route{Scope: ScopeRequest, SessionID: sessionID, EntityID: entityID, Action: ActionDeleteEntity}.Topic()
}

func RequestUpdateEntity(sessionID, entityID uuid.UUID, field Field) string {
	return Route{Scope: ScopeRequest, SessionID: sessionID, EntityID: entityID, Action: ActionUpdateEntity, Field: field}.Topic()
}

func RequestMessageCreate(sessionID uuid.UUID) string {
	return Route{Scope: ScopeRequest, SessionID: sessionID, Action: ActionMessageCreate}.Topic()
}

// MatchTopic reports whether topic matches an MQTT style subscription pattern.
func MatchTopic(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	pp := strings.Split(pattern, "/")
	tp := strings.Split(topic, "/")
	for i, p := range pp {
		if p == "#" {
			return i == len(pp)-1
		}
		if i >= len(tp) {
			return false
		}
		if p != "+" && p != tp[i] {
			return false
		}
	}
	return len(pp) == len(tp)
}

// ValidPattern reports whether a subscription pattern is well formed: "#" may only
// appear as the last level and wildcards must fill a whole level.
func ValidPattern(pattern string) bool {
	if pattern == "" {
		return false
	}
	levels := strings.Split(pattern, "/")
	for i, level := range levels {
		if level == "" {
			return false
		}
		if strings.Contains(level, "#") && (level != "#" || i != len(levels)-1) {
			return false
		}
		if strings.Contains(level, "+") && level != "+" {
			return false
		}
	}
	return true
}
