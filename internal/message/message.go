// internal/message/message.go
// Envelope catalog exchanged over the pub/sub bus between clients and the session authority.
package message

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

type Vector2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (v Vector2) InUnitRange() bool {
	return v.X >= 0 && v.X <= 1 && v.Y >= 0 && v.Y <= 1
}

type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// Identity is the quaternion with no rotation.
var Identity = Quaternion{W: 1}

// Header is carried by every envelope. MessageID is fresh per send.
type Header struct {
	MessageID uuid.UUID `json:"messageID"`
	ClientID  uuid.UUID `json:"clientID"`
	SessionID uuid.UUID `json:"sessionID"`
}

func NewHeader(clientID, sessionID uuid.UUID) Header {
	return Header{MessageID: uuid.New(), ClientID: clientID, SessionID: sessionID}
}

func (h Header) Head() Header { return h }

// Envelope is implemented by every message in the catalog.
type Envelope interface {
	Head() Header
}

type ClientInfo struct {
	ID  uuid.UUID `json:"id"`
	Tag string    `json:"tag"`
}

type SessionInfo struct {
	ID  uuid.UUID `json:"id"`
	Tag string    `json:"tag"`
}

// Control envelopes.

type CreateSession struct {
	Header
	SessionTag string `json:"sessionTag"`
}

type DestroySession struct {
	Header
}

type JoinSession struct {
	Header
	ClientTag string `json:"clientTag"`
}

type ExitSession struct {
	Header
}

type Heartbeat struct {
	Header
}

type GetState struct {
	Header
}

// SessionAnnouncement is broadcast on vos/session/new and vos/session/closed.
type SessionAnnouncement struct {
	Header
	SessionTag string `json:"sessionTag,omitempty"`
}

// SessionState is a full snapshot of a session's roster and entities.
type SessionState struct {
	Header
	Clients  []ClientInfo   `json:"clients"`
	Entities []EntityRecord `json:"entities"`
}

// Roster envelopes. The header's ClientID is the client that joined or left.

type NewClient struct {
	Header
	ClientTag string `json:"clientTag"`
}

type ClientLeft struct {
	Header
}

// CreateEntity announces a new synchronized entity. On the wire the entity
// record fields are flattened next to the header fields.
type CreateEntity struct {
	Header
	Entity EntityRecord `json:"-"`
}

func (c CreateEntity) MarshalJSON() ([]byte, error) {
	parts, err := c.Entity.fields()
	if err != nil {
		return nil, err
	}
	return mergeObjects(append([]interface{}{c.Header}, parts...)...)
}

func (c *CreateEntity) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &c.Header); err != nil {
		return err
	}
	return json.Unmarshal(data, &c.Entity)
}

// EntityRef targets an entity without changing a field; used by remove and delete.
type EntityRef struct {
	Header
	EntityID uuid.UUID `json:"entityID"`
}

func (e EntityRef) Target() uuid.UUID { return e.EntityID }

// CustomMessage relays an application topic/payload pair between clients.
type CustomMessage struct {
	Header
	Topic   string `json:"topic"`
	Message string `json:"message"`
}

// Field names an entity property delta; it is also the last topic level.
type Field string

const (
	FieldPosition           Field = "position"
	FieldRotation           Field = "rotation"
	FieldScale              Field = "scale"
	FieldSize               Field = "size"
	FieldParent             Field = "parent"
	FieldVisibility         Field = "visibility"
	FieldHighlight          Field = "highlight"
	FieldInteractionState   Field = "interactionstate"
	FieldMotion             Field = "motion"
	FieldPhysicalProperties Field = "physicalproperties"
)

var updateFactories = map[Field]func() Update{
	FieldPosition:           func() Update { return &PositionUpdate{} },
	FieldRotation:           func() Update { return &RotationUpdate{} },
	FieldScale:              func() Update { return &ScaleUpdate{} },
	FieldSize:               func() Update { return &SizeUpdate{} },
	FieldParent:             func() Update { return &ParentUpdate{} },
	FieldVisibility:         func() Update { return &VisibilityUpdate{} },
	FieldHighlight:          func() Update { return &HighlightUpdate{} },
	FieldInteractionState:   func() Update { return &InteractionStateUpdate{} },
	FieldMotion:             func() Update { return &MotionUpdate{} },
	FieldPhysicalProperties: func() Update { return &PhysicalPropertiesUpdate{} },
}

func (f Field) Valid() bool {
	_, ok := updateFactories[f]
	return ok
}

// Fields lists every delta field.
func Fields() []Field {
	return []Field{
		FieldPosition, FieldRotation, FieldScale, FieldSize, FieldParent,
		FieldVisibility, FieldHighlight, FieldInteractionState, FieldMotion, FieldPhysicalProperties,
	}
}

// Update is a minimal property delta for one entity.
type Update interface {
	Envelope
	Target() uuid.UUID
	Field() Field
}

// NewUpdate returns an empty delta for field, ready to be decoded into.
func NewUpdate(field Field) (Update, error) {
	factory, ok := updateFactories[field]
	if !ok {
		return nil, fmt.Errorf("unknown field %q", field)
	}
	return factory(), nil
}

type PositionUpdate struct {
	EntityRef
	Position Vector3 `json:"position"`
}

type RotationUpdate struct {
	EntityRef
	Rotation Quaternion `json:"rotation"`
}

type ScaleUpdate struct {
	EntityRef
	Scale Vector3 `json:"scale"`
}

type SizeUpdate struct {
	EntityRef
	Size Vector3 `json:"size"`
}

type ParentUpdate struct {
	EntityRef
	ParentID *uuid.UUID `json:"parentID"`
}

type VisibilityUpdate struct {
	EntityRef
	Visible bool `json:"visible"`
}

type HighlightUpdate struct {
	EntityRef
	Highlighted bool `json:"highlighted"`
}

// InteractionState is how an entity responds to input and physics.
type InteractionState string

const (
	InteractionStatic   InteractionState = "static"
	InteractionPhysical InteractionState = "physical"
	InteractionPlacing  InteractionState = "placing"
	InteractionHidden   InteractionState = "hidden"
)

func (s InteractionState) Valid() bool {
	switch s {
	case InteractionStatic, InteractionPhysical, InteractionPlacing, InteractionHidden:
		return true
	}
	return false
}

type InteractionStateUpdate struct {
	EntityRef
	InteractionState InteractionState `json:"interactionState"`
}

type Motion struct {
	AngularVelocity *Vector3 `json:"angularVelocity,omitempty"`
	Velocity        *Vector3 `json:"velocity,omitempty"`
	Stationary      *bool    `json:"stationary,omitempty"`
}

type MotionUpdate struct {
	EntityRef
	Motion Motion `json:"motion"`
}

type PhysicalProperties struct {
	AngularDrag   *float64 `json:"angularDrag,omitempty"`
	CenterOfMass  *Vector3 `json:"centerOfMass,omitempty"`
	Drag          *float64 `json:"drag,omitempty"`
	Gravitational *bool    `json:"gravitational,omitempty"`
	Mass          *float64 `json:"mass,omitempty"`
}

type PhysicalPropertiesUpdate struct {
	EntityRef
	PhysicalProperties PhysicalProperties `json:"physicalProperties"`
}

func (*PositionUpdate) Field() Field           { return FieldPosition }
func (*RotationUpdate) Field() Field           { return FieldRotation }
func (*ScaleUpdate) Field() Field              { return FieldScale }
func (*SizeUpdate) Field() Field               { return FieldSize }
func (*ParentUpdate) Field() Field             { return FieldParent }
func (*VisibilityUpdate) Field() Field         { return FieldVisibility }
func (*HighlightUpdate) Field() Field          { return FieldHighlight }
func (*InteractionStateUpdate) Field() Field   { return FieldInteractionState }
func (*MotionUpdate) Field() Field             { return FieldMotion }
func (*PhysicalPropertiesUpdate) Field() Field { return FieldPhysicalProperties }

var ErrMalformed = errors.New("malformed envelope")
