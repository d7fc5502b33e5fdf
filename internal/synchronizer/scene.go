package synchronizer

import (
	"github.com/erilali/vossync/internal/message"
	"github.com/google/uuid"
)

// Entity is a scene object the synchronizer can broadcast and mirror. Positions
// and rotations passed to the setters are local to the parent. Setters report
// whether the value was applied; notify=false must never call back into the
// synchronizer.
type Entity interface {
	ID() uuid.UUID
	Tag() string
	Kind() message.EntityKind
	Parent() Entity

	Position(local bool) message.Vector3
	Rotation(local bool) message.Quaternion
	Scale() message.Vector3

	StartSynchronizing(s EntitySynchronizer)
	StopSynchronizing()

	SetPosition(position message.Vector3, notify bool) bool
	SetRotation(rotation message.Quaternion, notify bool) bool
	SetScale(scale message.Vector3, notify bool) bool
	SetSize(size message.Vector3, notify bool) bool
	SetVisibility(visible bool, notify bool) bool
}

// SizedEntity is implemented by entities whose transform is expressed with an
// absolute size rather than a scale.
type SizedEntity interface {
	Entity
	UsesSize() bool
	Size() message.Vector3
}

// CanvasChildEntity is implemented by UI leaves placed in percent of their canvas.
type CanvasChildEntity interface {
	Entity
	PositionPercent() message.Vector2
	SizePercent() message.Vector2
	SetPositionPercent(v message.Vector2)
	SetSizePercent(v message.Vector2)
}

type CharacterEntity interface {
	Entity
	ModelOffset() message.Vector3
	ModelRotation() message.Quaternion
	LabelOffset() message.Vector3
}

type ButtonEntity interface {
	Entity
	OnClick() string
}

type TextEntity interface {
	Entity
	Text() string
	FontSize() int
}

type TerrainEntity interface {
	Entity
	Dimensions() (length, width, height float64)
	Heights() [][]float64
}

// SceneContext is the scene layer the synchronizer is built against: entity
// lookup, destruction and one constructor per entity kind. Canvas children are
// constructed against their canvas.
type SceneContext interface {
	Entity(id uuid.UUID) (Entity, bool)
	DestroyEntity(e Entity) error

	NewMeshEntity(parent Entity, id uuid.UUID, tag, path string) (Entity, error)
	NewCharacterEntity(parent Entity, id uuid.UUID, tag string, p message.CharacterPayload) (Entity, error)
	NewButtonEntity(canvas Entity, id uuid.UUID, tag string, p message.ButtonPayload) (Entity, error)
	NewCanvasEntity(parent Entity, id uuid.UUID, tag string) (Entity, error)
	NewInputEntity(canvas Entity, id uuid.UUID, tag string) (Entity, error)
	NewLightEntity(parent Entity, id uuid.UUID, tag string) (Entity, error)
	NewTerrainEntity(parent Entity, id uuid.UUID, tag string, p message.TerrainPayload) (Entity, error)
	NewTextEntity(canvas Entity, id uuid.UUID, tag string, p message.TextPayload) (Entity, error)
	NewVoxelEntity(parent Entity, id uuid.UUID, tag string) (Entity, error)
}

// EntitySynchronizer is what a synchronizing entity calls when it is mutated
// locally with notify=true. *Synchronizer implements it.
type EntitySynchronizer interface {
	SetPosition(e Entity, position message.Vector3) error
	SetRotation(e Entity, rotation message.Quaternion) error
	SetScale(e Entity, scale message.Vector3) error
	SetSize(e Entity, size message.Vector3) error
	SetParent(e Entity, parent Entity) error
	SetVisibility(e Entity, visible bool) error
	SetHighlight(e Entity, highlighted bool) error
	SetInteractionState(e Entity, state message.InteractionState) error
	SetMotion(e Entity, motion message.Motion) error
	SetPhysicalProperties(e Entity, props message.PhysicalProperties) error
}

// MessageListener receives application messages relayed with SendMessage.
type MessageListener func(topic string, sender uuid.UUID, msg string)

// isNil catches both a nil interface and an interface holding a nil pointer.
func isNil(e Entity) bool {
	if e == nil {
		return true
	}
	type nilChecker interface{ IsNil() bool }
	if nc, ok := e.(nilChecker); ok {
		return nc.IsNil()
	}
	return false
}
