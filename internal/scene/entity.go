// internal/scene/entity.go
// In-memory scene entity. While synchronizing, local mutations made with notify=true
// are forwarded to the synchronizer.
package scene

import (
	"github.com/erilali/vossync/internal/message"
	"github.com/erilali/vossync/internal/synchronizer"
	"github.com/google/uuid"
)

// Entity is a node of the in-memory scene graph. Position and rotation are stored
// local to the parent.
type Entity struct {
	scene *Scene

	id     uuid.UUID
	tag    string
	kind   message.EntityKind
	parent *Entity

	position message.Vector3
	rotation message.Quaternion
	scale    message.Vector3
	size     message.Vector3
	usesSize bool
	visible  bool

	positionPercent message.Vector2
	sizePercent     message.Vector2

	path      string
	character message.CharacterPayload
	button    message.ButtonPayload
	text      message.TextPayload
	terrain   message.TerrainPayload

	sync synchronizer.EntitySynchronizer
}

var (
	_ synchronizer.SizedEntity       = (*Entity)(nil)
	_ synchronizer.CanvasChildEntity = (*Entity)(nil)
	_ synchronizer.CharacterEntity   = (*Entity)(nil)
	_ synchronizer.ButtonEntity      = (*Entity)(nil)
	_ synchronizer.TextEntity        = (*Entity)(nil)
	_ synchronizer.TerrainEntity     = (*Entity)(nil)
)

func (e *Entity) IsNil() bool { return e == nil }

func (e *Entity) ID() uuid.UUID            { return e.id }
func (e *Entity) Tag() string              { return e.tag }
func (e *Entity) Kind() message.EntityKind { return e.kind }

// Parent returns nil, not a typed nil, for root entities.
func (e *Entity) Parent() synchronizer.Entity {
	if e.parent == nil {
		return nil
	}
	return e.parent
}

func (e *Entity) Position(local bool) message.Vector3 {
	if local || e.parent == nil {
		return e.position
	}
	offset := rotate(e.parent.Rotation(false), e.position)
	base := e.parent.Position(false)
	return message.Vector3{X: base.X + offset.X, Y: base.Y + offset.Y, Z: base.Z + offset.Z}
}

func (e *Entity) Rotation(local bool) message.Quaternion {
	if local || e.parent == nil {
		return e.rotation
	}
	return multiply(e.parent.Rotation(false), e.rotation)
}

func (e *Entity) Scale() message.Vector3 { return e.scale }
func (e *Entity) Size() message.Vector3  { return e.size }
func (e *Entity) UsesSize() bool         { return e.usesSize }
func (e *Entity) Visible() bool          { return e.visible }

func (e *Entity) PositionPercent() message.Vector2     { return e.positionPercent }
func (e *Entity) SizePercent() message.Vector2         { return e.sizePercent }
func (e *Entity) SetPositionPercent(v message.Vector2) { e.positionPercent = v }
func (e *Entity) SetSizePercent(v message.Vector2)     { e.sizePercent = v }

// ResourcePath is the model path of a mesh or character.
func (e *Entity) ResourcePath() string { return e.path }

func (e *Entity) ModelOffset() message.Vector3       { return e.character.ModelOffset }
func (e *Entity) ModelRotation() message.Quaternion { return e.character.ModelRotation }
func (e *Entity) LabelOffset() message.Vector3       { return e.character.LabelOffset }
func (e *Entity) OnClick() string                    { return e.button.OnClick }
func (e *Entity) Text() string                       { return e.text.Text }
func (e *Entity) FontSize() int                      { return e.text.FontSize }

func (e *Entity) Dimensions() (length, width, height float64) {
	return e.terrain.Length, e.terrain.Width, e.terrain.Height
}

func (e *Entity) Heights() [][]float64 { return e.terrain.Heights }

// Synchronizing reports whether local changes are being broadcast.
func (e *Entity) Synchronizing() bool { return e.sync != nil }

func (e *Entity) StartSynchronizing(s synchronizer.EntitySynchronizer) { e.sync = s }
func (e *Entity) StopSynchronizing()                                   { e.sync = nil }

func (e *Entity) SetPosition(position message.Vector3, notify bool) bool {
	e.position = position
	if notify && e.sync != nil {
		return e.report(e.sync.SetPosition(e, position))
	}
	return true
}

func (e *Entity) SetRotation(rotation message.Quaternion, notify bool) bool {
	e.rotation = rotation
	if notify && e.sync != nil {
		return e.report(e.sync.SetRotation(e, rotation))
	}
	return true
}

// SetScale switches the entity to scale mode.
func (e *Entity) SetScale(scale message.Vector3, notify bool) bool {
	e.scale, e.usesSize = scale, false
	if notify && e.sync != nil {
		return e.report(e.sync.SetScale(e, scale))
	}
	return true
}

// SetSize switches the entity to size mode.
func (e *Entity) SetSize(size message.Vector3, notify bool) bool {
	e.size, e.usesSize = size, true
	if notify && e.sync != nil {
		return e.report(e.sync.SetSize(e, size))
	}
	return true
}

func (e *Entity) SetVisibility(visible bool, notify bool) bool {
	e.visible = visible
	if notify && e.sync != nil {
		return e.report(e.sync.SetVisibility(e, visible))
	}
	return true
}

// SetParent reparents the entity within its scene. A nil parent moves it to the root.
func (e *Entity) SetParent(parent *Entity, notify bool) bool {
	if parent == e {
		return false
	}
	if notify && e.sync != nil {
		var p synchronizer.Entity
		if parent != nil {
			p = parent
		}
		if !e.report(e.sync.SetParent(e, p)) {
			return false
		}
	}
	e.parent = parent
	return true
}

func (e *Entity) report(err error) bool {
	if err != nil {
		e.scene.log.Warnf("Entity %s: %v", e.id, err)
		return false
	}
	return true
}

// rotate applies q to v.
func rotate(q message.Quaternion, v message.Vector3) message.Vector3 {
	p := message.Quaternion{X: v.X, Y: v.Y, Z: v.Z}
	r := multiply(multiply(q, p), message.Quaternion{X: -q.X, Y: -q.Y, Z: -q.Z, W: q.W})
	return message.Vector3{X: r.X, Y: r.Y, Z: r.Z}
}

func multiply(a, b message.Quaternion) message.Quaternion {
	return message.Quaternion{
		W: a.W*b.W - a.X*b.X - a.Y*b.Y - a.Z*b.Z,
		X: a.W*b.X + a.X*b.W + a.Y*b.Z - a.Z*b.Y,
		Y: a.W*b.Y - a.X*b.Z + a.Y*b.W + a.Z*b.X,
		Z: a.W*b.Z + a.X*b.Y - a.Y*b.X + a.Z*b.W,
	}
}

