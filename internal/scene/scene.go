// internal/scene/scene.go
// Package scene is an in-memory scene graph implementing the synchronizer's
// SceneContext. It is used by the probe CLI and by tests; like the synchronizer it
// must only be touched from the tick goroutine.
package scene

import (
	"errors"
	"fmt"
	"sort"

	"github.com/erilali/vossync/internal/logger"
	"github.com/erilali/vossync/internal/message"
	"github.com/erilali/vossync/internal/synchronizer"
	"github.com/google/uuid"
)

var (
	ErrDuplicateEntity = errors.New("entity already exists")
	ErrUnknownEntity   = errors.New("entity not in scene")
)

type Scene struct {
	entities map[uuid.UUID]*Entity
	log      *logger.Logger
}

var _ synchronizer.SceneContext = (*Scene)(nil)

func New(log *logger.Logger) *Scene {
	if log == nil {
		log = logger.Nop()
	}
	return &Scene{entities: make(map[uuid.UUID]*Entity), log: log}
}

// Entity looks up id. The second result is false for unknown ids.
func (s *Scene) Entity(id uuid.UUID) (synchronizer.Entity, bool) {
	e, ok := s.entities[id]
	if !ok {
		return nil, false
	}
	return e, true
}

// Get is Entity with the concrete type.
func (s *Scene) Get(id uuid.UUID) *Entity { return s.entities[id] }

func (s *Scene) Len() int { return len(s.entities) }

// Entities returns every entity ordered by tag, then id.
func (s *Scene) Entities() []*Entity {
	out := make([]*Entity, 0, len(s.entities))
	for _, e := range s.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].tag != out[j].tag {
			return out[i].tag < out[j].tag
		}
		return out[i].id.String() < out[j].id.String()
	})
	return out
}

// Children returns the direct children of e.
func (s *Scene) Children(e *Entity) []*Entity {
	var out []*Entity
	for _, c := range s.entities {
		if c.parent == e {
			out = append(out, c)
		}
	}
	return out
}

// DestroyEntity removes e and its descendants. Destroying an entity twice is not
// an error.
func (s *Scene) DestroyEntity(e synchronizer.Entity) error {
	if e == nil {
		return ErrUnknownEntity
	}
	own, ok := e.(*Entity)
	if !ok || own == nil || own.scene != s {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, e.ID())
	}
	if _, ok := s.entities[own.id]; !ok {
		return nil
	}
	for _, c := range s.Children(own) {
		_ = s.DestroyEntity(c)
	}
	own.sync = nil
	delete(s.entities, own.id)
	s.log.Debugf("Destroyed %s entity %s (%s)", own.kind, own.id, own.tag)
	return nil
}

func (s *Scene) add(parent synchronizer.Entity, id uuid.UUID, tag string, kind message.EntityKind) (*Entity, error) {
	if id == uuid.Nil {
		id = uuid.New()
	}
	if _, ok := s.entities[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateEntity, id)
	}
	var p *Entity
	if parent != nil {
		own, ok := parent.(*Entity)
		if !ok || own == nil {
			return nil, fmt.Errorf("%w: parent of %s", ErrUnknownEntity, id)
		}
		if _, ok := s.entities[own.id]; !ok || own.scene != s {
			return nil, fmt.Errorf("%w: parent %s", ErrUnknownEntity, own.id)
		}
		p = own
	}
	e := &Entity{
		scene:    s,
		id:       id,
		tag:      tag,
		kind:     kind,
		parent:   p,
		rotation: message.Identity,
		scale:    message.Vector3{X: 1, Y: 1, Z: 1},
	}
	s.entities[id] = e
	s.log.Debugf("Created %s entity %s (%s)", kind, id, tag)
	return e, nil
}

// asEntity keeps a nil *Entity from escaping as a non-nil interface.
func asEntity(e *Entity, err error) (synchronizer.Entity, error) {
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Scene) NewMeshEntity(parent synchronizer.Entity, id uuid.UUID, tag, path string) (synchronizer.Entity, error) {
	e, err := s.add(parent, id, tag, message.KindMesh)
	if e != nil {
		e.path = path
	}
	return asEntity(e, err)
}

func (s *Scene) NewCharacterEntity(parent synchronizer.Entity, id uuid.UUID, tag string, p message.CharacterPayload) (synchronizer.Entity, error) {
	e, err := s.add(parent, id, tag, message.KindCharacter)
	if e != nil {
		e.path, e.character = p.Path, p
	}
	return asEntity(e, err)
}

func (s *Scene) NewButtonEntity(canvas synchronizer.Entity, id uuid.UUID, tag string, p message.ButtonPayload) (synchronizer.Entity, error) {
	e, err := s.add(canvas, id, tag, message.KindButton)
	if e != nil {
		e.button = p
	}
	return asEntity(e, err)
}

func (s *Scene) NewCanvasEntity(parent synchronizer.Entity, id uuid.UUID, tag string) (synchronizer.Entity, error) {
	return asEntity(s.add(parent, id, tag, message.KindCanvas))
}

func (s *Scene) NewInputEntity(canvas synchronizer.Entity, id uuid.UUID, tag string) (synchronizer.Entity, error) {
	return asEntity(s.add(canvas, id, tag, message.KindInput))
}

func (s *Scene) NewLightEntity(parent synchronizer.Entity, id uuid.UUID, tag string) (synchronizer.Entity, error) {
	return asEntity(s.add(parent, id, tag, message.KindLight))
}

func (s *Scene) NewTerrainEntity(parent synchronizer.Entity, id uuid.UUID, tag string, p message.TerrainPayload) (synchronizer.Entity, error) {
	e, err := s.add(parent, id, tag, message.KindTerrain)
	if e != nil {
		e.terrain = p
	}
	return asEntity(e, err)
}

func (s *Scene) NewTextEntity(canvas synchronizer.Entity, id uuid.UUID, tag string, p message.TextPayload) (synchronizer.Entity, error) {
	e, err := s.add(canvas, id, tag, message.KindText)
	if e != nil {
		e.text = p
	}
	return asEntity(e, err)
}

func (s *Scene) NewVoxelEntity(parent synchronizer.Entity, id uuid.UUID, tag string) (synchronizer.Entity, error) {
	return asEntity(s.add(parent, id, tag, message.KindVoxel))
}
