package synchronizer

import (
	"fmt"

	"github.com/erilali/vossync/internal/message"
)

// kindHandler holds the per-kind halves of the codec that need the scene: how to
// read a payload off a local entity and how to construct a mirror from a record.
// Payload decoding lives in message.NewPayload.
type kindHandler struct {
	encode      func(e Entity, resourcePath string) (message.Payload, error)
	materialize func(scene SceneContext, parent Entity, rec message.EntityRecord) (Entity, error)
}

var kindHandlers = map[message.EntityKind]kindHandler{
	message.KindMesh: {
		encode: func(_ Entity, resourcePath string) (message.Payload, error) {
			return &message.MeshPayload{Path: resourcePath}, nil
		},
		materialize: func(scene SceneContext, parent Entity, rec message.EntityRecord) (Entity, error) {
			p := rec.Payload.(*message.MeshPayload)
			return scene.NewMeshEntity(parent, rec.ID, rec.Tag, p.Path)
		},
	},
	message.KindCharacter: {
		encode: func(e Entity, resourcePath string) (message.Payload, error) {
			p := &message.CharacterPayload{Path: resourcePath, ModelRotation: message.Identity}
			if c, ok := e.(CharacterEntity); ok {
				p.ModelOffset = c.ModelOffset()
				p.ModelRotation = c.ModelRotation()
				p.LabelOffset = c.LabelOffset()
			}
			return p, nil
		},
		materialize: func(scene SceneContext, parent Entity, rec message.EntityRecord) (Entity, error) {
			return scene.NewCharacterEntity(parent, rec.ID, rec.Tag, *rec.Payload.(*message.CharacterPayload))
		},
	},
	message.KindButton: {
		encode: func(e Entity, _ string) (message.Payload, error) {
			p := &message.ButtonPayload{}
			if b, ok := e.(ButtonEntity); ok {
				p.OnClick = b.OnClick()
			}
			return p, nil
		},
		materialize: func(scene SceneContext, canvas Entity, rec message.EntityRecord) (Entity, error) {
			return scene.NewButtonEntity(canvas, rec.ID, rec.Tag, *rec.Payload.(*message.ButtonPayload))
		},
	},
	message.KindCanvas: {
		encode: func(Entity, string) (message.Payload, error) { return &message.CanvasPayload{}, nil },
		materialize: func(scene SceneContext, parent Entity, rec message.EntityRecord) (Entity, error) {
			return scene.NewCanvasEntity(parent, rec.ID, rec.Tag)
		},
	},
	message.KindInput: {
		encode: func(Entity, string) (message.Payload, error) { return &message.InputPayload{}, nil },
		materialize: func(scene SceneContext, canvas Entity, rec message.EntityRecord) (Entity, error) {
			return scene.NewInputEntity(canvas, rec.ID, rec.Tag)
		},
	},
	message.KindLight: {
		encode: func(Entity, string) (message.Payload, error) { return &message.LightPayload{}, nil },
		materialize: func(scene SceneContext, parent Entity, rec message.EntityRecord) (Entity, error) {
			return scene.NewLightEntity(parent, rec.ID, rec.Tag)
		},
	},
	message.KindTerrain: {
		encode: func(e Entity, _ string) (message.Payload, error) {
			t, ok := e.(TerrainEntity)
			if !ok {
				return nil, fmt.Errorf("%w: terrain entity %s exposes no height data", ErrUnsupportedEntity, e.ID())
			}
			length, width, height := t.Dimensions()
			return &message.TerrainPayload{Length: length, Width: width, Height: height, Heights: t.Heights()}, nil
		},
		materialize: func(scene SceneContext, parent Entity, rec message.EntityRecord) (Entity, error) {
			return scene.NewTerrainEntity(parent, rec.ID, rec.Tag, *rec.Payload.(*message.TerrainPayload))
		},
	},
	message.KindText: {
		encode: func(e Entity, _ string) (message.Payload, error) {
			t, ok := e.(TextEntity)
			if !ok {
				return nil, fmt.Errorf("%w: text entity %s exposes no text", ErrUnsupportedEntity, e.ID())
			}
			return &message.TextPayload{Text: t.Text(), FontSize: t.FontSize()}, nil
		},
		materialize: func(scene SceneContext, canvas Entity, rec message.EntityRecord) (Entity, error) {
			return scene.NewTextEntity(canvas, rec.ID, rec.Tag, *rec.Payload.(*message.TextPayload))
		},
	},
	message.KindVoxel: {
		encode: func(Entity, string) (message.Payload, error) { return &message.VoxelPayload{}, nil },
		materialize: func(scene SceneContext, parent Entity, rec message.EntityRecord) (Entity, error) {
			return scene.NewVoxelEntity(parent, rec.ID, rec.Tag)
		},
	},
}

// checkParent enforces that canvas children hang off a canvas.
func checkParent(kind message.EntityKind, parent Entity) error {
	if !kind.CanvasChild() {
		return nil
	}
	if isNil(parent) {
		return fmt.Errorf("%w: %s entity needs a canvas parent, has none", ErrInvalidParent, kind)
	}
	if parent.Kind() != message.KindCanvas {
		return fmt.Errorf("%w: %s entity needs a canvas parent, has %s", ErrInvalidParent, kind, parent.Kind())
	}
	return nil
}

// placementOf reads the transform to broadcast for a local entity.
func placementOf(e Entity) message.Placement {
	if c, ok := e.(CanvasChildEntity); ok && e.Kind().CanvasChild() {
		pos, size := c.PositionPercent(), c.SizePercent()
		return message.Placement{PositionPercent: &pos, SizePercent: &size}
	}
	pos, rot := e.Position(true), e.Rotation(true)
	p := message.Placement{Position: &pos, Rotation: &rot}
	if s, ok := e.(SizedEntity); ok && s.UsesSize() {
		size := s.Size()
		p.Size, p.IsSize = &size, true
	} else {
		scale := e.Scale()
		p.Scale = &scale
	}
	return p
}

// applyPlacement writes a received placement onto a mirror without notifying.
func applyPlacement(e Entity, p message.Placement) {
	if p.Position != nil {
		e.SetPosition(*p.Position, false)
	}
	if p.Rotation != nil {
		e.SetRotation(*p.Rotation, false)
	}
	if p.IsSize && p.Size != nil {
		e.SetSize(*p.Size, false)
	} else if p.Scale != nil {
		e.SetScale(*p.Scale, false)
	}
	if c, ok := e.(CanvasChildEntity); ok {
		if p.PositionPercent != nil {
			c.SetPositionPercent(*p.PositionPercent)
		}
		if p.SizePercent != nil {
			c.SetSizePercent(*p.SizePercent)
		}
	}
}
