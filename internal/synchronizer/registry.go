package synchronizer

import (
	"fmt"

	"github.com/erilali/vossync/internal/message"
	"github.com/google/uuid"
)

// AddSynchronizedEntity announces e to the session and starts broadcasting its
// local changes. resourcePath is required for meshes and optional for characters.
func (s *Synchronizer) AddSynchronizedEntity(e Entity, deleteWithClient bool, resourcePath string) error {
	const op = "add synchronized entity"
	if err := s.requireEntity(op, e); err != nil {
		return err
	}
	if _, ok := s.entities[e.ID()]; ok {
		s.log.Warnf("Entity %s is already synchronized", e.ID())
		return nil
	}

	kind := e.Kind()
	handler, ok := kindHandlers[kind]
	if !ok {
		return s.fail(op, fmt.Errorf("%w: kind %q", ErrUnsupportedEntity, kind))
	}
	if kind.RequiresResource() && resourcePath == "" {
		return s.fail(op, fmt.Errorf("%w: %s entity %s", ErrMissingResource, kind, e.ID()))
	}
	parent := e.Parent()
	if err := checkParent(kind, parent); err != nil {
		return s.fail(op, err)
	}
	payload, err := handler.encode(e, resourcePath)
	if err != nil {
		return s.fail(op, err)
	}

	rec := message.EntityRecord{
		ID:               e.ID(),
		Tag:              e.Tag(),
		Kind:             kind,
		DeleteWithClient: deleteWithClient,
		Placement:        placementOf(e),
		Payload:          payload,
	}
	if !isNil(parent) {
		pid := parent.ID()
		rec.ParentID = &pid
	}

	env := message.CreateEntity{Header: s.header(), Entity: rec}
	if err := s.publish(message.RequestCreateEntity(s.sessionID, kind), env); err != nil {
		return err
	}
	s.entities[rec.ID] = e
	e.StartSynchronizing(s)
	return nil
}

// RemoveSynchronizedEntity stops synchronizing e everywhere. It stays materialized.
func (s *Synchronizer) RemoveSynchronizedEntity(e Entity) error {
	const op = "remove synchronized entity"
	if err := s.requireEntity(op, e); err != nil {
		return err
	}
	ref := message.EntityRef{Header: s.header(), EntityID: e.ID()}
	if err := s.publish(message.RequestRemoveEntity(s.sessionID, e.ID()), ref); err != nil {
		return err
	}
	e.StopSynchronizing()
	delete(s.entities, e.ID())
	return nil
}

// DeleteSynchronizedEntity destroys e locally and for every peer.
func (s *Synchronizer) DeleteSynchronizedEntity(e Entity) error {
	const op = "delete synchronized entity"
	if err := s.requireEntity(op, e); err != nil {
		return err
	}
	ref := message.EntityRef{Header: s.header(), EntityID: e.ID()}
	if err := s.publish(message.RequestDeleteEntity(s.sessionID, e.ID()), ref); err != nil {
		return err
	}
	s.destroy(e)
	return nil
}

// destroy drops e from every set and from the scene. The scene destroys
// descendants too, so tracked entities it no longer resolves are dropped as well.
func (s *Synchronizer) destroy(e Entity) {
	id := e.ID()
	if _, ok := s.entities[id]; ok {
		e.StopSynchronizing()
		delete(s.entities, id)
	}
	delete(s.mirrors, id)
	if err := s.scene.DestroyEntity(e); err != nil {
		s.log.Warnf("Destroying entity %s: %v", id, err)
	}
	s.pruneDestroyed()
}

func (s *Synchronizer) pruneDestroyed() {
	for id, e := range s.entities {
		if _, ok := s.scene.Entity(id); !ok {
			e.StopSynchronizing()
			delete(s.entities, id)
		}
	}
	for id := range s.mirrors {
		if _, ok := s.scene.Entity(id); !ok {
			delete(s.mirrors, id)
		}
	}
}

func (s *Synchronizer) sendUpdate(op string, e Entity, build func(ref message.EntityRef) message.Update) error {
	if err := s.requireEntity(op, e); err != nil {
		return err
	}
	update := build(message.EntityRef{Header: s.header(), EntityID: e.ID()})
	return s.publish(message.RequestUpdateEntity(s.sessionID, e.ID(), update.Field()), update)
}

func (s *Synchronizer) SetPosition(e Entity, position message.Vector3) error {
	return s.sendUpdate("set position", e, func(ref message.EntityRef) message.Update {
		return &message.PositionUpdate{EntityRef: ref, Position: position}
	})
}

func (s *Synchronizer) SetRotation(e Entity, rotation message.Quaternion) error {
	return s.sendUpdate("set rotation", e, func(ref message.EntityRef) message.Update {
		return &message.RotationUpdate{EntityRef: ref, Rotation: rotation}
	})
}

func (s *Synchronizer) SetScale(e Entity, scale message.Vector3) error {
	return s.sendUpdate("set scale", e, func(ref message.EntityRef) message.Update {
		return &message.ScaleUpdate{EntityRef: ref, Scale: scale}
	})
}

func (s *Synchronizer) SetSize(e Entity, size message.Vector3) error {
	return s.sendUpdate("set size", e, func(ref message.EntityRef) message.Update {
		return &message.SizeUpdate{EntityRef: ref, Size: size}
	})
}

// SetParent reparents e; a nil parent moves it to the scene root.
func (s *Synchronizer) SetParent(e Entity, parent Entity) error {
	const op = "set parent"
	if err := s.requireEntity(op, e); err != nil {
		return err
	}
	if err := checkParent(e.Kind(), parent); err != nil {
		return s.fail(op, err)
	}
	var parentID *uuid.UUID
	if !isNil(parent) {
		id := parent.ID()
		parentID = &id
	}
	return s.sendUpdate(op, e, func(ref message.EntityRef) message.Update {
		return &message.ParentUpdate{EntityRef: ref, ParentID: parentID}
	})
}

func (s *Synchronizer) SetVisibility(e Entity, visible bool) error {
	return s.sendUpdate("set visibility", e, func(ref message.EntityRef) message.Update {
		return &message.VisibilityUpdate{EntityRef: ref, Visible: visible}
	})
}

func (s *Synchronizer) SetHighlight(e Entity, highlighted bool) error {
	return s.sendUpdate("set highlight", e, func(ref message.EntityRef) message.Update {
		return &message.HighlightUpdate{EntityRef: ref, Highlighted: highlighted}
	})
}

func (s *Synchronizer) SetInteractionState(e Entity, state message.InteractionState) error {
	if !state.Valid() {
		return s.fail("set interaction state", fmt.Errorf("%w: interaction state %q", ErrInvalidValue, state))
	}
	return s.sendUpdate("set interaction state", e, func(ref message.EntityRef) message.Update {
		return &message.InteractionStateUpdate{EntityRef: ref, InteractionState: state}
	})
}

func (s *Synchronizer) SetMotion(e Entity, motion message.Motion) error {
	return s.sendUpdate("set motion", e, func(ref message.EntityRef) message.Update {
		return &message.MotionUpdate{EntityRef: ref, Motion: motion}
	})
}

func (s *Synchronizer) SetPhysicalProperties(e Entity, props message.PhysicalProperties) error {
	return s.sendUpdate("set physical properties", e, func(ref message.EntityRef) message.Update {
		return &message.PhysicalPropertiesUpdate{EntityRef: ref, PhysicalProperties: props}
	})
}

// SendMessage relays an application message to every client in the session.
func (s *Synchronizer) SendMessage(topic, msg string) error {
	const op = "send message"
	if err := s.requireSession(op); err != nil {
		return err
	}
	return s.publish(message.RequestMessageCreate(s.sessionID), message.CustomMessage{
		Header:  s.header(),
		Topic:   topic,
		Message: msg,
	})
}
