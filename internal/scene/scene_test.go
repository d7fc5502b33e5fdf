package scene

import (
	"errors"
	"math"
	"testing"

	"github.com/erilali/vossync/internal/message"
	"github.com/erilali/vossync/internal/synchronizer"
	"github.com/google/uuid"
)

type recorder struct {
	synchronizer.EntitySynchronizer
	positions []message.Vector3
	parents   []synchronizer.Entity
	fail      error
}

func (r *recorder) SetPosition(_ synchronizer.Entity, p message.Vector3) error {
	r.positions = append(r.positions, p)
	return r.fail
}

func (r *recorder) SetParent(_ synchronizer.Entity, p synchronizer.Entity) error {
	r.parents = append(r.parents, p)
	return r.fail
}

func TestNotifyOnlyWhileSynchronizing(t *testing.T) {
	s := New(nil)
	e, err := s.NewMeshEntity(nil, uuid.Nil, "crate", "crate.glb")
	if err != nil {
		t.Fatalf("new mesh: %v", err)
	}
	r := &recorder{}

	e.SetPosition(message.Vector3{X: 1}, true)
	e.StartSynchronizing(r)
	e.SetPosition(message.Vector3{X: 2}, false)
	e.SetPosition(message.Vector3{X: 3}, true)
	e.StopSynchronizing()
	e.SetPosition(message.Vector3{X: 4}, true)

	if len(r.positions) != 1 || r.positions[0].X != 3 {
		t.Fatalf("expected only the synchronized notify, got %v", r.positions)
	}
	if e.Position(true).X != 4 {
		t.Fatalf("expected last position applied, got %v", e.Position(true))
	}
}

func TestSetterReportsSynchronizerFailure(t *testing.T) {
	s := New(nil)
	e, _ := s.NewMeshEntity(nil, uuid.Nil, "crate", "crate.glb")
	e.StartSynchronizing(&recorder{fail: errors.New("offline")})
	if e.SetPosition(message.Vector3{X: 1}, true) {
		t.Fatalf("expected setter to report the failed publish")
	}
}

func TestSetParentRoundTrip(t *testing.T) {
	s := New(nil)
	root, _ := s.NewCanvasEntity(nil, uuid.Nil, "hud")
	child, _ := s.NewButtonEntity(root, uuid.Nil, "ok", message.ButtonPayload{})
	r := &recorder{}
	button := s.Get(child.ID())
	button.StartSynchronizing(r)

	if !button.SetParent(nil, true) {
		t.Fatalf("expected reparent to succeed")
	}
	if button.Parent() != nil {
		t.Fatalf("expected untyped nil parent at root")
	}
	if len(r.parents) != 1 || r.parents[0] != nil {
		t.Fatalf("expected nil parent notified, got %v", r.parents)
	}
	if button.SetParent(button, false) {
		t.Fatalf("expected self parenting rejected")
	}
}

func TestWorldTransform(t *testing.T) {
	s := New(nil)
	p, _ := s.NewLightEntity(nil, uuid.Nil, "rig")
	c, _ := s.NewLightEntity(p, uuid.Nil, "lamp")

	// 90 degrees about Y.
	half := math.Sqrt2 / 2
	p.SetPosition(message.Vector3{X: 10}, false)
	p.SetRotation(message.Quaternion{Y: half, W: half}, false)
	c.SetPosition(message.Vector3{X: 1}, false)

	got := c.Position(false)
	want := message.Vector3{X: 10, Z: -1}
	if math.Abs(got.X-want.X) > 1e-9 || math.Abs(got.Y-want.Y) > 1e-9 || math.Abs(got.Z-want.Z) > 1e-9 {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if c.Position(true) != (message.Vector3{X: 1}) {
		t.Fatalf("expected local position unchanged, got %v", c.Position(true))
	}
}

func TestDestroyCascades(t *testing.T) {
	s := New(nil)
	canvas, _ := s.NewCanvasEntity(nil, uuid.Nil, "hud")
	if _, err := s.NewTextEntity(canvas, uuid.Nil, "title", message.TextPayload{Text: "hi", FontSize: 12}); err != nil {
		t.Fatalf("text: %v", err)
	}
	if err := s.DestroyEntity(canvas); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("expected children destroyed too, got %d", s.Len())
	}
	if err := s.DestroyEntity(canvas); err != nil {
		t.Fatalf("expected second destroy to be a no-op, got %v", err)
	}
	other := New(nil)
	foreign, _ := other.NewVoxelEntity(nil, uuid.Nil, "v")
	if err := s.DestroyEntity(foreign); !errors.Is(err, ErrUnknownEntity) {
		t.Fatalf("expected ErrUnknownEntity, got %v", err)
	}
}

func TestDuplicateID(t *testing.T) {
	s := New(nil)
	id := uuid.New()
	if _, err := s.NewVoxelEntity(nil, id, "a"); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := s.NewVoxelEntity(nil, id, "b"); !errors.Is(err, ErrDuplicateEntity) {
		t.Fatalf("expected ErrDuplicateEntity, got %v", err)
	}
}
