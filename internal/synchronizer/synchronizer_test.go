package synchronizer_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/erilali/vossync/internal/message"
	"github.com/erilali/vossync/internal/scene"
	"github.com/erilali/vossync/internal/synchronizer"
	"github.com/erilali/vossync/internal/transport"
	"github.com/google/uuid"
)

type client struct {
	sync  *synchronizer.Synchronizer
	scene *scene.Scene
}

func newClient(t *testing.T, bus *transport.MemoryBus) *client {
	t.Helper()
	sc := scene.New(nil)
	s, err := synchronizer.New(bus.Adapter(), sc, synchronizer.DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("new synchronizer: %v", err)
	}
	if err := s.Connect(context.Background(), transport.Endpoint{}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	s.Tick(0)
	if !s.IsConnected() {
		t.Fatalf("expected connected after first tick")
	}
	return &client{sync: s, scene: sc}
}

func joinedClient(t *testing.T, bus *transport.MemoryBus) (*client, uuid.UUID) {
	t.Helper()
	c := newClient(t, bus)
	sid := uuid.New()
	if _, err := c.sync.JoinSession(sid, "tester"); err != nil {
		t.Fatalf("join: %v", err)
	}
	c.sync.Tick(0)
	return c, sid
}

func inject(t *testing.T, bus *transport.MemoryBus, topic string, env message.Envelope) []byte {
	t.Helper()
	payload, err := message.Encode(env)
	if err != nil {
		t.Fatalf("encode %s: %v", topic, err)
	}
	bus.Inject(topic, payload)
	return payload
}

func mesh(t *testing.T, sc *scene.Scene, parent synchronizer.Entity, tag string) synchronizer.Entity {
	t.Helper()
	e, err := sc.NewMeshEntity(parent, uuid.Nil, tag, tag+".glb")
	if err != nil {
		t.Fatalf("new mesh: %v", err)
	}
	return e
}

func meshRecord(id uuid.UUID, parent *uuid.UUID) message.EntityRecord {
	pos := message.Vector3{X: 1, Y: 2, Z: 3}
	rot := message.Identity
	scale := message.Vector3{X: 2, Y: 2, Z: 2}
	return message.EntityRecord{
		ID:        id,
		Tag:       "remote",
		Kind:      message.KindMesh,
		ParentID:  parent,
		Placement: message.Placement{Position: &pos, Rotation: &rot, Scale: &scale},
		Payload:   &message.MeshPayload{Path: "remote.glb"},
	}
}

func statusCreate(sid uuid.UUID, kind message.EntityKind) string {
	return message.Route{Scope: message.ScopeStatus, SessionID: sid, Action: message.ActionCreateEntity, Kind: kind}.Topic()
}

func statusUpdate(sid, eid uuid.UUID, field message.Field) string {
	return message.Route{Scope: message.ScopeStatus, SessionID: sid, EntityID: eid, Action: message.ActionUpdateEntity, Field: field}.Topic()
}

func TestOperationsRequireSession(t *testing.T) {
	bus := transport.NewMemoryBus()
	c := newClient(t, bus)
	e := mesh(t, c.scene, nil, "crate")

	if err := c.sync.AddSynchronizedEntity(e, false, "crate.glb"); !errors.Is(err, synchronizer.ErrNotInSession) {
		t.Fatalf("expected ErrNotInSession, got %v", err)
	}
	if err := c.sync.SendMessage("chat", "hi"); !errors.Is(err, synchronizer.ErrNotInSession) {
		t.Fatalf("expected ErrNotInSession, got %v", err)
	}
	if err := c.sync.ExitSession(); !errors.Is(err, synchronizer.ErrNotInSession) {
		t.Fatalf("expected ErrNotInSession, got %v", err)
	}

	idle, err := synchronizer.New(bus.Adapter(), scene.New(nil), synchronizer.DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := idle.JoinSession(uuid.New(), "x"); !errors.Is(err, synchronizer.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestJoinTwiceFails(t *testing.T) {
	bus := transport.NewMemoryBus()
	c, _ := joinedClient(t, bus)
	if _, err := c.sync.JoinSession(uuid.New(), "again"); !errors.Is(err, synchronizer.ErrAlreadyInSession) {
		t.Fatalf("expected ErrAlreadyInSession, got %v", err)
	}
}

func TestAddSynchronizedEntityIsIdempotent(t *testing.T) {
	bus := transport.NewMemoryBus()
	c, sid := joinedClient(t, bus)
	e := mesh(t, c.scene, nil, "crate")

	for i := 0; i < 2; i++ {
		if err := c.sync.AddSynchronizedEntity(e, false, "crate.glb"); err != nil {
			t.Fatalf("add #%d: %v", i, err)
		}
	}
	got := bus.PublishedTo(message.RequestCreateEntity(sid, message.KindMesh))
	if len(got) != 1 {
		t.Fatalf("expected 1 create request, got %d", len(got))
	}
	if !c.sync.IsSynchronized(e.ID()) {
		t.Fatalf("expected entity synchronized")
	}
	if !c.scene.Get(e.ID()).Synchronizing() {
		t.Fatalf("expected entity to be synchronizing")
	}
}

func TestAddSynchronizedEntityValidation(t *testing.T) {
	bus := transport.NewMemoryBus()
	c, _ := joinedClient(t, bus)
	world := mesh(t, c.scene, nil, "table")
	canvas, err := c.scene.NewCanvasEntity(nil, uuid.Nil, "hud")
	if err != nil {
		t.Fatalf("canvas: %v", err)
	}
	button, err := c.scene.NewButtonEntity(world, uuid.Nil, "ok", message.ButtonPayload{OnClick: "ok"})
	if err != nil {
		t.Fatalf("button: %v", err)
	}
	orphan, err := c.scene.NewTextEntity(nil, uuid.Nil, "label", message.TextPayload{Text: "hi"})
	if err != nil {
		t.Fatalf("text: %v", err)
	}
	input, err := c.scene.NewInputEntity(canvas, uuid.Nil, "name")
	if err != nil {
		t.Fatalf("input: %v", err)
	}

	tests := []struct {
		name     string
		entity   synchronizer.Entity
		resource string
		want     error
	}{
		{"button under mesh", button, "", synchronizer.ErrInvalidParent},
		{"text without parent", orphan, "", synchronizer.ErrInvalidParent},
		{"mesh without resource", world, "", synchronizer.ErrMissingResource},
		{"nil entity", nil, "", synchronizer.ErrNilEntity},
		{"input under canvas", input, "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(bus.PublishedTo(message.RequestWildcard))
			err := c.sync.AddSynchronizedEntity(tt.entity, false, tt.resource)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			after := len(bus.PublishedTo(message.RequestWildcard))
			if tt.want != nil && after != before {
				t.Fatalf("expected no publish on failure, got %d", after-before)
			}
			if tt.want == nil && after != before+1 {
				t.Fatalf("expected 1 publish, got %d", after-before)
			}
		})
	}
}

func TestLocalMutationPublishesDelta(t *testing.T) {
	bus := transport.NewMemoryBus()
	c, sid := joinedClient(t, bus)
	e := mesh(t, c.scene, nil, "crate")

	e.SetPosition(message.Vector3{X: 5}, true)
	if got := bus.PublishedTo(message.RequestWildcard); len(got) != 0 {
		t.Fatalf("expected no delta before synchronizing, got %d", len(got))
	}

	if err := c.sync.AddSynchronizedEntity(e, false, "crate.glb"); err != nil {
		t.Fatalf("add: %v", err)
	}
	e.SetPosition(message.Vector3{X: 6}, true)
	e.SetVisibility(false, true)
	e.SetScale(message.Vector3{X: 3, Y: 3, Z: 3}, false)

	if got := bus.PublishedTo(message.RequestUpdateEntity(sid, e.ID(), message.FieldPosition)); len(got) != 1 {
		t.Fatalf("expected 1 position delta, got %d", len(got))
	}
	if got := bus.PublishedTo(message.RequestUpdateEntity(sid, e.ID(), message.FieldVisibility)); len(got) != 1 {
		t.Fatalf("expected 1 visibility delta, got %d", len(got))
	}
	if got := bus.PublishedTo(message.RequestUpdateEntity(sid, e.ID(), message.FieldScale)); len(got) != 0 {
		t.Fatalf("expected no scale delta without notify, got %d", len(got))
	}
}

func TestSetParentRejectsNonCanvasForUI(t *testing.T) {
	bus := transport.NewMemoryBus()
	c, _ := joinedClient(t, bus)
	canvas, _ := c.scene.NewCanvasEntity(nil, uuid.Nil, "hud")
	button, _ := c.scene.NewButtonEntity(canvas, uuid.Nil, "ok", message.ButtonPayload{})
	world := mesh(t, c.scene, nil, "table")

	before := len(bus.Published())
	if err := c.sync.SetParent(button, world); !errors.Is(err, synchronizer.ErrInvalidParent) {
		t.Fatalf("expected ErrInvalidParent, got %v", err)
	}
	if err := c.sync.SetParent(button, nil); !errors.Is(err, synchronizer.ErrInvalidParent) {
		t.Fatalf("expected ErrInvalidParent, got %v", err)
	}
	if after := len(bus.Published()); after != before {
		t.Fatalf("expected no publish, got %d", after-before)
	}
	if err := c.sync.SetInteractionState(world, "floating"); !errors.Is(err, synchronizer.ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue, got %v", err)
	}
}

func TestHeartbeat(t *testing.T) {
	bus := transport.NewMemoryBus()
	c, _ := joinedClient(t, bus)
	count := func() int { return len(bus.PublishedTo(message.TopicSessionHeartbeat)) }

	c.sync.Tick(4900 * time.Millisecond)
	if n := count(); n != 0 {
		t.Fatalf("expected no heartbeat at 4.9s, got %d", n)
	}
	c.sync.Tick(200 * time.Millisecond)
	if n := count(); n != 1 {
		t.Fatalf("expected 1 heartbeat at 5.1s, got %d", n)
	}
	c.sync.Tick(6900 * time.Millisecond)
	if n := count(); n != 2 {
		t.Fatalf("expected 2 heartbeats at 12s, got %d", n)
	}
	c.sync.Tick(100 * time.Millisecond)
	if n := count(); n != 2 {
		t.Fatalf("expected overshoot not carried over, got %d", n)
	}
}

func TestNoHeartbeatOutsideSession(t *testing.T) {
	bus := transport.NewMemoryBus()
	c := newClient(t, bus)
	c.sync.Tick(time.Minute)
	if n := len(bus.PublishedTo(message.TopicSessionHeartbeat)); n != 0 {
		t.Fatalf("expected no heartbeat, got %d", n)
	}
}

func TestRemoteUpdateAndEchoSuppression(t *testing.T) {
	bus := transport.NewMemoryBus()
	c, sid := joinedClient(t, bus)
	peer := uuid.New()
	eid := uuid.New()

	inject(t, bus, statusCreate(sid, message.KindMesh), message.CreateEntity{
		Header: message.NewHeader(peer, sid),
		Entity: meshRecord(eid, nil),
	})
	c.sync.Tick(0)
	e := c.scene.Get(eid)
	if e == nil || !c.sync.IsMirrored(eid) {
		t.Fatalf("expected remote entity materialized and mirrored")
	}
	if got := e.Position(true); got != (message.Vector3{X: 1, Y: 2, Z: 3}) {
		t.Fatalf("expected placement applied, got %+v", got)
	}
	if !e.Visible() {
		t.Fatalf("expected materialized entity visible")
	}

	own := message.Vector3{X: 100}
	inject(t, bus, statusUpdate(sid, eid, message.FieldPosition), &message.PositionUpdate{
		EntityRef: message.EntityRef{Header: message.NewHeader(c.sync.ClientID(), sid), EntityID: eid},
		Position:  own,
	})
	c.sync.Tick(0)
	if e.Position(true) == own {
		t.Fatalf("expected own echo ignored")
	}

	theirs := message.Vector3{X: -1}
	inject(t, bus, statusUpdate(sid, eid, message.FieldPosition), &message.PositionUpdate{
		EntityRef: message.EntityRef{Header: message.NewHeader(peer, sid), EntityID: eid},
		Position:  theirs,
	})
	inject(t, bus, statusUpdate(sid, eid, message.FieldVisibility), &message.VisibilityUpdate{
		EntityRef: message.EntityRef{Header: message.NewHeader(peer, sid), EntityID: eid},
		Visible:   false,
	})
	c.sync.Tick(0)
	if e.Position(true) != theirs {
		t.Fatalf("expected peer position applied, got %+v", e.Position(true))
	}
	if e.Visible() {
		t.Fatalf("expected peer visibility applied")
	}
	if n := len(bus.PublishedTo(message.RequestWildcard)); n != 0 {
		t.Fatalf("expected remote updates not republished, got %d", n)
	}
}

func TestDuplicateRemoteCreateIgnored(t *testing.T) {
	bus := transport.NewMemoryBus()
	c, sid := joinedClient(t, bus)
	eid := uuid.New()
	for i := 0; i < 2; i++ {
		inject(t, bus, statusCreate(sid, message.KindMesh), message.CreateEntity{
			Header: message.NewHeader(uuid.New(), sid),
			Entity: meshRecord(eid, nil),
		})
	}
	c.sync.Tick(0)
	if c.scene.Len() != 1 {
		t.Fatalf("expected 1 entity, got %d", c.scene.Len())
	}
}

func TestRedeliveredMessageDropped(t *testing.T) {
	bus := transport.NewMemoryBus()
	c, sid := joinedClient(t, bus)
	var got []string
	c.sync.AddMessageListener(func(topic string, _ uuid.UUID, msg string) { got = append(got, topic+":"+msg) })

	topic := message.Route{Scope: message.ScopeStatus, SessionID: sid, Action: message.ActionMessageNew}.Topic()
	payload := inject(t, bus, topic, message.CustomMessage{Header: message.NewHeader(uuid.New(), sid), Topic: "chat", Message: "hi"})
	bus.Inject(topic, payload)
	c.sync.Tick(0)

	if len(got) != 1 || got[0] != "chat:hi" {
		t.Fatalf("expected exactly one delivery, got %v", got)
	}
}

func TestRemoteRemoveAndDelete(t *testing.T) {
	bus := transport.NewMemoryBus()
	c, sid := joinedClient(t, bus)
	peer := uuid.New()
	kept, gone := uuid.New(), uuid.New()
	for _, id := range []uuid.UUID{kept, gone} {
		inject(t, bus, statusCreate(sid, message.KindMesh), message.CreateEntity{
			Header: message.NewHeader(peer, sid),
			Entity: meshRecord(id, nil),
		})
	}
	c.sync.Tick(0)

	inject(t, bus, message.StatusEntity(sid, kept, message.ActionRemoveEntity),
		message.EntityRef{Header: message.NewHeader(peer, sid), EntityID: kept})
	inject(t, bus, message.StatusEntity(sid, gone, message.ActionDeleteEntity),
		message.EntityRef{Header: message.NewHeader(peer, sid), EntityID: gone})
	c.sync.Tick(0)

	if c.sync.IsMirrored(kept) || c.scene.Get(kept) == nil {
		t.Fatalf("expected removed entity unmirrored but still in scene")
	}
	if c.sync.IsMirrored(gone) || c.scene.Get(gone) != nil {
		t.Fatalf("expected deleted entity destroyed")
	}
}

func TestLocalRemoveAndDelete(t *testing.T) {
	bus := transport.NewMemoryBus()
	c, sid := joinedClient(t, bus)
	a := mesh(t, c.scene, nil, "a")
	b := mesh(t, c.scene, nil, "b")
	for _, e := range []synchronizer.Entity{a, b} {
		if err := c.sync.AddSynchronizedEntity(e, true, "x.glb"); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	moved := message.Vector3{X: 4}
	a.SetPosition(moved, true)
	if n := len(bus.PublishedTo(message.RequestUpdateEntity(sid, a.ID(), message.FieldPosition))); n != 1 {
		t.Fatalf("expected 1 position request while synchronizing, got %d", n)
	}

	if err := c.sync.RemoveSynchronizedEntity(a); err != nil {
		t.Fatalf("remove: %v", err)
	}
	a.SetPosition(message.Vector3{X: 5}, true)
	if n := len(bus.PublishedTo(message.RequestUpdateEntity(sid, a.ID(), message.FieldPosition))); n != 1 {
		t.Fatalf("expected no position request after remove, got %d", n)
	}
	if err := c.sync.DeleteSynchronizedEntity(b); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if c.sync.IsSynchronized(a.ID()) || c.scene.Get(a.ID()) == nil || c.scene.Get(a.ID()).Synchronizing() {
		t.Fatalf("expected a unsynchronized but kept")
	}
	if c.sync.IsSynchronized(b.ID()) || c.scene.Get(b.ID()) != nil {
		t.Fatalf("expected b destroyed")
	}
	if n := len(bus.PublishedTo(message.RequestRemoveEntity(sid, a.ID()))); n != 1 {
		t.Fatalf("expected 1 remove request, got %d", n)
	}
	if n := len(bus.PublishedTo(message.RequestDeleteEntity(sid, b.ID()))); n != 1 {
		t.Fatalf("expected 1 delete request, got %d", n)
	}
}

func TestSnapshotReplacesState(t *testing.T) {
	bus := transport.NewMemoryBus()
	c, sid := joinedClient(t, bus)
	local := mesh(t, c.scene, nil, "local")
	if err := c.sync.AddSynchronizedEntity(local, false, "local.glb"); err != nil {
		t.Fatalf("add: %v", err)
	}
	parent, child := uuid.New(), uuid.New()
	inject(t, bus, statusCreate(sid, message.KindMesh), message.CreateEntity{
		Header: message.NewHeader(uuid.New(), sid),
		Entity: meshRecord(parent, nil),
	})
	c.sync.Tick(0)

	calls := 0
	if err := c.sync.GetSessionState(func() { calls++ }); err != nil {
		t.Fatalf("get state: %v", err)
	}
	if n := len(bus.PublishedTo(message.TopicSessionGetState)); n != 1 {
		t.Fatalf("expected getstate request, got %d", n)
	}

	canvasID, buttonID := uuid.New(), uuid.New()
	pos, size := message.Vector2{X: 0.5, Y: 0.5}, message.Vector2{X: 0.1, Y: 0.2}
	alice, bob := uuid.New(), uuid.New()
	state := message.SessionState{
		Header:  message.NewHeader(uuid.New(), sid),
		Clients: []message.ClientInfo{{ID: alice, Tag: "alice"}, {ID: bob, Tag: "bob"}},
		Entities: []message.EntityRecord{
			// Children first to exercise parent resolution.
			meshRecord(child, &parent),
			{
				ID: buttonID, Tag: "ok", Kind: message.KindButton, ParentID: &canvasID,
				Placement: message.Placement{PositionPercent: &pos, SizePercent: &size},
				Payload:   &message.ButtonPayload{OnClick: "confirm"},
			},
			meshRecord(parent, nil),
			{ID: canvasID, Tag: "hud", Kind: message.KindCanvas, Payload: &message.CanvasPayload{}},
		},
	}
	inject(t, bus, message.StatusState(sid), state)
	c.sync.Tick(0)

	if calls != 1 {
		t.Fatalf("expected callback once, got %d", calls)
	}
	want := map[uuid.UUID]bool{parent: true, child: true, canvasID: true, buttonID: true}
	got := c.sync.SynchronizedEntities()
	if len(got) != len(want) {
		t.Fatalf("expected %d synchronized entities, got %d", len(want), len(got))
	}
	for id := range want {
		if _, ok := got[id]; !ok {
			t.Fatalf("expected %s synchronized", id)
		}
		if c.sync.IsMirrored(id) {
			t.Fatalf("expected %s no longer a mirror", id)
		}
	}
	if c.scene.Get(local.ID()) != nil {
		t.Fatalf("expected entity missing from snapshot destroyed")
	}
	if c.scene.Len() != len(want) {
		t.Fatalf("expected scene to hold exactly the snapshot, got %d", c.scene.Len())
	}
	if p := c.scene.Get(child).Parent(); p == nil || p.ID() != parent {
		t.Fatalf("expected child reparented to %s", parent)
	}
	if b := c.scene.Get(buttonID); b.PositionPercent() != pos || b.OnClick() != "confirm" {
		t.Fatalf("expected button placement and payload, got %+v %q", b.PositionPercent(), b.OnClick())
	}
	users := c.sync.SynchronizedUsers()
	if len(users) != 2 || users[alice] != "alice" || users[bob] != "bob" {
		t.Fatalf("expected roster from snapshot, got %v", users)
	}

	inject(t, bus, message.StatusState(sid), message.SessionState{Header: message.NewHeader(uuid.New(), sid)})
	c.sync.Tick(0)
	if calls != 1 || len(c.sync.SynchronizedEntities()) != len(want) {
		t.Fatalf("expected unrequested snapshot ignored")
	}
}

func TestRosterUpdates(t *testing.T) {
	bus := transport.NewMemoryBus()
	c, sid := joinedClient(t, bus)
	peer := uuid.New()
	inject(t, bus, message.StatusNewClient(sid), message.NewClient{Header: message.NewHeader(peer, sid), ClientTag: "bob"})
	inject(t, bus, message.StatusNewClient(uuid.New()), message.NewClient{Header: message.NewHeader(uuid.New(), uuid.New()), ClientTag: "elsewhere"})
	c.sync.Tick(0)
	if users := c.sync.SynchronizedUsers(); len(users) != 1 || users[peer] != "bob" {
		t.Fatalf("expected bob only, got %v", users)
	}
	inject(t, bus, message.StatusClientLeft(sid), message.ClientLeft{Header: message.NewHeader(peer, sid)})
	c.sync.Tick(0)
	if users := c.sync.SynchronizedUsers(); len(users) != 0 {
		t.Fatalf("expected empty roster, got %v", users)
	}
}

func TestExitSession(t *testing.T) {
	bus := transport.NewMemoryBus()
	c, sid := joinedClient(t, bus)
	e := mesh(t, c.scene, nil, "crate")
	if err := c.sync.AddSynchronizedEntity(e, false, "crate.glb"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := c.sync.ExitSession(); err != nil {
		t.Fatalf("exit: %v", err)
	}
	if err := c.sync.SetPosition(e, message.Vector3{}); !errors.Is(err, synchronizer.ErrNotInSession) {
		t.Fatalf("expected operations blocked while exiting, got %v", err)
	}
	c.sync.Tick(0)
	if c.sync.InSession() {
		t.Fatalf("expected session cleared after unsubscribe")
	}
	if c.scene.Get(e.ID()) == nil || c.scene.Get(e.ID()).Synchronizing() {
		t.Fatalf("expected entity kept and no longer synchronizing")
	}
	if n := len(bus.PublishedTo(message.TopicSessionExit)); n != 1 {
		t.Fatalf("expected 1 exit, got %d", n)
	}

	inject(t, bus, statusCreate(sid, message.KindMesh), message.CreateEntity{
		Header: message.NewHeader(uuid.New(), sid),
		Entity: meshRecord(uuid.New(), nil),
	})
	c.sync.Tick(0)
	if c.scene.Len() != 1 {
		t.Fatalf("expected status traffic ignored after exit")
	}
}

func statusRef(sid, eid uuid.UUID, action message.Action) string {
	return message.StatusEntity(sid, eid, action)
}

func TestOwnEntityEchoesIgnored(t *testing.T) {
	bus := transport.NewMemoryBus()
	c, sid := joinedClient(t, bus)
	self := c.sync.ClientID()

	fresh := uuid.New()
	inject(t, bus, statusCreate(sid, message.KindMesh), message.CreateEntity{
		Header: message.NewHeader(self, sid),
		Entity: meshRecord(fresh, nil),
	})
	c.sync.Tick(0)
	if c.scene.Get(fresh) != nil || c.sync.IsMirrored(fresh) {
		t.Fatalf("expected own create echo not materialized")
	}

	local := mesh(t, c.scene, nil, "local")
	if err := c.sync.AddSynchronizedEntity(local, false, "local.glb"); err != nil {
		t.Fatalf("add: %v", err)
	}
	mirror := uuid.New()
	inject(t, bus, statusCreate(sid, message.KindMesh), message.CreateEntity{
		Header: message.NewHeader(uuid.New(), sid),
		Entity: meshRecord(mirror, nil),
	})
	c.sync.Tick(0)

	for _, id := range []uuid.UUID{local.ID(), mirror} {
		for _, action := range []message.Action{message.ActionRemoveEntity, message.ActionDeleteEntity} {
			inject(t, bus, statusRef(sid, id, action), message.EntityRef{Header: message.NewHeader(self, sid), EntityID: id})
		}
	}
	c.sync.Tick(0)

	if !c.sync.IsSynchronized(local.ID()) || !c.scene.Get(local.ID()).Synchronizing() {
		t.Fatalf("expected own remove and delete echoes ignored for %s", local.ID())
	}
	if !c.sync.IsMirrored(mirror) || c.scene.Get(mirror) == nil {
		t.Fatalf("expected mirror untouched by echoes carrying the local client id")
	}
}

func TestDeleteDropsDestroyedDescendants(t *testing.T) {
	bus := transport.NewMemoryBus()
	c, sid := joinedClient(t, bus)

	canvas, err := c.scene.NewCanvasEntity(nil, uuid.Nil, "hud")
	if err != nil {
		t.Fatalf("new canvas: %v", err)
	}
	button, err := c.scene.NewButtonEntity(canvas, uuid.Nil, "ok", message.ButtonPayload{OnClick: "confirm"})
	if err != nil {
		t.Fatalf("new button: %v", err)
	}
	for _, e := range []synchronizer.Entity{canvas, button} {
		if err := c.sync.AddSynchronizedEntity(e, false, ""); err != nil {
			t.Fatalf("add %s: %v", e.Kind(), err)
		}
	}

	parent, child := uuid.New(), uuid.New()
	peer := message.NewHeader(uuid.New(), sid)
	inject(t, bus, statusCreate(sid, message.KindMesh), message.CreateEntity{Header: peer, Entity: meshRecord(parent, nil)})
	inject(t, bus, statusCreate(sid, message.KindMesh), message.CreateEntity{Header: message.NewHeader(peer.ClientID, sid), Entity: meshRecord(child, &parent)})
	c.sync.Tick(0)
	if !c.sync.IsMirrored(child) {
		t.Fatalf("expected child mirrored")
	}

	inject(t, bus, statusRef(sid, canvas.ID(), message.ActionDeleteEntity), message.EntityRef{Header: message.NewHeader(peer.ClientID, sid), EntityID: canvas.ID()})
	inject(t, bus, statusRef(sid, parent, message.ActionDeleteEntity), message.EntityRef{Header: message.NewHeader(peer.ClientID, sid), EntityID: parent})
	c.sync.Tick(0)

	if c.scene.Get(button.ID()) != nil {
		t.Fatalf("expected button destroyed with its canvas")
	}
	if n := len(c.sync.SynchronizedEntities()); n != 0 {
		t.Fatalf("expected no synchronized entities left, got %d", n)
	}
	if c.sync.IsMirrored(child) || c.scene.Get(child) != nil {
		t.Fatalf("expected mirrored child dropped with its parent")
	}

	// Local delete takes descendants along too.
	root := mesh(t, c.scene, nil, "root")
	leaf := mesh(t, c.scene, root, "leaf")
	for _, e := range []synchronizer.Entity{root, leaf} {
		if err := c.sync.AddSynchronizedEntity(e, false, e.Tag()+".glb"); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if err := c.sync.DeleteSynchronizedEntity(root); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if c.sync.IsSynchronized(leaf.ID()) || c.scene.Get(leaf.ID()) != nil {
		t.Fatalf("expected leaf dropped with root")
	}
}

// refusingAdapter fails every status subscription.
type refusingAdapter struct {
	*transport.MemoryAdapter
}

var errRefused = errors.New("subscription refused")

func (a refusingAdapter) Subscribe(pattern string, onSubscribed func(), onMessage transport.MessageHandler) error {
	if strings.HasPrefix(pattern, "vos/status/") {
		return errRefused
	}
	return a.MemoryAdapter.Subscribe(pattern, onSubscribed, onMessage)
}

func TestJoinSubscribeFailureLeavesNoSession(t *testing.T) {
	bus := transport.NewMemoryBus()
	s, err := synchronizer.New(refusingAdapter{bus.Adapter()}, scene.New(nil), synchronizer.DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Connect(context.Background(), transport.Endpoint{}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	s.Tick(0)

	if _, err := s.JoinSession(uuid.New(), "alice"); !errors.Is(err, errRefused) {
		t.Fatalf("expected refused subscription, got %v", err)
	}
	if s.InSession() || s.CurrentSessionID() != uuid.Nil {
		t.Fatalf("expected no session after failed subscribe")
	}
	s.Tick(6 * time.Second)
	if n := len(bus.PublishedTo(message.TopicSessionHeartbeat)); n != 0 {
		t.Fatalf("expected no heartbeat after failed join, got %d", n)
	}
	if _, err := s.JoinSession(uuid.New(), "alice"); errors.Is(err, synchronizer.ErrAlreadyInSession) {
		t.Fatalf("expected retry not blocked by a stale session, got %v", err)
	}
}
