package message

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestCreateEntityWireShapeIsFlat(t *testing.T) {
	sid, cid, eid := uuid.New(), uuid.New(), uuid.New()
	env := CreateEntity{
		Header: NewHeader(cid, sid),
		Entity: EntityRecord{
			ID:        eid,
			Tag:       "box",
			Kind:      KindMesh,
			Placement: Placement{Position: &Vector3{Y: 1}, Rotation: &Identity, Scale: &Vector3{X: 1, Y: 1, Z: 1}},
			Payload:   &MeshPayload{Path: "box.glb"},
		},
	}

	data, err := Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"messageID", "clientID", "sessionID", "id", "tag", "kind", "path", "position", "rotation", "scale", "deleteWithClient"} {
		if _, ok := fields[key]; !ok {
			t.Fatalf("expected key %q in %s", key, data)
		}
	}
	if _, ok := fields["size"]; ok {
		t.Fatalf("expected size to be omitted for scale placement: %s", data)
	}

	decoded, err := Decode(Route{Scope: ScopeStatus, SessionID: sid, Action: ActionCreateEntity, Kind: KindMesh}, data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := decoded.(*CreateEntity)
	mesh, ok := got.Entity.Payload.(*MeshPayload)
	if !ok || mesh.Path != "box.glb" {
		t.Fatalf("unexpected payload: %#v", got.Entity.Payload)
	}
	if got.ClientID != cid || got.Entity.ID != eid || *got.Entity.Placement.Position != (Vector3{Y: 1}) {
		t.Fatalf("unexpected decoded envelope: %+v", got)
	}
}

func TestDecodeRejectsKindMismatch(t *testing.T) {
	sid := uuid.New()
	env := CreateEntity{
		Header: NewHeader(uuid.New(), sid),
		Entity: EntityRecord{ID: uuid.New(), Kind: KindLight, Payload: &LightPayload{}},
	}
	data, err := Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	_, err = Decode(Route{Scope: ScopeStatus, SessionID: sid, Action: ActionCreateEntity, Kind: KindVoxel}, data)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestDecodeRejectsScaleAndSize(t *testing.T) {
	sid := uuid.New()
	env := CreateEntity{
		Header: NewHeader(uuid.New(), sid),
		Entity: EntityRecord{
			ID:        uuid.New(),
			Kind:      KindVoxel,
			Placement: Placement{Scale: &Vector3{X: 1}, Size: &Vector3{X: 2}, IsSize: true},
			Payload:   &VoxelPayload{},
		},
	}
	data, err := Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := Decode(Route{Scope: ScopeStatus, SessionID: sid, Action: ActionCreateEntity, Kind: KindVoxel}, data); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestDecodeUnknownKindInSnapshot(t *testing.T) {
	payload := []byte(`{"messageID":"` + uuid.NewString() + `","clientID":"` + uuid.NewString() + `","sessionID":"` + uuid.NewString() + `","clients":[],"entities":[{"id":"` + uuid.NewString() + `","kind":"rocket"}]}`)
	if _, err := Decode(Route{Scope: ScopeSession, Action: ActionState}, payload); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestDecodeUpdateTargetsRouteEntity(t *testing.T) {
	sid, eid := uuid.New(), uuid.New()
	update := PositionUpdate{
		EntityRef: EntityRef{Header: NewHeader(uuid.New(), sid), EntityID: eid},
		Position:  Vector3{X: 3},
	}
	data, err := Encode(update)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	route := Route{Scope: ScopeStatus, SessionID: sid, EntityID: eid, Action: ActionUpdateEntity, Field: FieldPosition}
	env, err := Decode(route, data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := env.(*PositionUpdate).Position; got.X != 3 {
		t.Fatalf("unexpected position %+v", got)
	}

	route.EntityID = uuid.New()
	if _, err := Decode(route, data); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for mismatched entity, got %v", err)
	}
}

func TestEveryFieldHasAnUpdate(t *testing.T) {
	for _, field := range Fields() {
		update, err := NewUpdate(field)
		if err != nil {
			t.Fatalf("field %q: %v", field, err)
		}
		if update.Field() != field {
			t.Fatalf("field %q builds %q update", field, update.Field())
		}
	}
}

func TestEveryKindHasAPayload(t *testing.T) {
	for _, kind := range Kinds() {
		payload, err := NewPayload(kind)
		if err != nil {
			t.Fatalf("kind %q: %v", kind, err)
		}
		if payload.Kind() != kind {
			t.Fatalf("kind %q builds %q payload", kind, payload.Kind())
		}
	}
	if _, err := NewPayload("rocket"); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestPeekHeaderRequiresMessageID(t *testing.T) {
	if _, err := PeekHeader([]byte(`{"clientID":"` + uuid.NewString() + `"}`)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	if _, err := PeekHeader([]byte(`not json`)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}
