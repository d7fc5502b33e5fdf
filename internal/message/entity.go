package message

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// EntityKind is the closed set of synchronizable entity types.
type EntityKind string

const (
	KindMesh      EntityKind = "mesh"
	KindCharacter EntityKind = "character"
	KindButton    EntityKind = "button"
	KindCanvas    EntityKind = "canvas"
	KindInput     EntityKind = "input"
	KindLight     EntityKind = "light"
	KindTerrain   EntityKind = "terrain"
	KindText      EntityKind = "text"
	KindVoxel     EntityKind = "voxel"
)

var ErrUnknownKind = errors.New("unknown entity kind")

var payloadFactories = map[EntityKind]func() Payload{
	KindMesh:      func() Payload { return &MeshPayload{} },
	KindCharacter: func() Payload { return &CharacterPayload{} },
	KindButton:    func() Payload { return &ButtonPayload{} },
	KindCanvas:    func() Payload { return &CanvasPayload{} },
	KindInput:     func() Payload { return &InputPayload{} },
	KindLight:     func() Payload { return &LightPayload{} },
	KindTerrain:   func() Payload { return &TerrainPayload{} },
	KindText:      func() Payload { return &TextPayload{} },
	KindVoxel:     func() Payload { return &VoxelPayload{} },
}

// Kinds lists every entity kind in topic order.
func Kinds() []EntityKind {
	return []EntityKind{KindMesh, KindCharacter, KindButton, KindCanvas, KindInput, KindLight, KindTerrain, KindText, KindVoxel}
}

func (k EntityKind) Valid() bool {
	_, ok := payloadFactories[k]
	return ok
}

// CanvasChild reports whether entities of this kind must be parented to a canvas.
func (k EntityKind) CanvasChild() bool {
	return k == KindButton || k == KindInput || k == KindText
}

// RequiresResource reports whether creating this kind needs a resource path.
func (k EntityKind) RequiresResource() bool {
	return k == KindMesh
}

// NewPayload returns an empty payload for kind, ready to be decoded into.
func NewPayload(kind EntityKind) (Payload, error) {
	factory, ok := payloadFactories[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return factory(), nil
}

// Payload is the kind specific part of an entity record.
type Payload interface {
	Kind() EntityKind
}

type MeshPayload struct {
	Path string `json:"path"`
}

type CharacterPayload struct {
	Path          string     `json:"path,omitempty"`
	ModelOffset   Vector3    `json:"modelOffset"`
	ModelRotation Quaternion `json:"modelRotation"`
	LabelOffset   Vector3    `json:"labelOffset"`
}

type ButtonPayload struct {
	OnClick string `json:"onClick,omitempty"`
}

type CanvasPayload struct{}

type InputPayload struct{}

type LightPayload struct{}

type TerrainPayload struct {
	Length  float64     `json:"length"`
	Width   float64     `json:"width"`
	Height  float64     `json:"height"`
	Heights [][]float64 `json:"heights"`
}

type TextPayload struct {
	Text     string `json:"text"`
	FontSize int    `json:"fontSize"`
}

type VoxelPayload struct{}

func (*MeshPayload) Kind() EntityKind      { return KindMesh }
func (*CharacterPayload) Kind() EntityKind { return KindCharacter }
func (*ButtonPayload) Kind() EntityKind    { return KindButton }
func (*CanvasPayload) Kind() EntityKind    { return KindCanvas }
func (*InputPayload) Kind() EntityKind     { return KindInput }
func (*LightPayload) Kind() EntityKind     { return KindLight }
func (*TerrainPayload) Kind() EntityKind   { return KindTerrain }
func (*TextPayload) Kind() EntityKind      { return KindText }
func (*VoxelPayload) Kind() EntityKind     { return KindVoxel }

// Placement is where an entity sits. World entities use Position/Rotation plus
// either Scale or Size (selected by IsSize); canvas children use the percent pair.
type Placement struct {
	Position        *Vector3    `json:"position,omitempty"`
	Rotation        *Quaternion `json:"rotation,omitempty"`
	Scale           *Vector3    `json:"scale,omitempty"`
	Size            *Vector3    `json:"size,omitempty"`
	IsSize          bool        `json:"isSize,omitempty"`
	PositionPercent *Vector2    `json:"positionPercent,omitempty"`
	SizePercent     *Vector2    `json:"sizePercent,omitempty"`
}

var ErrInvalidPlacement = errors.New("invalid placement")

func (p Placement) Validate() error {
	if p.Scale != nil && p.Size != nil {
		return fmt.Errorf("%w: scale and size are mutually exclusive", ErrInvalidPlacement)
	}
	if p.IsSize && p.Scale != nil {
		return fmt.Errorf("%w: isSize set with scale", ErrInvalidPlacement)
	}
	if !p.IsSize && p.Size != nil {
		return fmt.Errorf("%w: size without isSize", ErrInvalidPlacement)
	}
	for _, v := range []*Vector2{p.PositionPercent, p.SizePercent} {
		if v != nil && !v.InUnitRange() {
			return fmt.Errorf("%w: percent %v outside [0,1]", ErrInvalidPlacement, *v)
		}
	}
	return nil
}

// EntityRecord is the tagged union describing one synchronized entity: common
// identity, placement, and the payload variant selected by Kind.
type EntityRecord struct {
	ID               uuid.UUID
	Tag              string
	Kind             EntityKind
	ParentID         *uuid.UUID
	DeleteWithClient bool
	Placement        Placement
	Payload          Payload
}

type entityIdentity struct {
	ID               uuid.UUID  `json:"id"`
	Tag              string     `json:"tag"`
	Kind             EntityKind `json:"kind"`
	ParentID         *uuid.UUID `json:"parentID,omitempty"`
	DeleteWithClient bool       `json:"deleteWithClient"`
}

func (r EntityRecord) Validate() error {
	if r.ID == uuid.Nil {
		return errors.New("entity id is required")
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, r.Kind)
	}
	if r.Payload == nil {
		return fmt.Errorf("entity %s has no payload", r.ID)
	}
	if r.Payload.Kind() != r.Kind {
		return fmt.Errorf("entity %s: %s payload for %s kind", r.ID, r.Payload.Kind(), r.Kind)
	}
	return r.Placement.Validate()
}

func (r EntityRecord) fields() ([]interface{}, error) {
	if r.Payload == nil {
		return nil, fmt.Errorf("entity %s has no payload", r.ID)
	}
	identity := entityIdentity{
		ID:               r.ID,
		Tag:              r.Tag,
		Kind:             r.Kind,
		ParentID:         r.ParentID,
		DeleteWithClient: r.DeleteWithClient,
	}
	return []interface{}{identity, r.Placement, r.Payload}, nil
}

func (r EntityRecord) MarshalJSON() ([]byte, error) {
	parts, err := r.fields()
	if err != nil {
		return nil, err
	}
	return mergeObjects(parts...)
}

func (r *EntityRecord) UnmarshalJSON(data []byte) error {
	var identity entityIdentity
	if err := json.Unmarshal(data, &identity); err != nil {
		return err
	}
	var placement Placement
	if err := json.Unmarshal(data, &placement); err != nil {
		return err
	}
	payload, err := NewPayload(identity.Kind)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, payload); err != nil {
		return fmt.Errorf("decode %s payload: %w", identity.Kind, err)
	}
	*r = EntityRecord{
		ID:               identity.ID,
		Tag:              identity.Tag,
		Kind:             identity.Kind,
		ParentID:         identity.ParentID,
		DeleteWithClient: identity.DeleteWithClient,
		Placement:        placement,
		Payload:          payload,
	}
	return nil
}

// mergeObjects marshals each value as a JSON object and flattens them into one.
// Later values win on key collisions.
func mergeObjects(values ...interface{}) ([]byte, error) {
	merged := make(map[string]json.RawMessage)
	for _, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, err
		}
		for k, raw := range fields {
			merged[k] = raw
		}
	}
	return json.Marshal(merged)
}
