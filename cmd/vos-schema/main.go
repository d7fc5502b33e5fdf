// Command vos-schema writes a JSON schema describing every envelope published on
// the vos topic tree.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"github.com/erilali/vossync/internal/message"
	"github.com/google/uuid"
	"github.com/invopop/jsonschema"
)

type entry struct {
	topic    string
	envelope interface{}
}

func catalog() []entry {
	sid := "{sessionID}"
	eid := "{entityID}"
	entries := []entry{
		{message.TopicSessionCreate, new(message.CreateSession)},
		{message.TopicSessionDestroy, new(message.DestroySession)},
		{message.TopicSessionJoin, new(message.JoinSession)},
		{message.TopicSessionExit, new(message.ExitSession)},
		{message.TopicSessionHeartbeat, new(message.Heartbeat)},
		{message.TopicSessionGetState, new(message.GetState)},
		{message.TopicSessionNew, new(message.SessionAnnouncement)},
		{message.TopicSessionClosed, new(message.SessionAnnouncement)},
		{message.TopicSessionState, new(message.SessionState)},
		{"vos/status/" + sid + "/newclient", new(message.NewClient)},
		{"vos/status/" + sid + "/clientleft", new(message.ClientLeft)},
		{"vos/request/" + sid + "/entity/" + eid + "/remove", new(message.EntityRef)},
		{"vos/request/" + sid + "/entity/" + eid + "/delete", new(message.EntityRef)},
		{"vos/request/" + sid + "/message/create", new(message.CustomMessage)},
	}
	for _, field := range message.Fields() {
		update, err := message.NewUpdate(field)
		if err != nil {
			continue
		}
		entries = append(entries, entry{"vos/request/" + sid + "/entity/" + eid + "/" + string(field), update})
	}
	return entries
}

func newReflector() *jsonschema.Reflector {
	uuidType := reflect.TypeOf(uuid.UUID{})
	recordType := reflect.TypeOf(message.EntityRecord{})
	return &jsonschema.Reflector{
		AllowAdditionalProperties: true,
		DoNotReference:            true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			switch t {
			case uuidType:
				return &jsonschema.Schema{Type: "string", Format: "uuid"}
			case recordType:
				return &jsonschema.Schema{Type: "object", Description: "Entity record, same fields as a createentity envelope without the header."}
			}
			return nil
		},
	}
}

func reflectEnvelope(r *jsonschema.Reflector, topic string, v interface{}) *jsonschema.Schema {
	s := r.Reflect(v)
	s.Version = ""
	s.Title = topic
	return s
}

// createEntitySchemas describes the flattened createentity wire form, one schema
// per entity kind: header, identity, placement and the kind's payload.
func createEntitySchemas(r *jsonschema.Reflector) []*jsonschema.Schema {
	var out []*jsonschema.Schema
	for _, kind := range message.Kinds() {
		payload, err := message.NewPayload(kind)
		if err != nil {
			continue
		}
		parts := []*jsonschema.Schema{
			r.Reflect(new(message.Header)),
			r.Reflect(new(message.Placement)),
			r.Reflect(payload),
		}
		for _, p := range parts {
			p.Version = ""
		}
		out = append(out, &jsonschema.Schema{
			Title: fmt.Sprintf("vos/request/{sessionID}/create%sentity", kind),
			AllOf: parts,
		})
	}
	return out
}

func buildSchema() *jsonschema.Schema {
	r := newReflector()
	var envelopes []*jsonschema.Schema
	for _, e := range catalog() {
		envelopes = append(envelopes, reflectEnvelope(r, e.topic, e.envelope))
	}
	envelopes = append(envelopes, createEntitySchemas(r)...)
	envelopes = append(envelopes, reflectEnvelope(r, "relay frame", new(message.RelayFrame)))
	return &jsonschema.Schema{
		Version:     jsonschema.Version,
		Title:       "VOS envelopes",
		Description: "JSON envelopes exchanged on the vos topic tree. Status topics carry the same envelope as the request they relay.",
		OneOf:       envelopes,
	}
}

func writeSchema(outPath string, schema *jsonschema.Schema) error {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	data = append(data, '\n')
	if outPath == "" {
		_, err := os.Stdout.Write(data)
		return err
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create schema directory: %w", err)
	}
	tmpPath := outPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp schema: %w", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("replace schema: %w", err)
	}
	return nil
}

func main() {
	var outPath string
	flag.StringVar(&outPath, "out", "", "path to write the JSON schema (stdout when empty)")
	flag.Parse()

	if err := writeSchema(outPath, buildSchema()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write schema: %v\n", err)
		os.Exit(1)
	}
}
