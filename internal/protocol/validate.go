package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const schemaBaseURL = "https://tilecraft.ai/schemas/"

// payloadSchema maps a channel kind to the schema its PUB payloads must satisfy.
var payloadSchema = map[string]string{
	ChanPositions: "position.schema.json",
	ChanBlocks:    "block.schema.json",
	ChanDrops:     "drop.schema.json",
	ChanChat:      "chat.schema.json",
	ChanSnapshots: "snapshot.schema.json",
	KindSystem:    "system.schema.json",
}

// Validator checks relay envelopes and payloads against the embedded schemas.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	ents, err := fs.ReadDir(schemaFS, "schemas")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".schema.json") {
			continue
		}
		b, err := schemaFS.ReadFile("schemas/" + e.Name())
		if err != nil {
			return nil, err
		}
		if err := c.AddResource(schemaBaseURL+e.Name(), bytes.NewReader(b)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", e.Name(), err)
		}
		names = append(names, e.Name())
	}
	v := &Validator{schemas: make(map[string]*jsonschema.Schema, len(names))}
	for _, n := range names {
		s, err := c.Compile(schemaBaseURL + n)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", n, err)
		}
		v.schemas[n] = s
	}
	return v, nil
}

// Validate checks raw JSON against the named schema (e.g. "hello.schema.json").
func (v *Validator) Validate(name string, raw []byte) error {
	s := v.schemas[name]
	if s == nil {
		return fmt.Errorf("unknown schema %q", name)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return s.Validate(doc)
}

// ValidatePayload checks a PUB payload for the given channel.
func (v *Validator) ValidatePayload(channel string, payload []byte) error {
	_, kind, ok := ParseChannel(channel)
	if !ok {
		return fmt.Errorf("unknown channel %q", channel)
	}
	name, ok := payloadSchema[kind]
	if !ok {
		return fmt.Errorf("no schema for channel kind %q", kind)
	}
	return v.Validate(name, payload)
}
