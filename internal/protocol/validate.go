package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"path"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBase = "https://signlink.ai/schemas/"

var schemaFiles = map[string]string{
	TypeHello:       "hello.schema.json",
	TypeWelcome:     "welcome.schema.json",
	TypeMove:        "move.schema.json",
	TypeEditSign:    "edit_sign.schema.json",
	TypePlaceSign:   "place_sign.schema.json",
	TypeBreakSign:   "break_sign.schema.json",
	TypeInteract:    "interact.schema.json",
	TypeSignLines:   "sign_lines.schema.json",
	TypeSignRemoved: "sign_removed.schema.json",
	TypeNotice:      "notice.schema.json",
}

// Validator checks raw messages against the embedded JSON schemas.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	for _, name := range schemaFiles {
		raw, err := schemaFS.ReadFile(path.Join("schemas", name))
		if err != nil {
			return nil, err
		}
		if err := c.AddResource(schemaBase+name, bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("schema %s: %w", name, err)
		}
	}
	v := &Validator{schemas: map[string]*jsonschema.Schema{}}
	for typ, name := range schemaFiles {
		s, err := c.Compile(schemaBase + name)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", name, err)
		}
		v.schemas[typ] = s
	}
	return v, nil
}

// Validate decodes the message type and checks the whole message against
// its schema.
func (v *Validator) Validate(b []byte) (BaseMessage, error) {
	base, err := DecodeBase(b)
	if err != nil {
		return base, err
	}
	s, ok := v.schemas[base.Type]
	if !ok {
		return base, fmt.Errorf("unknown message type %q", base.Type)
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return base, err
	}
	if err := s.Validate(doc); err != nil {
		return base, err
	}
	return base, nil
}
