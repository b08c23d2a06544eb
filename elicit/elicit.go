// Package elicit projects Go structs into the flat object schemas the
// protocol's elicitation sub-request carries, and decodes accepted
// replies back into those structs.
package elicit

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
)

// Action is the client's disposition toward an elicitation request.
type Action string

const (
	ActionAccept  Action = "accept"
	ActionDecline Action = "decline"
	ActionCancel  Action = "cancel"
)

// Request is the parameter payload of an elicitation sub-request.
type Request struct {
	Message string          `json:"message"`
	Schema  json.RawMessage `json:"requestedSchema"`
}

// Result is the client's reply. Content is only present on accept.
type Result struct {
	Action  Action          `json:"action"`
	Content json.RawMessage `json:"content,omitempty"`
}

// SchemaFor reflects a flat object schema from a struct value. Only
// string, boolean, integer and number properties are permitted; the
// protocol keeps elicitation schemas shallow so every client can
// render them.
func SchemaFor(v any) (json.RawMessage, error) {
	rt := reflect.TypeOf(v)
	for rt != nil && rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	if rt == nil || rt.Kind() != reflect.Struct {
		return nil, fmt.Errorf("elicit: schema target must be a struct, got %T", v)
	}

	reflector := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
	}
	schema := reflector.ReflectFromType(rt)

	for pair := schema.Properties.Oldest(); pair != nil; pair = pair.Next() {
		switch pair.Value.Type {
		case "string", "boolean", "integer", "number":
		default:
			return nil, fmt.Errorf("elicit: property %q has unsupported type %q", pair.Key, pair.Value.Type)
		}
	}

	b, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("elicit: marshal schema: %w", err)
	}
	return b, nil
}

// DecodeInto strictly decodes accepted elicitation content into out.
// Unknown fields are rejected so a schema drift between server and
// client surfaces as an error instead of silently dropped data.
func DecodeInto(content json.RawMessage, out any) error {
	if len(content) == 0 {
		return fmt.Errorf("elicit: reply carried no content")
	}
	dec := json.NewDecoder(strings.NewReader(string(content)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("elicit: decode content: %w", err)
	}
	return nil
}
