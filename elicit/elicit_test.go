package elicit

import (
	"encoding/json"
	"strings"
	"testing"
)

type flatForm struct {
	Name  string  `json:"name"`
	Age   int     `json:"age,omitempty"`
	Score float64 `json:"score,omitempty"`
	OK    bool    `json:"ok,omitempty"`
}

type nestedForm struct {
	Name  string            `json:"name"`
	Inner map[string]string `json:"inner"`
}

func TestSchemaForFlatStruct(t *testing.T) {
	raw, err := SchemaFor(flatForm{})
	if err != nil {
		t.Fatalf("SchemaFor: %v", err)
	}

	var schema struct {
		Type       string `json:"type"`
		Properties map[string]struct {
			Type string `json:"type"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(raw, &schema); err != nil {
		t.Fatalf("unmarshal schema: %v", err)
	}
	if schema.Type != "object" {
		t.Errorf("schema type = %q, want object", schema.Type)
	}
	want := map[string]string{"name": "string", "age": "integer", "score": "number", "ok": "boolean"}
	for name, typ := range want {
		prop, found := schema.Properties[name]
		if !found {
			t.Errorf("property %q missing from schema", name)
			continue
		}
		if prop.Type != typ {
			t.Errorf("property %q has type %q, want %q", name, prop.Type, typ)
		}
	}
	if len(schema.Required) != 1 || schema.Required[0] != "name" {
		t.Errorf("required = %v, want [name]", schema.Required)
	}
}

func TestSchemaForRejectsNestedShapes(t *testing.T) {
	if _, err := SchemaFor(nestedForm{}); err == nil {
		t.Fatal("expected an error for a non-primitive property")
	}
}

func TestSchemaForPointerIndirection(t *testing.T) {
	raw, err := SchemaFor(&flatForm{})
	if err != nil {
		t.Fatalf("SchemaFor(pointer): %v", err)
	}
	if !strings.Contains(string(raw), `"name"`) {
		t.Fatalf("schema lost properties through pointer indirection: %s", raw)
	}
}

func TestDecodeIntoIsStrict(t *testing.T) {
	var form flatForm
	good := json.RawMessage(`{"name":"ada","age":36}`)
	if err := DecodeInto(good, &form); err != nil {
		t.Fatalf("DecodeInto: %v", err)
	}
	if form.Name != "ada" || form.Age != 36 {
		t.Fatalf("unexpected decode: %+v", form)
	}

	unknown := json.RawMessage(`{"name":"ada","shoe_size":9}`)
	if err := DecodeInto(unknown, &form); err == nil {
		t.Fatal("expected an error for an unknown field")
	}

	if err := DecodeInto(nil, &form); err == nil {
		t.Fatal("expected an error for empty content")
	}
}
