package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// ID is a JSON-RPC message id: a string or a number. The zero value (and a
// nil pointer) represent the absent id of a notification.
type ID struct {
	value any
}

// NewID wraps a string or numeric value as a message id. Unsupported kinds
// produce an absent id.
func NewID(value any) *ID {
	switch value.(type) {
	case string, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return &ID{value: value}
	default:
		return &ID{}
	}
}

// IsNil reports whether the id is absent.
func (id *ID) IsNil() bool {
	return id == nil || id.value == nil
}

// Value returns the underlying string or numeric value, or nil.
func (id *ID) Value() any {
	if id == nil {
		return nil
	}
	return id.value
}

// String renders the id for correlation-map keys and logging. Absent ids
// render as the empty string.
func (id *ID) String() string {
	if id.IsNil() {
		return ""
	}
	if s, ok := id.value.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", id.value)
}

func (id *ID) MarshalJSON() ([]byte, error) {
	if id.IsNil() {
		return []byte("null"), nil
	}
	return json.Marshal(id.value)
}

func (id *ID) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		if num == float64(int64(num)) {
			id.value = int64(num)
		} else {
			id.value = num
		}
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		id.value = str
		return nil
	}
	return fmt.Errorf("jsonrpc: id must be a string or number, got %s", string(data))
}
