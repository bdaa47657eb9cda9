package core

import "github.com/tidwall/gjson"

// Chunk is one decoded unit of streamed command output.
type Chunk struct {
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
}

// Metadata is the raw JSON value carried next to a chunk's content.
// Its shape is not fixed; only a few well-known keys are interpreted.
type Metadata []byte

// IsComplete reports whether the metadata carries a truthy is_complete marker.
func (m Metadata) IsComplete() bool {
	return truthy(m.Get("is_complete"))
}

// Get returns the value at the given gjson path.
func (m Metadata) Get(path string) gjson.Result {
	if len(m) == 0 {
		return gjson.Result{}
	}
	return gjson.GetBytes(m, path)
}

// MarshalJSON emits the raw value, or an empty object when unset.
func (m Metadata) MarshalJSON() ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	return m, nil
}

// UnmarshalJSON keeps a copy of the raw value.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	*m = append((*m)[0:0], data...)
	return nil
}

// truthy follows JSON-in-JavaScript truthiness: false, null, 0 and ""
// are falsy, everything else present is truthy.
func truthy(r gjson.Result) bool {
	switch r.Type {
	case gjson.True:
		return true
	case gjson.Number:
		return r.Num != 0
	case gjson.String:
		return r.Str != ""
	case gjson.JSON:
		return true
	default:
		return false
	}
}
