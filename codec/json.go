package codec

import (
	"encoding/json"
)

// JSON is the standard-library JSON codec.
//
// Metadata is map-like scalar data, for which JSON is stable and portable.
// Persisted files always record the codec name, so the default can change
// without breaking existing snapshots.
type JSON struct{}

// Marshal encodes the value to JSON.
func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal decodes the JSON data into v.
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Name returns the unique name of the codec ("json").
func (JSON) Name() string { return "json" }
