// Package serializer provides the pluggable value encoding used at the edge
// of the cache and job queue facades. Callers store arbitrary Go values;
// backends only ever see opaque bytes, marshaled to JSON by default before
// being handed to the underlying store.
package serializer

import (
	"encoding/json"
	"fmt"

	"corekit.dev/errs"
)

// Serializer converts between a Go value and its wire representation.
type Serializer interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, out any) error
}

// JSON is the default Serializer, backed by encoding/json. It is stateless
// and safe for concurrent use.
type JSON struct{}

// NewJSON returns a JSON serializer.
func NewJSON() JSON { return JSON{} }

func (JSON) Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errs.Wrap(errs.SerializationFailed, "encode value", err)
	}
	return data, nil
}

func (JSON) Decode(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return errs.Wrap(errs.SerializationFailed, fmt.Sprintf("decode %d bytes", len(data)), err)
	}
	return nil
}
