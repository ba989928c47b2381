// Package transportable implements the dispatcher's opaque value envelope.
//
// A Transportable is the only shape a value takes while it crosses a task
// boundary: the graph, the dispatch store, and the observer wire never see
// anything else. Materialization back into a host value happens only inside
// an executor or during post-processing.
package transportable

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
)

// ContentType tags the encoding used for a Transportable's payload.
type ContentType string

const (
	// ContentTypeJSON is used for any value that round-trips through
	// encoding/json (the common case for task inputs/outputs).
	ContentTypeJSON ContentType = "application/json"
	// ContentTypeGob is the fallback Wrap uses for non-string values that
	// json.Marshal rejects but gob can encode.
	ContentTypeGob ContentType = "application/x-gob"
	// ContentTypeString is a bare string payload, stored as-is.
	ContentTypeString ContentType = "text/plain"
)

// Transportable is an opaque byte-string plus a content type tag.
type Transportable struct {
	ContentType ContentType `json:"content_type"`
	Data        []byte      `json:"data"`
}

// Wrap encodes a host value into a Transportable. Strings are stored as-is;
// everything else round-trips through JSON unless it fails to marshal, in
// which case gob is used as a fallback, matching the teacher's pragmatic
// "best available codec" approach to config-bag style payloads.
func Wrap(value any) (Transportable, error) {
	if s, ok := value.(string); ok {
		return Transportable{ContentType: ContentTypeString, Data: []byte(s)}, nil
	}

	if data, err := json.Marshal(value); err == nil {
		return Transportable{ContentType: ContentTypeJSON, Data: data}, nil
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(value); err != nil {
		return Transportable{}, fmt.Errorf("wrap transportable: %w", err)
	}
	return Transportable{ContentType: ContentTypeGob, Data: buf.Bytes()}, nil
}

// Materialize decodes a Transportable into the given destination pointer.
func Materialize(t Transportable, dest any) error {
	switch t.ContentType {
	case ContentTypeString:
		ptr, ok := dest.(*string)
		if !ok {
			return fmt.Errorf("materialize transportable: destination is not *string")
		}
		*ptr = string(t.Data)
		return nil
	case ContentTypeJSON:
		if err := json.Unmarshal(t.Data, dest); err != nil {
			return fmt.Errorf("materialize transportable: %w", err)
		}
		return nil
	case ContentTypeGob:
		if err := gob.NewDecoder(bytes.NewReader(t.Data)).Decode(dest); err != nil {
			return fmt.Errorf("materialize transportable: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("materialize transportable: unknown content type %q", t.ContentType)
	}
}

// MaterializeAny decodes a Transportable into an untyped any, inferring a
// map/slice/scalar shape for JSON payloads. Executors that don't know the
// destination type ahead of time (a node's output flowing into another
// node's input) use this instead of Materialize.
func MaterializeAny(t Transportable) (any, error) {
	switch t.ContentType {
	case ContentTypeString:
		return string(t.Data), nil
	case ContentTypeJSON:
		var v any
		if err := json.Unmarshal(t.Data, &v); err != nil {
			return nil, fmt.Errorf("materialize transportable: %w", err)
		}
		return v, nil
	case ContentTypeGob:
		var v any
		if err := gob.NewDecoder(bytes.NewReader(t.Data)).Decode(&v); err != nil {
			return nil, fmt.Errorf("materialize transportable: %w", err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("materialize transportable: unknown content type %q", t.ContentType)
	}
}

// MustWrap wraps a value and panics on error. Reserved for call sites
// constructing literal test fixtures where the value is known-encodable.
func MustWrap(value any) Transportable {
	t, err := Wrap(value)
	if err != nil {
		panic(err)
	}
	return t
}

// IsZero reports whether t carries no payload at all.
func (t Transportable) IsZero() bool {
	return t.ContentType == "" && len(t.Data) == 0
}
