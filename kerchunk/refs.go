// Package kerchunk generates virtual Zarr reference stores over
// netCDF4/HDF5 files and consolidates sequences of such stores into
// one combined time-indexed store. Array data is never copied or
// decoded; the output is byte-range metadata in the kerchunk v1
// reference convention.
package kerchunk

import (
	"errors"
	"fmt"
	"sort"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Version is the reference format version this package reads and writes.
const Version = 1

// Sentinel errors of the consolidator contract.
var (
	// ErrEmptyStack is returned when CombineStack receives no inputs.
	ErrEmptyStack = errors.New("empty reference stack")

	// ErrSchemaMismatch is returned when stacked inputs disagree on a
	// variable's array metadata.
	ErrSchemaMismatch = errors.New("schema mismatch across stack inputs")

	// ErrNoCoordinate is returned when a stack input has no usable
	// coordinate value for the concat dimension.
	ErrNoCoordinate = errors.New("no coordinate value in stack input")
)

// Ref is one reference value: either an inline string or a
// (URI, offset, length) triplet pointing into a source file.
type Ref struct {
	Inline string
	URI    string
	Offset uint64
	Length uint64

	inline bool
}

// InlineRef builds an inline reference.
func InlineRef(value string) Ref {
	return Ref{Inline: value, inline: true}
}

// ChunkRef builds a byte-range reference.
func ChunkRef(uri string, offset, length uint64) Ref {
	return Ref{URI: uri, Offset: offset, Length: length}
}

// IsInline reports whether the reference carries its value inline.
func (r Ref) IsInline() bool {
	return r.inline
}

// MarshalJSON encodes inline refs as JSON strings and byte-range refs
// as [uri, offset, length] arrays.
func (r Ref) MarshalJSON() ([]byte, error) {
	if r.inline {
		return json.Marshal(r.Inline)
	}
	return json.Marshal([]interface{}{r.URI, r.Offset, r.Length})
}

// UnmarshalJSON accepts the string, [uri], and [uri, offset, length]
// forms of the kerchunk v1 convention.
func (r *Ref) UnmarshalJSON(data []byte) error {
	*r = Ref{}
	if len(data) > 0 && data[0] == '"' {
		r.inline = true
		return json.Unmarshal(data, &r.Inline)
	}

	var parts []jsoniter.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("decoding reference: %w", err)
	}
	if len(parts) == 0 || len(parts) == 2 || len(parts) > 3 {
		return fmt.Errorf("reference array must have 1 or 3 elements, got %d", len(parts))
	}

	if err := json.Unmarshal(parts[0], &r.URI); err != nil {
		return fmt.Errorf("decoding reference uri: %w", err)
	}
	if len(parts) == 3 {
		if err := json.Unmarshal(parts[1], &r.Offset); err != nil {
			return fmt.Errorf("decoding reference offset: %w", err)
		}
		if err := json.Unmarshal(parts[2], &r.Length); err != nil {
			return fmt.Errorf("decoding reference length: %w", err)
		}
	}
	r.inline = false
	return nil
}

// ReferenceSet is a kerchunk v1 reference store: a flat mapping from
// Zarr store keys to references.
type ReferenceSet struct {
	Refs map[string]Ref
}

// NewReferenceSet returns an empty reference set.
func NewReferenceSet() *ReferenceSet {
	return &ReferenceSet{Refs: make(map[string]Ref)}
}

// SetInline stores an inline reference under key.
func (s *ReferenceSet) SetInline(key, value string) {
	s.Refs[key] = InlineRef(value)
}

// SetChunk stores a byte-range reference under key.
func (s *ReferenceSet) SetChunk(key, uri string, offset, length uint64) {
	s.Refs[key] = ChunkRef(uri, offset, length)
}

// Get returns the reference under key.
func (s *ReferenceSet) Get(key string) (Ref, bool) {
	r, ok := s.Refs[key]
	return r, ok
}

// Len returns the number of references.
func (s *ReferenceSet) Len() int {
	return len(s.Refs)
}

// Keys returns all store keys in sorted order.
func (s *ReferenceSet) Keys() []string {
	keys := make([]string, 0, len(s.Refs))
	for k := range s.Refs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type refsDocument struct {
	Version int            `json:"version"`
	Refs    map[string]Ref `json:"refs"`
}

// MarshalJSON encodes the set as {"version": 1, "refs": {...}}.
func (s *ReferenceSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(refsDocument{Version: Version, Refs: s.Refs})
}

// UnmarshalJSON decodes a kerchunk v1 reference document. A missing
// version field is accepted; any other version is rejected.
func (s *ReferenceSet) UnmarshalJSON(data []byte) error {
	var doc refsDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decoding reference set: %w", err)
	}
	if doc.Version != 0 && doc.Version != Version {
		return fmt.Errorf("unsupported reference format version: %d", doc.Version)
	}
	if doc.Refs == nil {
		doc.Refs = make(map[string]Ref)
	}
	s.Refs = doc.Refs
	return nil
}
