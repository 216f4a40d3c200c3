// Package zarr builds Zarr v2 store metadata from HDF5 dataset
// descriptions.
package zarr

import (
	"strconv"
	"strings"
)

// Format is the Zarr store format version written into every
// .zgroup and .zarray document.
const Format = 2

// DimensionsAttr is the attribute xarray uses to recover named
// dimensions from a Zarr store.
const DimensionsAttr = "_ARRAY_DIMENSIONS"

// GroupMeta is the content of a .zgroup key.
type GroupMeta struct {
	ZarrFormat int `json:"zarr_format"`
}

// NewGroupMeta returns the canonical .zgroup document.
func NewGroupMeta() GroupMeta {
	return GroupMeta{ZarrFormat: Format}
}

// ArrayMeta is the content of a .zarray key.
type ArrayMeta struct {
	ZarrFormat int                      `json:"zarr_format"`
	Shape      []uint64                 `json:"shape"`
	Chunks     []uint64                 `json:"chunks"`
	Dtype      string                   `json:"dtype"`
	Compressor map[string]interface{}   `json:"compressor"`
	FillValue  interface{}              `json:"fill_value"`
	Order      string                   `json:"order"`
	Filters    []map[string]interface{} `json:"filters"`
}

// NewArrayMeta builds a .zarray document. Shape and chunks are copied
// so callers can reuse their slices; nil slices become empty ones so
// scalar arrays marshal as [] rather than null.
func NewArrayMeta(shape, chunks []uint64, dtype string) *ArrayMeta {
	return &ArrayMeta{
		ZarrFormat: Format,
		Shape:      copyDims(shape),
		Chunks:     copyDims(chunks),
		Dtype:      dtype,
		Order:      "C",
	}
}

func copyDims(dims []uint64) []uint64 {
	out := make([]uint64, len(dims))
	copy(out, dims)
	return out
}

// ChunkKey renders a chunk grid position as a Zarr v2 store key
// suffix. Scalar arrays use the single key "0".
func ChunkKey(gridIndex []uint64) string {
	if len(gridIndex) == 0 {
		return "0"
	}
	parts := make([]string, len(gridIndex))
	for i, g := range gridIndex {
		parts[i] = strconv.FormatUint(g, 10)
	}
	return strings.Join(parts, ".")
}

// MetaKey joins a variable path with a metadata document name,
// producing keys like "temperature/.zarray" or ".zgroup" for the root.
func MetaKey(varPath, doc string) string {
	varPath = strings.Trim(varPath, "/")
	if varPath == "" {
		return doc
	}
	return varPath + "/" + doc
}

// DataKey joins a variable path with a chunk key.
func DataKey(varPath, chunkKey string) string {
	varPath = strings.Trim(varPath, "/")
	if varPath == "" {
		return chunkKey
	}
	return varPath + "/" + chunkKey
}
