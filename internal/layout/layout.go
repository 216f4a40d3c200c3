// Package layout enumerates the stored chunks behind HDF5 data layouts.
//
// Unlike a full data reader, nothing here touches chunk contents: the
// package resolves every layout class and chunk index flavor down to a
// list of (grid index, file address, stored size) records.
package layout

import (
	"fmt"

	"github.com/robert-malhotra/kerchunk-go/internal/binary"
	"github.com/robert-malhotra/kerchunk-go/internal/btree"
	"github.com/robert-malhotra/kerchunk-go/internal/message"
)

const undefinedAddr = 0xFFFFFFFFFFFFFFFF

// StoredChunk locates one stored chunk of a dataset on disk.
type StoredChunk struct {
	// GridIndex is the chunk's position in the chunk grid, one index
	// per dataset dimension. Empty for scalar datasets.
	GridIndex []uint64

	// Address is the file offset of the stored bytes.
	Address uint64

	// Size is the stored byte count (after filters, if any).
	Size uint64

	// FilterMask indicates which pipeline filters were skipped.
	FilterMask uint32
}

// StoredChunks resolves a data layout message to its stored chunks.
//
// Contiguous storage yields a single chunk covering the whole dataset.
// Chunked storage resolves whichever chunk index the file uses: v1
// B-tree, v2 B-tree, fixed array, extensible array, single chunk, or
// implicit. Compact storage has no file address and is rejected; the
// caller reads message.DataLayout.CompactData directly.
func StoredChunks(
	dl *message.DataLayout,
	ds *message.Dataspace,
	dt *message.Datatype,
	r *binary.Reader,
) ([]StoredChunk, error) {
	if dl == nil {
		return nil, fmt.Errorf("nil layout message")
	}

	switch dl.Class {
	case message.LayoutCompact:
		return nil, fmt.Errorf("compact layout has no stored chunks")

	case message.LayoutContiguous:
		if dl.Address == 0 || dl.Address == undefinedAddr || dl.Size == 0 {
			return nil, nil // no allocated data
		}
		return []StoredChunk{{
			GridIndex: make([]uint64, len(ds.Dimensions)),
			Address:   dl.Address,
			Size:      dl.Size,
		}}, nil

	case message.LayoutChunked:
		return chunkedStoredChunks(dl, ds, dt, r)

	default:
		return nil, fmt.Errorf("unsupported layout class: %d", dl.Class)
	}
}

func chunkedStoredChunks(
	dl *message.DataLayout,
	ds *message.Dataspace,
	dt *message.Datatype,
	r *binary.Reader,
) ([]StoredChunk, error) {
	dims := ds.Dimensions
	if len(dims) == 0 {
		dims = []uint64{1}
	}

	chunkDims := dl.ChunkDims
	if len(chunkDims) == 0 {
		return nil, fmt.Errorf("chunked layout has no chunk dimensions")
	}
	// The layout message carries ndims+1 dimensions (trailing element size).
	if len(chunkDims) > len(dims) {
		chunkDims = chunkDims[:len(dims)]
	}

	chunkBytes := uint64(dt.Size)
	for _, cd := range chunkDims {
		chunkBytes *= uint64(cd)
	}

	indexType, err := detectChunkIndexType(dl, r)
	if err != nil {
		return nil, fmt.Errorf("detecting chunk index type: %w", err)
	}

	switch indexType {
	case indexSingle:
		return singleChunk(dl, len(dims), chunkBytes), nil

	case indexImplicit:
		return implicitChunks(dl, dims, chunkDims, chunkBytes), nil

	case indexBTreeV1:
		return btreeV1Chunks(dl, dims, chunkDims, r)

	case indexBTreeV2:
		return btreeV2Chunks(dl, dims, chunkBytes, r)

	case indexFixedArray:
		return fixedArrayChunks(dl, dims, chunkDims, chunkBytes, r)

	case indexExtensibleArray:
		return extensibleArrayChunks(dl, dims, chunkDims, chunkBytes, r)

	default:
		return nil, fmt.Errorf("unsupported chunk index type: %s", indexType)
	}
}

type chunkIndexKind string

const (
	indexSingle          chunkIndexKind = "single"
	indexImplicit        chunkIndexKind = "implicit"
	indexBTreeV1         chunkIndexKind = "btree_v1"
	indexBTreeV2         chunkIndexKind = "btree_v2"
	indexFixedArray      chunkIndexKind = "fixed_array"
	indexExtensibleArray chunkIndexKind = "extensible_array"
)

// detectChunkIndexType reads the signature at ChunkIndexAddr to determine
// the index type. Layout v4 names the index type explicitly; v3 and
// earlier always use a v1 B-tree, so the on-disk signature decides.
func detectChunkIndexType(dl *message.DataLayout, r *binary.Reader) (chunkIndexKind, error) {
	if dl.ChunkIndexAddr == 0 || dl.ChunkIndexAddr == undefinedAddr {
		return indexSingle, nil
	}

	if dl.Version >= 4 {
		switch dl.ChunkIndexType {
		case message.ChunkIndexSingleChunk:
			return indexSingle, nil
		case message.ChunkIndexImplicit:
			return indexImplicit, nil
		}
	}

	nr := r.At(int64(dl.ChunkIndexAddr))
	sig, err := nr.ReadBytes(4)
	if err != nil {
		return indexSingle, nil
	}

	switch string(sig) {
	case "TREE":
		return indexBTreeV1, nil
	case "FAHD":
		return indexFixedArray, nil
	case "EAHD":
		return indexExtensibleArray, nil
	case "BTHD":
		return indexBTreeV2, nil
	default:
		// No index structure at the address: raw data of a single chunk.
		return indexSingle, nil
	}
}

func singleChunk(dl *message.DataLayout, rank int, chunkBytes uint64) []StoredChunk {
	if dl.ChunkIndexAddr == 0 || dl.ChunkIndexAddr == undefinedAddr {
		return nil
	}
	size := chunkBytes
	if dl.FilteredChunkSize != 0 {
		size = uint64(dl.FilteredChunkSize)
	}
	return []StoredChunk{{
		GridIndex: make([]uint64, rank),
		Address:   dl.ChunkIndexAddr,
		Size:      size,
	}}
}

// implicitChunks lays out the full chunk grid contiguously from the index
// address. Implicit indexing never carries filters.
func implicitChunks(dl *message.DataLayout, dims []uint64, chunkDims []uint32, chunkBytes uint64) []StoredChunk {
	grid := gridShape(dims, chunkDims)
	total := uint64(1)
	for _, g := range grid {
		total *= g
	}

	chunks := make([]StoredChunk, 0, total)
	for i := uint64(0); i < total; i++ {
		chunks = append(chunks, StoredChunk{
			GridIndex: unravel(i, grid),
			Address:   dl.ChunkIndexAddr + i*chunkBytes,
			Size:      chunkBytes,
		})
	}
	return chunks
}

func btreeV1Chunks(dl *message.DataLayout, dims []uint64, chunkDims []uint32, r *binary.Reader) ([]StoredChunk, error) {
	idx, err := btree.ReadChunkIndex(r, dl.ChunkIndexAddr, len(dims))
	if err != nil {
		return nil, fmt.Errorf("reading v1 B-tree chunk index: %w", err)
	}

	chunks := make([]StoredChunk, 0, len(idx.Entries))
	for _, e := range idx.Entries {
		// v1 B-tree keys store element-space offsets.
		grid := make([]uint64, len(dims))
		for d := range grid {
			grid[d] = e.Offset[d] / uint64(chunkDims[d])
		}
		chunks = append(chunks, StoredChunk{
			GridIndex:  grid,
			Address:    e.Address,
			Size:       uint64(e.Size),
			FilterMask: e.FilterMask,
		})
	}
	return chunks, nil
}

func btreeV2Chunks(dl *message.DataLayout, dims []uint64, chunkBytes uint64, r *binary.Reader) ([]StoredChunk, error) {
	idx, err := btree.ReadChunkIndexV2(r, dl.ChunkIndexAddr, len(dims))
	if err != nil {
		return nil, fmt.Errorf("reading v2 B-tree chunk index: %w", err)
	}

	chunks := make([]StoredChunk, 0, len(idx.Entries))
	for _, e := range idx.Entries {
		// v2 B-tree records store scaled offsets, already grid indices.
		grid := make([]uint64, len(dims))
		copy(grid, e.Offset[:len(dims)])
		size := uint64(e.Size)
		if size == 0 {
			// Type 10 records carry no size; every chunk is full-sized.
			size = chunkBytes
		}
		chunks = append(chunks, StoredChunk{
			GridIndex:  grid,
			Address:    e.Address,
			Size:       size,
			FilterMask: e.FilterMask,
		})
	}
	return chunks, nil
}

// gridShape returns the number of chunks along each dimension.
func gridShape(dims []uint64, chunkDims []uint32) []uint64 {
	grid := make([]uint64, len(dims))
	for d := range dims {
		grid[d] = (dims[d] + uint64(chunkDims[d]) - 1) / uint64(chunkDims[d])
	}
	return grid
}

// unravel converts a row-major linear index to grid coordinates.
func unravel(i uint64, grid []uint64) []uint64 {
	out := make([]uint64, len(grid))
	remaining := i
	for d := len(grid) - 1; d >= 0; d-- {
		out[d] = remaining % grid[d]
		remaining /= grid[d]
	}
	return out
}
