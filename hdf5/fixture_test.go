package hdf5

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// fileBuilder assembles an HDF5 file image in memory: version 0
// superblock, version 1 object headers, symbol-table and link-message
// groups, contiguous, compact, and v1 B-tree chunked storage.
type fileBuilder struct {
	buf []byte
}

func newFileBuilder() *fileBuilder {
	// Reserve the superblock; finish fills it in once the root group
	// address and file size are known.
	return &fileBuilder{buf: make([]byte, 96)}
}

// alloc appends a block at the next 8-byte boundary and returns its address.
func (b *fileBuilder) alloc(data []byte) uint64 {
	for len(b.buf)%8 != 0 {
		b.buf = append(b.buf, 0)
	}
	addr := uint64(len(b.buf))
	b.buf = append(b.buf, data...)
	return addr
}

func (b *fileBuilder) finish(rootAddr uint64) []byte {
	sb := b.buf[:96]
	copy(sb, []byte{0x89, 'H', 'D', 'F', '\r', '\n', 0x1a, '\n'})
	sb[13] = 8 // offset size
	sb[14] = 8 // length size
	binary.LittleEndian.PutUint16(sb[16:], 4)  // group leaf K
	binary.LittleEndian.PutUint16(sb[18:], 16) // group internal K
	binary.LittleEndian.PutUint64(sb[24:], 0)  // base address
	binary.LittleEndian.PutUint64(sb[32:], 0xFFFFFFFFFFFFFFFF)
	binary.LittleEndian.PutUint64(sb[40:], uint64(len(b.buf))) // EOF
	binary.LittleEndian.PutUint64(sb[48:], 0xFFFFFFFFFFFFFFFF)
	binary.LittleEndian.PutUint64(sb[56:], 0) // link name offset
	binary.LittleEndian.PutUint64(sb[64:], rootAddr)
	return b.buf
}

func pad8(data []byte) []byte {
	for len(data)%8 != 0 {
		data = append(data, 0)
	}
	return data
}

// v1Message frames one object header message.
func v1Message(msgType uint16, data []byte) []byte {
	data = pad8(data)
	out := make([]byte, 8, 8+len(data))
	binary.LittleEndian.PutUint16(out[0:], msgType)
	binary.LittleEndian.PutUint16(out[2:], uint16(len(data)))
	return append(out, data...)
}

// objectHeaderV1 frames a version 1 object header around messages.
func objectHeaderV1(msgs ...[]byte) []byte {
	var block []byte
	for _, m := range msgs {
		block = append(block, m...)
	}
	out := make([]byte, 16, 16+len(block))
	out[0] = 1 // version
	binary.LittleEndian.PutUint16(out[2:], uint16(len(msgs)))
	binary.LittleEndian.PutUint32(out[4:], 1) // reference count
	binary.LittleEndian.PutUint32(out[8:], uint32(len(block)))
	// bytes 12..15 pad the message block to an 8-byte boundary
	return append(out, block...)
}

func linkMsg(name string, addr uint64) []byte {
	data := []byte{1, 0, byte(len(name))}
	data = append(data, name...)
	data = appendUint64(data, addr)
	return v1Message(0x0006, data)
}

func softLinkMsg(name, target string) []byte {
	data := []byte{1, 0x08, 1, byte(len(name))}
	data = append(data, name...)
	data = appendUint16(data, uint16(len(target)))
	data = append(data, target...)
	return v1Message(0x0006, data)
}

func symbolTableMsg(btreeAddr, heapAddr uint64) []byte {
	data := appendUint64(nil, btreeAddr)
	data = appendUint64(data, heapAddr)
	return v1Message(0x0011, data)
}

func dataspaceMsg(dims ...uint64) []byte {
	data := []byte{1, byte(len(dims)), 0, 0, 0, 0, 0, 0}
	for _, d := range dims {
		data = appendUint64(data, d)
	}
	return v1Message(0x0001, data)
}

func datatypeFloat64() []byte {
	data := []byte{0x11, 0, 0, 0}
	data = appendUint32(data, 8)
	props := make([]byte, 12)
	binary.LittleEndian.PutUint16(props[2:], 64) // bit precision
	props[4] = 52                                // exponent location
	props[5] = 11                                // exponent size
	return v1Message(0x0003, append(data, props...))
}

func datatypeInt32() []byte {
	data := []byte{0x10, 0x08, 0, 0}
	data = appendUint32(data, 4)
	props := make([]byte, 4)
	binary.LittleEndian.PutUint16(props[2:], 32)
	return v1Message(0x0003, append(data, props...))
}

func datatypeStringRaw(n int) []byte {
	data := []byte{0x13, 0, 0, 0}
	return appendUint32(data, uint32(n))
}

func datatypeString(n int) []byte {
	return v1Message(0x0003, datatypeStringRaw(n))
}

func layoutContiguous(addr, size uint64) []byte {
	data := []byte{3, 1}
	data = appendUint64(data, addr)
	data = appendUint64(data, size)
	return v1Message(0x0008, data)
}

func layoutCompact(raw []byte) []byte {
	data := []byte{3, 0}
	data = appendUint16(data, uint16(len(raw)))
	return v1Message(0x0008, append(data, raw...))
}

// layoutChunkedV3 frames a version 3 chunked layout. chunkDims carries
// the trailing element-size dimension, matching what HDF5 writes.
func layoutChunkedV3(chunkDims []uint32, btreeAddr uint64) []byte {
	data := []byte{3, 2, 0, byte(len(chunkDims)), 4}
	for _, cd := range chunkDims {
		data = appendUint32(data, cd)
	}
	// The index address occupies the final 8 bytes of the message.
	for (len(data)+8)%8 != 0 {
		data = append(data, 0)
	}
	data = appendUint64(data, btreeAddr)
	return v1Message(0x0008, data)
}

// filterDeflateMsg frames a version 1 filter pipeline with a single
// deflate filter at the given level.
func filterDeflateMsg(level uint32) []byte {
	data := []byte{1, 1, 0, 0, 0, 0, 0, 0}
	data = appendUint16(data, 1) // deflate
	data = appendUint16(data, 0) // name length
	data = appendUint16(data, 0) // flags
	data = appendUint16(data, 1) // client data count
	data = appendUint32(data, level)
	data = appendUint32(data, 0) // odd client data padding
	return v1Message(0x000B, data)
}

// attrStringMsg frames a version 1 attribute with a scalar string value.
func attrStringMsg(name, value string) []byte {
	dt := datatypeStringRaw(len(value))
	ds := []byte{1, 0, 0, 0, 0, 0, 0, 0} // scalar dataspace

	data := []byte{1, 0}
	data = appendUint16(data, uint16(len(name)+1))
	data = appendUint16(data, uint16(len(dt)))
	data = appendUint16(data, uint16(len(ds)))

	data = pad8(append(data, append([]byte(name), 0)...))
	data = pad8(append(data, dt...))
	data = pad8(append(data, ds...))
	data = append(data, value...)
	return v1Message(0x000C, data)
}

// localHeap writes a heap data segment holding the given names and the
// heap header pointing at it. Returns the header address and the offset
// of each name within the segment.
func (b *fileBuilder) localHeap(names []string) (uint64, map[string]uint64) {
	offsets := make(map[string]uint64, len(names))
	segment := []byte{0} // offset 0 reads as the empty string
	for _, name := range names {
		offsets[name] = uint64(len(segment))
		segment = append(segment, name...)
		segment = append(segment, 0)
	}
	segment = pad8(segment)
	segAddr := b.alloc(segment)

	hdr := []byte{'H', 'E', 'A', 'P', 0, 0, 0, 0}
	hdr = appendUint64(hdr, uint64(len(segment))) // data segment size
	hdr = appendUint64(hdr, uint64(len(segment))) // free list offset
	hdr = appendUint64(hdr, segAddr)
	return b.alloc(hdr), offsets
}

// snodEntry is one symbol table entry: a hard link to an object header.
type snodEntry struct {
	name string
	addr uint64
}

// symbolTableGroup writes a SNOD node and a one-entry leaf B-tree over
// it, returning the B-tree address for a symbol table message.
func (b *fileBuilder) symbolTableGroup(entries []snodEntry, nameOffsets map[string]uint64) uint64 {
	node := []byte{'S', 'N', 'O', 'D', 1, 0}
	node = appendUint16(node, uint16(len(entries)))
	for _, e := range entries {
		node = appendUint64(node, nameOffsets[e.name])
		node = appendUint64(node, e.addr)
		node = appendUint32(node, 1) // cache type: hard link
		node = appendUint32(node, 0)
		node = append(node, make([]byte, 16)...) // scratch pad
	}
	snodAddr := b.alloc(node)

	tree := []byte{'T', 'R', 'E', 'E', 0, 0}
	tree = appendUint16(tree, 1) // one entry
	tree = appendUint64(tree, 0xFFFFFFFFFFFFFFFF)
	tree = appendUint64(tree, 0xFFFFFFFFFFFFFFFF)
	tree = appendUint64(tree, 0) // key
	tree = appendUint64(tree, snodAddr)
	return b.alloc(tree)
}

// chunkRef locates one written chunk for assertions.
type chunkRef struct {
	offset []uint64 // element-space offset
	addr   uint64
	size   uint32
}

// chunkBTree writes a leaf v1 chunk B-tree over the given chunks.
// bounds is the dataset extent used for the trailing bound key.
func (b *fileBuilder) chunkBTree(chunks []chunkRef, bounds []uint64) uint64 {
	tree := []byte{'T', 'R', 'E', 'E', 1, 0}
	tree = appendUint16(tree, uint16(len(chunks)))
	tree = appendUint64(tree, 0xFFFFFFFFFFFFFFFF)
	tree = appendUint64(tree, 0xFFFFFFFFFFFFFFFF)
	for _, c := range chunks {
		tree = appendUint32(tree, c.size)
		tree = appendUint32(tree, 0) // filter mask
		for _, off := range c.offset {
			tree = appendUint64(tree, off)
		}
		tree = appendUint64(tree, 0) // element-size dimension
		tree = appendUint64(tree, c.addr)
	}
	// Bound key after the last child pointer.
	tree = appendUint32(tree, 0)
	tree = appendUint32(tree, 0)
	for _, d := range bounds {
		tree = appendUint64(tree, d)
	}
	tree = appendUint64(tree, 0)
	return b.alloc(tree)
}

func appendUint16(b []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendUint64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

type fixtureInfo struct {
	path   string
	size   uint64
	chunks []chunkRef
}

// buildTestFile writes an HDF5 file exercising both group flavors and
// all three storage layouts:
//
//	/            symbol-table group, "Conventions" attribute
//	/data        4x6 float64, chunked [2,3], deflate pipeline, v1 B-tree index
//	/meta        link-message group
//	/meta/title  scalar fixed string, contiguous
//	/meta/count  scalar int32, contiguous
//	/meta/pi     scalar float64, compact
//	/meta/alias  soft link to /data
func buildTestFile(t *testing.T) fixtureInfo {
	t.Helper()
	b := newFileBuilder()

	// Four chunks of 2x3 float64 each.
	var chunks []chunkRef
	for gy := uint64(0); gy < 2; gy++ {
		for gx := uint64(0); gx < 2; gx++ {
			data := make([]byte, 0, 48)
			for i := 0; i < 6; i++ {
				data = appendUint64(data, math.Float64bits(float64(gy*100+gx*10)+float64(i)))
			}
			addr := b.alloc(data)
			chunks = append(chunks, chunkRef{
				offset: []uint64{gy * 2, gx * 3},
				addr:   addr,
				size:   48,
			})
		}
	}
	btreeAddr := b.chunkBTree(chunks, []uint64{4, 6})

	dataHdr := b.alloc(objectHeaderV1(
		dataspaceMsg(4, 6),
		datatypeFloat64(),
		layoutChunkedV3([]uint32{2, 3, 8}, btreeAddr),
		filterDeflateMsg(6),
		attrStringMsg("units", "kelvin"),
	))

	title := "surface analysis"
	titleAddr := b.alloc([]byte(title))
	titleHdr := b.alloc(objectHeaderV1(
		dataspaceMsg(),
		datatypeString(len(title)),
		layoutContiguous(titleAddr, uint64(len(title))),
	))

	countAddr := b.alloc(appendUint32(nil, 42))
	countHdr := b.alloc(objectHeaderV1(
		dataspaceMsg(),
		datatypeInt32(),
		layoutContiguous(countAddr, 4),
	))

	piHdr := b.alloc(objectHeaderV1(
		dataspaceMsg(),
		datatypeFloat64(),
		layoutCompact(appendUint64(nil, math.Float64bits(3.5))),
	))

	metaHdr := b.alloc(objectHeaderV1(
		linkMsg("title", titleHdr),
		linkMsg("count", countHdr),
		linkMsg("pi", piHdr),
		softLinkMsg("alias", "/data"),
	))

	heapAddr, nameOffsets := b.localHeap([]string{"data", "meta"})
	groupBTree := b.symbolTableGroup([]snodEntry{
		{name: "data", addr: dataHdr},
		{name: "meta", addr: metaHdr},
	}, nameOffsets)

	rootHdr := b.alloc(objectHeaderV1(
		symbolTableMsg(groupBTree, heapAddr),
		attrStringMsg("Conventions", "CF-1.6"),
	))

	image := b.finish(rootHdr)

	path := filepath.Join(t.TempDir(), "testfile.h5")
	if err := os.WriteFile(path, image, 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return fixtureInfo{
		path:   path,
		size:   uint64(len(image)),
		chunks: chunks,
	}
}
