package kerchunk

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// fileBuilder assembles a minimal HDF5 file image: version 0
// superblock, version 1 object headers, link-message groups,
// contiguous dataset storage.
type fileBuilder struct {
	buf []byte
}

func newFileBuilder() *fileBuilder {
	// Reserve the superblock; it is filled in by finish once the root
	// group address and file size are known.
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
	// version 0, free-space 0, root entry 0, reserved, shared 0
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

// attrMsg frames a version 1 attribute with a scalar string value.
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
	path     string
	size     uint64
	tempAddr uint64 // file offset of the temperature data block
	yData    []byte
}

// buildNetCDFFixture writes an HDF5 file with a 5x10 float64
// "temperature" variable, an int32 "y" dimension scale, and an
// identification group holding scalar datetime strings.
func buildNetCDFFixture(t *testing.T) fixtureInfo {
	t.Helper()
	b := newFileBuilder()

	// temperature data: 5x10 float64, 400 bytes.
	tempData := make([]byte, 0, 400)
	for i := 0; i < 50; i++ {
		tempData = appendUint64(tempData, math.Float64bits(float64(i)*0.5))
	}
	tempAddr := b.alloc(tempData)

	tempHdr := b.alloc(objectHeaderV1(
		dataspaceMsg(5, 10),
		datatypeFloat64(),
		layoutContiguous(tempAddr, 400),
		attrStringMsg("units", "kelvin"),
	))

	// y data: 5 int32 values, 20 bytes.
	yData := make([]byte, 0, 20)
	for i := 0; i < 5; i++ {
		yData = appendUint32(yData, uint32(i*100))
	}
	yAddr := b.alloc(yData)

	yHdr := b.alloc(objectHeaderV1(
		dataspaceMsg(5),
		datatypeInt32(),
		layoutContiguous(yAddr, 20),
		attrStringMsg("CLASS", "DIMENSION_SCALE"),
	))

	refDT := "2024-01-01T00:00:00Z"
	secDT := "2024-01-01T06:00:00Z"
	refAddr := b.alloc([]byte(refDT))
	secAddr := b.alloc([]byte(secDT))

	refHdr := b.alloc(objectHeaderV1(
		dataspaceMsg(),
		datatypeString(len(refDT)),
		layoutContiguous(refAddr, uint64(len(refDT))),
	))
	secHdr := b.alloc(objectHeaderV1(
		dataspaceMsg(),
		datatypeString(len(secDT)),
		layoutContiguous(secAddr, uint64(len(secDT))),
	))

	identHdr := b.alloc(objectHeaderV1(
		linkMsg("reference_datetime", refHdr),
		linkMsg("secondary_datetime", secHdr),
	))

	rootHdr := b.alloc(objectHeaderV1(
		linkMsg("identification", identHdr),
		linkMsg("temperature", tempHdr),
		linkMsg("y", yHdr),
	))

	image := b.finish(rootHdr)

	path := filepath.Join(t.TempDir(), "fixture.nc")
	if err := os.WriteFile(path, image, 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return fixtureInfo{
		path:     path,
		size:     uint64(len(image)),
		tempAddr: tempAddr,
		yData:    yData,
	}
}
