package zarr

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/robert-malhotra/kerchunk-go/internal/message"
)

// NumpyTypestr maps an HDF5 datatype to the NumPy type string recorded
// in .zarray metadata, for example "<f4" or "|S12".
func NumpyTypestr(dt *message.Datatype) (string, error) {
	switch dt.Class {
	case message.ClassFixedPoint:
		kind := "u"
		if dt.Signed {
			kind = "i"
		}
		return orderPrefix(dt) + kind + sizeStr(dt.Size), nil

	case message.ClassFloatPoint:
		switch dt.Size {
		case 2, 4, 8:
			return orderPrefix(dt) + "f" + sizeStr(dt.Size), nil
		}
		return "", fmt.Errorf("unsupported float size: %d", dt.Size)

	case message.ClassString:
		return "|S" + sizeStr(dt.Size), nil

	case message.ClassVarLen:
		if dt.IsVarLenString {
			return "|O", nil
		}
		return "", fmt.Errorf("variable-length sequences have no numpy mapping")

	case message.ClassEnum, message.ClassBitfield:
		return orderPrefix(dt) + "u" + sizeStr(dt.Size), nil

	case message.ClassOpaque, message.ClassCompound:
		return "|V" + sizeStr(dt.Size), nil

	default:
		return "", fmt.Errorf("unsupported datatype class: %d", dt.Class)
	}
}

func orderPrefix(dt *message.Datatype) string {
	if dt.Size == 1 {
		return "|"
	}
	if dt.ByteOrder == message.OrderBE {
		return ">"
	}
	return "<"
}

func sizeStr(n uint32) string {
	return fmt.Sprintf("%d", n)
}

// FillValueJSON decodes raw fill value bytes to the JSON value stored
// in .zarray metadata. A nil or empty raw value maps to JSON null.
// Non-finite floats use the string spellings the Zarr v2 spec requires.
func FillValueJSON(dt *message.Datatype, raw []byte) (interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if uint32(len(raw)) < dt.Size {
		return nil, fmt.Errorf("fill value too short: %d bytes for %d-byte type", len(raw), dt.Size)
	}

	var bo binary.ByteOrder = binary.LittleEndian
	if dt.ByteOrder == message.OrderBE {
		bo = binary.BigEndian
	}

	switch dt.Class {
	case message.ClassFixedPoint:
		u := readUint(raw, dt.Size, bo)
		if dt.Signed {
			return signExtend(u, dt.Size), nil
		}
		return u, nil

	case message.ClassFloatPoint:
		var f float64
		switch dt.Size {
		case 4:
			f = float64(math.Float32frombits(bo.Uint32(raw)))
		case 8:
			f = math.Float64frombits(bo.Uint64(raw))
		default:
			return nil, fmt.Errorf("unsupported float fill size: %d", dt.Size)
		}
		switch {
		case math.IsNaN(f):
			return "NaN", nil
		case math.IsInf(f, 1):
			return "Infinity", nil
		case math.IsInf(f, -1):
			return "-Infinity", nil
		}
		return f, nil

	default:
		return nil, nil
	}
}

func readUint(raw []byte, size uint32, bo binary.ByteOrder) uint64 {
	switch size {
	case 1:
		return uint64(raw[0])
	case 2:
		return uint64(bo.Uint16(raw))
	case 4:
		return uint64(bo.Uint32(raw))
	default:
		return bo.Uint64(raw)
	}
}

func signExtend(u uint64, size uint32) int64 {
	shift := 64 - 8*size
	return int64(u<<shift) >> shift
}
