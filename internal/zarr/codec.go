package zarr

import (
	"fmt"

	"github.com/robert-malhotra/kerchunk-go/internal/message"
)

// Codecs maps an HDF5 filter pipeline to the numcodecs configurations
// recorded in .zarray metadata. The compressor slot takes the deflate
// filter when present; everything else lands in the filters list in
// pipeline order. elemSize is the dataset element size in bytes,
// needed by the shuffle codec.
func Codecs(fp *message.FilterPipeline, elemSize int) (compressor map[string]interface{}, filters []map[string]interface{}, err error) {
	if fp == nil {
		return nil, nil, nil
	}

	for _, f := range fp.Filters {
		switch f.ID {
		case message.FilterDeflate:
			level := 4
			if len(f.ClientData) > 0 {
				level = int(f.ClientData[0])
			}
			compressor = map[string]interface{}{
				"id":    "zlib",
				"level": level,
			}

		case message.FilterShuffle:
			size := elemSize
			if len(f.ClientData) > 0 {
				size = int(f.ClientData[0])
			}
			filters = append(filters, map[string]interface{}{
				"id":          "shuffle",
				"elementsize": size,
			})

		case message.FilterFletcher32:
			filters = append(filters, map[string]interface{}{
				"id": "fletcher32",
			})

		default:
			if f.IsOptional() {
				continue
			}
			return nil, nil, fmt.Errorf("no codec for filter %d (%s)", f.ID, filterName(f.ID))
		}
	}

	return compressor, filters, nil
}

func filterName(id uint16) string {
	switch id {
	case message.FilterSZIP:
		return "szip"
	case message.FilterNBit:
		return "nbit"
	case message.FilterScaleOffset:
		return "scaleoffset"
	default:
		return "unknown"
	}
}
