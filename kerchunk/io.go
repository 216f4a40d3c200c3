package kerchunk

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/robert-malhotra/kerchunk-go/internal/storage"
)

// WriteReferenceFile persists a reference set as JSON at the given
// URI, gzip-compressed when compress is set.
func WriteReferenceFile(ctx context.Context, rs *ReferenceSet, uri string, compress bool, opts StorageOptions) error {
	data, err := json.Marshal(rs)
	if err != nil {
		return fmt.Errorf("encoding reference set: %w", err)
	}

	if compress {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return fmt.Errorf("compressing reference set: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("compressing reference set: %w", err)
		}
		data = buf.Bytes()
	}

	if err := storage.WriteAll(ctx, uri, data, opts.internal()); err != nil {
		return fmt.Errorf("writing reference file %s: %w", uri, err)
	}
	return nil
}

// ReadReferenceFile loads a reference set from a URI. Gzip payloads
// are detected by their magic bytes, so compressed and plain files
// read through the same call.
func ReadReferenceFile(ctx context.Context, uri string, opts StorageOptions) (*ReferenceSet, error) {
	data, err := storage.ReadAll(ctx, uri, opts.internal())
	if err != nil {
		return nil, fmt.Errorf("reading reference file %s: %w", uri, err)
	}
	return decodeReferenceData(data, uri)
}

func decodeReferenceData(data []byte, uri string) (*ReferenceSet, error) {
	if len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decompressing %s: %w", uri, err)
		}
		defer zr.Close()
		data, err = io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("decompressing %s: %w", uri, err)
		}
	}

	rs := NewReferenceSet()
	if err := json.Unmarshal(data, rs); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", uri, err)
	}
	return rs, nil
}
