package kerchunk

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"path"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/robert-malhotra/kerchunk-go/hdf5"
	"github.com/robert-malhotra/kerchunk-go/internal/storage"
	"github.com/robert-malhotra/kerchunk-go/internal/zarr"
)

// Attributes HDF5/netCDF4 use for internal bookkeeping; they never
// surface in Zarr attribute documents.
var hiddenAttrs = map[string]bool{
	"CLASS":                true,
	"NAME":                 true,
	"DIMENSION_LIST":       true,
	"REFERENCE_LIST":       true,
	"_Netcdf4Dimid":        true,
	"_Netcdf4Coordinates":  true,
	"_NCProperties":        true,
	"_nc3_strict":          true,
	zarr.DimensionsAttr:    true, // re-emitted explicitly
}

// SingleHDF5ToZarr scans one netCDF4/HDF5 file and produces a
// reference set describing it as a Zarr v2 store. The file is opened
// through its URI (local path or s3://bucket/key); array data is
// located, never decoded.
func SingleHDF5ToZarr(ctx context.Context, uri string, opts ...Option) (*ReferenceSet, error) {
	cfg := newSingleConfig()
	for _, o := range opts {
		o.applySingle(cfg)
	}

	src, size, closeFn, err := storage.Open(ctx, uri, cfg.storage.internal())
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", uri, err)
	}
	defer closeFn()

	f, err := hdf5.OpenReaderAt(src, uri)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", uri, err)
	}
	defer f.Close()

	refURI := cfg.finalURI
	if refURI == "" {
		refURI = uri
	}

	ix := &indexer{
		rs:        NewReferenceSet(),
		refURI:    refURI,
		cfg:       cfg,
		phonyDims: make(map[uint64]string),
	}

	if err := hdf5.Walk(f.Root(), ix.visit); err != nil {
		return nil, fmt.Errorf("indexing %s: %w", uri, err)
	}

	ix.injectScalars(f, size)

	return ix.rs, nil
}

// indexer accumulates references while walking one HDF5 hierarchy.
type indexer struct {
	rs        *ReferenceSet
	refURI    string
	cfg       *singleConfig
	phonyDims map[uint64]string // extent -> synthesized dimension name
}

func (ix *indexer) visit(p string, obj interface{}, err error) error {
	if err != nil {
		return fmt.Errorf("walking %s: %w", p, err)
	}

	switch o := obj.(type) {
	case *hdf5.Group:
		return ix.indexGroup(p, o)
	case *hdf5.Dataset:
		return ix.indexDataset(p, o)
	}
	return nil
}

func (ix *indexer) indexGroup(p string, g *hdf5.Group) error {
	meta, err := json.Marshal(zarr.NewGroupMeta())
	if err != nil {
		return err
	}
	ix.rs.SetInline(zarr.MetaKey(p, ".zgroup"), string(meta))

	attrs := decodeAttrs(g.Attrs(), func(name string) (interface{}, error) {
		return g.Attr(name).Value()
	})
	if len(attrs) > 0 {
		doc, err := json.Marshal(attrs)
		if err != nil {
			return fmt.Errorf("encoding attributes of %s: %w", p, err)
		}
		ix.rs.SetInline(zarr.MetaKey(p, ".zattrs"), string(doc))
	}
	return nil
}

func (ix *indexer) indexDataset(p string, ds *hdf5.Dataset) error {
	dtype, err := zarr.NumpyTypestr(ds.Datatype())
	if err != nil {
		ix.cfg.logger.Debug("skipping variable with unmappable dtype",
			zap.String("variable", p), zap.Error(err))
		return nil
	}

	meta := zarr.NewArrayMeta(ds.Shape(), ds.ChunkShape(), dtype)

	comp, filters, err := zarr.Codecs(ds.FilterPipeline(), ds.DtypeSize())
	if err != nil {
		return fmt.Errorf("mapping filters of %s: %w", p, err)
	}
	meta.Compressor = comp
	meta.Filters = filters

	fill, err := zarr.FillValueJSON(ds.Datatype(), ds.FillValue())
	if err != nil {
		return fmt.Errorf("decoding fill value of %s: %w", p, err)
	}
	meta.FillValue = fill

	doc, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	ix.rs.SetInline(zarr.MetaKey(p, ".zarray"), string(doc))

	attrs := decodeAttrs(ds.Attrs(), func(name string) (interface{}, error) {
		return ds.Attr(name).Value()
	})
	attrs[zarr.DimensionsAttr] = ix.dimensionNames(p, ds)
	attrsDoc, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("encoding attributes of %s: %w", p, err)
	}
	ix.rs.SetInline(zarr.MetaKey(p, ".zattrs"), string(attrsDoc))

	return ix.indexChunks(p, ds)
}

// dimensionNames resolves _ARRAY_DIMENSIONS for a variable: an
// existing attribute wins, then self-naming for dimension scales,
// then synthesized phony names keyed by extent.
func (ix *indexer) dimensionNames(p string, ds *hdf5.Dataset) []string {
	if ds.HasAttr(zarr.DimensionsAttr) {
		if val, err := ds.Attr(zarr.DimensionsAttr).ReadString(); err == nil && len(val) > 0 {
			return val
		}
	}

	shape := ds.Shape()
	if len(shape) == 0 {
		return []string{}
	}

	if len(shape) == 1 && isDimensionScale(ds) {
		return []string{path.Base(p)}
	}

	names := make([]string, len(shape))
	for i, extent := range shape {
		name, ok := ix.phonyDims[extent]
		if !ok {
			name = fmt.Sprintf("phony_dim_%d", len(ix.phonyDims))
			ix.phonyDims[extent] = name
		}
		names[i] = name
	}
	return names
}

func isDimensionScale(ds *hdf5.Dataset) bool {
	if !ds.HasAttr("CLASS") {
		return false
	}
	val, err := ds.Attr("CLASS").ReadScalarString()
	return err == nil && val == "DIMENSION_SCALE"
}

func (ix *indexer) indexChunks(p string, ds *hdf5.Dataset) error {
	if ds.IsCompact() {
		// Compact data lives inside the object header; it can only be
		// carried inline.
		key := zarr.DataKey(p, zarr.ChunkKey(gridOriginFor(ds)))
		ix.rs.SetInline(key, encodeInline(ds.CompactData()))
		return nil
	}

	chunks, err := ds.Chunks()
	if err != nil {
		return err
	}

	for _, chunk := range chunks {
		key := zarr.DataKey(p, zarr.ChunkKey(chunk.GridIndex))

		if ix.cfg.inlineThreshold > 0 && chunk.Size < uint64(ix.cfg.inlineThreshold) {
			data, err := ds.ReadStored(chunk)
			if err != nil {
				return err
			}
			ix.rs.SetInline(key, encodeInline(data))
			continue
		}

		ix.rs.SetChunk(key, ix.refURI, chunk.Address, chunk.Size)
	}

	ix.cfg.logger.Debug("indexed variable",
		zap.String("variable", p), zap.Int("chunks", len(chunks)))
	return nil
}

func gridOriginFor(ds *hdf5.Dataset) []uint64 {
	return make([]uint64, len(ds.Shape()))
}

// encodeInline renders stored bytes as an inline reference value:
// printable text directly, anything else base64 with the marker prefix.
func encodeInline(data []byte) string {
	if isInlineSafe(data) {
		return string(data)
	}
	return "base64:" + base64.StdEncoding.EncodeToString(data)
}

func isInlineSafe(data []byte) bool {
	if !utf8.Valid(data) {
		return false
	}
	for _, b := range data {
		if b < 0x20 && b != '\t' && b != '\n' && b != '\r' {
			return false
		}
	}
	return !strings.HasPrefix(string(data), "base64:")
}

// DecodeInline recovers the raw bytes behind an inline reference
// value, undoing the base64 marker when present.
func DecodeInline(value string) ([]byte, error) {
	if strings.HasPrefix(value, "base64:") {
		return base64.StdEncoding.DecodeString(strings.TrimPrefix(value, "base64:"))
	}
	return []byte(value), nil
}

func decodeAttrs(names []string, read func(string) (interface{}, error)) map[string]interface{} {
	attrs := make(map[string]interface{})
	for _, name := range names {
		if hiddenAttrs[name] {
			continue
		}
		val, err := read(name)
		if err != nil {
			continue
		}
		attrs[name] = val
	}
	return attrs
}

// injectScalars embeds the bookkeeping variables consolidation relies
// on: the source URI, its size and basename, an optional product tag,
// and the identification datetimes when the file carries them. The
// basename follows the final URI, not the staging location the file
// was read from.
func (ix *indexer) injectScalars(f *hdf5.File, size uint64) {
	ix.injectScalarString("netcdf_uri", ix.refURI)
	ix.injectScalarInt64("bytes", int64(size))
	ix.injectScalarString("source_file_name", basenameOf(ix.refURI))

	if ix.cfg.productVersion != "" {
		ix.injectScalarString("product_version", ix.cfg.productVersion)
	}

	for _, name := range []string{"reference_datetime", "secondary_datetime"} {
		ds, err := f.OpenDataset("/identification/" + name)
		if err != nil {
			continue
		}
		val, err := ds.ReadScalarString()
		if err != nil {
			ix.cfg.logger.Debug("skipping identification value",
				zap.String("dataset", name), zap.Error(err))
			continue
		}
		ix.injectScalarString(name, val)
	}
}

func (ix *indexer) injectScalarString(name, value string) {
	meta := zarr.NewArrayMeta(nil, nil, fmt.Sprintf("|S%d", len(value)))
	ix.setScalar(name, meta, []byte(value))
}

func (ix *indexer) injectScalarInt64(name string, value int64) {
	raw := make([]byte, 8)
	binary.LittleEndian.PutUint64(raw, uint64(value))
	ix.setScalar(name, zarr.NewArrayMeta(nil, nil, "<i8"), raw)
}

func (ix *indexer) setScalar(name string, meta *zarr.ArrayMeta, raw []byte) {
	doc, err := json.Marshal(meta)
	if err != nil {
		return
	}
	ix.rs.SetInline(zarr.MetaKey(name, ".zarray"), string(doc))
	ix.rs.SetInline(zarr.MetaKey(name, ".zattrs"),
		fmt.Sprintf(`{"%s":[]}`, zarr.DimensionsAttr))
	ix.rs.SetInline(zarr.DataKey(name, "0"), encodeInline(raw))
}

func basenameOf(uri string) string {
	trimmed := strings.TrimSuffix(uri, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}
