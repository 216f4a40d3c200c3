package hdf5

import (
	"fmt"
	"path"
	"reflect"

	"github.com/robert-malhotra/kerchunk-go/internal/dtype"
	"github.com/robert-malhotra/kerchunk-go/internal/layout"
	"github.com/robert-malhotra/kerchunk-go/internal/message"
	"github.com/robert-malhotra/kerchunk-go/internal/object"
)

// Dataset represents an HDF5 dataset.
type Dataset struct {
	file      *File
	path      string
	header    *object.Header
	dataspace *message.Dataspace
	datatype  *message.Datatype
	layout    *message.DataLayout
}

// newDataset creates a Dataset from an object header.
func newDataset(f *File, path string, header *object.Header) (*Dataset, error) {
	ds := &Dataset{
		file:   f,
		path:   path,
		header: header,
	}

	ds.dataspace = header.Dataspace()
	if ds.dataspace == nil {
		return nil, fmt.Errorf("dataset missing dataspace message")
	}

	ds.datatype = header.Datatype()
	if ds.datatype == nil {
		return nil, fmt.Errorf("dataset missing datatype message")
	}

	ds.layout = header.DataLayout()
	if ds.layout == nil {
		return nil, fmt.Errorf("dataset missing layout message")
	}

	return ds, nil
}

// Name returns the dataset name (last component of path).
func (d *Dataset) Name() string {
	return path.Base(d.path)
}

// Path returns the full path to this dataset.
func (d *Dataset) Path() string {
	return d.path
}

// Shape returns the dimensions of the dataset.
func (d *Dataset) Shape() []uint64 {
	if d.dataspace.IsScalar() {
		return nil
	}
	return d.dataspace.Dimensions
}

// Dims is an alias for Shape.
func (d *Dataset) Dims() []uint64 {
	return d.Shape()
}

// Rank returns the number of dimensions.
func (d *Dataset) Rank() int {
	return d.dataspace.Rank
}

// NumElements returns the total number of elements.
func (d *Dataset) NumElements() uint64 {
	return d.dataspace.NumElements()
}

// IsScalar returns true if the dataset is a scalar (single value).
func (d *Dataset) IsScalar() bool {
	return d.dataspace.IsScalar()
}

// DtypeSize returns the size of each element in bytes.
func (d *Dataset) DtypeSize() int {
	return int(d.datatype.Size)
}

// DtypeClass returns the datatype class.
func (d *Dataset) DtypeClass() message.DatatypeClass {
	return d.datatype.Class
}

// Datatype returns the parsed datatype message.
func (d *Dataset) Datatype() *message.Datatype {
	return d.datatype
}

// GoType returns the Go type that corresponds to this dataset's datatype.
func (d *Dataset) GoType() (reflect.Type, error) {
	return dtype.GoType(d.datatype)
}

// LayoutClass returns the storage layout class.
func (d *Dataset) LayoutClass() message.LayoutClass {
	return d.layout.Class
}

// ChunkShape returns the stored chunk dimensions. For contiguous and
// compact storage the whole dataset is one chunk, so the dataset shape
// is returned. Scalar datasets return nil.
func (d *Dataset) ChunkShape() []uint64 {
	if d.layout.Class == message.LayoutChunked {
		chunkDims := d.layout.ChunkDims
		rank := len(d.dataspace.Dimensions)
		if len(chunkDims) > rank {
			// Layout messages carry a trailing element-size dimension.
			chunkDims = chunkDims[:rank]
		}
		shape := make([]uint64, len(chunkDims))
		for i, cd := range chunkDims {
			shape[i] = uint64(cd)
		}
		return shape
	}
	return d.Shape()
}

// FilterPipeline returns the dataset's filter pipeline message, or nil
// when no filters are applied.
func (d *Dataset) FilterPipeline() *message.FilterPipeline {
	return d.header.FilterPipeline()
}

// FillValue returns the raw fill value bytes, or nil when the fill
// value is undefined or default.
func (d *Dataset) FillValue() []byte {
	for _, msg := range d.header.GetMessages(message.TypeFillValue) {
		fv := msg.(*message.FillValue)
		if fv.IsDefined && len(fv.Value) > 0 {
			return fv.Value
		}
	}
	return nil
}

// IsCompact returns true if the data is stored inside the object header.
func (d *Dataset) IsCompact() bool {
	return d.layout.Class == message.LayoutCompact
}

// CompactData returns the raw bytes of a compact dataset.
func (d *Dataset) CompactData() []byte {
	return d.layout.CompactData
}

// Chunks enumerates the stored chunks of the dataset without reading
// their contents. Compact datasets have no stored chunks; use
// CompactData instead.
func (d *Dataset) Chunks() ([]layout.StoredChunk, error) {
	if d.layout.Class == message.LayoutCompact {
		return nil, nil
	}
	chunks, err := layout.StoredChunks(d.layout, d.dataspace, d.datatype, d.file.reader)
	if err != nil {
		return nil, fmt.Errorf("enumerating chunks of %s: %w", d.path, err)
	}
	return chunks, nil
}

// ReadStored reads the raw stored bytes of one chunk, exactly as they
// sit in the file (compressed if a filter pipeline applies).
func (d *Dataset) ReadStored(chunk layout.StoredChunk) ([]byte, error) {
	nr := d.file.reader.At(int64(chunk.Address))
	data, err := nr.ReadBytes(int(chunk.Size))
	if err != nil {
		return nil, fmt.Errorf("reading stored chunk of %s: %w", d.path, err)
	}
	return data, nil
}

// readScalarRaw returns the stored bytes of a scalar, unfiltered dataset.
func (d *Dataset) readScalarRaw() ([]byte, error) {
	if d.IsCompact() {
		return d.layout.CompactData, nil
	}

	if fp := d.FilterPipeline(); fp != nil && len(fp.Filters) > 0 {
		return nil, fmt.Errorf("scalar read through filter pipeline: %w", ErrUnsupported)
	}

	chunks, err := d.Chunks()
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("dataset %s has no stored data: %w", d.path, ErrNotFound)
	}
	return d.ReadStored(chunks[0])
}

// ReadScalarString reads a single-element string dataset. Both fixed
// and variable-length strings are supported.
func (d *Dataset) ReadScalarString() (string, error) {
	raw, err := d.readScalarRaw()
	if err != nil {
		return "", err
	}
	result := make([]string, 1)
	if err := dtype.ConvertWithReader(d.datatype, raw, 1, &result, d.file.reader); err != nil {
		return "", fmt.Errorf("decoding scalar string of %s: %w", d.path, err)
	}
	return result[0], nil
}

// ReadScalarInt64 reads a single-element integer dataset.
func (d *Dataset) ReadScalarInt64() (int64, error) {
	raw, err := d.readScalarRaw()
	if err != nil {
		return 0, err
	}
	result := make([]int64, 1)
	if err := dtype.ConvertWithReader(d.datatype, raw, 1, &result, d.file.reader); err != nil {
		return 0, fmt.Errorf("decoding scalar integer of %s: %w", d.path, err)
	}
	return result[0], nil
}

// ReadScalarFloat64 reads a single-element floating-point dataset.
func (d *Dataset) ReadScalarFloat64() (float64, error) {
	raw, err := d.readScalarRaw()
	if err != nil {
		return 0, err
	}
	result := make([]float64, 1)
	if err := dtype.ConvertWithReader(d.datatype, raw, 1, &result, d.file.reader); err != nil {
		return 0, fmt.Errorf("decoding scalar float of %s: %w", d.path, err)
	}
	return result[0], nil
}

// Attrs returns the attribute names for this dataset.
func (d *Dataset) Attrs() []string {
	var names []string
	for _, msg := range d.header.GetMessages(message.TypeAttribute) {
		attr := msg.(*message.Attribute)
		names = append(names, attr.Name)
	}
	return names
}

// Attr returns an attribute by name, or nil if not found.
func (d *Dataset) Attr(name string) *Attribute {
	for _, msg := range d.header.GetMessages(message.TypeAttribute) {
		attr := msg.(*message.Attribute)
		if attr.Name == name {
			return &Attribute{msg: attr, reader: d.file.reader}
		}
	}
	return nil
}

// HasAttr returns true if the dataset has an attribute with the given name.
func (d *Dataset) HasAttr(name string) bool {
	return d.Attr(name) != nil
}
