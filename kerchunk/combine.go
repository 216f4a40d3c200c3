package kerchunk

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// StackSource names one input to CombineStack: either a pre-loaded
// reference set or the URI of a persisted reference file.
type StackSource struct {
	URI  string
	Refs *ReferenceSet
}

// FromURI builds a stack input fetched through the target storage
// options at combine time.
func FromURI(uri string) StackSource {
	return StackSource{URI: uri}
}

// FromRefs builds a stack input from an in-memory reference set.
func FromRefs(rs *ReferenceSet) StackSource {
	return StackSource{Refs: rs}
}

// CombineStack consolidates per-file reference sets into one combined
// store with a new leading dimension. Every concatenated variable
// grows shape [N, ...] with chunks [1, ...]; a coordinate array named
// after the concat dimension holds one value per input, in ascending
// coordinate order. Inputs listed as identical dims are verified to
// agree and copied once.
func CombineStack(ctx context.Context, inputs []StackSource, opts ...CombineOption) (*ReferenceSet, error) {
	cfg := newCombineConfig()
	for _, o := range opts {
		o.applyCombine(cfg)
	}

	if len(inputs) == 0 {
		return nil, ErrEmptyStack
	}

	sets, coords, err := loadStack(ctx, inputs, cfg)
	if err != nil {
		return nil, err
	}

	cfg.logger.Debug("consolidating stack",
		zap.Int("inputs", len(sets)), zap.String("concat_dim", cfg.concatDim))

	return consolidate(sets, coords, cfg)
}

func loadStack(ctx context.Context, inputs []StackSource, cfg *combineConfig) ([]*ReferenceSet, []string, error) {
	coordFunc := cfg.coordFunc
	if coordFunc == nil {
		coordFunc = func(rs *ReferenceSet) (string, error) {
			return defaultCoordinate(rs, cfg.concatDim)
		}
	}

	sets := make([]*ReferenceSet, len(inputs))
	coords := make([]string, len(inputs))

	for i, in := range inputs {
		rs := in.Refs
		if rs == nil {
			var err error
			rs, err = ReadReferenceFile(ctx, in.URI, cfg.target)
			if err != nil {
				return nil, nil, fmt.Errorf("loading stack input %d: %w", i, err)
			}
		}

		if cfg.preprocess != nil {
			if err := cfg.preprocess(rs); err != nil {
				return nil, nil, fmt.Errorf("preprocessing stack input %d: %w", i, err)
			}
		}

		coord, err := coordFunc(rs)
		if err != nil {
			return nil, nil, fmt.Errorf("stack input %d: %w", i, err)
		}

		sets[i] = rs
		coords[i] = coord
	}

	// Order the stack by coordinate value; duplicates keep their
	// relative order.
	order := make([]int, len(sets))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return coords[order[a]] < coords[order[b]]
	})

	orderedSets := make([]*ReferenceSet, len(sets))
	orderedCoords := make([]string, len(sets))
	for i, idx := range order {
		orderedSets[i] = sets[idx]
		orderedCoords[i] = coords[idx]
	}
	return orderedSets, orderedCoords, nil
}

// defaultCoordinate reads the inline scalar value of the concat
// dimension's variable.
func defaultCoordinate(rs *ReferenceSet, concatDim string) (string, error) {
	ref, ok := rs.Get(concatDim + "/0")
	if !ok {
		return "", fmt.Errorf("%w: missing %s/0", ErrNoCoordinate, concatDim)
	}
	if !ref.IsInline() {
		return "", fmt.Errorf("%w: %s/0 is not inline", ErrNoCoordinate, concatDim)
	}
	raw, err := DecodeInline(ref.Inline)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoCoordinate, err)
	}
	return string(raw), nil
}

func consolidate(sets []*ReferenceSet, coords []string, cfg *combineConfig) (*ReferenceSet, error) {
	first := sets[0]
	out := NewReferenceSet()

	// Root-level store documents carry over from the first input.
	for key, ref := range first.Refs {
		if !strings.Contains(key, "/") {
			out.Refs[key] = ref
		}
	}

	identical := make(map[string]bool, len(cfg.identicalDims))
	for _, d := range cfg.identicalDims {
		identical[d] = true
	}

	vars := variableList(first)
	for i, rs := range sets[1:] {
		if !sameVariables(vars, variableList(rs)) {
			return nil, fmt.Errorf("%w: input %d has a different variable set", ErrSchemaMismatch, i+1)
		}
	}

	for _, v := range vars {
		switch {
		case v == cfg.concatDim:
			// Replaced by the coordinate array below.

		case identical[v]:
			if err := copyIdentical(out, sets, v); err != nil {
				return nil, err
			}

		default:
			if err := concatVariable(out, sets, v, cfg.concatDim); err != nil {
				return nil, err
			}
		}
	}

	if err := writeCoordinate(out, cfg.concatDim, coords); err != nil {
		return nil, err
	}
	return out, nil
}

func variableList(rs *ReferenceSet) []string {
	var vars []string
	for key := range rs.Refs {
		if strings.HasSuffix(key, "/.zarray") {
			vars = append(vars, strings.TrimSuffix(key, "/.zarray"))
		}
	}
	sort.Strings(vars)
	return vars
}

func sameVariables(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// copyIdentical verifies every input carries the same array metadata
// for v, then copies v's keys from the first input.
func copyIdentical(out *ReferenceSet, sets []*ReferenceSet, v string) error {
	base, ok := sets[0].Get(v + "/.zarray")
	if !ok || !base.IsInline() {
		return fmt.Errorf("%w: %s has no array metadata", ErrSchemaMismatch, v)
	}
	for i, rs := range sets[1:] {
		ref, ok := rs.Get(v + "/.zarray")
		if !ok || !ref.IsInline() || ref.Inline != base.Inline {
			return fmt.Errorf("%w: identical variable %s differs in input %d", ErrSchemaMismatch, v, i+1)
		}
	}

	prefix := v + "/"
	for key, ref := range sets[0].Refs {
		if strings.HasPrefix(key, prefix) {
			out.Refs[key] = ref
		}
	}
	return nil
}

var byteStringDtype = regexp.MustCompile(`^\|S(\d+)$`)

// concatVariable stacks one variable across all inputs along a new
// leading dimension.
func concatVariable(out *ReferenceSet, sets []*ReferenceSet, v, concatDim string) error {
	docs := make([]map[string]interface{}, len(sets))
	for i, rs := range sets {
		doc, err := arrayDoc(rs, v)
		if err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
		docs[i] = doc
	}

	itemsize, err := checkSchemas(docs, v)
	if err != nil {
		return err
	}

	shape := dimsOf(docs[0], "shape")
	chunks := dimsOf(docs[0], "chunks")
	scalar := len(shape) == 0

	outDoc := make(map[string]interface{}, len(docs[0]))
	for k, val := range docs[0] {
		outDoc[k] = val
	}
	outDoc["shape"] = append([]uint64{uint64(len(sets))}, shape...)
	outDoc["chunks"] = append([]uint64{1}, chunks...)
	if itemsize > 0 {
		outDoc["dtype"] = fmt.Sprintf("|S%d", itemsize)
	}
	metaJSON, err := json.Marshal(outDoc)
	if err != nil {
		return fmt.Errorf("encoding %s metadata: %w", v, err)
	}
	out.SetInline(v+"/.zarray", string(metaJSON))

	if err := concatAttrs(out, sets[0], v, concatDim); err != nil {
		return err
	}

	prefix := v + "/"
	for i, rs := range sets {
		for key, ref := range rs.Refs {
			if !strings.HasPrefix(key, prefix) {
				continue
			}
			suffix := key[len(prefix):]
			if strings.HasPrefix(suffix, ".z") {
				continue
			}

			var outKey string
			if scalar {
				outKey = prefix + strconv.Itoa(i)
			} else {
				outKey = prefix + strconv.Itoa(i) + "." + suffix
			}

			if itemsize > 0 && ref.IsInline() {
				raw, err := DecodeInline(ref.Inline)
				if err != nil {
					return fmt.Errorf("input %d, key %s: %w", i, key, err)
				}
				for len(raw) < itemsize {
					raw = append(raw, 0)
				}
				out.SetInline(outKey, encodeInline(raw))
				continue
			}

			out.Refs[outKey] = ref
		}
	}
	return nil
}

// checkSchemas verifies the per-input array metadata agrees. Byte
// string dtypes of differing width are tolerated; the returned
// itemsize is the widest one, or 0 when no widening is needed.
func checkSchemas(docs []map[string]interface{}, v string) (int, error) {
	itemsize := 0
	widen := false

	canonical := func(doc map[string]interface{}) (string, string, error) {
		stripped := make(map[string]interface{}, len(doc))
		for k, val := range doc {
			if k != "dtype" {
				stripped[k] = val
			}
		}
		data, err := json.Marshal(stripped)
		if err != nil {
			return "", "", err
		}
		dtype, _ := doc["dtype"].(string)
		return string(data), dtype, nil
	}

	baseDoc, baseDtype, err := canonical(docs[0])
	if err != nil {
		return 0, fmt.Errorf("encoding %s metadata: %w", v, err)
	}
	if m := byteStringDtype.FindStringSubmatch(baseDtype); m != nil {
		itemsize, _ = strconv.Atoi(m[1])
	}

	for i, doc := range docs[1:] {
		cmpDoc, dtype, err := canonical(doc)
		if err != nil {
			return 0, fmt.Errorf("encoding %s metadata: %w", v, err)
		}
		if cmpDoc != baseDoc {
			return 0, fmt.Errorf("%w: variable %s differs in input %d", ErrSchemaMismatch, v, i+1)
		}
		if dtype == baseDtype {
			continue
		}
		m := byteStringDtype.FindStringSubmatch(dtype)
		if m == nil || itemsize == 0 {
			return 0, fmt.Errorf("%w: variable %s dtype %q vs %q in input %d", ErrSchemaMismatch, v, baseDtype, dtype, i+1)
		}
		n, _ := strconv.Atoi(m[1])
		if n > itemsize {
			itemsize = n
		}
		widen = true
	}

	if !widen {
		return 0, nil
	}
	return itemsize, nil
}

func arrayDoc(rs *ReferenceSet, v string) (map[string]interface{}, error) {
	ref, ok := rs.Get(v + "/.zarray")
	if !ok || !ref.IsInline() {
		return nil, fmt.Errorf("%w: %s has no array metadata", ErrSchemaMismatch, v)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(ref.Inline), &doc); err != nil {
		return nil, fmt.Errorf("decoding %s metadata: %w", v, err)
	}
	return doc, nil
}

func dimsOf(doc map[string]interface{}, field string) []uint64 {
	raw, _ := doc[field].([]interface{})
	dims := make([]uint64, 0, len(raw))
	for _, d := range raw {
		if f, ok := d.(float64); ok {
			dims = append(dims, uint64(f))
		}
	}
	return dims
}

// concatAttrs rewrites a variable's attribute document with the
// concat dimension prepended to _ARRAY_DIMENSIONS.
func concatAttrs(out *ReferenceSet, first *ReferenceSet, v, concatDim string) error {
	attrs := make(map[string]interface{})
	if ref, ok := first.Get(v + "/.zattrs"); ok && ref.IsInline() {
		if err := json.Unmarshal([]byte(ref.Inline), &attrs); err != nil {
			return fmt.Errorf("decoding %s attributes: %w", v, err)
		}
	}

	dims := []interface{}{concatDim}
	if existing, ok := attrs["_ARRAY_DIMENSIONS"].([]interface{}); ok {
		dims = append(dims, existing...)
	}
	attrs["_ARRAY_DIMENSIONS"] = dims

	doc, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("encoding %s attributes: %w", v, err)
	}
	out.SetInline(v+"/.zattrs", string(doc))
	return nil
}

// writeCoordinate emits the coordinate array for the concat dimension,
// one fixed-width byte-string value per input.
func writeCoordinate(out *ReferenceSet, concatDim string, coords []string) error {
	itemsize := 0
	for _, c := range coords {
		if len(c) > itemsize {
			itemsize = len(c)
		}
	}

	meta := map[string]interface{}{
		"zarr_format": 2,
		"shape":       []uint64{uint64(len(coords))},
		"chunks":      []uint64{1},
		"dtype":       fmt.Sprintf("|S%d", itemsize),
		"compressor":  nil,
		"fill_value":  nil,
		"order":       "C",
		"filters":     nil,
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encoding coordinate metadata: %w", err)
	}
	out.SetInline(concatDim+"/.zarray", string(metaJSON))
	out.SetInline(concatDim+"/.zattrs",
		fmt.Sprintf(`{"_ARRAY_DIMENSIONS":["%s"]}`, concatDim))

	for i, c := range coords {
		raw := []byte(c)
		for len(raw) < itemsize {
			raw = append(raw, 0)
		}
		out.SetInline(concatDim+"/"+strconv.Itoa(i), encodeInline(raw))
	}
	return nil
}
