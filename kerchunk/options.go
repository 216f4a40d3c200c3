package kerchunk

import (
	"github.com/aws/aws-sdk-go/aws/session"
	"go.uber.org/zap"

	"github.com/robert-malhotra/kerchunk-go/internal/storage"
)

// StorageOptions configures access to an object store for one
// operation. The zero value covers local files and the default AWS
// credential chain.
type StorageOptions struct {
	// Session is a caller-owned AWS session forwarded untouched to the
	// S3 client. When set, the remaining fields are ignored.
	Session *session.Session

	// Region is the bucket's AWS region.
	Region string

	// Endpoint points at an S3-compatible service. Path-style
	// addressing is forced when set.
	Endpoint string

	// Anonymous disables request signing for public buckets.
	Anonymous bool

	// Static credentials. Leave empty to use the default chain.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

func (o StorageOptions) internal() storage.Options {
	return storage.Options{
		Session:         o.Session,
		Region:          o.Region,
		Endpoint:        o.Endpoint,
		Anonymous:       o.Anonymous,
		AccessKeyID:     o.AccessKeyID,
		SecretAccessKey: o.SecretAccessKey,
		SessionToken:    o.SessionToken,
	}
}

// Option configures SingleHDF5ToZarr.
type Option interface {
	applySingle(*singleConfig)
}

// CombineOption configures CombineStack.
type CombineOption interface {
	applyCombine(*combineConfig)
}

type singleOption func(*singleConfig)

func (o singleOption) applySingle(c *singleConfig) { o(c) }

type combineOption func(*combineConfig)

func (o combineOption) applyCombine(c *combineConfig) { o(c) }

// dualOption applies to both operations.
type dualOption struct {
	single  func(*singleConfig)
	combine func(*combineConfig)
}

func (o dualOption) applySingle(c *singleConfig)   { o.single(c) }
func (o dualOption) applyCombine(c *combineConfig) { o.combine(c) }

// DefaultInlineThreshold is the stored-chunk size below which chunk
// bytes are embedded into the reference set instead of referenced.
const DefaultInlineThreshold = 300

type singleConfig struct {
	finalURI        string
	productVersion  string
	storage         StorageOptions
	inlineThreshold int
	logger          *zap.Logger
}

func newSingleConfig() *singleConfig {
	return &singleConfig{
		inlineThreshold: DefaultInlineThreshold,
		logger:          zap.NewNop(),
	}
}

// WithFinalURI sets the URI written into chunk references, for when
// the file will live at a different location than it is read from.
func WithFinalURI(uri string) Option {
	return singleOption(func(c *singleConfig) { c.finalURI = uri })
}

// WithProductVersion injects a product_version scalar variable into
// the generated store.
func WithProductVersion(version string) Option {
	return singleOption(func(c *singleConfig) { c.productVersion = version })
}

// WithSession supplies a caller-owned AWS session for reading the
// source file.
func WithSession(sess *session.Session) Option {
	return singleOption(func(c *singleConfig) { c.storage.Session = sess })
}

// WithStorageOptions configures object-store access for the source file.
func WithStorageOptions(opts StorageOptions) Option {
	return singleOption(func(c *singleConfig) { c.storage = opts })
}

// WithInlineThreshold overrides the chunk inlining cutoff in bytes.
// Zero disables inlining.
func WithInlineThreshold(n int) Option {
	return singleOption(func(c *singleConfig) { c.inlineThreshold = n })
}

// WithLogger attaches a logger to either operation. The default is a
// no-op logger; progress is reported at debug level.
func WithLogger(l *zap.Logger) interface {
	Option
	CombineOption
} {
	return dualOption{
		single:  func(c *singleConfig) { c.logger = l },
		combine: func(c *combineConfig) { c.logger = l },
	}
}

// DefaultConcatDim is the dimension CombineStack concatenates along.
const DefaultConcatDim = "source_file_name"

type combineConfig struct {
	target        StorageOptions
	remote        StorageOptions
	concatDim     string
	identicalDims []string
	coordFunc     func(*ReferenceSet) (string, error)
	preprocess    func(*ReferenceSet) error
	logger        *zap.Logger
}

func newCombineConfig() *combineConfig {
	return &combineConfig{
		concatDim:     DefaultConcatDim,
		identicalDims: []string{"y", "x"},
		logger:        zap.NewNop(),
	}
}

// WithTargetOptions configures access to the store holding the
// persisted reference files named by URI inputs.
func WithTargetOptions(opts StorageOptions) CombineOption {
	return combineOption(func(c *combineConfig) { c.target = opts })
}

// WithRemoteOptions configures access to the store holding the source
// data files, which commonly lives in a different bucket than the
// reference files. Consolidation reuses each input's recorded byte
// ranges unchanged and never contacts the data bucket, so today the
// options are only held; they take effect once chunk references are
// re-resolved against the source data.
func WithRemoteOptions(opts StorageOptions) CombineOption {
	return combineOption(func(c *combineConfig) { c.remote = opts })
}

// WithConcatDim names the dimension the stack is concatenated along.
func WithConcatDim(dim string) CombineOption {
	return combineOption(func(c *combineConfig) { c.concatDim = dim })
}

// WithIdenticalDims lists variables that must be identical across
// inputs and are copied once instead of concatenated.
func WithIdenticalDims(dims ...string) CombineOption {
	return combineOption(func(c *combineConfig) { c.identicalDims = dims })
}

// WithCoordFunc overrides how an input's coordinate value along the
// concat dimension is derived.
func WithCoordFunc(fn func(*ReferenceSet) (string, error)) CombineOption {
	return combineOption(func(c *combineConfig) { c.coordFunc = fn })
}

// WithPreprocess runs a filter hook over each input's references
// before consolidation, typically DropAllKeep.
func WithPreprocess(fn func(*ReferenceSet) error) CombineOption {
	return combineOption(func(c *combineConfig) { c.preprocess = fn })
}
