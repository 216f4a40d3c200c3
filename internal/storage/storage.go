// Package storage resolves source and target URIs to byte-level
// access, covering local files and S3-compatible object stores.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws/session"
)

// Options configures access to an object store. The zero value works
// for local files and for S3 access through the default credential
// chain.
type Options struct {
	// Session overrides the AWS session entirely. When set, the
	// remaining fields are ignored.
	Session *session.Session

	// Region is the AWS region of the bucket.
	Region string

	// Endpoint points at an S3-compatible service other than AWS.
	// Path-style addressing is forced when set.
	Endpoint string

	// Anonymous disables request signing for public buckets.
	Anonymous bool

	// AccessKeyID, SecretAccessKey, and SessionToken are static
	// credentials. Leave empty to use the default chain.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// Location is a parsed storage URI.
type Location struct {
	// Scheme is "s3" or "file".
	Scheme string

	// Bucket is the object store bucket. Empty for local files.
	Bucket string

	// Key is the object key, or the filesystem path for local files.
	Key string
}

// ParseURI splits a URI into its storage location. Plain paths and
// file:// URIs resolve to local files.
func ParseURI(uri string) (Location, error) {
	switch {
	case strings.HasPrefix(uri, "s3://"):
		rest := strings.TrimPrefix(uri, "s3://")
		slash := strings.Index(rest, "/")
		if slash <= 0 || slash == len(rest)-1 {
			return Location{}, fmt.Errorf("s3 uri missing bucket or key: %s", uri)
		}
		return Location{Scheme: "s3", Bucket: rest[:slash], Key: rest[slash+1:]}, nil

	case strings.HasPrefix(uri, "file://"):
		return Location{Scheme: "file", Key: strings.TrimPrefix(uri, "file://")}, nil

	case strings.Contains(uri, "://"):
		return Location{}, fmt.Errorf("unsupported uri scheme: %s", uri)

	case uri == "":
		return Location{}, fmt.Errorf("empty uri")

	default:
		return Location{Scheme: "file", Key: uri}, nil
	}
}

// Open resolves a URI to an io.ReaderAt over its full contents,
// returning the object size and a close function.
func Open(ctx context.Context, uri string, opts Options) (io.ReaderAt, uint64, func() error, error) {
	loc, err := ParseURI(uri)
	if err != nil {
		return nil, 0, nil, err
	}

	switch loc.Scheme {
	case "file":
		f, err := os.Open(loc.Key)
		if err != nil {
			return nil, 0, nil, fmt.Errorf("opening %s: %w", loc.Key, err)
		}
		st, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, 0, nil, fmt.Errorf("stat %s: %w", loc.Key, err)
		}
		return f, uint64(st.Size()), f.Close, nil

	case "s3":
		return openS3(ctx, loc, opts)

	default:
		return nil, 0, nil, fmt.Errorf("unsupported scheme: %s", loc.Scheme)
	}
}

// ReadAll fetches the full contents behind a URI.
func ReadAll(ctx context.Context, uri string, opts Options) ([]byte, error) {
	loc, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	switch loc.Scheme {
	case "file":
		data, err := os.ReadFile(loc.Key)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", loc.Key, err)
		}
		return data, nil

	case "s3":
		return readAllS3(ctx, loc, opts)

	default:
		return nil, fmt.Errorf("unsupported scheme: %s", loc.Scheme)
	}
}

// WriteAll stores data at a URI, replacing any existing object.
func WriteAll(ctx context.Context, uri string, data []byte, opts Options) error {
	loc, err := ParseURI(uri)
	if err != nil {
		return err
	}

	switch loc.Scheme {
	case "file":
		if err := os.WriteFile(loc.Key, data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", loc.Key, err)
		}
		return nil

	case "s3":
		return writeAllS3(ctx, loc, data, opts)

	default:
		return fmt.Errorf("unsupported scheme: %s", loc.Scheme)
	}
}
