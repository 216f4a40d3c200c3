package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// newSession builds an AWS session from Options, honoring anonymous
// access and custom endpoints for S3-compatible stores.
func newSession(opts Options) (*session.Session, error) {
	if opts.Session != nil {
		return opts.Session, nil
	}

	cfg := aws.NewConfig()
	if opts.Region != "" {
		cfg = cfg.WithRegion(opts.Region)
	}
	if opts.Endpoint != "" {
		cfg = cfg.WithEndpoint(opts.Endpoint).WithS3ForcePathStyle(true)
	}
	if opts.Anonymous {
		cfg = cfg.WithCredentials(credentials.AnonymousCredentials)
	} else if opts.AccessKeyID != "" {
		cfg = cfg.WithCredentials(credentials.NewStaticCredentials(
			opts.AccessKeyID, opts.SecretAccessKey, opts.SessionToken))
	}

	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating aws session: %w", err)
	}
	return sess, nil
}

// s3ReaderAt serves ReadAt calls with ranged GetObject requests.
type s3ReaderAt struct {
	ctx    context.Context
	client *s3.S3
	bucket string
	key    string
	size   uint64
}

func (r *s3ReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset")
	}
	if uint64(off) >= r.size {
		return 0, io.EOF
	}

	end := off + int64(len(p)) - 1
	if uint64(end) >= r.size {
		end = int64(r.size) - 1
	}

	out, err := r.client.GetObjectWithContext(r.ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, end)),
	})
	if err != nil {
		return 0, fmt.Errorf("ranged get s3://%s/%s: %w", r.bucket, r.key, err)
	}
	defer out.Body.Close()

	n, err := fillRange(out.Body, p[:end-off+1])
	if err != nil {
		return n, fmt.Errorf("ranged get s3://%s/%s: %w", r.bucket, r.key, err)
	}
	if n < len(p) {
		// The request was clipped at the object end.
		return n, io.EOF
	}
	return n, nil
}

// fillRange copies a ranged response body into p. The body must carry
// exactly len(p) bytes; a shorter body is an error so callers never see
// a silent short read.
func fillRange(body io.Reader, p []byte) (int, error) {
	n, err := io.ReadFull(body, p)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return n, fmt.Errorf("response carried %d of %d requested bytes: %w",
			n, len(p), io.ErrUnexpectedEOF)
	}
	return n, err
}

func openS3(ctx context.Context, loc Location, opts Options) (io.ReaderAt, uint64, func() error, error) {
	sess, err := newSession(opts)
	if err != nil {
		return nil, 0, nil, err
	}
	client := s3.New(sess)

	head, err := client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		return nil, 0, nil, fmt.Errorf("head s3://%s/%s: %w", loc.Bucket, loc.Key, err)
	}

	size := uint64(aws.Int64Value(head.ContentLength))
	r := &s3ReaderAt{ctx: ctx, client: client, bucket: loc.Bucket, key: loc.Key, size: size}
	return r, size, func() error { return nil }, nil
}

func readAllS3(ctx context.Context, loc Location, opts Options) ([]byte, error) {
	sess, err := newSession(opts)
	if err != nil {
		return nil, err
	}
	client := s3.New(sess)

	out, err := client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", loc.Bucket, loc.Key, err)
	}
	defer out.Body.Close()

	return io.ReadAll(out.Body)
}

func writeAllS3(ctx context.Context, loc Location, data []byte, opts Options) error {
	sess, err := newSession(opts)
	if err != nil {
		return err
	}
	client := s3.New(sess)

	_, err = client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", loc.Bucket, loc.Key, err)
	}
	return nil
}
