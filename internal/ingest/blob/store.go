// Package blob reads stored objects for ingestion: the full body for upload
// and a bounded prefix for metadata extraction. Both reads are pinned to the
// same object version through its ETag.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/dmitrijs2005/photoimport/internal/ingest/blob")

var (
	loadDefaultAWSConfig  = config.LoadDefaultConfig
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// S3API is the subset of *s3.Client used by Store.
type S3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ObjectRef identifies one immutable object snapshot.
type ObjectRef struct {
	Bucket string
	Key    string
	ETag   string
	Size   int64
}

// NewS3Client builds an S3 client for an S3-compatible endpoint using static
// credentials and path-style addressing.
func NewS3Client(ctx context.Context, region, user, password, endpoint string) (*s3.Client, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(user, password, "")))
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	return newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = true
	}), nil
}

type Store struct {
	api S3API
}

func NewStore(api S3API) *Store {
	return &Store{api: api}
}

// Stat resolves the current snapshot of bucket/key.
func (s *Store) Stat(ctx context.Context, bucket, key string) (ObjectRef, error) {
	ctx, span := tracer.Start(ctx, "blob.Stat", trace.WithAttributes(
		attribute.String("bucket", bucket),
		attribute.String("key", key)))
	defer span.End()

	out, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		span.RecordError(err)
		return ObjectRef{}, fmt.Errorf("head %s/%s: %w", bucket, key, err)
	}
	return ObjectRef{
		Bucket: bucket,
		Key:    key,
		ETag:   aws.ToString(out.ETag),
		Size:   aws.ToInt64(out.ContentLength),
	}, nil
}

// OpenFull opens a sequential read of the whole object.
func (s *Store) OpenFull(ctx context.Context, ref ObjectRef) (io.ReadCloser, error) {
	out, err := s.api.GetObject(ctx, s.getInput(ref))
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", ref.Bucket, ref.Key, err)
	}
	return out.Body, nil
}

// OpenPrefix opens a read of at most limit bytes from the head of the object.
// Objects shorter than limit are returned whole.
func (s *Store) OpenPrefix(ctx context.Context, ref ObjectRef, limit int64) (io.ReadCloser, error) {
	if limit <= 0 {
		return nil, errors.New("prefix limit must be positive")
	}

	in := s.getInput(ref)
	if ref.Size <= 0 || ref.Size > limit {
		in.Range = aws.String(fmt.Sprintf("bytes=0-%d", limit-1))
	}

	out, err := s.api.GetObject(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("get prefix %s/%s: %w", ref.Bucket, ref.Key, err)
	}
	// Some S3-compatible servers ignore Range; clamp regardless.
	return &limitedReadCloser{Reader: io.LimitReader(out.Body, limit), Closer: out.Body}, nil
}

// ReadPrefix collects the bounded prefix into memory.
func (s *Store) ReadPrefix(ctx context.Context, ref ObjectRef, limit int64) ([]byte, error) {
	rc, err := s.OpenPrefix(ctx, ref, limit)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// DualStream holds two independent reads of one snapshot. They may be
// consumed concurrently; closing one does not affect the other.
type DualStream struct {
	Ref    ObjectRef
	Full   io.ReadCloser
	Prefix io.ReadCloser
}

// Close closes both streams.
func (d *DualStream) Close() error {
	return errors.Join(d.Full.Close(), d.Prefix.Close())
}

// Open opens the full and prefix streams for ref.
func (s *Store) Open(ctx context.Context, ref ObjectRef, limit int64) (*DualStream, error) {
	ctx, span := tracer.Start(ctx, "blob.Open", trace.WithAttributes(
		attribute.String("key", ref.Key),
		attribute.Int64("size", ref.Size),
		attribute.Int64("prefix_limit", limit)))
	defer span.End()

	full, err := s.OpenFull(ctx, ref)
	if err != nil {
		return nil, err
	}
	prefix, err := s.OpenPrefix(ctx, ref, limit)
	if err != nil {
		_ = full.Close()
		return nil, err
	}
	return &DualStream{Ref: ref, Full: full, Prefix: prefix}, nil
}

func (s *Store) getInput(ref ObjectRef) *s3.GetObjectInput {
	in := &s3.GetObjectInput{
		Bucket: aws.String(ref.Bucket),
		Key:    aws.String(ref.Key),
	}
	if ref.ETag != "" {
		in.IfMatch = aws.String(ref.ETag)
	}
	return in
}

type limitedReadCloser struct {
	io.Reader
	io.Closer
}
