// Package notify turns bucket notifications into pipeline invocations.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/photoimport/internal/ingest/models"
	"github.com/dmitrijs2005/photoimport/internal/logging"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/notification"
	"golang.org/x/sync/errgroup"
)

// ObjectCreated selects every object-creation event.
const ObjectCreated = "s3:ObjectCreated:*"

var ErrListenerClosed = errors.New("notification stream closed")

// Listener is implemented by *minio.Client.
type Listener interface {
	ListenBucketNotification(ctx context.Context, bucketName, prefix, suffix string, events []string) <-chan notification.Info
}

// Handler processes one notification. Errors are logged by the Source.
type Handler func(ctx context.Context, n models.Notification) error

// NewMinioClient connects to the S3-compatible endpoint given as a URL
// (e.g. "http://127.0.0.1:9000/").
func NewMinioClient(endpoint, user, password, region string) (*minio.Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("endpoint %q has no host", endpoint)
	}
	client, err := minio.New(u.Host, &minio.Options{
		Creds:  credentials.NewStaticV4(user, password, ""),
		Secure: u.Scheme == "https",
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return client, nil
}

type Source struct {
	listener   Listener
	bucket     string
	prefix     string
	suffix     string
	arrivalKey string
	limit      int
	logger     logging.Logger
}

// NewSource listens on bucket for objects matching prefix/suffix. limit bounds
// the number of invocations in flight; arrivalKey names the user-metadata
// entry carrying the client-side arrival time.
func NewSource(l Listener, bucket, prefix, suffix, arrivalKey string, limit int, logger logging.Logger) *Source {
	if limit <= 0 {
		limit = 1
	}
	return &Source{
		listener:   l,
		bucket:     bucket,
		prefix:     prefix,
		suffix:     suffix,
		arrivalKey: arrivalKey,
		limit:      limit,
		logger:     logger.With("module", "notify"),
	}
}

// Run dispatches notifications to h until ctx is done, then waits for
// in-flight invocations. In-flight invocations are not cancelled with ctx.
func (s *Source) Run(ctx context.Context, h Handler) error {
	var g errgroup.Group
	g.SetLimit(s.limit)
	defer func() { _ = g.Wait() }()

	detached := context.WithoutCancel(ctx)
	events := s.listener.ListenBucketNotification(ctx, s.bucket, s.prefix, s.suffix, []string{ObjectCreated})

	s.logger.Info(ctx, "listening", "bucket", s.bucket, "prefix", s.prefix, "suffix", s.suffix)
	for {
		select {
		case <-ctx.Done():
			return nil
		case info, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrListenerClosed
			}
			if info.Err != nil {
				s.logger.Warn(ctx, "notification error", "error", info.Err)
				continue
			}
			for _, ev := range info.Records {
				n, err := s.decode(ev)
				if err != nil {
					s.logger.Warn(ctx, "undecodable notification", "key", ev.S3.Object.Key, "error", err)
					continue
				}
				g.Go(func() error {
					if err := h(detached, n); err != nil {
						s.logger.Error(detached, "invocation failed", "path", n.Name, "size", n.Size, "error", err)
					}
					return nil
				})
			}
		}
	}
}

func (s *Source) decode(ev notification.Event) (models.Notification, error) {
	key, err := url.QueryUnescape(ev.S3.Object.Key)
	if err != nil {
		return models.Notification{}, fmt.Errorf("unescape key: %w", err)
	}
	bucket := ev.S3.Bucket.Name
	if bucket == "" {
		bucket = s.bucket
	}
	return models.Notification{
		Bucket:           bucket,
		Name:             key,
		Size:             ev.S3.Object.Size,
		ETag:             ev.S3.Object.ETag,
		ArrivalTimestamp: s.arrival(ev),
		Metadata:         ev.S3.Object.UserMetadata,
	}, nil
}

// arrival prefers the uploader-supplied timestamp over the event time.
func (s *Source) arrival(ev notification.Event) time.Time {
	if v, ok := lookupMeta(ev.S3.Object.UserMetadata, s.arrivalKey); ok {
		if t, ok := ParseTimestamp(v); ok {
			return t
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, ev.EventTime); err == nil {
		return t
	}
	return time.Time{}
}

func lookupMeta(meta map[string]string, key string) (string, bool) {
	if key == "" {
		return "", false
	}
	short := strings.TrimPrefix(strings.ToLower(key), "x-amz-meta-")
	for k, v := range meta {
		lk := strings.ToLower(k)
		if lk == strings.ToLower(key) || strings.TrimPrefix(lk, "x-amz-meta-") == short {
			return v, true
		}
	}
	return "", false
}

// ParseTimestamp accepts unix seconds, unix milliseconds or RFC 3339.
func ParseTimestamp(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), true
		}
		return time.Unix(n, 0).UTC(), true
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		sec := int64(f)
		return time.Unix(sec, int64((f-float64(sec))*1e9)).UTC(), true
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t, true
	}
	return time.Time{}, false
}
