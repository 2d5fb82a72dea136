// Package pipeline turns storage arrival notifications into registered
// remote assets and reconciled AssetRecord entries.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dmitrijs2005/photoimport/internal/clockx"
	"github.com/dmitrijs2005/photoimport/internal/common"
	"github.com/dmitrijs2005/photoimport/internal/ingest/blob"
	"github.com/dmitrijs2005/photoimport/internal/ingest/dam"
	"github.com/dmitrijs2005/photoimport/internal/ingest/exifmeta"
	"github.com/dmitrijs2005/photoimport/internal/ingest/metrics"
	"github.com/dmitrijs2005/photoimport/internal/ingest/models"
	"github.com/dmitrijs2005/photoimport/internal/ingest/repositories/assets"
	"github.com/dmitrijs2005/photoimport/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("github.com/dmitrijs2005/photoimport/internal/ingest/pipeline")

type State string

const (
	AwaitingData       State = "awaiting_data"
	DataArrived        State = "data_arrived"
	MetadataReconciled State = "metadata_reconciled"
	Registered         State = "registered"
	MarkerIgnored      State = "marker_ignored"
)

// Outcome describes how far one invocation got. Placeholder and Upload are
// zero when the corresponding call was never attempted.
type Outcome struct {
	State       State
	AssetID     string
	Placeholder dam.Result
	Upload      dam.Result
	MetadataErr error
	Record      *models.AssetRecord
}

type Credentials interface {
	Fresh(ctx context.Context) (models.CredentialSet, error)
}

type Objects interface {
	Stat(ctx context.Context, bucket, key string) (blob.ObjectRef, error)
	Open(ctx context.Context, ref blob.ObjectRef, limit int64) (*blob.DualStream, error)
	OpenFull(ctx context.Context, ref blob.ObjectRef) (io.ReadCloser, error)
}

type Remote interface {
	CreatePlaceholder(ctx context.Context, assetID string, p dam.Placeholder, creds models.CredentialSet) dam.Result
	UploadOriginal(ctx context.Context, assetID string, src dam.Source, length int64, creds models.CredentialSet) dam.Result
}

// Settings are the per-deployment constants of an ingestion.
type Settings struct {
	PrefixLimit int64
	// Location is the fixed zone in which camera timestamps are interpreted.
	Location  *time.Location
	AccountID string
	DeviceTag string
}

type Pipeline struct {
	creds    Credentials
	objects  Objects
	remote   Remote
	records  assets.Repository
	settings Settings
	clock    clockx.Clock
	metrics  *metrics.Metrics
	newID    func() string
	logger   logging.Logger
}

type Option func(*Pipeline)

func WithClock(c clockx.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func WithIDGenerator(f func() string) Option {
	return func(p *Pipeline) { p.newID = f }
}

func New(creds Credentials, objects Objects, remote Remote, records assets.Repository, settings Settings, logger logging.Logger, opts ...Option) *Pipeline {
	if settings.PrefixLimit <= 0 {
		settings.PrefixLimit = common.DefaultPrefixLimit
	}
	if settings.Location == nil {
		settings.Location = time.UTC
	}
	p := &Pipeline{
		creds:    creds,
		objects:  objects,
		remote:   remote,
		records:  records,
		settings: settings,
		clock:    clockx.RealClock{},
		newID:    common.NewAssetID,
		logger:   logger.With("module", "pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle runs one invocation for n. A returned error means the invocation was
// abandoned (credentials, storage or record-store failure); failed remote
// calls are reported in the Outcome instead.
func (p *Pipeline) Handle(ctx context.Context, n models.Notification) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "pipeline.Handle", trace.WithAttributes(
		attribute.String("path", n.Name),
		attribute.Int64("size", n.Size)))
	defer span.End()

	var (
		out Outcome
		err error
	)
	if n.IsMarker() {
		out, err = p.handleMarker(ctx, n)
	} else {
		out, err = p.handleData(ctx, n)
	}

	span.SetAttributes(attribute.String("state", string(out.State)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.metrics.Invocation("failed")
		return out, err
	}
	p.metrics.Invocation(string(out.State))
	return out, nil
}

func (p *Pipeline) arrival(n models.Notification) time.Time {
	if n.ArrivalTimestamp.IsZero() {
		return p.clock.Now()
	}
	return n.ArrivalTimestamp
}

func (p *Pipeline) handleMarker(ctx context.Context, n models.Notification) (Outcome, error) {
	if !n.HasExtension() {
		p.logger.Debug(ctx, "marker ignored", "path", n.Name)
		return Outcome{State: MarkerIgnored}, nil
	}

	started := p.arrival(n)
	rec, err := p.records.Merge(ctx, &models.AssetRecord{Path: n.Name, UploadStartedAt: &started})
	if err != nil {
		return Outcome{}, fmt.Errorf("record upload start: %w", err)
	}
	p.logger.Info(ctx, "upload started", "path", n.Name)
	return Outcome{State: AwaitingData, Record: rec}, nil
}

func (p *Pipeline) handleData(ctx context.Context, n models.Notification) (Outcome, error) {
	out := Outcome{State: DataArrived}

	creds, err := p.creds.Fresh(ctx)
	if err != nil {
		return out, fmt.Errorf("credentials: %w", err)
	}

	out.AssetID, err = p.assetID(ctx, n.Name)
	if err != nil {
		return out, err
	}
	log := p.logger.With("path", n.Name, "asset_id", out.AssetID)

	ref, err := p.snapshot(ctx, n)
	if err != nil {
		return out, err
	}
	ds, err := p.objects.Open(ctx, ref, p.settings.PrefixLimit)
	if err != nil {
		return out, fmt.Errorf("open object: %w", err)
	}
	defer ds.Close()

	var meta *exifmeta.Metadata
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		prefix, err := io.ReadAll(ds.Prefix)
		if err != nil {
			out.MetadataErr = fmt.Errorf("%w: prefix: %w", common.ErrObjectRead, err)
			return nil
		}
		p.metrics.PrefixBytes(len(prefix))
		meta, out.MetadataErr = exifmeta.Extract(prefix)
		return nil
	})

	g.Go(func() error {
		out.Placeholder = p.remote.CreatePlaceholder(gctx, out.AssetID, dam.Placeholder{
			FileName:   n.FileName(),
			ImportedBy: p.settings.AccountID,
			DeviceTag:  p.settings.DeviceTag,
			ImportedAt: p.clock.Now(),
		}, creds)
		if !out.Placeholder.OK() {
			log.Warn(gctx, "placeholder not created",
				"status", out.Placeholder.Status, "error", out.Placeholder.Err)
		}

		first := true
		src := func(attempt int) (io.ReadCloser, error) {
			if first {
				first = false
				return io.NopCloser(ds.Full), nil
			}
			return p.objects.OpenFull(gctx, ref)
		}
		out.Upload = p.remote.UploadOriginal(gctx, out.AssetID, src, n.Size, creds)
		if !out.Upload.OK() {
			log.Warn(gctx, "upload failed",
				"status", out.Upload.Status, "attempts", out.Upload.Attempts, "error", out.Upload.Err)
		}
		return nil
	})

	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return out, err
	}
	out.State = MetadataReconciled

	var parseErr *common.MetadataParseError
	switch {
	case errors.As(out.MetadataErr, &parseErr):
		log.Info(ctx, "no capture metadata", "error", out.MetadataErr)
	case out.MetadataErr != nil:
		log.Warn(ctx, "metadata not extracted", "error", out.MetadataErr)
	}

	finished := p.arrival(n)
	rec := &models.AssetRecord{
		Path:             n.Name,
		AssetID:          out.AssetID,
		FileName:         n.FileName(),
		UploadFinishedAt: &finished,
	}
	if meta != nil {
		rec.CameraMake = meta.Make
		rec.CameraModel = meta.Model
		rec.CameraSerial = meta.BodySerialNumber
		rec.CapturedAt = meta.CapturedAt(p.settings.Location)
		rec.Thumbnail = meta.ThumbnailBase64()
	}

	out.Record, err = p.records.Merge(ctx, rec)
	if err != nil {
		return out, fmt.Errorf("merge record: %w", err)
	}
	out.State = Registered
	log.Info(ctx, "asset registered",
		"placeholder_status", out.Placeholder.Status, "upload_status", out.Upload.Status)
	return out, nil
}

// snapshot resolves the object version announced by n. The declared upload
// length is the notified size, so a replaced object is rejected here rather
// than uploaded under a different length.
func (p *Pipeline) snapshot(ctx context.Context, n models.Notification) (blob.ObjectRef, error) {
	ref, err := p.objects.Stat(ctx, n.Bucket, n.Name)
	if err != nil {
		return ref, fmt.Errorf("stat object: %w", err)
	}
	if ref.Size != n.Size {
		return ref, fmt.Errorf("%w: size %d, notified %d", common.ErrObjectChanged, ref.Size, n.Size)
	}
	if n.ETag != "" {
		if ref.ETag != "" && unquote(ref.ETag) != unquote(n.ETag) {
			return ref, fmt.Errorf("%w: etag %s, notified %s", common.ErrObjectChanged, ref.ETag, n.ETag)
		}
		ref.ETag = n.ETag
	}
	return ref, nil
}

func unquote(etag string) string {
	return strings.Trim(etag, `"`)
}

// assetID reuses the identifier already stored for path so that a redelivered
// notification addresses the same remote asset.
func (p *Pipeline) assetID(ctx context.Context, path string) (string, error) {
	rec, err := p.records.Get(ctx, path)
	switch {
	case errors.Is(err, common.ErrorNotFound):
		return p.newID(), nil
	case err != nil:
		return "", fmt.Errorf("load record: %w", err)
	case rec.AssetID != "":
		return rec.AssetID, nil
	default:
		return p.newID(), nil
	}
}
