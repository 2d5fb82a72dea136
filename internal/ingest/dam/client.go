// Package dam issues the two dependent calls that register an asset with the
// remote digital-asset-management API: create the placeholder, then upload
// the original bytes.
package dam

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dmitrijs2005/photoimport/internal/clockx"
	"github.com/dmitrijs2005/photoimport/internal/common"
	"github.com/dmitrijs2005/photoimport/internal/ingest/audit"
	"github.com/dmitrijs2005/photoimport/internal/ingest/models"
	"github.com/dmitrijs2005/photoimport/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	maxResponseBody = 64 * 1024
	// captureDate is left for the remote side to fill from the uploaded bytes.
	unknownCaptureDate = "0000-00-00T00:00:00"
)

var tracer = otel.Tracer("github.com/dmitrijs2005/photoimport/internal/ingest/dam")

// Result is the outcome of one logical call, possibly spanning several attempts.
// Err is set only for transport failures; HTTP error statuses are in Status.
type Result struct {
	Endpoint string
	Status   int
	Body     string
	Attempts int
	Err      error
}

// OK reports a 2xx response.
func (r Result) OK() bool {
	return r.Err == nil && r.Status >= 200 && r.Status < 300
}

// Placeholder is the descriptive payload of the create-asset call.
type Placeholder struct {
	FileName   string
	ImportedBy string
	DeviceTag  string
	ImportedAt time.Time
}

type importSource struct {
	FileName         string `json:"fileName"`
	ImportedOnDevice string `json:"importedOnDevice"`
	ImportedBy       string `json:"importedBy"`
	ImportTimestamp  string `json:"importTimestamp"`
}

type assetPayload struct {
	UserCreated  string       `json:"userCreated"`
	UserUpdated  string       `json:"userUpdated"`
	CaptureDate  string       `json:"captureDate"`
	ImportSource importSource `json:"importSource"`
}

type createAssetBody struct {
	Subtype string       `json:"subtype"`
	Payload assetPayload `json:"payload"`
}

// Source opens the upload body. It is called once per attempt, starting at 1.
type Source func(attempt int) (io.ReadCloser, error)

type Client struct {
	baseURL    string
	catalogID  string
	http       *http.Client
	recorder   audit.Recorder
	attempts   int
	newBackOff func() backoff.BackOff
	clock      clockx.Clock
	logger     logging.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithUploadAttempts bounds upload attempts (minimum 1).
func WithUploadAttempts(n int) Option {
	return func(cl *Client) {
		if n > 0 {
			cl.attempts = n
		}
	}
}

func WithBackOff(f func() backoff.BackOff) Option {
	return func(cl *Client) { cl.newBackOff = f }
}

func WithClock(c clockx.Clock) Option {
	return func(cl *Client) { cl.clock = c }
}

func NewClient(baseURL, catalogID string, recorder audit.Recorder, logger logging.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:   baseURL,
		catalogID: catalogID,
		http:      http.DefaultClient,
		recorder:  recorder,
		attempts:  3,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxElapsedTime = 0
			return b
		},
		clock:  clockx.RealClock{},
		logger: logger.With("module", "dam"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) assetURL(assetID string) string {
	return fmt.Sprintf("%s/v2/catalogs/%s/assets/%s", c.baseURL, url.PathEscape(c.catalogID), url.PathEscape(assetID))
}

// CreatePlaceholder establishes the asset identity before any bytes are sent.
// The call is not idempotent and is attempted exactly once.
func (c *Client) CreatePlaceholder(ctx context.Context, assetID string, p Placeholder, creds models.CredentialSet) Result {
	ctx, span := tracer.Start(ctx, "dam.CreatePlaceholder", trace.WithAttributes(attribute.String("asset_id", assetID)))
	defer span.End()

	now := p.ImportedAt
	if now.IsZero() {
		now = c.clock.Now()
	}
	ts := now.UTC().Format("2006-01-02T15:04:05.000Z")

	body, err := json.Marshal(createAssetBody{
		Subtype: "image",
		Payload: assetPayload{
			UserCreated: ts,
			UserUpdated: ts,
			CaptureDate: unknownCaptureDate,
			ImportSource: importSource{
				FileName:         p.FileName,
				ImportedOnDevice: p.DeviceTag,
				ImportedBy:       p.ImportedBy,
				ImportTimestamp:  ts,
			},
		},
	})
	if err != nil {
		return Result{Endpoint: common.EndpointCreateAsset, Err: err}
	}

	res := c.do(ctx, common.EndpointCreateAsset, assetID, c.assetURL(assetID), "application/json",
		bytes.NewReader(body), int64(len(body)), creds)
	res.Attempts = 1
	finishSpan(span, res)
	return res
}

// UploadOriginal streams exactly length bytes from src to the asset's
// original-bytes endpoint. Transport failures, 5xx and 429 responses are
// retried up to the configured attempt count, reopening src each time.
func (c *Client) UploadOriginal(ctx context.Context, assetID string, src Source, length int64, creds models.CredentialSet) Result {
	ctx, span := tracer.Start(ctx, "dam.UploadOriginal", trace.WithAttributes(
		attribute.String("asset_id", assetID),
		attribute.Int64("length", length)))
	defer span.End()

	var res Result
	attempt := 0

	op := func() error {
		attempt++
		body, err := src(attempt)
		if err != nil {
			res = Result{Endpoint: common.EndpointCreateAssetOriginal, Err: fmt.Errorf("open source: %w", err)}
			return backoff.Permanent(res.Err)
		}
		defer body.Close()

		counted := &exactReader{r: body, want: length}
		res = c.do(ctx, common.EndpointCreateAssetOriginal, assetID, c.assetURL(assetID)+"/master",
			"application/octet-stream", counted, length, creds)

		if counted.mismatch() {
			res.Err = &common.TransportError{
				Endpoint: common.EndpointCreateAssetOriginal,
				Err:      fmt.Errorf("%w: declared %d, read %d", common.ErrLengthMismatch, length, counted.n),
			}
			return backoff.Permanent(res.Err)
		}
		if retryable(res) {
			c.logger.Warn(ctx, "upload attempt failed", "asset_id", assetID, "attempt", attempt, "status", res.Status, "error", res.Err)
			return errRetry
		}
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(c.attempts-1)), ctx)
	_ = backoff.Retry(op, b)

	res.Attempts = attempt
	span.SetAttributes(attribute.Int("attempts", attempt))
	finishSpan(span, res)
	return res
}

var errRetry = errors.New("retryable upload failure")

func retryable(r Result) bool {
	return r.Err != nil || r.Status >= 500 || r.Status == http.StatusTooManyRequests
}

// do performs one attempt and records exactly one ApiCall for it.
func (c *Client) do(ctx context.Context, endpoint, assetID, target, contentType string, body io.Reader, length int64, creds models.CredentialSet) Result {
	res := Result{Endpoint: endpoint}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, body)
	if err != nil {
		res.Err = fmt.Errorf("build %s request: %w", endpoint, err)
		c.record(ctx, endpoint, assetID, res)
		return res
	}
	req.ContentLength = length
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	req.Header.Set("X-Api-Key", creds.APIKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		res.Err = &common.TransportError{Endpoint: endpoint, Err: err}
		c.record(ctx, endpoint, assetID, res)
		return res
	}
	defer resp.Body.Close()

	res.Status = resp.StatusCode
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	res.Body = string(data)
	if err != nil {
		res.Err = &common.TransportError{Endpoint: endpoint, Err: err}
	}
	c.record(ctx, endpoint, assetID, res)
	return res
}

func (c *Client) record(ctx context.Context, endpoint, assetID string, res Result) {
	call := models.ApiCall{
		Endpoint:       endpoint,
		Catalog:        c.catalogID,
		AssetID:        assetID,
		ResponseStatus: res.Status,
		ResponseBody:   res.Body,
	}
	if res.Err != nil && res.Status == 0 {
		call.ResponseBody = res.Err.Error()
	}
	c.recorder.Record(ctx, call)
}

func finishSpan(span trace.Span, r Result) {
	span.SetAttributes(attribute.Int("http.status_code", r.Status))
	if !r.OK() {
		msg := fmt.Sprintf("status %d", r.Status)
		if r.Err != nil {
			span.RecordError(r.Err)
			msg = r.Err.Error()
		}
		span.SetStatus(codes.Error, msg)
	}
}

// exactReader counts bytes and fails the body once it over- or under-runs the
// declared length.
type exactReader struct {
	r    io.Reader
	want int64
	n    int64
	bad  bool
}

func (e *exactReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	e.n += int64(n)
	if e.n > e.want || (errors.Is(err, io.EOF) && e.n != e.want) {
		e.bad = true
		return n, common.ErrLengthMismatch
	}
	return n, err
}

func (e *exactReader) mismatch() bool { return e.bad }
