// Package status serves the read-only operational surface: token lifetime,
// remote-call failure counts and per-camera activity.
package status

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/dmitrijs2005/photoimport/internal/clockx"
	"github.com/dmitrijs2005/photoimport/internal/ingest/credentials"
	"github.com/dmitrijs2005/photoimport/internal/ingest/models"
	"github.com/dmitrijs2005/photoimport/internal/ingest/repositories/apicalls"
	"github.com/dmitrijs2005/photoimport/internal/ingest/repositories/assets"
	"github.com/dmitrijs2005/photoimport/internal/logging"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

// SummaryWindow is how far back camera activity is counted.
const SummaryWindow = 12 * time.Hour

type Credentials interface {
	Status(ctx context.Context) (models.TokenStatus, error)
	ExchangeCode(ctx context.Context, code string) (credentials.TokenPair, error)
}

type Handler struct {
	creds       Credentials
	calls       apicalls.Repository
	assets      assets.Repository
	gatherer    prometheus.Gatherer
	redirectURL string
	clock       clockx.Clock
	logger      logging.Logger
}

func NewHandler(creds Credentials, calls apicalls.Repository, records assets.Repository, gatherer prometheus.Gatherer, redirectURL string, clock clockx.Clock, logger logging.Logger) *Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Handler{
		creds:       creds,
		calls:       calls,
		assets:      records,
		gatherer:    gatherer,
		redirectURL: redirectURL,
		clock:       clock,
		logger:      logger.With("module", "status"),
	}
}

// Router mounts every route of the status surface.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	r.HandleFunc("/status/data", h.preflight).Methods(http.MethodOptions)
	r.Handle("/status/data", otelhttp.NewHandler(http.HandlerFunc(h.data), "GET /status/data")).Methods(http.MethodGet)
	r.Handle("/status/callback", otelhttp.NewHandler(http.HandlerFunc(h.callback), "GET /status/callback")).Methods(http.MethodGet)

	return r
}

func (h *Handler) preflight(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Max-Age", "3600")
	w.WriteHeader(http.StatusNoContent)
}

type apiStats struct {
	Failures   int64            `json:"failures"`
	ByEndpoint map[string]int64 `json:"by_endpoint"`
}

type cameraSummary struct {
	Serial         string     `json:"serial"`
	Make           string     `json:"make,omitempty"`
	Model          string     `json:"model,omitempty"`
	Count          int64      `json:"count"`
	LastPath       string     `json:"last_path"`
	LastFileName   string     `json:"last_file_name,omitempty"`
	LastCapturedAt *time.Time `json:"last_captured_at,omitempty"`
	LastUploadedAt *time.Time `json:"last_uploaded_at,omitempty"`
	LastThumbnail  string     `json:"last_thumbnail,omitempty"`
}

type statusResponse struct {
	AccessExpiresIn  int64           `json:"access_expires_in"`
	RefreshExpiresIn int64           `json:"refresh_expires_in"`
	AccessExpired    bool            `json:"access_expired"`
	RefreshExpired   bool            `json:"refresh_expired"`
	APIStats         apiStats        `json:"api_stats"`
	CameraSummaries  []cameraSummary `json:"camera_summaries"`
}

func (h *Handler) data(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	w.Header().Set("Access-Control-Allow-Origin", "*")

	now := h.clock.Now()
	var (
		tokens    models.TokenStatus
		stats     *models.FailureStats
		summaries []models.CameraSummary
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		tokens, err = h.creds.Status(gctx)
		return err
	})
	g.Go(func() (err error) {
		stats, err = h.calls.FailureStats(gctx, now)
		return err
	})
	g.Go(func() (err error) {
		summaries, err = h.assets.CameraSummaries(gctx, now.Add(-SummaryWindow))
		return err
	})
	if err := g.Wait(); err != nil {
		h.logger.Error(ctx, "status data unavailable", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if stats == nil {
		stats = &models.FailureStats{}
	}
	resp := statusResponse{
		AccessExpiresIn:  tokens.AccessExpiresInMs,
		RefreshExpiresIn: tokens.RefreshExpiresInMs,
		AccessExpired:    tokens.AccessExpired,
		RefreshExpired:   tokens.RefreshExpired,
		APIStats:         apiStats{Failures: stats.Failures, ByEndpoint: stats.ByEndpoint},
		CameraSummaries:  make([]cameraSummary, 0, len(summaries)),
	}
	if resp.APIStats.ByEndpoint == nil {
		resp.APIStats.ByEndpoint = map[string]int64{}
	}
	for _, s := range summaries {
		resp.CameraSummaries = append(resp.CameraSummaries, cameraSummary{
			Serial:         s.Latest.CameraSerial,
			Make:           s.Latest.CameraMake,
			Model:          s.Latest.CameraModel,
			Count:          s.Count,
			LastPath:       s.Latest.Path,
			LastFileName:   s.Latest.FileName,
			LastCapturedAt: s.Latest.CapturedAt,
			LastUploadedAt: s.Latest.UploadFinishedAt,
			LastThumbnail:  s.Latest.Thumbnail,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error(ctx, "write status response", "error", err)
	}
}

// callback completes the authorization-code flow and hands the id token to
// the status page.
func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing code", http.StatusBadRequest)
		return
	}

	pair, err := h.creds.ExchangeCode(ctx, code)
	if err != nil {
		h.logger.Error(ctx, "authorization code exchange failed", "error", err)
		http.Error(w, "authorization failed", http.StatusBadGateway)
		return
	}

	target, err := url.Parse(h.redirectURL)
	if err != nil {
		h.logger.Error(ctx, "bad redirect url", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	q := target.Query()
	q.Set("id_token", pair.IDToken)
	target.RawQuery = q.Encode()

	http.Redirect(w, r, target.String(), http.StatusFound)
}
