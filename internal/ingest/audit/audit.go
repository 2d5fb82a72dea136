// Package audit appends ApiCall entries for every remote call attempt.
package audit

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dmitrijs2005/photoimport/internal/clockx"
	"github.com/dmitrijs2005/photoimport/internal/ingest/metrics"
	"github.com/dmitrijs2005/photoimport/internal/ingest/models"
	"github.com/dmitrijs2005/photoimport/internal/ingest/repositories/apicalls"
	"github.com/dmitrijs2005/photoimport/internal/logging"
)

// MaxBodyBytes caps the stored response body.
const MaxBodyBytes = 8 * 1024

// Recorder is what remote-call clients depend on.
type Recorder interface {
	Record(ctx context.Context, call models.ApiCall)
}

// Log stamps entries with the current time and retention window and persists
// them. Persistence failures are logged, never returned: the remote call has
// already happened and its outcome must not be changed by the audit trail.
type Log struct {
	repo      apicalls.Repository
	clock     clockx.Clock
	retention time.Duration
	metrics   *metrics.Metrics
	logger    logging.Logger
}

func NewLog(repo apicalls.Repository, clock clockx.Clock, retention time.Duration, m *metrics.Metrics, logger logging.Logger) *Log {
	return &Log{
		repo:      repo,
		clock:     clock,
		retention: retention,
		metrics:   m,
		logger:    logger.With("module", "audit"),
	}
}

func (l *Log) Record(ctx context.Context, call models.ApiCall) {
	call.RecordedAt = l.clock.Now()
	call.ExpiresAt = call.RecordedAt.Add(l.retention)
	call.ResponseBody = storableBody(call.ResponseBody)

	l.metrics.ApiCall(call.Endpoint, call.ResponseStatus)

	if err := l.repo.Record(ctx, &call); err != nil {
		l.logger.Error(ctx, "api call not recorded",
			"endpoint", call.Endpoint, "asset_id", call.AssetID, "status", call.ResponseStatus, "error", err)
	}
}

// storableBody makes body acceptable to a TEXT column: invalid UTF-8 and NUL
// bytes are dropped and the result is cut to MaxBodyBytes on a rune boundary.
func storableBody(body string) string {
	body = strings.ReplaceAll(strings.ToValidUTF8(body, ""), "\x00", "")
	if len(body) <= MaxBodyBytes {
		return body
	}
	cut := MaxBodyBytes
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut]
}

// Purge removes expired entries and returns how many were deleted.
func (l *Log) Purge(ctx context.Context) (int64, error) {
	return l.repo.PurgeExpired(ctx, l.clock.Now())
}

// Janitor calls Purge every interval until ctx is done.
func (l *Log) Janitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		l.logger.Warn(ctx, "janitor disabled", "interval", interval)
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := l.Purge(ctx)
			if err != nil {
				l.logger.Warn(ctx, "purge failed", "error", err)
				continue
			}
			if n > 0 {
				l.logger.Info(ctx, "expired api calls purged", "count", n)
			}
		}
	}
}
