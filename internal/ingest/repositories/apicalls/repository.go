// Package apicalls stores the append-only audit trail of remote calls.
package apicalls

import (
	"context"
	"time"

	"github.com/dmitrijs2005/photoimport/internal/ingest/models"
)

type Repository interface {
	Record(ctx context.Context, call *models.ApiCall) error
	// FailureStats counts unexpired failed calls (status 0 or > 201).
	FailureStats(ctx context.Context, now time.Time) (*models.FailureStats, error)
	// PurgeExpired deletes entries whose retention has elapsed.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
