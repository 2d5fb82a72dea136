// Package assets stores AssetRecord entries keyed by object path.
package assets

import (
	"context"
	"time"

	"github.com/dmitrijs2005/photoimport/internal/ingest/models"
)

type Repository interface {
	// Get returns the record for path or common.ErrorNotFound.
	Get(ctx context.Context, path string) (*models.AssetRecord, error)
	// Merge upserts rec, keeping stored values wherever rec leaves a field
	// empty. A stored asset_id is never replaced. Returns the merged row.
	Merge(ctx context.Context, rec *models.AssetRecord) (*models.AssetRecord, error)
	// CameraSummaries returns, per camera serial, the latest record and the
	// number of records updated after since.
	CameraSummaries(ctx context.Context, since time.Time) ([]models.CameraSummary, error)
}
