package apicalls

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/photoimport/internal/dbx"
	"github.com/dmitrijs2005/photoimport/internal/ingest/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Record(ctx context.Context, call *models.ApiCall) error {
	query :=
		`INSERT INTO api_calls (endpoint, catalog, asset_id, response_status, response_body, recorded_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id
		 `

	err := r.db.QueryRowContext(ctx, query,
		call.Endpoint, call.Catalog, call.AssetID, call.ResponseStatus, call.ResponseBody,
		call.RecordedAt, call.ExpiresAt).Scan(&call.ID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FailureStats(ctx context.Context, now time.Time) (*models.FailureStats, error) {
	query :=
		`SELECT endpoint, COUNT(*) FROM api_calls
		 WHERE (response_status > 201 OR response_status = 0) AND expires_at > $1
		 GROUP BY endpoint
		 ORDER BY endpoint
		 `

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	stats := &models.FailureStats{ByEndpoint: map[string]int64{}}
	for rows.Next() {
		var endpoint string
		var n int64
		if err := rows.Scan(&endpoint, &n); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		stats.ByEndpoint[endpoint] = n
		stats.Failures += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return stats, nil
}

func (r *PostgresRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM api_calls WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
