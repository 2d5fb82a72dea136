package assets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/photoimport/internal/common"
	"github.com/dmitrijs2005/photoimport/internal/dbx"
	"github.com/dmitrijs2005/photoimport/internal/ingest/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const recordColumns = `path, asset_id, file_name, camera_make, camera_model, camera_serial,
		 captured_at, thumbnail, upload_started_at, upload_finished_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner, extra ...any) (*models.AssetRecord, error) {
	var (
		assetID, fileName, camMake, model, serial, thumb sql.NullString
		captured, started, finished                    sql.NullTime
	)
	rec := &models.AssetRecord{}
	dest := []any{&rec.Path, &assetID, &fileName, &camMake, &model, &serial,
		&captured, &thumb, &started, &finished, &rec.UpdatedAt}
	dest = append(dest, extra...)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	rec.AssetID = assetID.String
	rec.FileName = fileName.String
	rec.CameraMake = camMake.String
	rec.CameraModel = model.String
	rec.CameraSerial = serial.String
	rec.Thumbnail = thumb.String
	rec.CapturedAt = timePtr(captured)
	rec.UploadStartedAt = timePtr(started)
	rec.UploadFinishedAt = timePtr(finished)
	return rec, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func (r *PostgresRepository) Get(ctx context.Context, path string) (*models.AssetRecord, error) {
	query :=
		`SELECT ` + recordColumns + `
		 FROM asset_records
		 WHERE path = $1
		 `

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, path))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) Merge(ctx context.Context, rec *models.AssetRecord) (*models.AssetRecord, error) {
	query :=
		`INSERT INTO asset_records (path, asset_id, file_name, camera_make, camera_model, camera_serial,
		     captured_at, thumbnail, upload_started_at, upload_finished_at, updated_at)
		 VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''),
		     $7, NULLIF($8, ''), $9, $10, now())
		 ON CONFLICT (path) DO UPDATE SET
		     asset_id           = COALESCE(asset_records.asset_id, EXCLUDED.asset_id),
		     file_name          = COALESCE(EXCLUDED.file_name, asset_records.file_name),
		     camera_make        = COALESCE(EXCLUDED.camera_make, asset_records.camera_make),
		     camera_model       = COALESCE(EXCLUDED.camera_model, asset_records.camera_model),
		     camera_serial      = COALESCE(EXCLUDED.camera_serial, asset_records.camera_serial),
		     captured_at        = COALESCE(EXCLUDED.captured_at, asset_records.captured_at),
		     thumbnail          = COALESCE(EXCLUDED.thumbnail, asset_records.thumbnail),
		     upload_started_at  = COALESCE(EXCLUDED.upload_started_at, asset_records.upload_started_at),
		     upload_finished_at = COALESCE(EXCLUDED.upload_finished_at, asset_records.upload_finished_at),
		     updated_at         = now()
		 RETURNING ` + recordColumns + `
		 `

	merged, err := scanRecord(r.db.QueryRowContext(ctx, query,
		rec.Path, rec.AssetID, rec.FileName, rec.CameraMake, rec.CameraModel, rec.CameraSerial,
		rec.CapturedAt, rec.Thumbnail, rec.UploadStartedAt, rec.UploadFinishedAt))
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return merged, nil
}

func (r *PostgresRepository) CameraSummaries(ctx context.Context, since time.Time) ([]models.CameraSummary, error) {
	query :=
		`SELECT DISTINCT ON (r.camera_serial) ` + recordColumns + `,
		     (SELECT COUNT(*) FROM asset_records c
		      WHERE c.camera_serial = r.camera_serial AND c.updated_at > $1) AS recent
		 FROM asset_records r
		 WHERE r.camera_serial IS NOT NULL
		 ORDER BY r.camera_serial, r.updated_at DESC
		 `

	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	summaries := make([]models.CameraSummary, 0)
	for rows.Next() {
		var count int64
		rec, err := scanRecord(rows, &count)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		summaries = append(summaries, models.CameraSummary{Latest: *rec, Count: count})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return summaries, nil
}
