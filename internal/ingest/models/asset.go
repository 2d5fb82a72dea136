// Package models defines the records persisted and exchanged by the ingester.
package models

import "time"

// AssetRecord is the inventory entry for one source object path.
// It is written in two phases (marker, then data) that may arrive in any
// order; nil/empty fields mean "not known yet" and never erase stored values.
type AssetRecord struct {
	// Path is the object key and the stable record key.
	Path string
	// AssetID is the remote asset identifier; once stored it is never replaced.
	AssetID string

	FileName     string
	CameraMake   string
	CameraModel  string
	CameraSerial string
	CapturedAt   *time.Time
	// Thumbnail holds the base64-encoded embedded preview, if any.
	Thumbnail string

	UploadStartedAt  *time.Time
	UploadFinishedAt *time.Time
	UpdatedAt        time.Time
}

// CameraSummary is the most recent record seen for one camera body plus the
// number of records for it inside the summary window.
type CameraSummary struct {
	Latest AssetRecord
	Count  int64
}
