package models

import "time"

// ApiCall is one audit entry per remote call attempt. Entries are append-only.
type ApiCall struct {
	ID             int64
	Endpoint       string
	Catalog        string
	AssetID        string
	ResponseStatus int
	ResponseBody   string
	RecordedAt     time.Time
	ExpiresAt      time.Time
}

// Failed reports whether the call counts toward failure statistics.
// Status 0 marks a transport failure (no response received).
func (c ApiCall) Failed() bool {
	return c.ResponseStatus == 0 || c.ResponseStatus > 201
}

// FailureStats aggregates unexpired failed calls.
type FailureStats struct {
	Failures   int64
	ByEndpoint map[string]int64
}
