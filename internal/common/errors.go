// Package common defines shared constants and error values used across the
// photoimport components. Callers should use errors.Is / errors.As to match
// these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")

	// Token lifecycle errors.
	ErrInvalidToken = errors.New("invalid token")
	// ErrCredentialsExpired means both the access and the refresh token are
	// past their validity window; only a human re-authorization recovers.
	ErrCredentialsExpired = errors.New("credentials expired")
	ErrRefreshRejected    = errors.New("refresh rejected by identity provider")

	// Streaming errors.
	ErrLengthMismatch = errors.New("declared length does not match transferred bytes")
	// ErrObjectChanged means the stored object no longer matches the
	// notification that announced it.
	ErrObjectChanged = errors.New("object changed since notification")
	ErrObjectRead    = errors.New("object read failed")
)

// TransportError reports a network or streaming failure on a remote call.
// The call produced no usable HTTP response.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error on %s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MetadataParseError reports that no recognizable capture-metadata block
// was found in an object prefix. It is never fatal for an ingestion.
type MetadataParseError struct {
	Err error
}

func (e *MetadataParseError) Error() string {
	return fmt.Sprintf("metadata parse error: %v", e.Err)
}

func (e *MetadataParseError) Unwrap() error { return e.Err }
