package models

import (
	"path"
	"strings"
	"time"
)

// Notification is a storage arrival event for one object.
// Size 0 is the pre-upload marker, size > 0 the payload itself.
type Notification struct {
	Bucket           string
	Name             string
	Size             int64
	ETag             string
	ArrivalTimestamp time.Time
	Metadata         map[string]string
}

// IsMarker reports whether the event is the zero-byte pre-upload marker.
func (n Notification) IsMarker() bool {
	return n.Size == 0
}

// HasExtension reports whether the object name looks like a file rather than
// a directory placeholder.
func (n Notification) HasExtension() bool {
	if n.Name == "" || strings.HasSuffix(n.Name, "/") {
		return false
	}
	base := path.Base(n.Name)
	return strings.Index(base, ".") > 0
}

// FileName is the last path element of the object name.
func (n Notification) FileName() string {
	return path.Base(n.Name)
}
