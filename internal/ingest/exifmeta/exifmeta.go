// Package exifmeta extracts capture metadata from the head of an image file.
package exifmeta

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/photoimport/internal/common"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
)

// BodySerialNumber is EXIF 2.3 tag 0xA431, which goexif does not map itself.
const BodySerialNumber exif.FieldName = "BodySerialNumber"

const exifDateLayout = "2006:01:02 15:04:05"

func init() {
	exif.RegisterParsers(serialParser{})
}

// serialParser loads the EXIF 2.3 tags missing from goexif's field map out of
// the Exif sub-IFD.
type serialParser struct{}

var extraExifFields = map[uint16]exif.FieldName{
	0xA431: BodySerialNumber,
}

func (serialParser) Parse(x *exif.Exif) error {
	ptr, err := x.Get(exif.ExifIFDPointer)
	if err != nil {
		return nil
	}
	offset, err := ptr.Int64(0)
	if err != nil {
		return nil
	}
	r := bytes.NewReader(x.Raw)
	if _, err := r.Seek(offset, 0); err != nil {
		return nil
	}
	dir, _, err := tiff.DecodeDir(r, x.Tiff.Order)
	if err != nil {
		return nil
	}
	x.LoadTags(dir, extraExifFields, false)
	return nil
}

// Metadata is the subset of embedded metadata the pipeline records.
// Fields holds every decoded tag as an opaque name → value map.
type Metadata struct {
	Make             string
	Model            string
	BodySerialNumber string
	DateTimeOriginal string
	Thumbnail        []byte
	Fields           map[string]string
}

// Extract decodes EXIF from prefix, which may be a truncated head of the file.
// It fails with *common.MetadataParseError when no EXIF block is found.
func Extract(prefix []byte) (*Metadata, error) {
	x, err := exif.Decode(bytes.NewReader(prefix))
	if x == nil || (err != nil && exif.IsCriticalError(err)) {
		if err == nil {
			err = fmt.Errorf("no exif data")
		}
		return nil, &common.MetadataParseError{Err: err}
	}

	m := &Metadata{
		Make:             stringTag(x, exif.Make),
		Model:            stringTag(x, exif.Model),
		BodySerialNumber: stringTag(x, BodySerialNumber),
		DateTimeOriginal: stringTag(x, exif.DateTimeOriginal),
		Fields:           map[string]string{},
	}
	if m.DateTimeOriginal == "" {
		m.DateTimeOriginal = stringTag(x, exif.DateTime)
	}
	if thumb, err := x.JpegThumbnail(); err == nil {
		m.Thumbnail = thumb
	}
	_ = x.Walk(walkFunc(func(name exif.FieldName, tag *tiff.Tag) error {
		m.Fields[string(name)] = tag.String()
		return nil
	}))

	return m, nil
}

// CapturedAt interprets DateTimeOriginal (which carries no zone) in loc.
func (m *Metadata) CapturedAt(loc *time.Location) *time.Time {
	if m == nil || m.DateTimeOriginal == "" {
		return nil
	}
	t, err := time.ParseInLocation(exifDateLayout, m.DateTimeOriginal, loc)
	if err != nil {
		return nil
	}
	return &t
}

// ThumbnailBase64 returns the embedded preview, base64-encoded, or "".
func (m *Metadata) ThumbnailBase64() string {
	if m == nil || len(m.Thumbnail) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(m.Thumbnail)
}

func stringTag(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

type walkFunc func(exif.FieldName, *tiff.Tag) error

func (f walkFunc) Walk(name exif.FieldName, tag *tiff.Tag) error {
	return f(name, tag)
}
