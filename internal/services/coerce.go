package services

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tbourn/go-filemeta-harvester/internal/domain"
)

// descriptor keys as sent by the resolution service
const (
	keyName            = "name"
	keyLink            = "link"
	keySize            = "size"
	keyMimeType        = "mime_type"
	keyExt             = "ext"
	keyChecksumValue   = "checksum_value"
	keyChecksumType    = "checksum_type"
	keyAccessRequest   = "access_request"
	keyPublicationDate = "publication_date"
	keyEmbargo         = "embargo"
	keyFilePID         = "file_pid"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// coerceFile converts a loosely typed descriptor into a FileUpdate. Values
// that cannot be converted are dropped, never reported. The dataset PID is
// always the stripped identifier being processed.
func coerceFile(desc map[string]any, datasetPID string) domain.FileUpdate {
	u := domain.FileUpdate{
		DatasetPID:      &datasetPID,
		Name:            asString(desc[keyName]),
		Link:            asString(desc[keyLink]),
		Size:            asInt64(desc[keySize]),
		MimeType:        asString(desc[keyMimeType]),
		Ext:             asString(desc[keyExt]),
		ChecksumValue:   asString(desc[keyChecksumValue]),
		ChecksumType:    asString(desc[keyChecksumType]),
		AccessRequest:   asBool(desc[keyAccessRequest]),
		PublicationDate: asTime(desc[keyPublicationDate]),
		Embargo:         asTime(desc[keyEmbargo]),
		FilePID:         asString(desc[keyFilePID]),
	}
	return u
}

func asString(v any) *string {
	switch x := v.(type) {
	case string:
		return &x
	case json.Number:
		s := x.String()
		return &s
	}
	return nil
}

func asInt64(v any) *int64 {
	var n int64
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			n = i
		} else if f, err := x.Float64(); err == nil && isWhole(f) {
			n = int64(f)
		} else {
			return nil
		}
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return nil
		}
		n = i
	case float64:
		if !isWhole(x) {
			return nil
		}
		n = int64(x)
	case int:
		n = int64(x)
	case int64:
		n = x
	default:
		return nil
	}
	return &n
}

func isWhole(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f == math.Trunc(f) &&
		f >= math.MinInt64 && f < math.MaxInt64
}

func asBool(v any) *bool {
	switch x := v.(type) {
	case bool:
		return &x
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return nil
		}
		return &b
	}
	return nil
}

// asTime accepts RFC 3339 and naive date or date-time strings. Naive values
// are taken as UTC.
func asTime(v any) *time.Time {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
