package oai

import (
	"errors"
	"fmt"
	"time"
)

// DatestampLayout is the canonical datestamp form, "YYYY-MM-DDTHH:MM:SSZ".
const DatestampLayout = "2006-01-02T15:04:05Z"

// DayLayout is the day-granularity form used for from/until arguments.
const DayLayout = "2006-01-02"

// ErrMalformedDatestamp is returned for a datestamp in neither day nor
// seconds granularity.
var ErrMalformedDatestamp = errors.New("oai: malformed datestamp")

// NormalizeDatestamp converts a day- or seconds-granularity UTC datestamp to
// the canonical form. Any other format is an error; nothing is guessed.
func NormalizeDatestamp(s string) (string, error) {
	t, err := ParseDatestamp(s)
	if err != nil {
		return "", err
	}
	return t.Format(DatestampLayout), nil
}

// ParseDatestamp parses a day- or seconds-granularity UTC datestamp.
func ParseDatestamp(s string) (time.Time, error) {
	for _, layout := range []string{DayLayout, DatestampLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrMalformedDatestamp, s)
}

// Day truncates t to the day-granularity argument form.
func Day(t time.Time) string { return t.UTC().Format(DayLayout) }
