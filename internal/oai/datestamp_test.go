package oai

import (
	"errors"
	"testing"
	"time"
)

func TestNormalizeDatestamp(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "2023-07-01", want: "2023-07-01T00:00:00Z"},
		{in: "2023-07-01T12:34:56Z", want: "2023-07-01T12:34:56Z"},
		{in: "07/01/2023", wantErr: true},
		{in: "2023-07-01T12:34:56+02:00", wantErr: true},
		{in: "2023-07-01 12:34:56", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range cases {
		got, err := NormalizeDatestamp(tc.in)
		if tc.wantErr {
			if !errors.Is(err, ErrMalformedDatestamp) {
				t.Fatalf("NormalizeDatestamp(%q) err=%v, want ErrMalformedDatestamp", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("NormalizeDatestamp(%q) unexpected err: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("NormalizeDatestamp(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseDatestamp_UTC(t *testing.T) {
	t.Parallel()

	got, err := ParseDatestamp("2023-01-02")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)) || got.Location() != time.UTC {
		t.Fatalf("ParseDatestamp=%v", got)
	}
}

func TestDay(t *testing.T) {
	t.Parallel()

	ts := time.Date(2023, 1, 2, 23, 59, 0, 0, time.UTC)
	if got := Day(ts); got != "2023-01-02" {
		t.Fatalf("Day=%q", got)
	}
}
