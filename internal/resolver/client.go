// Package resolver is the client side of the metadata resolution service:
// given a stripped dataset identifier it returns the raw metadata document
// and the dataset's loosely typed file descriptors.
package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrDatasetNotFound is returned when the service does not know the dataset.
	ErrDatasetNotFound = errors.New("resolver: dataset not found")
	// ErrUnexpectedStatus wraps any other non-2xx response.
	ErrUnexpectedStatus = errors.New("resolver: unexpected status")
)

// Resolution is the outcome of resolving one dataset. Raw is kept verbatim;
// Files hold descriptors whose numbers decode as json.Number.
type Resolution struct {
	Raw   json.RawMessage  `json:"raw_metadata"`
	Files []map[string]any `json:"files"`
}

// Resolver turns a stripped dataset identifier into a Resolution.
type Resolver interface {
	Resolve(ctx context.Context, pid string) (*Resolution, error)
}

// Options tune a Client. Zero values select defaults.
type Options struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	RPS        float64
	UserAgent  string
}

// Client calls GET {base}/resolve?pid=<pid>.
type Client struct {
	base      string
	http      *http.Client
	limiter   *rate.Limiter
	userAgent string
}

// New returns a Client for the service rooted at baseURL.
func New(baseURL string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	c := &Client{
		base:      strings.TrimRight(baseURL, "/"),
		http:      hc,
		userAgent: opts.UserAgent,
	}
	if opts.RPS > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RPS), 1)
	}
	return c
}

// Resolve fetches the raw document and file descriptors of pid.
func (c *Client) Resolve(ctx context.Context, pid string) (*Resolution, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	u := c.base + "/resolve?" + url.Values{"pid": {pid}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", pid, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, pid)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w %d for %s: %s", ErrUnexpectedStatus, resp.StatusCode, pid, bytes.TrimSpace(snippet))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: read body: %w", pid, err)
	}
	res, err := decodeResolution(body)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", pid, err)
	}
	return res, nil
}

func decodeResolution(b []byte) (*Resolution, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var res Resolution
	if err := dec.Decode(&res); err != nil {
		return nil, fmt.Errorf("decode resolution: %w", err)
	}
	return &res, nil
}
