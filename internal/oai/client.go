// Package oai implements the subset of the OAI-PMH 2.0 protocol the harvester
// needs: Identify, ListMetadataFormats and ListIdentifiers with resumption
// tokens. A Client is bound to one endpoint and one metadata prefix, and is
// only constructed when the endpoint advertises that prefix.
package oai

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ErrPrefixNotSupported is returned by New when the endpoint does not list
// the requested metadata prefix.
var ErrPrefixNotSupported = errors.New("oai: metadata prefix not supported")

// Error is a protocol-level error reported in an OAI-PMH response.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return "oai: " + e.Code
	}
	return fmt.Sprintf("oai: %s: %s", e.Code, e.Message)
}

// CodeNoRecordsMatch signals an empty selective harvest; it is not a failure.
const CodeNoRecordsMatch = "noRecordsMatch"

// Identity is the Identify response of a repository.
type Identity struct {
	RepositoryName    string   `json:"repository_name"`
	BaseURL           string   `json:"base_url"`
	ProtocolVersion   string   `json:"protocol_version"`
	EarliestDatestamp string   `json:"earliest_datestamp"`
	DeletedRecord     string   `json:"deleted_record"`
	Granularity       string   `json:"granularity"`
	AdminEmails       []string `json:"admin_emails,omitempty"`
}

// MetadataFormat is one entry of ListMetadataFormats.
type MetadataFormat struct {
	Prefix    string
	Schema    string
	Namespace string
}

// Header is one identifier reported by ListIdentifiers. Datestamp is always
// in canonical form (see NormalizeDatestamp).
type Header struct {
	Identifier string
	Datestamp  string
	Deleted    bool
	SetSpecs   []string
}

// Options tune a Client. Zero values select defaults.
type Options struct {
	HTTPClient *http.Client  // defaults to a client with Timeout
	Timeout    time.Duration // per request, default 60s
	RPS        float64       // request rate limit; 0 disables
	UserAgent  string
}

// Client talks to a single OAI-PMH endpoint for a single metadata prefix.
type Client struct {
	baseURL   string
	prefix    string
	http      *http.Client
	limiter   *rate.Limiter
	userAgent string

	formats []MetadataFormat
}

// New returns a Client after confirming that baseURL supports prefix. The
// capability check is the only request made.
func New(ctx context.Context, baseURL, prefix string, opts Options) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	c := &Client{
		baseURL:   baseURL,
		prefix:    prefix,
		http:      hc,
		userAgent: opts.UserAgent,
	}
	if opts.RPS > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RPS), 1)
	}

	formats, err := c.ListMetadataFormats(ctx)
	if err != nil {
		return nil, fmt.Errorf("list metadata formats of %s: %w", baseURL, err)
	}
	c.formats = formats
	for _, f := range formats {
		if f.Prefix == prefix {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %q is not advertised by %s", ErrPrefixNotSupported, prefix, baseURL)
}

// Prefix returns the metadata prefix the client harvests.
func (c *Client) Prefix() string { return c.prefix }

// Formats returns the metadata formats advertised at construction.
func (c *Client) Formats() []MetadataFormat { return c.formats }

// Identify performs the Identify verb.
func (c *Client) Identify(ctx context.Context) (*Identity, error) {
	env, err := c.do(ctx, url.Values{"verb": {"Identify"}})
	if err != nil {
		return nil, err
	}
	if env.Identify == nil {
		return nil, errors.New("oai: Identify response without payload")
	}
	x := env.Identify
	return &Identity{
		RepositoryName:    strings.TrimSpace(x.RepositoryName),
		BaseURL:           strings.TrimSpace(x.BaseURL),
		ProtocolVersion:   strings.TrimSpace(x.ProtocolVersion),
		EarliestDatestamp: strings.TrimSpace(x.EarliestDatestamp),
		DeletedRecord:     strings.TrimSpace(x.DeletedRecord),
		Granularity:       strings.TrimSpace(x.Granularity),
		AdminEmails:       x.AdminEmails,
	}, nil
}

// ListMetadataFormats performs the ListMetadataFormats verb.
func (c *Client) ListMetadataFormats(ctx context.Context) ([]MetadataFormat, error) {
	env, err := c.do(ctx, url.Values{"verb": {"ListMetadataFormats"}})
	if err != nil {
		return nil, err
	}
	if env.ListMetadataFormats == nil {
		return nil, errors.New("oai: ListMetadataFormats response without payload")
	}
	out := make([]MetadataFormat, 0, len(env.ListMetadataFormats.Formats))
	for _, f := range env.ListMetadataFormats.Formats {
		out = append(out, MetadataFormat{
			Prefix:    strings.TrimSpace(f.Prefix),
			Schema:    strings.TrimSpace(f.Schema),
			Namespace: strings.TrimSpace(f.Namespace),
		})
	}
	return out, nil
}

// ListIdentifiers lazily yields every header in [from, until]. Empty bounds
// are omitted from the request. Resumption tokens are followed as the
// sequence is consumed; stopping early issues no further requests. The
// sequence cannot be resumed mid-stream: re-issue the call instead.
//
// Errors are yielded once and end the sequence. A noRecordsMatch response is
// an empty sequence.
func (c *Client) ListIdentifiers(ctx context.Context, from, until string) iter.Seq2[Header, error] {
	return func(yield func(Header, error) bool) {
		params := url.Values{"verb": {"ListIdentifiers"}, "metadataPrefix": {c.prefix}}
		if from != "" {
			params.Set("from", from)
		}
		if until != "" {
			params.Set("until", until)
		}

		for {
			env, err := c.do(ctx, params)
			if err != nil {
				var oaiErr *Error
				if errors.As(err, &oaiErr) && oaiErr.Code == CodeNoRecordsMatch {
					return
				}
				yield(Header{}, err)
				return
			}
			if env.ListIdentifiers == nil {
				yield(Header{}, errors.New("oai: ListIdentifiers response without payload"))
				return
			}

			for _, h := range env.ListIdentifiers.Headers {
				id := strings.TrimSpace(h.Identifier)
				ds, err := NormalizeDatestamp(strings.TrimSpace(h.Datestamp))
				if err != nil {
					yield(Header{}, fmt.Errorf("identifier %q: %w", id, err))
					return
				}
				hdr := Header{
					Identifier: id,
					Datestamp:  ds,
					Deleted:    h.Status == "deleted",
					SetSpecs:   h.SetSpecs,
				}
				if !yield(hdr, nil) {
					return
				}
			}

			tok := env.ListIdentifiers.Token
			if tok == nil || strings.TrimSpace(tok.Value) == "" {
				return
			}
			params = url.Values{"verb": {"ListIdentifiers"}, "resumptionToken": {strings.TrimSpace(tok.Value)}}
		}
	}
}

// do issues one GET request and decodes the OAI-PMH envelope. Protocol
// errors in the envelope are returned as *Error.
func (c *Client) do(ctx context.Context, params url.Values) (*envelope, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("oai: bad endpoint url: %w", err)
	}
	q := u.Query()
	for k, vs := range params {
		q[k] = vs
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/xml, application/xml")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oai: %s: %w", params.Get("verb"), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("oai: read response: %w", err)
	}

	var env envelope
	decErr := xml.Unmarshal(body, &env)
	if decErr == nil && len(env.Errors) > 0 {
		e := env.Errors[0]
		return nil, &Error{Code: strings.TrimSpace(e.Code), Message: strings.TrimSpace(e.Message)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("oai: %s: unexpected status %d", params.Get("verb"), resp.StatusCode)
	}
	if decErr != nil {
		return nil, fmt.Errorf("oai: decode %s response: %w", params.Get("verb"), decErr)
	}
	return &env, nil
}
