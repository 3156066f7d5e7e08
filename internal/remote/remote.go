// Package remote fetches layer datasets from the observatory HTTP API.
package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-observatorio/internal/geodata"
	"github.com/joeblew999/plat-observatorio/internal/service"
)

// MaxBodyBytes caps a single layer payload.
const MaxBodyBytes = 256 << 20

// Client issues one GET per layer against BaseURL + descriptor endpoint.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the request logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 2 * service.DefaultFetchTimeout},
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string { return c.baseURL }

// URL returns the absolute URL for a layer endpoint.
func (c *Client) URL(desc service.LayerDescriptor) string {
	return c.baseURL + "/" + strings.TrimLeft(desc.Endpoint, "/")
}

// Fetch implements service.Fetcher. Transport errors and non-2xx statuses
// wrap service.ErrFetchFailed; undecodable bodies wrap
// geodata.ErrMalformedPayload.
func (c *Client) Fetch(ctx context.Context, desc service.LayerDescriptor) (geodata.Dataset, error) {
	u := c.URL(desc)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", service.ErrFetchFailed, err)
	}
	req.Header.Set("Accept", "application/geo+json, application/json")

	start := time.Now()
	c.log.Debug().Str("layer", string(desc.ID)).Str("url", u).Msg("fetching layer")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", service.ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4<<10)
		return nil, fmt.Errorf("%w: %s returned %s", service.ErrFetchFailed, u, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", service.ErrFetchFailed, err)
	}
	if len(body) > MaxBodyBytes {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", geodata.ErrMalformedPayload, MaxBodyBytes)
	}

	ds, err := geodata.Decode(desc.Kind, body)
	if err != nil {
		return nil, err
	}

	c.log.Debug().Str("layer", string(desc.ID)).Int("bytes", len(body)).
		Dur("elapsed", time.Since(start)).Msg("layer fetched")
	return ds, nil
}
