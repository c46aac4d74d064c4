// Package remote retrieves plugin payloads from configured HTTP sources.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goatkit/hotplug/internal/plugin"
)

// Response is a well-formed reply from a source.
type Response struct {
	StatusCode int
	// Message is the code payload, empty when the source sent none.
	Message string
	Body    map[string]any
}

// HasPayload reports whether the response carries code to execute.
func (r *Response) HasPayload() bool {
	return r != nil && r.Message != ""
}

// Fetcher issues one request per source and decodes the JSON envelope.
type Fetcher struct {
	client *http.Client
	policy plugin.FetchPolicy
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the default HTTP client. Deadlines are still
// applied per request from the fetch policy.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// NewFetcher creates a fetcher bound by the given policy.
func NewFetcher(policy plugin.FetchPolicy, opts ...Option) *Fetcher {
	if policy.MaxBodyBytes <= 0 {
		policy.MaxBodyBytes = plugin.DefaultMaxBodyBytes
	}
	if policy.UserAgent == "" {
		policy.UserAgent = plugin.DefaultUserAgent
	}
	f := &Fetcher{
		client: &http.Client{},
		policy: policy,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch requests src and returns its decoded envelope. Any failure to obtain
// a well-formed reply is returned as a *plugin.SourceError matching
// plugin.ErrSourceUnavailable. If ctx itself is done, ctx.Err() is returned
// instead so callers can tell cancellation apart from a bad source.
func (f *Fetcher) Fetch(ctx context.Context, src plugin.SourceConfig) (*Response, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, f.policy.Timeout())
	defer cancel()

	method := strings.ToUpper(strings.TrimSpace(src.Method))
	if method == "" {
		method = plugin.DefaultMethod
	}

	req, err := http.NewRequestWithContext(fetchCtx, method, src.URL, nil)
	if err != nil {
		return nil, &plugin.SourceError{Source: src.Name, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", f.policy.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &plugin.SourceError{Source: src.Name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a bounded amount so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &plugin.SourceError{Source: src.Name, StatusCode: resp.StatusCode}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, f.policy.MaxBodyBytes+1))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &plugin.SourceError{Source: src.Name, Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(raw)) > f.policy.MaxBodyBytes {
		return nil, &plugin.SourceError{
			Source: src.Name,
			Err:    fmt.Errorf("response body exceeds %d bytes", f.policy.MaxBodyBytes),
		}
	}

	body, err := decodeEnvelope(raw)
	if err != nil {
		return nil, &plugin.SourceError{Source: src.Name, Err: err}
	}

	out := &Response{StatusCode: resp.StatusCode, Body: body}
	if msg, ok := body["message"].(string); ok {
		out.Message = msg
	}
	return out, nil
}

// ErrMalformedEnvelope is wrapped when a 2xx body is not a valid envelope.
var ErrMalformedEnvelope = errors.New("malformed plugin envelope")

func decodeEnvelope(raw []byte) (map[string]any, error) {
	if err := validateEnvelope(raw); err != nil {
		return nil, err
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return body, nil
}
