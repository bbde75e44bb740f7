// Package remote provides an analysis.Analyzer backed by a remote
// pronunciation analysis service.
//
// The service exposes POST /api/analyze-pronunciation, accepting
// {"expected_text", "recognized_text"} and answering with a report document.
// Unknown response fields are ignored and missing optional fields stay nil, so
// older and newer service versions decode into the same [analysis.Report].
//
// Example usage:
//
//	c, err := remote.New("https://speak.example.com", remote.WithAPIKey(key))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	report, err := c.Analyze(ctx, analysis.Request{ExpectedText: exp, RecognizedText: rec})
package remote

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

	"github.com/MrWong99/speakwell/pkg/analysis"
)

// AnalyzePath is the endpoint path, relative to the base URL.
const AnalyzePath = "/api/analyze-pronunciation"

// maxErrorBody bounds how much of a failed response is read for diagnostics.
const maxErrorBody = 4 << 10

// ErrStatus is wrapped by errors for non-2xx responses.
var ErrStatus = errors.New("remote analysis: unexpected status")

// StatusError carries the details of a non-2xx response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %d", ErrStatus, e.Code)
	}
	return fmt.Sprintf("%s %d: %s", ErrStatus, e.Code, e.Message)
}

// Unwrap lets errors.Is match [ErrStatus].
func (e *StatusError) Unwrap() error { return ErrStatus }

// Ensure Client implements the analysis.Analyzer interface at compile time.
var _ analysis.Analyzer = (*Client)(nil)

// Client is safe for concurrent use.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

type config struct {
	timeout    time.Duration
	apiKey     string
	httpClient *http.Client
}

// Option is a functional option for Client.
type Option func(*config)

// WithTimeout sets a per-request HTTP timeout. A zero or negative value means
// no timeout beyond the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithAPIKey sends key as a bearer token on every request.
func WithAPIKey(key string) Option {
	return func(c *config) {
		c.apiKey = key
	}
}

// WithHTTPClient replaces the underlying HTTP client, e.g. to inject a test
// transport. WithTimeout still applies on top of it.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.httpClient = hc
	}
}

// New constructs a Client for the service at baseURL. A trailing slash is
// stripped; the URL must be absolute http or https.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("remote analysis: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("remote analysis: base url %q must be absolute http(s)", baseURL)
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	hc := &http.Client{}
	if cfg.httpClient != nil {
		copied := *cfg.httpClient
		hc = &copied
	}
	if cfg.timeout > 0 {
		hc.Timeout = cfg.timeout
	}

	return &Client{
		endpoint:   u.String() + AnalyzePath,
		apiKey:     cfg.apiKey,
		httpClient: hc,
	}, nil
}

// Endpoint returns the full analysis URL.
func (c *Client) Endpoint() string { return c.endpoint }

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

// Analyze implements analysis.Analyzer. A blank expected text is rejected
// locally with analysis.ErrMissingText without issuing a request.
func (c *Client) Analyze(ctx context.Context, req analysis.Request) (*analysis.Report, error) {
	if strings.TrimSpace(req.ExpectedText) == "" {
		return nil, analysis.ErrMissingText
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("remote analysis: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("remote analysis: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("remote analysis: http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp)
	}

	var report analysis.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("remote analysis: decode response: %w", err)
	}
	report.Source = analysis.SourceRemote
	return &report, nil
}

func statusError(resp *http.Response) *StatusError {
	se := &StatusError{Code: resp.StatusCode}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return se
	}
	var eb errorBody
	if json.Unmarshal(raw, &eb) == nil && eb.Error != "" {
		se.Message = eb.Error
		if eb.Details != "" {
			se.Message += ": " + eb.Details
		}
		return se
	}
	se.Message = strings.TrimSpace(string(raw))
	return se
}
