// File: internal/spinnaker/client.go
// Brief: HTTP client for the orchestrator's pipeline API.

// Package spinnaker talks to the continuous-delivery orchestrator's API
// gateway: listing, fetching, deleting and creating pipeline configs.
package spinnaker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/example/pipectl/internal/version"
)

const maxBodyBytes = 4 << 20

// Options configure a Client.
type Options struct {
	URL        string
	Timeout    time.Duration
	RateLimit  float64
	Burst      int
	HTTPClient *http.Client
	Logger     logr.Logger
}

// Client is safe for concurrent use; region workers share one instance.
type Client struct {
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	log     logr.Logger
}

// PipelineConfig is the subset of a stored pipeline pipectl cares about.
type PipelineConfig struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Application string `json:"application"`
}

// Application is an orchestrator application record.
type Application struct {
	Name           string `json:"name"`
	Email          string `json:"email,omitempty"`
	RepoProjectKey string `json:"repoProjectKey,omitempty"`
	RepoSlug       string `json:"repoSlug,omitempty"`
}

// APIError is a non-2xx response. Body is kept verbatim.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		body = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.URL, e.StatusCode, body)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// New validates opts and returns a Client.
func New(opts Options) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(opts.URL), "/")
	if raw == "" {
		return nil, errors.New("orchestrator API url is required")
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "parse API url %q", raw)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, errors.Errorf("API url %q must be http or https", raw)
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}
	log := opts.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &Client{
		base:    base,
		http:    hc,
		limiter: rate.NewLimiter(limit, burst),
		log:     log.WithName("spinnaker"),
	}, nil
}

// ListPipelines returns every pipeline config stored for app.
func (c *Client) ListPipelines(ctx context.Context, app string) ([]PipelineConfig, error) {
	var out []PipelineConfig
	if err := c.getJSON(ctx, c.endpoint("applications", app, "pipelineConfigs"), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetPipeline fetches one stored pipeline. The boolean is false on 404.
func (c *Client) GetPipeline(ctx context.Context, app, name string) (json.RawMessage, bool, error) {
	var out json.RawMessage
	err := c.getJSON(ctx, c.endpoint("applications", app, "pipelineConfigs", name), &out)
	if IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// DeletePipeline removes the named pipeline of app.
func (c *Client) DeletePipeline(ctx context.Context, app, name string) error {
	_, err := c.do(ctx, http.MethodDelete, c.endpoint("pipelines", app, name), nil)
	return err
}

// CreatePipeline posts a serialized pipeline. A rejection is returned as
// *APIError with the response body untouched.
func (c *Client) CreatePipeline(ctx context.Context, body []byte) error {
	_, err := c.do(ctx, http.MethodPost, c.endpoint("pipelines"), body)
	return err
}

// ListApplications returns all applications known to the orchestrator.
func (c *Client) ListApplications(ctx context.Context) ([]Application, error) {
	var out []Application
	if err := c.getJSON(ctx, c.endpoint("applications"), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) endpoint(segments ...string) string {
	u := *c.base
	escaped := make([]string, 0, len(segments))
	for _, s := range segments {
		escaped = append(escaped, url.PathEscape(s))
	}
	u.RawPath = strings.TrimRight(c.base.EscapedPath(), "/") + "/" + strings.Join(escaped, "/")
	u.Path = strings.TrimRight(c.base.Path, "/") + "/" + strings.Join(segments, "/")
	return u.String()
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrapf(err, "decode response from %s", endpoint)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, endpoint)
	}
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, errors.Wrapf(err, "build %s request", method)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.log.V(1).Info("request", "method", method, "url", endpoint)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, endpoint)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.Wrapf(err, "read %s %s response", method, endpoint)
	}
	c.log.V(1).Info("response", "method", method, "url", endpoint, "status", resp.StatusCode, "body", string(body))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Method: method, URL: endpoint, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
