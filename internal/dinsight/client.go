// Package dinsight is an HTTP client for the D'insight analysis backend: it
// starts baseline processing, polls for derived coordinates, and streams
// monitor batches to the per-baseline ingestion endpoint.
package dinsight

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Client talks to one D'insight backend instance.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	logger  *log.Logger

	retryBudget int
	backoffUnit time.Duration
	debugDir    string

	// sleep is replaceable in tests to observe backoff timing.
	sleep func(ctx context.Context, d time.Duration) error
}

// Options tunes client behavior; the zero value is usable.
type Options struct {
	// HTTPClient overrides the transport; nil uses a 60s-timeout default.
	HTTPClient *http.Client
	Logger     *log.Logger
	// RetryBudget is the number of extra delivery attempts after the first.
	RetryBudget int
	// BackoffUnit scales the linear retry backoff (attempt × unit).
	BackoffUnit time.Duration
	// DebugDir is where a permanently failed batch is preserved.
	DebugDir string
}

// NewClient constructs a client for the backend base URL, typically
// "http://localhost:8080/api/v1".
func NewClient(baseURL string, opts Options) (*Client, error) {
	u, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	if opts.RetryBudget < 0 {
		opts.RetryBudget = 0
	}
	if opts.BackoffUnit <= 0 {
		opts.BackoffUnit = time.Second
	}

	return &Client{
		baseURL:     u,
		http:        hc,
		logger:      logger,
		retryBudget: opts.RetryBudget,
		backoffUnit: opts.BackoffUnit,
		debugDir:    opts.DebugDir,
		sleep:       sleepCtx,
	}, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("backend base URL is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse backend base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend base URL must include a host (got %q)", raw)
	}
	// Ensure the base path ends with a slash so ResolveReference treats it as
	// a directory.
	u.Path = strings.TrimRight(u.Path, "/") + "/"
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

func (c *Client) resolve(relPath string) *url.URL {
	relPath = strings.TrimPrefix(relPath, "/")
	return c.baseURL.ResolveReference(&url.URL{Path: relPath})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Coordinates are the backend-derived 2-D projection of a dataset.
type Coordinates struct {
	DinsightID int64     `json:"dinsight_id"`
	X          []float64 `json:"dinsight_x"`
	Y          []float64 `json:"dinsight_y"`
}

// Ready reports whether both coordinate sequences are present and non-empty.
func (c Coordinates) Ready() bool {
	return len(c.X) > 0 && len(c.Y) > 0
}

type analyzeResponse struct {
	Data struct {
		ID int64 `json:"id"`
	} `json:"data"`
}

// Analyze uploads a baseline file and returns the processing job id.
func (c *Client) Analyze(ctx context.Context, path string) (int64, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read baseline file: %w", err)
	}

	body, contentType, err := multipartBody("files", filepath.Base(path), content)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolve("analyze").String(), body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	rb, err := c.do("analyze", req)
	if err != nil {
		return 0, err
	}

	var out analyzeResponse
	if err := json.Unmarshal(rb, &out); err != nil {
		return 0, fmt.Errorf("parse analyze response: %w", err)
	}
	if out.Data.ID == 0 {
		return 0, fmt.Errorf("analyze response carried no upload id")
	}
	return out.Data.ID, nil
}

type coordinatesResponse struct {
	Data *Coordinates `json:"data"`
}

// GetCoordinates fetches the derived coordinates for a dinsight dataset.
// The caller decides whether empty coordinate arrays are acceptable.
func (c *Client) GetCoordinates(ctx context.Context, id int64) (Coordinates, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(fmt.Sprintf("dinsight/%d", id)).String(), nil)
	if err != nil {
		return Coordinates{}, err
	}
	req.Header.Set("Accept", "application/json")

	rb, err := c.do("getDinsight", req)
	if err != nil {
		return Coordinates{}, err
	}

	var out coordinatesResponse
	if err := json.Unmarshal(rb, &out); err != nil {
		return Coordinates{}, fmt.Errorf("parse dinsight response: %w", err)
	}
	if out.Data == nil {
		return Coordinates{}, fmt.Errorf("dinsight response carried no data")
	}
	return *out.Data, nil
}

// StreamingConfig is the display/pacing configuration pushed to the backend.
type StreamingConfig struct {
	LatestGlowCount int     `json:"latest_glow_count"`
	BatchSize       int     `json:"batch_size"`
	DelaySeconds    float64 `json:"delay_seconds"`
}

// UpdateStreamingConfig pushes the streaming configuration for a baseline.
// The caller treats failures as best-effort.
func (c *Client) UpdateStreamingConfig(ctx context.Context, baselineID int64, cfg StreamingConfig) error {
	b, err := json.Marshal(cfg)
	if err != nil {
		return err
	}

	u := c.resolve(fmt.Sprintf("streaming/%d/config", baselineID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u.String(), bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	_, err = c.do("updateStreamingConfig", req)
	return err
}

type monitorCoordinatesResponse struct {
	X []float64 `json:"dinsight_x"`
}

// MonitorPointCount returns how many monitor points the backend has ingested
// for the baseline so far.
func (c *Client) MonitorPointCount(ctx context.Context, baselineID int64) (int, error) {
	u := c.resolve(fmt.Sprintf("monitor/%d/coordinates", baselineID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")

	rb, err := c.do("monitorCoordinates", req)
	if err != nil {
		return 0, err
	}

	var out monitorCoordinatesResponse
	if err := json.Unmarshal(rb, &out); err != nil {
		return 0, fmt.Errorf("parse monitor coordinates response: %w", err)
	}
	return len(out.X), nil
}

// do executes the request and returns the body, converting non-2xx responses
// into an APIError.
func (c *Client) do(op string, req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	rb, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, newAPIError(op, resp, rb)
	}
	return rb, nil
}

func multipartBody(field, filename string, content []byte) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(content); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}
