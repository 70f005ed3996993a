package dinsight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// SendMonitorBatch transmits one batch table to the per-baseline ingestion
// endpoint.
//
// The send is attempted up to 1 + retry budget times. Server-side 5xx
// responses and network errors are retried with linearly increasing backoff
// (attempt × backoff unit); 4xx rejections terminate immediately. When the
// operation fails for good, the offending table is preserved at a fixed
// diagnostic path keyed by baseline id before the error is returned.
func (c *Client) SendMonitorBatch(ctx context.Context, baselineID int64, filename string, csvData []byte) (json.RawMessage, error) {
	attempts := c.retryBudget + 1

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		ack, err := c.postMonitorBatch(ctx, baselineID, filename, csvData)
		if err == nil {
			return ack, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !transientSendError(err) {
			break
		}
		if attempt == attempts {
			break
		}

		backoff := time.Duration(attempt) * c.backoffUnit
		c.logger.Printf("monitor batch send failed (attempt %d/%d), retrying in %s: %v", attempt, attempts, backoff, err)
		if err := c.sleep(ctx, backoff); err != nil {
			return nil, err
		}
	}

	c.PreserveFailedBatch(baselineID, csvData)
	return nil, fmt.Errorf("send monitor batch: %w", lastErr)
}

func (c *Client) postMonitorBatch(ctx context.Context, baselineID int64, filename string, csvData []byte) (json.RawMessage, error) {
	body, contentType, err := multipartBody("file", filename, csvData)
	if err != nil {
		return nil, err
	}

	u := c.resolve(fmt.Sprintf("monitor/%d", baselineID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	rb, err := c.do("sendMonitorBatch", req)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(rb), nil
}

// transientSendError treats backend 5xx and transport-level failures as
// retryable; an APIError below 500 is a terminal rejection.
func transientSendError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	return true
}

// PreserveFailedBatch copies a batch that failed permanently to the fixed
// diagnostic path for the baseline, for operator inspection. Failures to
// write the copy are logged, never propagated.
func (c *Client) PreserveFailedBatch(baselineID int64, csvData []byte) {
	name := fmt.Sprintf("debug_failed_batch_%d.csv", baselineID)
	path := filepath.Join(c.debugDir, name)
	if err := os.WriteFile(path, csvData, 0o644); err != nil {
		c.logger.Printf("could not preserve failed batch at %s: %v", path, err)
		return
	}
	c.logger.Printf("failed batch preserved at %s", path)
}
