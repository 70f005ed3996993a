package dinsight

import (
	"context"
	"fmt"
	"time"
)

// PollOptions control completion polling; zero values take the defaults.
type PollOptions struct {
	Interval    time.Duration
	MaxAttempts int
}

func (o PollOptions) withDefaults() PollOptions {
	if o.Interval <= 0 {
		o.Interval = 2 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 60
	}
	return o
}

// WaitForProcessing polls the backend until the processing job submitted as
// uploadID has derived coordinates available, and returns the id of the
// now-ready dataset (falling back to uploadID when the backend does not
// report a distinct one).
//
// Per-attempt failures (network errors, malformed bodies, not-yet-ready
// responses) are swallowed and counted; only budget exhaustion or
// cancellation ends the wait.
func (c *Client) WaitForProcessing(ctx context.Context, uploadID int64, opts PollOptions) (int64, error) {
	opts = opts.withDefaults()

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		coords, err := c.GetCoordinates(ctx, uploadID)
		if err == nil && coords.Ready() {
			if coords.DinsightID != 0 {
				return coords.DinsightID, nil
			}
			return uploadID, nil
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}

		if attempt%10 == 0 {
			c.logger.Printf("still waiting for baseline processing (%d/%d attempts)", attempt, opts.MaxAttempts)
		}
		if attempt == opts.MaxAttempts {
			break
		}
		if err := c.sleep(ctx, opts.Interval); err != nil {
			return 0, err
		}
	}

	return 0, fmt.Errorf("gave up after %d attempts: %w", opts.MaxAttempts, ErrProcessingTimeout)
}
