package inference

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/fwintner/marketpulse/internal/apperrors"
	"github.com/fwintner/marketpulse/internal/platform/retry"
)

// Verify probes the upstream API at startup so a bad key or unreachable
// endpoint fails fast instead of surfacing as the first fetch error.
// Transient network failures are retried; an auth rejection is permanent.
func (c *Client) Verify(ctx context.Context) error {
	policy := retry.Policy{
		MaxAttempts:      3,
		InitialBackoff:   2 * time.Second,
		RateLimitBackoff: 30 * time.Second,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Inference probe failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		},
	}
	return retry.DoVoid(ctx, c.clock, policy, classifyForRetry, func() error {
		return c.probe(ctx)
	})
}

func classifyForRetry(err error) retry.Action {
	switch apperrors.Classify(err).Class {
	case apperrors.ClassNetwork:
		return retry.Retry
	case apperrors.ClassRateLimit:
		return retry.After
	default:
		return retry.Stop
	}
}

// probe fetches the model descriptor, the cheapest authenticated call the
// API offers.
func (c *Client) probe(ctx context.Context) error {
	url := fmt.Sprintf("%s/models/%s?key=%s", c.baseURL, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return apperrors.UnclassifiedError("build probe request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.NetworkError("inference endpoint unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apperrors.FromStatusCode(resp.StatusCode, resp.Status)
	}
	return nil
}
