package platform

import (
	"context"
	"fmt"
	"net/http"
)

// execute is the per-request retry state machine. It runs on the sequencer
// worker, so at most one execution is ever active. Every retry decision in
// the codebase lives here; call sites never roll their own loops.
func (c *Client) execute(ctx context.Context, req Request, family Family) ([]byte, error) {
	var (
		refreshed         bool // at most one token refresh per request
		transientAttempts int  // HTTP-level transient failures seen
		transportAttempts int  // local transport errors seen
	)

	for {
		// Global cool-down first. This runs before every attempt, first
		// included, so a throttled period slows all traffic, not just the
		// request that was throttled.
		if wait := c.backoff.WaitDuration(); wait > 0 {
			c.log.Debug("Backoff wait before dispatch", "endpoint", req.Endpoint, "wait", wait)
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
		}

		header := http.Header{}
		if req.RequiresAuth {
			token, err := c.tokens.AccessToken(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to obtain access token: %w", err)
			}
			header.Set("Authorization", "Bearer "+token)
		}

		start := c.now()
		dispatchesTotal.WithLabelValues(family.Name).Inc()
		resp, err := c.transport.RoundTrip(ctx, req.Method, req.Endpoint, header, req.Body)
		attemptLatency.WithLabelValues(family.Name).Observe(c.now().Sub(start).Seconds())

		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			transportAttempts++
			attemptsTotal.WithLabelValues(family.Name, "transport_error").Inc()
			if !req.AllowRetry || transportAttempts >= c.maxTransportAttempts {
				return nil, fmt.Errorf("request to %s failed after %d transport attempts: %w",
					req.Endpoint, transportAttempts, err)
			}
			c.log.Warn("Transport error, retrying", "endpoint", req.Endpoint, "error", err, "attempt", transportAttempts)
			if err := c.sleep(ctx, c.transientBase<<uint(transportAttempts-1)); err != nil {
				return nil, err
			}
			continue
		}

		env, parseErr := ParseEnvelope(resp.Body)
		if parseErr != nil {
			env = nil
		}
		retryAfter := ParseRetryAfter(resp.Header.Get("Retry-After"))
		failure := Classify(resp.Status, env, family.StateChanging, retryAfter)
		attemptsTotal.WithLabelValues(family.Name, failure.Kind.String()).Inc()

		switch failure.Kind {
		case KindSuccess, KindBenignDuplicate:
			c.backoff.OnSuccess()
			c.setMaintenance(false)
			if env == nil {
				return nil, nil
			}
			return env.Response, nil

		case KindThrottled:
			c.backoff.OnThrottle()
			if !req.AllowRetry {
				return nil, &failure
			}
			c.log.Warn("Throttled by platform", "endpoint", req.Endpoint, "code", failure.Code, "retry_after", failure.RetryAfter)
			if err := c.sleep(ctx, failure.RetryAfter); err != nil {
				return nil, err
			}
			continue

		case KindAuthExpired:
			if !req.RequiresAuth || !req.AllowRetry || refreshed {
				return nil, &failure
			}
			refreshed = true
			c.log.Info("Access token rejected, refreshing", "endpoint", req.Endpoint, "code", failure.Code)
			if err := c.tokens.ForceRefresh(ctx); err != nil {
				return nil, fmt.Errorf("token refresh failed: %w", err)
			}
			continue

		case KindTransient:
			transientAttempts++
			if !req.AllowRetry || transientAttempts >= c.maxHTTPAttempts {
				return nil, &failure
			}
			c.log.Warn("Transient platform error, retrying", "endpoint", req.Endpoint, "status", resp.Status, "attempt", transientAttempts)
			if err := c.sleep(ctx, c.transientBase<<uint(transientAttempts-1)); err != nil {
				return nil, err
			}
			continue

		case KindMaintenance:
			c.setMaintenance(true)
			return nil, &failure

		default: // KindFatal
			return nil, &failure
		}
	}
}
