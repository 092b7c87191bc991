// Package remote talks to a model service that decodes latent candidates into schedules and
// runs the expensive objective on them.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/cwbudde/latentbo/internal/space"
)

// StatusError is a non-2xx response from the model service.
type StatusError struct {
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Path, e.Status, e.Body)
}

// Temporary reports whether the request may succeed when retried.
func (e *StatusError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// Options configure a Client.
type Options struct {
	// Timeout bounds a single HTTP request; 0 means no limit.
	Timeout time.Duration
	// MaxTries bounds the attempts per decode request, including the first. Evaluations are
	// sent once; retrying them is left to the caller.
	MaxTries uint
	// Dataset and Params are forwarded with every evaluation.
	Dataset string
	Params  map[string]any
	// NewBackOff builds the retry schedule; exponential when nil.
	NewBackOff func() backoff.BackOff
	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// Client implements space.BatchDecoder and the controller's objective against a model service.
type Client struct {
	baseURL string
	opts    Options
	http    *http.Client
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, opts Options) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("model service URL is required")
	}
	if opts.MaxTries == 0 {
		opts.MaxTries = 3
	}
	if opts.NewBackOff == nil {
		opts.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 8 * time.Second
			return b
		}
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		opts:    opts,
		http:    hc,
	}, nil
}

type decodeRequest struct {
	Z space.Candidate `json:"z"`
}

type decodeResponse struct {
	Schedule []float64 `json:"schedule"`
}

type decodeBatchRequest struct {
	Z []space.Candidate `json:"z"`
}

type decodeBatchResponse struct {
	Schedules [][]float64 `json:"schedules"`
}

type evaluateRequest struct {
	Schedule []float64      `json:"schedule"`
	Index    int            `json:"index"`
	Dataset  string         `json:"dataset,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
}

type evaluateResponse struct {
	Value *float64 `json:"value"`
}

// Decode maps one latent candidate to its schedule.
func (c *Client) Decode(ctx context.Context, z space.Candidate) ([]float64, error) {
	var resp decodeResponse
	if err := c.post(ctx, "/decode", decodeRequest{Z: z}, &resp, c.opts.MaxTries); err != nil {
		return nil, err
	}
	return resp.Schedule, nil
}

// DecodeBatch maps several candidates in one request. The response must preserve order.
func (c *Client) DecodeBatch(ctx context.Context, zs []space.Candidate) ([][]float64, error) {
	var resp decodeBatchResponse
	if err := c.post(ctx, "/decode/batch", decodeBatchRequest{Z: zs}, &resp, c.opts.MaxTries); err != nil {
		return nil, err
	}
	if len(resp.Schedules) != len(zs) {
		return nil, fmt.Errorf("decode batch returned %d schedules for %d candidates", len(resp.Schedules), len(zs))
	}
	return resp.Schedules, nil
}

// Evaluate runs the objective on a decoded schedule. The request is not retried: a single
// evaluation trains a model, and the controller already bounds retries per evaluation.
func (c *Client) Evaluate(ctx context.Context, schedule []float64, index int) (float64, error) {
	req := evaluateRequest{
		Schedule: schedule,
		Index:    index,
		Dataset:  c.opts.Dataset,
		Params:   c.opts.Params,
	}
	var resp evaluateResponse
	if err := c.post(ctx, "/evaluate", req, &resp, 1); err != nil {
		return 0, err
	}
	if resp.Value == nil {
		return 0, fmt.Errorf("evaluate response has no value")
	}
	return *resp.Value, nil
}

// post sends body as JSON and decodes a 2xx response into result, making at most tries attempts.
// Transport errors, 429 and 5xx are retried; any other status is permanent.
func (c *Client) post(ctx context.Context, path string, body, result any, tries uint) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", path, err)
	}

	op := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			serr := &StatusError{Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
			if serr.Temporary() {
				return nil, serr
			}
			return nil, backoff.Permanent(serr)
		}
		return respBody, nil
	}

	respBody, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(c.opts.NewBackOff()),
		backoff.WithMaxTries(tries),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Debug("Model service request failed, retrying", "path", path, "retry_in", next, "error", err)
		}),
	)
	if err != nil {
		var serr *StatusError
		if errors.As(err, &serr) {
			return err
		}
		return fmt.Errorf("%s request failed: %w", path, err)
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
