package api

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

	"jobsync/internal/config"
	"jobsync/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const maxErrorBody = 512

// JobsClient calls the remote job endpoints with a bearer token.
type JobsClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      RetryPolicy
	logger     *zerolog.Logger
}

type sleepRequest struct {
	Country    models.Country              `json:"country"`
	Indices    []int                       `json:"indices"`
	SleepCount int                         `json:"sleepCount"`
	NewCities  []models.SleepTrackingEntry `json:"newCities,omitempty"`
}

type startRequest struct {
	NewCity *models.SleepTrackingEntry `json:"newCity"`
}

// NewJobsClient constructs a client from the remote section of the config.
func NewJobsClient(cfg config.RemoteConfig, logger *zerolog.Logger) *JobsClient {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = models.DefaultRemoteTimeout
	}
	burst := cfg.RateLimit.Burst
	if burst <= 0 {
		burst = 5
	}
	limit := rate.Inf
	if cfg.RateLimit.RPS > 0 {
		limit = rate.Limit(cfg.RateLimit.RPS)
	}
	l := logger.With().Str("component", "jobs_client").Logger()
	return &JobsClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
		retry:      RetryPolicyFromConfig(cfg.Retry),
		logger:     &l,
	}
}

// SetToken swaps the bearer token after the session is renewed.
func (c *JobsClient) SetToken(token string) {
	c.token = token
}

func (c *JobsClient) Receive(ctx context.Context, jobID string) (*models.Job, error) {
	return c.postJob(ctx, jobID, "receive", nil)
}

// Start posts a start. A new city goes in the body; otherwise there is none.
func (c *JobsClient) Start(ctx context.Context, jobID string, data models.StartData) (*models.Job, error) {
	if data.NewCity != nil {
		return c.postJob(ctx, jobID, "start", startRequest{NewCity: data.NewCity})
	}
	return c.postJob(ctx, jobID, "start", nil)
}

func (c *JobsClient) StartFromLast(ctx context.Context, jobID string) (*models.Job, error) {
	return c.postJob(ctx, jobID, "start-from-last", nil)
}

func (c *JobsClient) Sleep(ctx context.Context, jobID string, data models.SleepData) (*models.Job, error) {
	if err := data.Validate(); err != nil {
		return nil, err
	}
	indices := data.Indices
	if indices == nil {
		indices = []int{}
	}
	body := sleepRequest{
		Country:    data.Country,
		Indices:    indices,
		SleepCount: data.SleepCount,
		NewCities:  data.NewCities,
	}
	return c.postJob(ctx, jobID, "sleep", body)
}

func (c *JobsClient) Finish(ctx context.Context, jobID string) (*models.Job, error) {
	return c.postJob(ctx, jobID, "finish", nil)
}

// CurrentJob fetches the assigned job. 404, an empty body and {"job": null} all mean
// "no job" and yield nil, nil. Transient failures are retried with backoff.
func (c *JobsClient) CurrentJob(ctx context.Context) (*models.Job, error) {
	endpoint := c.baseURL + "/users/me/job"

	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retry.NextDelay(attempt)
			c.logger.Debug().Err(lastErr).Int("attempt", attempt).Dur("delay", delay).Msg("retrying current job fetch")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		job, err := c.do(ctx, http.MethodGet, endpoint, nil)
		if err == nil {
			return job, nil
		}
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.Status == http.StatusNotFound {
			return nil, nil
		}
		if !IsTransient(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("get current job after %d attempts: %w", c.retry.MaxRetries+1, lastErr)
}

func (c *JobsClient) postJob(ctx context.Context, jobID, action string, body any) (*models.Job, error) {
	endpoint := fmt.Sprintf("%s/jobs/%s/%s", c.baseURL, url.PathEscape(jobID), action)
	return c.do(ctx, http.MethodPost, endpoint, body)
}

func (c *JobsClient) do(ctx context.Context, method, endpoint string, body any) (*models.Job, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("method", method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("jobs api call")

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &HTTPError{Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return decodeJob(raw)
}

// decodeJob accepts a bare job or a {"job": ...} envelope. Empty bodies, null and a
// job without an id all mean "no job".
func decodeJob(raw []byte) (*models.Job, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if inner, ok := envelope["job"]; ok {
		raw = bytes.TrimSpace(inner)
		if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
			return nil, nil
		}
	}

	var job models.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if job.ID == "" {
		return nil, nil
	}
	return &job, nil
}
