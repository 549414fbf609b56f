package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/firewatch/internal/common"
	"github.com/ternarybob/firewatch/internal/models"
)

// Client is the HTTP implementation of interfaces.StatusPoller against the
// job backend. Pure request/response: no state is retained between calls
// beyond the underlying connection pool and the politeness rate limiter.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     arbor.ILogger
}

// NewClient creates a backend client from configuration
func NewClient(config *common.BackendConfig, logger arbor.ILogger) *Client {
	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		burst := config.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		apiKey:     config.APIKey,
		httpClient: NewDefaultHTTPClient(config.GetRequestTimeout()),
		limiter:    limiter,
		logger:     logger,
	}
}

// NewDefaultHTTPClient creates a simple HTTP client with a timeout
func NewDefaultHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
	}
}

// errorResponse is the backend's error body shape
type errorResponse struct {
	Error string `json:"error"`
}

// FetchPage retrieves job status plus one page of summary results
func (c *Client) FetchPage(ctx context.Context, jobID string, page, pageSize int) (*models.ResultPage, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job id is required")
	}
	if page < 1 {
		page = 1
	}

	endpoint := fmt.Sprintf("%s/v1/jobs/%s", c.baseURL, url.PathEscape(jobID))
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("page_size", strconv.Itoa(pageSize))

	var result models.ResultPage
	if err := c.getJSON(ctx, endpoint+"?"+query.Encode(), &result); err != nil {
		return nil, fmt.Errorf("failed to fetch status for job %s: %w", jobID, err)
	}

	c.logger.Debug().
		Str("job_id", jobID).
		Int("page", page).
		Int("items", len(result.Items)).
		Str("status", string(result.Job.Status)).
		Msg("Fetched job status page")

	return &result, nil
}

// FetchDetail retrieves the heavy fields for a single result
func (c *Client) FetchDetail(ctx context.Context, jobID, resultID string) (*models.ResultDetail, error) {
	if jobID == "" || resultID == "" {
		return nil, fmt.Errorf("job id and result id are required")
	}

	endpoint := fmt.Sprintf("%s/v1/jobs/%s/results/%s",
		c.baseURL, url.PathEscape(jobID), url.PathEscape(resultID))

	var detail models.ResultDetail
	if err := c.getJSON(ctx, endpoint, &detail); err != nil {
		return nil, fmt.Errorf("failed to fetch detail for result %s: %w", resultID, err)
	}

	c.logger.Debug().
		Str("job_id", jobID).
		Str("result_id", resultID).
		Int("html_bytes", len(detail.HTML)).
		Int("screenshot_bytes", len(detail.Screenshot)).
		Msg("Fetched result detail")

	return &detail, nil
}

// CancelJob asks the backend to stop the job. The effect is observed
// indirectly via the next status fetch reporting a terminal status.
func (c *Client) CancelJob(ctx context.Context, jobID string) error {
	if jobID == "" {
		return fmt.Errorf("job id is required")
	}

	endpoint := fmt.Sprintf("%s/v1/jobs/%s/cancel", c.baseURL, url.PathEscape(jobID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create cancel request: %w", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("failed to cancel job %s: %w", jobID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("cancel job %s: %s", jobID, readError(resp))
	}

	c.logger.Info().Str("job_id", jobID).Msg("Cancel requested")

	return nil
}

// getJSON performs a GET and decodes the JSON response body into out
func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("backend returned %s", readError(resp))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// do applies the rate limiter and auth header, then executes the request
func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return c.httpClient.Do(req)
}

// readError extracts a readable error from a non-2xx response.
// Prefers the backend's {"error": "..."} body, falls back to the HTTP status.
func readError(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil && len(body) > 0 {
		var errResp errorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			return fmt.Sprintf("HTTP %d: %s", resp.StatusCode, errResp.Error)
		}
	}
	return fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
}
