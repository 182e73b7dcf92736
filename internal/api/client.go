package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"boards-wiql/internal/errs"
)

const (
	defaultTimeout    = 30 * time.Second
	maxRetries        = 4
	initialBackoff    = 500 * time.Millisecond
	maxBackoff        = 5 * time.Second
	defaultAPIVersion = "7.0"
)

type Options struct {
	Timeout  time.Duration
	Insecure bool
	// Limiter paces every attempt, retries included. Nil disables pacing.
	Limiter *rate.Limiter
	Logger  *zap.Logger
	// HTTPClient overrides the client built from Timeout and Insecure.
	HTTPClient *http.Client
}

type Client struct {
	baseURL string
	project string
	pat     string
	client  *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

func NewClient(conn Connection, opts Options) (*Client, error) {
	if conn.BaseURL == "" {
		return nil, errs.New(errs.CodeConfigMissing, "base URL is required", nil)
	}
	if conn.PAT == "" {
		return nil, errs.New(errs.CodeConfigMissing, "PAT is required", nil)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = newHTTPClient(opts)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: conn.OrganizationURL(),
		project: conn.Project,
		pat:     conn.PAT,
		client:  httpClient,
		limiter: opts.Limiter,
		log:     log,
	}, nil
}

func newHTTPClient(opts Options) *http.Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: opts.Insecure,
		},
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

func (c *Client) projectPath(suffix string) string {
	if c.project == "" {
		return suffix
	}
	return url.PathEscape(c.project) + "/" + suffix
}

func (c *Client) Wiql(ctx context.Context, query string, top int) (WiqlResponse, error) {
	params := url.Values{}
	params.Set("api-version", defaultAPIVersion)
	if top > 0 {
		params.Set("$top", strconv.Itoa(top))
	}
	body, err := json.Marshal(WiqlRequest{Query: query})
	if err != nil {
		return WiqlResponse{}, err
	}
	respBody, err := c.do(ctx, http.MethodPost, c.projectPath("_apis/wit/wiql"), params, body, "application/json")
	if err != nil {
		return WiqlResponse{}, err
	}
	var resp WiqlResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return WiqlResponse{}, err
	}
	return resp, nil
}

// GetWorkItemsBatch fetches up to 200 items in one call. The service rejects
// fields together with an expand value, so fields are dropped when expand is set.
func (c *Client) GetWorkItemsBatch(ctx context.Context, ids []int, fields []string, expand string) ([]WorkItem, error) {
	params := url.Values{}
	params.Set("api-version", defaultAPIVersion)
	payload := WorkItemsBatchRequest{IDs: ids, Fields: fields, Expand: expand}
	if expand != "" {
		payload.Fields = nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	respBody, err := c.do(ctx, http.MethodPost, c.projectPath("_apis/wit/workitemsbatch"), params, body, "application/json")
	if err != nil {
		return nil, err
	}
	var items []WorkItem
	if err := json.Unmarshal(respBody, &items); err != nil {
		var wrapped WorkItemsBatchResponse
		if wrapErr := json.Unmarshal(respBody, &wrapped); wrapErr != nil {
			return nil, err
		}
		items = wrapped.Value
	}
	return items, nil
}

func (c *Client) CreateWorkItem(ctx context.Context, wiType string, patch []PatchOperation) (WorkItem, error) {
	path := c.projectPath(fmt.Sprintf("_apis/wit/workitems/$%s", url.PathEscape(wiType)))
	params := url.Values{}
	params.Set("api-version", defaultAPIVersion)
	body, err := json.Marshal(patch)
	if err != nil {
		return WorkItem{}, err
	}
	respBody, err := c.do(ctx, http.MethodPost, path, params, body, "application/json-patch+json")
	if err != nil {
		return WorkItem{}, err
	}
	var wi WorkItem
	if err := json.Unmarshal(respBody, &wi); err != nil {
		return WorkItem{}, err
	}
	return wi, nil
}

func (c *Client) WorkItemURL(id int) string {
	return joinURL(c.baseURL, fmt.Sprintf("_apis/wit/workItems/%d", id))
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body []byte, contentType string) ([]byte, error) {
	fullURL := joinURL(c.baseURL, path)
	if len(params) > 0 {
		fullURL = fullURL + "?" + params.Encode()
	}
	var lastErr error
	backoff := initialBackoff
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		req, err := c.newRequest(ctx, method, fullURL, body, contentType)
		if err != nil {
			return nil, err
		}
		c.logRequest(req, body)
		start := time.Now()
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, errs.Wrap(err, errs.CodeHTTPError, fmt.Sprintf("%s %s", method, req.URL.Path))
		}
		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, readErr
		}
		c.logResponse(resp, respBody, time.Since(start))
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return respBody, nil
		}

		if shouldRetry(resp.StatusCode) && attempt < maxRetries {
			wait := retryAfter(resp.Header.Get("Retry-After"))
			if wait == 0 {
				wait = backoff
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
			lastErr = errs.New(errs.CodeHTTPRetry, fmt.Sprintf("retryable status %d", resp.StatusCode), string(respBody))
			if err := sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}
		return nil, errs.HTTP(resp.StatusCode, fmt.Sprintf("request failed with status %d", resp.StatusCode), truncateBody(respBody))
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errs.New(errs.CodeHTTPError, "request failed", nil)
}

func (c *Client) newRequest(ctx context.Context, method, fullURL string, body []byte, contentType string) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Authorization", "Basic "+BasicAuthToken(c.pat))
	return req, nil
}

// BasicAuthToken encodes a PAT as basic credentials with an empty user name.
func BasicAuthToken(pat string) string {
	return base64.StdEncoding.EncodeToString([]byte(":" + pat))
}

func shouldRetry(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func retryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return 0
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) logRequest(req *http.Request, body []byte) {
	if ce := c.log.Check(zap.DebugLevel, "ado request"); ce != nil {
		ce.Write(
			zap.String("method", req.Method),
			zap.String("url", req.URL.String()),
			zap.String("body", truncateBody(body)),
		)
	}
}

func (c *Client) logResponse(resp *http.Response, body []byte, elapsed time.Duration) {
	if ce := c.log.Check(zap.DebugLevel, "ado response"); ce != nil {
		ce.Write(
			zap.Int("status", resp.StatusCode),
			zap.Duration("elapsed", elapsed),
			zap.String("activity_id", resp.Header.Get("ActivityId")),
			zap.String("body", truncateBody(body)),
		)
	}
}

func truncateBody(body []byte) string {
	const limit = 2048
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "..."
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
