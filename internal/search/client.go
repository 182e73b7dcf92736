// Package search pushes work item documents into an Azure AI Search index.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"boards-wiql/internal/errs"
)

const DefaultAPIVersion = "2023-11-01"

type Document struct {
	Action       string    `json:"@search.action"`
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	WorkItemType string    `json:"workItemType,omitempty"`
	AreaPath     string    `json:"areaPath,omitempty"`
	URL          string    `json:"url,omitempty"`
	Vector       []float32 `json:"contentVector,omitempty"`
}

type indexRequest struct {
	Value []Document `json:"value"`
}

type indexResult struct {
	Key          string `json:"key"`
	Status       bool   `json:"status"`
	ErrorMessage string `json:"errorMessage"`
	StatusCode   int    `json:"statusCode"`
}

type indexResponse struct {
	Value []indexResult `json:"value"`
}

type Client struct {
	endpoint   string
	key        string
	index      string
	apiVersion string
	http       *http.Client
	log        *zap.Logger
}

func NewClient(endpoint, key, index, apiVersion string, httpClient *http.Client, log *zap.Logger) (*Client, error) {
	if endpoint == "" || key == "" || index == "" {
		return nil, errs.New(errs.CodeConfigMissing, "search endpoint, key and index are required", nil)
	}
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		key:        key,
		index:      index,
		apiVersion: apiVersion,
		http:       httpClient,
		log:        log,
	}, nil
}

// Upsert merges or uploads docs. A 207 response with any failed key is an error.
func (c *Client) Upsert(ctx context.Context, docs ...Document) error {
	if len(docs) == 0 {
		return nil
	}
	for i := range docs {
		if docs[i].Action == "" {
			docs[i].Action = "mergeOrUpload"
		}
	}
	body, err := json.Marshal(indexRequest{Value: docs})
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/indexes/%s/docs/index?api-version=%s",
		c.endpoint, url.PathEscape(c.index), url.QueryEscape(c.apiVersion))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", c.key)

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Wrap(err, errs.CodeIndexFailed, "search upsert")
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errs.HTTP(resp.StatusCode, fmt.Sprintf("search upsert failed with status %d", resp.StatusCode), string(respBody))
	}

	var parsed indexResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil
	}
	failed := []string{}
	for _, r := range parsed.Value {
		if !r.Status {
			failed = append(failed, fmt.Sprintf("%s: %s", r.Key, r.ErrorMessage))
		}
	}
	if len(failed) > 0 {
		return errs.New(errs.CodeIndexFailed, "search upsert rejected documents", failed)
	}
	c.log.Debug("search upsert", zap.String("index", c.index), zap.Int("documents", len(docs)))
	return nil
}
