// Package platformapi reads member and membership records from the
// membership platform's REST API.
package platformapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

var ErrNotFound = errors.New("platform record not found")

// Client is a thin resty wrapper authenticated with a bearer API key.
type Client struct {
	http *resty.Client
}

// New builds a client for baseURL. timeout bounds each request including retries.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(1).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		c.SetAuthToken(apiKey)
	}
	return &Client{http: c}
}

// Membership fetches GET /memberships/{id}.
func (c *Client) Membership(ctx context.Context, membershipID string) (map[string]any, error) {
	return c.fetch(ctx, "/memberships/"+url.PathEscape(membershipID))
}

// Member fetches GET /members/{id}.
func (c *Client) Member(ctx context.Context, memberID string) (map[string]any, error) {
	return c.fetch(ctx, "/members/"+url.PathEscape(memberID))
}

func (c *Client) fetch(ctx context.Context, path string) (map[string]any, error) {
	resp, err := c.http.R().SetContext(ctx).Get(path)
	if err != nil {
		return nil, fmt.Errorf("platform api %s: %w", path, err)
	}
	if resp.StatusCode() == 404 {
		return nil, ErrNotFound
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("platform api %s: status %d", path, resp.StatusCode())
	}

	dec := json.NewDecoder(bytes.NewReader(resp.Body()))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("platform api %s: decode: %w", path, err)
	}
	// Some endpoints wrap the record in {"data": {...}}.
	if inner, ok := doc["data"].(map[string]any); ok {
		return inner, nil
	}
	return doc, nil
}
