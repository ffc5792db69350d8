package entsoe

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

const defaultUserAgent = "peilbeheer-entsoe/1.0"

// Client downloads day-ahead price documents
type Client struct {
	httpClient *http.Client
	userAgent  string
	timeout    time.Duration
}

// NewClient creates a client with default settings
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{},
		userAgent:  defaultUserAgent,
		timeout:    30 * time.Second,
	}
}

// SetUserAgent sets a custom user agent
func (c *Client) SetUserAgent(userAgent string) {
	c.userAgent = userAgent
}

// SetTimeout sets the timeout of one Download call
func (c *Client) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// Fetch downloads and decodes the document at apiURL
func (c *Client) Fetch(ctx context.Context, apiURL string) (*Document, error) {
	if apiURL == "" {
		return nil, fmt.Errorf("API URL cannot be empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/xml, text/xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP request failed with status %d: %s", resp.StatusCode, resp.Status)
	}

	doc, err := Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode XML response: %w", err)
	}
	return doc, nil
}

// Download fetches the prices of the current day in loc. From 13:00 local
// time the next day is published as well and merged into the result.
//
// urlFormat takes periodStart, periodEnd and the security token, in that
// order.
func (c *Client) Download(ctx context.Context, securityToken, urlFormat string, loc *time.Location) (*Document, error) {
	if loc == nil {
		loc = time.UTC
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	now := time.Now().In(loc)
	doc, err := c.Fetch(ctx, dayURL(securityToken, urlFormat, now))
	if err != nil {
		return nil, err
	}

	if now.Hour() >= 13 {
		next, err := c.Fetch(ctx, dayURL(securityToken, urlFormat, now.AddDate(0, 0, 1)))
		if err != nil {
			return nil, fmt.Errorf("next day: %w", err)
		}
		doc = merge(doc, next)
	}
	return doc, nil
}

// dayURL builds the request URL covering the local day of t.
func dayURL(securityToken, urlFormat string, t time.Time) string {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return fmt.Sprintf(urlFormat, utcString(start), utcString(start.AddDate(0, 0, 1)), securityToken)
}

// utcString formats t the way the API expects period bounds: YYYYMMDDHHmm.
func utcString(t time.Time) string {
	return t.UTC().Format("200601021504")
}
