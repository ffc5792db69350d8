package meteo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const defaultBaseURL = "https://api.met.no/weatherapi/locationforecast/2.0"

// Client represents a client for the MET Norway Location Forecast API
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	retries    int
	backoff    time.Duration
}

// NewClient creates a new client. userAgent must identify the application.
func NewClient(userAgent string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
		userAgent:  userAgent,
	}
}

// SetBaseURL sets the base URL for the API (useful for testing)
func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

// SetRetries makes Forecast retry throttled, server-side and transport
// failures up to n more times. The wait doubles after every attempt.
func (c *Client) SetRetries(n int, backoff time.Duration) {
	c.retries = n
	c.backoff = backoff
}

// Forecast retrieves the compact forecast for loc.
func (c *Client) Forecast(ctx context.Context, loc Location) (*METJSONForecast, error) {
	if err := ValidateLocation(loc); err != nil {
		return nil, err
	}
	if c.userAgent == "" {
		return nil, &ValidationError{Field: "user_agent", Limit: "set, the API rejects anonymous clients"}
	}

	reqURL, err := c.buildURL("compact", loc)
	if err != nil {
		return nil, fmt.Errorf("failed to build URL: %w", err)
	}

	wait := c.backoff
	for attempt := 0; ; attempt++ {
		forecast, err := c.fetch(ctx, reqURL)
		if err == nil || attempt >= c.retries || !retryable(err) {
			return forecast, err
		}
		select {
		case <-ctx.Done():
			return nil, &NetworkError{Operation: "retry", Err: ctx.Err()}
		case <-time.After(wait):
		}
		wait *= 2
	}
}

func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

func (c *Client) fetch(ctx context.Context, reqURL string) (*METJSONForecast, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Operation: "request", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Operation: "read body", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var forecast METJSONForecast
	if err := json.Unmarshal(body, &forecast); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &forecast, nil
}

// buildURL constructs the API URL with query parameters
func (c *Client) buildURL(endpoint string, loc Location) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	u.Path = fmt.Sprintf("%s/%s", u.Path, endpoint)

	// The API asks for at most four decimals so that responses can be cached.
	query := u.Query()
	query.Set("lat", strconv.FormatFloat(loc.Latitude, 'f', 4, 64))
	query.Set("lon", strconv.FormatFloat(loc.Longitude, 'f', 4, 64))
	if loc.Altitude != nil {
		query.Set("altitude", strconv.Itoa(*loc.Altitude))
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// ValidateLocation checks that the coordinates are within range
func ValidateLocation(loc Location) error {
	if loc.Latitude < -90 || loc.Latitude > 90 {
		return &ValidationError{Field: "latitude", Value: loc.Latitude, Limit: "between -90 and 90"}
	}
	if loc.Longitude < -180 || loc.Longitude > 180 {
		return &ValidationError{Field: "longitude", Value: loc.Longitude, Limit: "between -180 and 180"}
	}
	if loc.Altitude != nil && *loc.Altitude < -500 {
		return &ValidationError{Field: "altitude", Value: float64(*loc.Altitude), Limit: "above -500 m"}
	}
	return nil
}
