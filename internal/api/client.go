// Package api is the client for the remote prayer-time computation service
// (Al Adhan). It is the only component that talks to the network for timings.
package api

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

const (
	defaultBaseURL = "https://api.aladhan.com/v1"
	pathDateFormat = "02-01-2006"
)

var (
	// ErrUnexpectedStatus is returned for any non-200 HTTP status or body code.
	ErrUnexpectedStatus = errors.New("unexpected API status")

	// ErrDateMismatch is returned when the API answers for a different day.
	ErrDateMismatch = errors.New("API returned timings for a different date")
)

// Client communicates with the Al Adhan prayer times API.
type Client struct {
	httpClient *http.Client
	// BaseURL is the API base URL. Exported for testing with httptest.
	BaseURL string
}

// NewClient creates a new API client with sensible defaults.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		BaseURL: defaultBaseURL,
	}
}

// FetchByCoordinates fetches prayer times for the given date and coordinates.
// A negative method lets the API choose one for the location.
func (c *Client) FetchByCoordinates(ctx context.Context, date time.Time, lat, lng float64, method int) (*Response, error) {
	dateStr := date.Format(pathDateFormat)
	endpoint := fmt.Sprintf("%s/timings/%s", c.BaseURL, dateStr)

	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(lat, 'f', 6, 64))
	params.Set("longitude", strconv.FormatFloat(lng, 'f', 6, 64))
	if method >= 0 {
		params.Set("method", strconv.Itoa(method))
	}

	resp, err := c.doRequest(ctx, endpoint, params)
	if err != nil {
		return nil, err
	}

	if got := resp.Data.Date.Gregorian.Date; got != "" && got != dateStr {
		return nil, fmt.Errorf("%w: asked for %s, got %s", ErrDateMismatch, dateStr, got)
	}

	return resp, nil
}

func (c *Client) doRequest(ctx context.Context, endpoint string, params url.Values) (*Response, error) {
	reqURL := fmt.Sprintf("%s?%s", endpoint, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build API request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnexpectedStatus, resp.StatusCode, string(body))
	}

	var apiResp Response
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode API response: %w", err)
	}

	if apiResp.Code != http.StatusOK {
		return nil, fmt.Errorf("%w: code=%d status=%s", ErrUnexpectedStatus, apiResp.Code, apiResp.Status)
	}

	if len(apiResp.Data.Timings.Map()) == 0 {
		return nil, fmt.Errorf("failed to decode API response: no timings in payload")
	}

	return &apiResp, nil
}
