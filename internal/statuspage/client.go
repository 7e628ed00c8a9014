// Package statuspage fetches the current incident list from a status-page API.
package statuspage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/miradorstack/mirador-statuswatch/internal/models"
)

const maxBodyBytes = 8 << 20

// FetchError reports a failed or malformed snapshot fetch. StatusCode is zero
// when the request never produced a response.
type FetchError struct {
	URL        string
	StatusCode int
	Status     string
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Status, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Status)
	default:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// Client wraps the status-page incidents endpoint.
type Client struct {
	url        string
	userAgent  string
	httpClient *http.Client
}

// NewClient constructs a client for the given incidents URL.
func NewClient(url string, timeout time.Duration, userAgent string) *Client {
	return &Client{
		url:        strings.TrimSpace(url),
		userAgent:  userAgent,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// URL returns the configured incidents endpoint.
func (c *Client) URL() string { return c.url }

// FetchIncidents returns every incident the source currently lists.
func (c *Client) FetchIncidents(ctx context.Context) ([]models.Incident, error) {
	if c == nil || c.url == "" {
		return nil, &FetchError{Err: errors.New("status source URL not configured")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, &FetchError{URL: c.url, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{URL: c.url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &FetchError{URL: c.url, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &FetchError{URL: c.url, StatusCode: resp.StatusCode, Status: resp.Status, Err: fmt.Errorf("read body: %w", err)}
	}

	incidents, err := decodeSnapshot(body)
	if err != nil {
		return nil, &FetchError{URL: c.url, StatusCode: resp.StatusCode, Status: resp.Status, Err: err}
	}
	return incidents, nil
}

// decodeSnapshot checks the document shape before trusting it: a JSON object
// whose optional "incidents" member is an array of incidents with ids.
func decodeSnapshot(body []byte) ([]models.Incident, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errors.New("decode response: expected a JSON object")
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	raw, ok := envelope["incidents"]
	if !ok || string(raw) == "null" {
		return []models.Incident{}, nil
	}
	if rawTrimmed := bytes.TrimSpace(raw); len(rawTrimmed) == 0 || rawTrimmed[0] != '[' {
		return nil, errors.New("decode response: incidents is not an array")
	}

	var incidents []models.Incident
	if err := json.Unmarshal(raw, &incidents); err != nil {
		return nil, fmt.Errorf("decode incidents: %w", err)
	}
	for i, inc := range incidents {
		if strings.TrimSpace(inc.ID) == "" {
			return nil, fmt.Errorf("decode incidents: incident %d has no id", i)
		}
	}
	return incidents, nil
}
