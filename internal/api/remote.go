package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ziziccc/embedded-prj3/internal/httputil"
)

// RemoteError is a non-200 answer from a station.
type RemoteError struct {
	Status int
	Body   httputil.ErrorBody
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("station returned %d: %s", e.Status, e.Body.Error)
}

// Retryable reports whether the station said the capture may be retried.
func (e *RemoteError) Retryable() bool { return e.Body.Retryable }

// Client triggers captures on a running station.
type Client struct {
	BaseURL string
	HTTP    httputil.HTTPClient
}

func NewClient(baseURL string, c httputil.HTTPClient) *Client {
	if c == nil {
		c = http.DefaultClient
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: c}
}

// Capture asks the station for one capture.
func (c *Client) Capture() (*CaptureView, error) {
	req, err := http.NewRequest(http.MethodPost, c.BaseURL+"/api/capture", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		rerr := &RemoteError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(&rerr.Body); err != nil {
			rerr.Body.Error = http.StatusText(resp.StatusCode)
		}
		return nil, rerr
	}
	var v CaptureView
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return nil, fmt.Errorf("decode capture response: %w", err)
	}
	return &v, nil
}
