// Package sink forwards position reports to the external reporting endpoint.
package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"gpsrelay/internal/geo"
)

var ErrSinkStatus = errors.New("reporting sink returned non-2xx status")

// Report is the payload of one forwarding call.
type Report struct {
	DeviceID     string
	UniqueID     string
	ProjectedLat float64
	ProjectedLon float64
	Speed        float64
}

// Path renders deviceId/uniqueId/projectedLat/projectedLon/speed.
func (r Report) Path() string {
	return strings.Join([]string{
		url.PathEscape(r.DeviceID),
		url.PathEscape(r.UniqueID),
		geo.FormatProjected(r.ProjectedLat),
		geo.FormatProjected(r.ProjectedLon),
		formatSpeed(r.Speed),
	}, "/")
}

// formatSpeed renders the speed in its shortest form with at least one
// decimal, so a stationary fix is sent as 0.0.
func formatSpeed(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// Client performs one GET per report. It never retries.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  "gpsrelay/1.0",
	}
}

// URL returns the request URL for the report.
func (c *Client) URL(r Report) string {
	return c.baseURL + "/" + r.Path()
}

// Report succeeds only on a 2xx response whose body could be read in full.
func (c *Client) Report(ctx context.Context, r Report) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(r), nil)
	if err != nil {
		return fmt.Errorf("build sink request: %w", err)
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sink request: %w", err)
	}
	defer resp.Body.Close()

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return fmt.Errorf("read sink response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %d", ErrSinkStatus, resp.StatusCode)
	}
	return nil
}
