// Package clock produces message timestamps, preferring an external time
// service and falling back to the local wall clock.
package clock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Layout is the ISO-8601 local date-time form used for fallback timestamps.
// Trailing zero fractional digits are dropped.
const Layout = "2006-01-02T15:04:05.999999999"

const (
	defaultTimeout = 3 * time.Second
	maxBodyBytes   = 64 << 10
)

// Local formats t the way fallback timestamps are written.
func Local(t time.Time) string {
	return t.Format(Layout)
}

// Config customizes an HTTP clock.
type Config struct {
	// Endpoint is the time service URL. Empty disables remote lookups.
	Endpoint   string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     logrus.FieldLogger

	// Now overrides the local clock; tests only.
	Now func() time.Time
}

// HTTP fetches the current time from a JSON time service.
type HTTP struct {
	endpoint string
	timeout  time.Duration
	client   *http.Client
	log      logrus.FieldLogger
	now      func() time.Time
}

type timeResponse struct {
	DateTime string `json:"dateTime"`
}

func New(cfg Config) *HTTP {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &HTTP{
		endpoint: strings.TrimSpace(cfg.Endpoint),
		timeout:  timeout,
		client:   client,
		log:      log.WithField("component", "clock"),
		now:      now,
	}
}

// Now returns the service time, or the local time when the service cannot
// be reached or answers with anything unusable. It never fails.
func (c *HTTP) Now(ctx context.Context) string {
	if c.endpoint == "" {
		return Local(c.now())
	}

	ts, err := c.fetch(ctx)
	if err != nil {
		c.log.WithError(err).Debug("time service unavailable, using local clock")
		return Local(c.now())
	}
	return ts
}

func (c *HTTP) fetch(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("get %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("get %s: unexpected status %d", c.endpoint, resp.StatusCode)
	}

	var body timeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return "", fmt.Errorf("decode time response: %w", err)
	}
	ts := strings.TrimSpace(body.DateTime)
	if ts == "" {
		return "", errors.New("time response has no dateTime")
	}
	return ts, nil
}

// Close releases idle connections held by the HTTP client.
func (c *HTTP) Close() {
	c.client.CloseIdleConnections()
}
