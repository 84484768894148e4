// Package stackexchange queries the Stack Exchange excerpt search API.
//
// A response may carry a "backoff" field. Search honors it before returning
// and may therefore block for that many seconds.
package stackexchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fizzbot/internal/metrics"
	logx "fizzbot/pkg/logx"
)

const (
	DefaultEndpoint = "https://api.stackexchange.com/2.3"

	// Fixed request shape: most relevant first, one full page.
	searchPath = "/search/excerpts"
	pageSize   = 100
	order      = "desc"
	sortBy     = "relevance"

	maxBodySize = 8 << 20
	userAgent   = "fizzbot/1.0 (+https://stackapps.com)"
)

type Config struct {
	Endpoint string
	Key      string
	Timeout  time.Duration
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

type Client struct {
	cfg   Config
	http  *http.Client
	log   logx.Logger
	sleep Sleeper
}

type Option func(*Client)

// WithHTTPClient replaces the default client (tests point it at httptest).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithSleeper replaces the backoff wait.
func WithSleeper(fn Sleeper) Option {
	return func(c *Client) {
		if fn != nil {
			c.sleep = fn
		}
	}
}

func New(cfg Config, log logx.Logger, opts ...Option) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	cfg.Endpoint = strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.Timeout},
		log:   log,
		sleep: sleepCtx,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Search returns the excerpts matching term on site. If the response asks
// for a backoff, Search waits it out before returning the items.
func (c *Client) Search(ctx context.Context, site, term string) ([]Excerpt, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.cfg.Endpoint + searchPath

	q := url.Values{}
	q.Set("order", order)
	q.Set("sort", sortBy)
	q.Set("pagesize", strconv.Itoa(pageSize))
	q.Set("site", site)
	q.Set("q", term)
	q.Set("key", c.cfg.Key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("search %s: build request: %w", site, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.SearchRequests.WithLabelValues(site, "transport").Inc()
		// url.Error repeats the full URL, key included; keep only the cause.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return nil, &TransportError{Op: "GET", URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		metrics.SearchRequests.WithLabelValues(site, "transport").Inc()
		return nil, &TransportError{Op: "read", URL: endpoint, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.SearchRequests.WithLabelValues(site, "status").Inc()
		qe := &QueryError{Site: site, Status: resp.StatusCode}
		var ae apiError
		if json.Unmarshal(body, &ae) == nil {
			qe.ErrorID = ae.ErrorID
			qe.Name = ae.ErrorName
			qe.Message = ae.ErrorMessage
		}
		return nil, qe
	}

	var r Response
	if err := json.Unmarshal(body, &r); err != nil {
		metrics.SearchRequests.WithLabelValues(site, "decode").Inc()
		return nil, &DecodeError{Site: site, Err: err}
	}
	metrics.SearchRequests.WithLabelValues(site, "ok").Inc()
	metrics.SearchItems.WithLabelValues(site).Add(float64(len(r.Items)))
	if r.QuotaMax > 0 {
		metrics.SearchQuotaRemaining.Set(float64(r.QuotaRemaining))
	}

	c.log.Debug("search done",
		logx.String("site", site),
		logx.Int("items", len(r.Items)),
		logx.Bool("has_more", r.HasMore),
		logx.Int("quota_remaining", r.QuotaRemaining),
		logx.Duration("took", time.Since(start)),
	)

	if r.Backoff > 0 {
		wait := backoffDuration(r.Backoff)
		c.log.Warn("search backoff requested", logx.String("site", site), logx.Duration("wait", wait))
		metrics.SearchBackoffSeconds.WithLabelValues(site).Add(float64(r.Backoff))
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	return r.Items, nil
}

// backoffDuration converts seconds, saturating instead of overflowing.
func backoffDuration(sec uint64) time.Duration {
	const maxSec = uint64(math.MaxInt64 / int64(time.Second))
	if sec > maxSec {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(sec) * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
