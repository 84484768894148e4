package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fizzbot/internal/metrics"
	logx "fizzbot/pkg/logx"

	"golang.org/x/time/rate"
)

const maxErrorBody = 512

// DeliveryError is a non-2xx webhook response. Body holds the start of the
// response for diagnostics.
type DeliveryError struct {
	Status int
	Body   string
}

func (e *DeliveryError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("webhook: status %d", e.Status)
	}
	return fmt.Sprintf("webhook: status %d: %s", e.Status, e.Body)
}

type WebhookConfig struct {
	URL        string
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
}

// Webhook posts messages to one webhook URL. Sends are paced by a token
// bucket; the webhook itself is never retried here.
type Webhook struct {
	cfg     WebhookConfig
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

type WebhookOption func(*Webhook)

func WithWebhookHTTPClient(hc *http.Client) WebhookOption {
	return func(w *Webhook) {
		if hc != nil {
			w.http = hc
		}
	}
}

func NewWebhook(cfg WebhookConfig, log logx.Logger, opts ...WebhookOption) (*Webhook, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.URL))
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return nil, fmt.Errorf("webhook: invalid url")
	}
	cfg.URL = u.String()
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 0.5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	w := &Webhook{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		log:     log,
	}
	for _, o := range opts {
		o(w)
	}
	return w, nil
}

// Send POSTs msg as JSON. Any non-2xx status is a *DeliveryError.
func (w *Webhook) Send(ctx context.Context, msg Message) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(msg.Embeds) == 0 {
		return errors.New("webhook: message has no embeds")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("webhook: encode: %w", err)
	}

	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("webhook: rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := w.http.Do(req)
	if err != nil {
		metrics.WebhookDeliveries.WithLabelValues("transport").Inc()
		// The webhook URL embeds its token; report only the cause.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return fmt.Errorf("webhook: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.WebhookDeliveries.WithLabelValues("status").Inc()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &DeliveryError{Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	metrics.WebhookDeliveries.WithLabelValues("ok").Inc()
	w.log.Debug("webhook delivered", logx.Int("status", resp.StatusCode), logx.Duration("took", time.Since(start)))
	return nil
}
