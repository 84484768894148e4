package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvSearchKey  = "STACKAPPS_KEY"
	EnvWebhookURL = "WEBHOOK_URL"
	EnvLogLevel   = "LOG_LEVEL"
)

var ErrMissing = errors.New("required value missing")

// StartupError is returned for anything that must stop the process before
// the first cycle: missing credentials, unreadable or invalid config.
type StartupError struct {
	Field string
	Err   error
}

func (e *StartupError) Error() string {
	if e.Field == "" {
		return "startup: " + e.Err.Error()
	}
	return fmt.Sprintf("startup: %s: %v", e.Field, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

// LoadDotenv loads .env style files into the process environment. Variables
// already set are never overridden. Missing files are ignored.
func LoadDotenv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return &StartupError{Field: f, Err: err}
		}
	}
	return nil
}

// Load builds the config from defaults, the optional file at path, and the
// process environment.
func Load(path string) (*Config, error) {
	return LoadWith(path, os.Getenv)
}

// LoadWith is Load with an explicit environment lookup.
func LoadWith(path string, getenv func(string) string) (*Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		if err := parseFile(path, cfg); err != nil {
			return nil, &StartupError{Field: path, Err: err}
		}
	}
	if getenv == nil {
		getenv = func(string) string { return "" }
	}

	cfg.Search.Key = strings.TrimSpace(getenv(EnvSearchKey))
	cfg.Webhook.URL = strings.TrimSpace(getenv(EnvWebhookURL))
	if lvl := strings.TrimSpace(getenv(EnvLogLevel)); lvl != "" {
		cfg.Logging.Level = lvl
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseFile(path string, into *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	jb, err := coerceToJSONBytes(path, b)
	if err != nil {
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return err
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return fmt.Errorf("invalid config: trailing data")
		}
		return err
	}
	return nil
}

// Validate checks required values and every duration field.
func (c *Config) Validate() error {
	if c.Search.Key == "" {
		return &StartupError{Field: EnvSearchKey, Err: ErrMissing}
	}
	if c.Webhook.URL == "" {
		return &StartupError{Field: EnvWebhookURL, Err: ErrMissing}
	}
	u, err := url.Parse(c.Webhook.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		// the URL carries the webhook token; never echo it
		return &StartupError{Field: EnvWebhookURL, Err: errors.New("must be an absolute http(s) URL")}
	}

	if strings.TrimSpace(c.Search.Term) == "" {
		return &StartupError{Field: "search.term", Err: ErrMissing}
	}
	sites := c.Search.Sites[:0]
	for _, s := range c.Search.Sites {
		if s = strings.TrimSpace(s); s != "" {
			sites = append(sites, s)
		}
	}
	if len(sites) == 0 {
		return &StartupError{Field: "search.sites", Err: ErrMissing}
	}
	c.Search.Sites = sites

	if c.Webhook.RatePerSec < 0 {
		return &StartupError{Field: "webhook.rate_per_sec", Err: errors.New("must be >= 0")}
	}

	for _, f := range []struct{ path, raw string }{
		{"search.timeout", c.Search.Timeout},
		{"webhook.timeout", c.Webhook.Timeout},
		{"debug.read_timeout", c.Debug.ReadTimeout},
		{"debug.write_timeout", c.Debug.WriteTimeout},
		{"debug.idle_timeout", c.Debug.IdleTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return &StartupError{Err: err}
		}
	}
	return nil
}

// SearchTimeout returns the parsed search timeout or its default.
func (c *Config) SearchTimeout() time.Duration {
	d, _ := ParseDurationOrDefault("search.timeout", c.Search.Timeout, DefaultSearchTimeout)
	return d
}

// WebhookTimeout returns the parsed webhook timeout or its default.
func (c *Config) WebhookTimeout() time.Duration {
	d, _ := ParseDurationOrDefault("webhook.timeout", c.Webhook.Timeout, DefaultWebhookTimeout)
	return d
}

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return def, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
