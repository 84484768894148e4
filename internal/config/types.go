package config

import "time"

// Config is the full runtime configuration. Secrets (search key, webhook URL)
// only ever come from the environment and are never serialized.
type Config struct {
	Search  SearchConfig  `json:"search"`
	Webhook WebhookConfig `json:"webhook"`
	Logging LoggingConfig `json:"logging"`
	Debug   DebugConfig   `json:"debug,omitempty"`
}

// SearchConfig controls the excerpt queries.
//
// Example:
//
//	search:
//	  term: carbonation
//	  sites: [cooking.stackexchange.com, chemistry.stackexchange.com]
type SearchConfig struct {
	Endpoint string   `json:"endpoint,omitempty"`
	Term     string   `json:"term,omitempty"`
	Sites    []string `json:"sites,omitempty"`
	// Timeout is a Go duration string (e.g. "30s").
	Timeout string `json:"timeout,omitempty"`

	Key string `json:"-"`
}

type WebhookConfig struct {
	// Timeout is a Go duration string (e.g. "15s").
	Timeout    string  `json:"timeout,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`

	URL string `json:"-"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// DebugConfig controls the optional debug HTTP server (healthz, metrics, pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// DefaultSites is the site list used when the config file names none.
var DefaultSites = []string{
	"cooking.stackexchange.com",
	"chemistry.stackexchange.com",
	"homebrew.stackexchange.com",
	"physics.stackexchange.com",
	"lifehacks.stackexchange.com",
}

const (
	DefaultTerm           = "carbonation"
	DefaultSearchTimeout  = 30 * time.Second
	DefaultWebhookTimeout = 15 * time.Second
	DefaultWebhookRate    = 0.5
)

// Defaults returns a config that works with only the two required env values.
func Defaults() *Config {
	return &Config{
		Search: SearchConfig{
			Term:  DefaultTerm,
			Sites: append([]string(nil), DefaultSites...),
		},
		Webhook: WebhookConfig{RatePerSec: DefaultWebhookRate},
		Logging: LoggingConfig{Level: "info", Console: true},
	}
}
