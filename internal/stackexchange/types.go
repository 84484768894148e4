package stackexchange

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// Excerpt is one search hit. Title and Body still carry the API's markup.
type Excerpt struct {
	Title     string
	Body      string
	ItemID    uint64
	CreatedAt time.Time
}

// QuestionURL is the canonical link to the excerpt's question on site.
func (e Excerpt) QuestionURL(site string) string {
	return fmt.Sprintf("https://%s/questions/%d", site, e.ItemID)
}

// SiteURL is the home page of site.
func SiteURL(site string) string {
	return "https://" + site
}

type excerptWire struct {
	Title        string          `json:"title"`
	Excerpt      string          `json:"excerpt"`
	Body         string          `json:"body"`
	QuestionID   uint64          `json:"question_id"`
	CreationDate json.RawMessage `json:"creation_date"`
}

func (e *Excerpt) UnmarshalJSON(b []byte) error {
	var w excerptWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	created, err := parseTimestamp(w.CreationDate)
	if err != nil {
		return fmt.Errorf("creation_date: %w", err)
	}
	body := w.Excerpt
	if body == "" {
		body = w.Body
	}
	*e = Excerpt{
		Title:     w.Title,
		Body:      body,
		ItemID:    w.QuestionID,
		CreatedAt: created,
	}
	return nil
}

// parseTimestamp accepts epoch seconds as a JSON number or numeric string, and
// falls back to dateparse for anything else that looks like a date.
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return time.Time{}, fmt.Errorf("empty timestamp")
		}
		if t, ok := parseEpoch(s); ok {
			return t, nil
		}
		t, err := dateparse.ParseIn(s, time.UTC)
		if err != nil {
			return time.Time{}, fmt.Errorf("unrecognized timestamp %q: %w", s, err)
		}
		return t.UTC(), nil
	}

	if t, ok := parseEpoch(string(raw)); ok {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %s", raw)
}

func parseEpoch(s string) (time.Time, bool) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(n, 0).UTC(), true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, false
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
}

// Response is the common API wrapper. Backoff is in seconds and must be
// honored before the next request to the same method.
type Response struct {
	Items          []Excerpt `json:"items"`
	Backoff        uint64    `json:"backoff,omitempty"`
	HasMore        bool      `json:"has_more"`
	QuotaMax       int       `json:"quota_max,omitempty"`
	QuotaRemaining int       `json:"quota_remaining,omitempty"`
}

// apiError is the wrapper body returned alongside non-2xx statuses.
type apiError struct {
	ErrorID      int    `json:"error_id"`
	ErrorName    string `json:"error_name"`
	ErrorMessage string `json:"error_message"`
}
