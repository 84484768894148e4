package stackexchange

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	logx "fizzbot/pkg/logx"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts = append([]Option{WithHTTPClient(srv.Client())}, opts...)
	return New(Config{Endpoint: srv.URL, Key: "secret-key"}, logx.Nop(), opts...)
}

func TestSearchRequestShape(t *testing.T) {
	var got *http.Request
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		_, _ = w.Write([]byte(`{"items":[]}`))
	})

	if _, err := c.Search(context.Background(), "cooking.stackexchange.com", "carbonation"); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got == nil {
		t.Fatal("server saw no request")
	}
	if got.Method != http.MethodGet {
		t.Fatalf("method = %s, want GET", got.Method)
	}
	if got.URL.Path != "/search/excerpts" {
		t.Fatalf("path = %s, want /search/excerpts", got.URL.Path)
	}
	want := map[string]string{
		"order":    "desc",
		"sort":     "relevance",
		"pagesize": "100",
		"site":     "cooking.stackexchange.com",
		"q":        "carbonation",
		"key":      "secret-key",
	}
	for k, v := range want {
		if g := got.URL.Query().Get(k); g != v {
			t.Fatalf("param %s = %q, want %q", k, g, v)
		}
	}
}

func TestSearchDecodesItems(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"items": [
				{"title": "A <span class=\"highlight\">B</span>", "excerpt": "C", "question_id": 42, "creation_date": 1700000000},
				{"title": "second", "body": "from body", "question_id": 7, "creation_date": "1700000100"}
			],
			"has_more": false,
			"quota_max": 10000,
			"quota_remaining": 9990
		}`))
	})

	items, err := c.Search(context.Background(), "chemistry.stackexchange.com", "carbonation")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(items))
	}
	if items[0].ItemID != 42 || items[0].Body != "C" {
		t.Fatalf("items[0] = %+v", items[0])
	}
	if want := time.Unix(1700000000, 0).UTC(); !items[0].CreatedAt.Equal(want) {
		t.Fatalf("CreatedAt = %v, want %v", items[0].CreatedAt, want)
	}
	if items[1].Body != "from body" {
		t.Fatalf("items[1].Body = %q, want body fallback", items[1].Body)
	}
}

func TestSearchHonorsBackoff(t *testing.T) {
	var slept []time.Duration
	sleeper := func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[{"title":"t","excerpt":"e","question_id":1,"creation_date":1}],"backoff":3}`))
	}, WithSleeper(sleeper))

	items, err := c.Search(context.Background(), "physics.stackexchange.com", "carbonation")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(slept) != 1 || slept[0] != 3*time.Second {
		t.Fatalf("slept = %v, want [3s]", slept)
	}
	if len(items) != 1 || items[0].ItemID != 1 {
		t.Fatalf("items changed by backoff: %+v", items)
	}
}

func TestSearchBackoffBlocks(t *testing.T) {
	// Real sleeper, scaled down: one backoff "second" is 20ms.
	scaled := func(ctx context.Context, d time.Duration) error {
		return sleepCtx(ctx, d/50)
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[],"backoff":3}`))
	}, WithSleeper(scaled))

	start := time.Now()
	if _, err := c.Search(context.Background(), "s", "q"); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Fatalf("Search returned after %v, want >= 60ms", elapsed)
	}
}

func TestSearchNoBackoffNoSleep(t *testing.T) {
	called := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[]}`))
	}, WithSleeper(func(context.Context, time.Duration) error {
		called = true
		return nil
	}))
	if _, err := c.Search(context.Background(), "s", "q"); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if called {
		t.Fatal("sleeper called without backoff")
	}
}

func TestSearchBackoffCancelled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[],"backoff":60}`))
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Search(ctx, "s", "q")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestSearchQueryError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error_id":502,"error_message":"too many requests from this IP","error_name":"throttle_violation"}`))
	})

	_, err := c.Search(context.Background(), "lifehacks.stackexchange.com", "q")
	var qe *QueryError
	if !errors.As(err, &qe) {
		t.Fatalf("err = %T %v, want *QueryError", err, err)
	}
	if qe.Status != http.StatusBadRequest || qe.ErrorID != 502 || qe.Name != "throttle_violation" {
		t.Fatalf("QueryError = %+v", qe)
	}
	if !strings.Contains(qe.Error(), "lifehacks.stackexchange.com") {
		t.Fatalf("error text %q missing site", qe.Error())
	}
}

func TestSearchQueryErrorPlainBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})
	_, err := c.Search(context.Background(), "s", "q")
	var qe *QueryError
	if !errors.As(err, &qe) || qe.Status != http.StatusBadGateway {
		t.Fatalf("err = %v, want QueryError 502", err)
	}
}

func TestSearchDecodeError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items": "nope"}`))
	})
	_, err := c.Search(context.Background(), "s", "q")
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("err = %T %v, want *DecodeError", err, err)
	}
}

func TestSearchTransportErrorHidesKey(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	c := New(Config{Endpoint: endpoint, Key: "secret-key", Timeout: time.Second}, logx.Nop())
	_, err := c.Search(context.Background(), "s", "q")
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err = %T %v, want *TransportError", err, err)
	}
	if strings.Contains(err.Error(), "secret-key") {
		t.Fatalf("error leaks key: %v", err)
	}
}
