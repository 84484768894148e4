package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"fizzbot/internal/config"
	"fizzbot/internal/discord"
	"fizzbot/internal/excerpts"
	"fizzbot/internal/observability/debug"
	"fizzbot/internal/scheduler"
	logx "fizzbot/pkg/logx"
)

const searchBody = `{"items":[{"title":"A <span class=\"highlight\">B</span>","excerpt":"C","question_id":42,"creation_date":1700000000}]}`

type recordingNotifier struct {
	mu     sync.Mutex
	states []string
}

func (n *recordingNotifier) Notify(state string) error {
	n.mu.Lock()
	n.states = append(n.states, state)
	n.mu.Unlock()
	return nil
}

func (n *recordingNotifier) snapshot() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.states...)
}

type harness struct {
	cfg      *config.Config
	searches chan string
	posts    chan discord.Message
}

func newHarness(t *testing.T, searchHandler http.HandlerFunc) *harness {
	t.Helper()
	h := &harness{
		searches: make(chan string, 16),
		posts:    make(chan discord.Message, 16),
	}
	if searchHandler == nil {
		searchHandler = func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(searchBody))
		}
	}
	search := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.searches <- r.URL.Query().Get("site")
		searchHandler(w, r)
	}))
	t.Cleanup(search.Close)

	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var m discord.Message
		b, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(b, &m); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.posts <- m
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(hook.Close)

	cfg := config.Defaults()
	cfg.Search.Endpoint = search.URL
	cfg.Search.Key = "k"
	cfg.Search.Sites = []string{"cooking.stackexchange.com"}
	cfg.Webhook.URL = hook.URL + "/api/webhooks/1/token"
	cfg.Webhook.RatePerSec = 100
	h.cfg = cfg
	return h
}

func TestRunCycleDeliversComposedExcerpt(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	a, err := New(h.cfg, WithLogger(logx.Nop()), WithNotifier(&recordingNotifier{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := a.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	select {
	case m := <-h.posts:
		if len(m.Embeds) != 1 {
			t.Fatalf("embeds = %d, want 1", len(m.Embeds))
		}
		e := m.Embeds[0]
		if e.Title != "A **B**" {
			t.Fatalf("title = %q, want %q", e.Title, "A **B**")
		}
		if e.Description != "C" {
			t.Fatalf("description = %q, want C", e.Description)
		}
		if e.URL != "https://cooking.stackexchange.com/questions/42" {
			t.Fatalf("url = %q", e.URL)
		}
		if e.Author.Name != "cooking.stackexchange.com" || e.Author.URL != "https://cooking.stackexchange.com" {
			t.Fatalf("author = %+v", e.Author)
		}
		if want := time.Unix(1700000000, 0); !e.Timestamp.Equal(want) {
			t.Fatalf("timestamp = %v, want %v", e.Timestamp, want)
		}
	default:
		t.Fatal("webhook received nothing")
	}
}

func TestRunCycleEmptyResultsSendsNothing(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[]}`))
	})
	a, err := New(h.cfg, WithLogger(logx.Nop()), WithNotifier(&recordingNotifier{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.RunCycle(context.Background()); !errors.Is(err, excerpts.ErrNoResults) {
		t.Fatalf("RunCycle = %v, want ErrNoResults", err)
	}
	if len(h.posts) != 0 {
		t.Fatal("webhook called for empty result")
	}
}

func TestRunCycleQueryFailureSkipsDelivery(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	})
	a, err := New(h.cfg, WithLogger(logx.Nop()), WithNotifier(&recordingNotifier{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = a.RunCycle(context.Background())
	if err == nil || !strings.HasPrefix(err.Error(), "aggregate:") {
		t.Fatalf("RunCycle = %v, want aggregate error", err)
	}
	if len(h.posts) != 0 {
		t.Fatal("webhook called after failed query")
	}
}

func TestStartReportsReadyStatusAndStopping(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	n := &recordingNotifier{}
	var sleeps sync.WaitGroup
	sleeps.Add(1)
	var once sync.Once
	a, err := New(h.cfg,
		WithLogger(logx.Nop()),
		WithNotifier(n),
		WithLoopOptions(scheduler.WithSleeper(func(ctx context.Context, d time.Duration) error {
			once.Do(sleeps.Done)
			<-ctx.Done()
			return ctx.Err()
		})),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-h.posts:
	case <-time.After(5 * time.Second):
		t.Fatal("first cycle did not deliver")
	}
	sleeps.Wait()

	r, ok := a.LastResult()
	if !ok || !r.OK() || r.Wait <= 0 || r.Wait > time.Hour {
		t.Fatalf("last result = %+v, %v", r, ok)
	}
	if rep, err := a.health(); err != nil || rep.(healthReport).LastCycleID != r.ID {
		t.Fatalf("health = %+v, %v", rep, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	states := n.snapshot()
	if len(states) < 3 {
		t.Fatalf("states = %v", states)
	}
	var sawReady, sawStatus bool
	for _, s := range states {
		sawReady = sawReady || s == StateReady
		sawStatus = sawStatus || strings.HasPrefix(s, "STATUS=last cycle ok")
	}
	if !sawReady || !sawStatus || states[len(states)-1] != StateStopping {
		t.Fatalf("states = %v", states)
	}
}

func TestHealthDegradedAfterFailure(t *testing.T) {
	t.Parallel()
	a := &App{notify: &recordingNotifier{}, log: logx.Nop()}
	a.observe(scheduler.Result{ID: "x", Err: errors.New("boom"), Started: time.Unix(0, 0)})
	rep, err := a.health()
	if err == nil {
		t.Fatal("health should be degraded after a failed cycle")
	}
	if hr := rep.(healthReport); hr.LastOK || hr.LastError != "boom" {
		t.Fatalf("report = %+v", hr)
	}
}

func TestNewRejectsBadWebhook(t *testing.T) {
	t.Parallel()
	cfg := config.Defaults()
	cfg.Search.Key = "k"
	cfg.Webhook.URL = "::not a url"
	_, err := New(cfg, WithLogger(logx.Nop()))
	var se *config.StartupError
	if !errors.As(err, &se) {
		t.Fatalf("New = %v, want *StartupError", err)
	}
}

func TestStatusLine(t *testing.T) {
	t.Parallel()
	r := scheduler.Result{
		Started: time.Date(2024, 1, 1, 10, 20, 0, 0, time.UTC),
		NextAt:  time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC),
	}
	want := "STATUS=last cycle ok at 2024-01-01T10:20:00Z, next at 2024-01-01T11:00:00Z"
	if got := statusLine(r); got != want {
		t.Fatalf("statusLine = %q, want %q", got, want)
	}
}

type countingCloser struct{ closes int }

func (c *countingCloser) Close() error {
	c.closes++
	return nil
}

func TestNewRejectsInsecureDebugBind(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.cfg.Debug = config.DebugConfig{Enabled: true, Addr: "0.0.0.0:6060"}

	_, err := New(h.cfg, WithLogger(logx.Nop()), WithNotifier(&recordingNotifier{}))
	var se *config.StartupError
	if !errors.As(err, &se) || se.Field != "debug" {
		t.Fatalf("New = %v, want debug *StartupError", err)
	}
	if !errors.Is(err, debug.ErrInsecureBind) {
		t.Fatalf("New = %v, want ErrInsecureBind", err)
	}

	h.cfg.Debug.Token = "t0ken"
	if _, err := New(h.cfg, WithLogger(logx.Nop()), WithNotifier(&recordingNotifier{})); err != nil {
		t.Fatalf("New with token = %v", err)
	}
}

func TestNewClosesLogServiceOnFailure(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{name: "bad webhook", mutate: func(c *config.Config) { c.Webhook.URL = "::nope" }},
		{name: "no sites", mutate: func(c *config.Config) { c.Search.Sites = nil }},
		{name: "insecure debug", mutate: func(c *config.Config) {
			c.Debug = config.DebugConfig{Enabled: true, Addr: ":6060"}
		}},
	}
	for _, tt := range tests {
		h := newHarness(t, nil)
		tt.mutate(h.cfg)
		closer := &countingCloser{}
		_, err := New(h.cfg, WithNotifier(&recordingNotifier{}), func(o *options) {
			o.openLogs = func(logx.Config) (io.Closer, logx.Logger) { return closer, logx.Nop() }
		})
		if err == nil {
			t.Fatalf("%s: New succeeded, want error", tt.name)
		}
		if closer.closes != 1 {
			t.Fatalf("%s: log service closed %d times, want 1", tt.name, closer.closes)
		}
	}
}

func TestRunCycleLogsComposedMessage(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	var buf bytes.Buffer
	a, err := New(h.cfg, WithLogger(logx.NewJSON(&buf, "info")), WithNotifier(&recordingNotifier{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		`"message":"message composed"`,
		`"title":"A **B**"`,
		`"url":"https://cooking.stackexchange.com/questions/42"`,
		`"timestamp":"2023-11-14T22:13:20Z"`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output missing %s:\n%s", want, out)
		}
	}
}
