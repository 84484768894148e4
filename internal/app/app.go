// Package app wires config, logging, the search client, the aggregator,
// webhook delivery and the scheduler loop into one supervised process.
package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"fizzbot/internal/config"
	"fizzbot/internal/discord"
	"fizzbot/internal/excerpts"
	"fizzbot/internal/observability/debug"
	"fizzbot/internal/runtime/supervisor"
	"fizzbot/internal/scheduler"
	"fizzbot/internal/stackexchange"
	logx "fizzbot/pkg/logx"
)

type App struct {
	cfg  *config.Config
	log  logx.Logger
	logs io.Closer

	agg   *excerpts.Aggregator
	hook  *discord.Webhook
	loop  *scheduler.Loop
	debug *debug.Server

	sup    *supervisor.Supervisor
	notify Notifier
	last   atomic.Pointer[scheduler.Result]
}

type options struct {
	httpClient *http.Client
	notifier   Notifier
	loopOpts   []scheduler.Option
	logger     logx.Logger
	openLogs   func(logx.Config) (io.Closer, logx.Logger)
}

type Option func(*options)

// WithHTTPClient is used for both the search API and the webhook.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithNotifier replaces the systemd notifier.
func WithNotifier(n Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithLoopOptions forwards options to the scheduler loop (clock, sleeper).
func WithLoopOptions(opts ...scheduler.Option) Option {
	return func(o *options) { o.loopOpts = append(o.loopOpts, opts...) }
}

// WithLogger skips building the logging service from config.
func WithLogger(log logx.Logger) Option {
	return func(o *options) { o.logger = log }
}

func openLogService(cfg logx.Config) (io.Closer, logx.Logger) {
	return logx.New(cfg)
}

func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, &config.StartupError{Err: config.ErrMissing}
	}
	o := options{openLogs: openLogService}
	for _, fn := range opts {
		fn(&o)
	}

	a := &App{cfg: cfg, notify: o.notifier}
	if a.notify == nil {
		a.notify = SystemdNotifier{}
	}

	if o.logger.IsZero() {
		a.logs, a.log = o.openLogs(logx.Config{
			Level:   cfg.Logging.Level,
			Console: cfg.Logging.Console,
			File: logx.FileConfig{
				Enabled: cfg.Logging.File.Enabled,
				Path:    cfg.Logging.File.Path,
			},
		})
	} else {
		a.log = o.logger
	}
	log := a.log.With(logx.String("comp", "app"))

	// The log file is already open; release it on any later failure.
	fail := func(err error) (*App, error) {
		log.Error("startup failed", logx.Err(err))
		if a.logs != nil {
			_ = a.logs.Close()
		}
		return nil, err
	}

	var seOpts []stackexchange.Option
	var hookOpts []discord.WebhookOption
	if o.httpClient != nil {
		seOpts = append(seOpts, stackexchange.WithHTTPClient(o.httpClient))
		hookOpts = append(hookOpts, discord.WithWebhookHTTPClient(o.httpClient))
	}

	client := stackexchange.New(stackexchange.Config{
		Endpoint: cfg.Search.Endpoint,
		Key:      cfg.Search.Key,
		Timeout:  cfg.SearchTimeout(),
	}, a.log.With(logx.String("comp", "stackexchange")), seOpts...)

	agg, err := excerpts.New(excerpts.Config{
		Sites: cfg.Search.Sites,
		Term:  cfg.Search.Term,
	}, client, a.log.With(logx.String("comp", "excerpts")))
	if err != nil {
		return fail(&config.StartupError{Field: "search", Err: err})
	}
	a.agg = agg

	hook, err := discord.NewWebhook(discord.WebhookConfig{
		URL:        cfg.Webhook.URL,
		Timeout:    cfg.WebhookTimeout(),
		RatePerSec: cfg.Webhook.RatePerSec,
	}, a.log.With(logx.String("comp", "webhook")), hookOpts...)
	if err != nil {
		return fail(&config.StartupError{Field: config.EnvWebhookURL, Err: err})
	}
	a.hook = hook

	loopOpts := append([]scheduler.Option{scheduler.WithObserver(a.observe)}, o.loopOpts...)
	loop, err := scheduler.New(scheduler.Config{
		RetryDelay: scheduler.DefaultRetryDelay,
		Success:    scheduler.Hourly(),
	}, a.RunCycle, a.log.With(logx.String("comp", "scheduler")), loopOpts...)
	if err != nil {
		return fail(err)
	}
	a.loop = loop

	if cfg.Debug.Enabled {
		dc, err := mapDebugConfig(cfg)
		if err != nil {
			return fail(&config.StartupError{Field: "debug", Err: err})
		}
		a.debug = debug.New(dc, a.health, a.log.With(logx.String("comp", "debug")))
	}

	log.Info("configured",
		logx.String("term", cfg.Search.Term),
		logx.Any("sites", cfg.Search.Sites),
		logx.Bool("debug", a.debug != nil),
	)
	return a, nil
}

// RunCycle performs one aggregate, compose and deliver pass.
func (a *App) RunCycle(ctx context.Context) error {
	picked, err := a.agg.Pick(ctx)
	if err != nil {
		return fmt.Errorf("aggregate: %w", err)
	}
	msg := discord.Compose(picked.Site, picked.Excerpt)
	embed := msg.Embeds[0]
	a.log.Info("message composed",
		logx.String("site", picked.Site),
		logx.Uint64("question_id", picked.Excerpt.ItemID),
		logx.String("title", embed.Title),
		logx.String("url", embed.URL),
		logx.String("timestamp", embed.Timestamp.UTC().Format(time.RFC3339)),
	)
	if err := a.hook.Send(ctx, msg); err != nil {
		return fmt.Errorf("deliver: %w", err)
	}
	a.log.Info("excerpt delivered", logx.String("url", embed.URL))
	return nil
}

// Start launches the loop (and the debug server when enabled) under a
// supervisor and reports readiness.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))))

	a.sup.GoRestart("poll.loop", time.Second, time.Minute, a.loop.Run)
	if a.debug != nil {
		a.sup.GoRestart("debug.http", 500*time.Millisecond, 10*time.Second, a.debug.Run)
	}

	a.notifyState(StateReady)
	a.log.Info("app started")
	return nil
}

// Done is closed when the supervisor context is cancelled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Stop cancels every supervised goroutine and waits for them within ctx.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.notifyState(StateStopping)
	a.log.Info("stopping")

	err := a.sup.Stop(ctx)
	if err != nil {
		a.log.Warn("stop incomplete", logx.Err(err))
	}
	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

// LastResult is the most recent finished cycle, if any.
func (a *App) LastResult() (scheduler.Result, bool) {
	r := a.last.Load()
	if r == nil {
		return scheduler.Result{}, false
	}
	return *r, true
}

func (a *App) observe(r scheduler.Result) {
	a.last.Store(&r)
	a.notifyState(statusLine(r))
}

func (a *App) notifyState(state string) {
	if err := a.notify.Notify(state); err != nil {
		a.log.Debug("service notify failed", logx.String("state", state), logx.Err(err))
	}
}

func mapDebugConfig(cfg *config.Config) (debug.Config, error) {
	dc := cfg.Debug
	rt, err := config.ParseDurationOrDefault("debug.read_timeout", dc.ReadTimeout, 10*time.Second)
	if err != nil {
		return debug.Config{}, err
	}
	// profile/trace handlers stream for their requested duration.
	wt, err := config.ParseDurationOrDefault("debug.write_timeout", dc.WriteTimeout, 0)
	if err != nil {
		return debug.Config{}, err
	}
	it, err := config.ParseDurationOrDefault("debug.idle_timeout", dc.IdleTimeout, 60*time.Second)
	if err != nil {
		return debug.Config{}, err
	}
	out := debug.Config{
		Addr:          dc.Addr,
		Prefix:        dc.Prefix,
		Token:         dc.Token,
		AllowInsecure: dc.AllowInsecure,
		ReadTimeout:   rt,
		WriteTimeout:  wt,
		IdleTimeout:   it,
	}
	if err := out.Validate(); err != nil {
		return debug.Config{}, err
	}
	return out, nil
}
