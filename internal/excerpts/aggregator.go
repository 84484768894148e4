// Package excerpts fans one search term out over a fixed list of sites and
// picks a single hit from the merged results.
package excerpts

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"fizzbot/internal/stackexchange"
	logx "fizzbot/pkg/logx"
)

// ErrNoResults means every site answered but none returned an excerpt.
var ErrNoResults = errors.New("no excerpts returned by any site")

// Searcher runs one query against one site.
type Searcher interface {
	Search(ctx context.Context, site, term string) ([]stackexchange.Excerpt, error)
}

// Tagged is an excerpt together with the site it came from.
type Tagged struct {
	Site    string
	Excerpt stackexchange.Excerpt
}

type Config struct {
	Sites []string
	Term  string
}

// Aggregator queries Sites in order, all or nothing.
type Aggregator struct {
	cfg      Config
	searcher Searcher
	log      logx.Logger

	rmu sync.Mutex
	rng *rand.Rand
}

type Option func(*Aggregator)

// WithRand fixes the random source (tests seed it).
func WithRand(r *rand.Rand) Option {
	return func(a *Aggregator) {
		if r != nil {
			a.rng = r
		}
	}
}

func New(cfg Config, searcher Searcher, log logx.Logger, opts ...Option) (*Aggregator, error) {
	if searcher == nil {
		return nil, errors.New("excerpts: searcher required")
	}
	if strings.TrimSpace(cfg.Term) == "" {
		return nil, errors.New("excerpts: search term required")
	}
	sites := make([]string, 0, len(cfg.Sites))
	for _, s := range cfg.Sites {
		if s = strings.TrimSpace(s); s != "" {
			sites = append(sites, s)
		}
	}
	if len(sites) == 0 {
		return nil, errors.New("excerpts: at least one site required")
	}
	cfg.Sites = sites

	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Aggregator{
		cfg:      cfg,
		searcher: searcher,
		log:      log,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Collect queries every site in order and returns all hits grouped by site.
// The first failing site aborts the whole collection; nothing partial is
// returned.
func (a *Aggregator) Collect(ctx context.Context) ([]Tagged, error) {
	var all []Tagged
	for _, site := range a.cfg.Sites {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		items, err := a.searcher.Search(ctx, site, a.cfg.Term)
		if err != nil {
			return nil, fmt.Errorf("site %s: %w", site, err)
		}
		a.log.Debug("site collected", logx.String("site", site), logx.Int("items", len(items)))
		for _, it := range items {
			all = append(all, Tagged{Site: site, Excerpt: it})
		}
	}
	return all, nil
}

// Pick collects from every site and returns one hit chosen uniformly over
// the merged set, so a site with more hits is proportionally more likely.
func (a *Aggregator) Pick(ctx context.Context) (Tagged, error) {
	all, err := a.Collect(ctx)
	if err != nil {
		return Tagged{}, err
	}
	if len(all) == 0 {
		return Tagged{}, ErrNoResults
	}
	i := a.intn(len(all))
	a.log.Debug("excerpt picked",
		logx.String("site", all[i].Site),
		logx.Uint64("question_id", all[i].Excerpt.ItemID),
		logx.Int("candidates", len(all)),
	)
	return all[i], nil
}

func (a *Aggregator) intn(n int) int {
	a.rmu.Lock()
	defer a.rmu.Unlock()
	return a.rng.Intn(n)
}
