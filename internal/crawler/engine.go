package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/gallito-crawler/internal/listing"
	"github.com/JakeFAU/gallito-crawler/internal/metrics"
)

// Engine owns one crawl run: Colly does the fetching, scheduling and
// politeness; the engine decides which links to follow and what to do with
// listing pages.
type Engine struct {
	cfg       Config
	rules     linkRules
	retry     RetryPolicy
	runID     string
	sinks     []RecordSink
	hooks     []CompletionHook
	transport http.RoundTripper
	logger    *zap.Logger
}

// NewEngine validates cfg and returns an engine writing to sinks.
func NewEngine(cfg Config, runID string, sinks []RecordSink, logger *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rules, err := compileRules(cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:    cfg,
		rules:  rules,
		retry:  NewRetryPolicy(cfg.MaxRetries),
		runID:  runID,
		sinks:  sinks,
		logger: logger.With(zap.String("run_id", runID)),
	}, nil
}

// OnComplete registers a hook to run after the crawl. Hooks run in
// registration order and stop at the first error.
func (e *Engine) OnComplete(hook CompletionHook) {
	e.hooks = append(e.hooks, hook)
}

// WithTransport overrides the HTTP transport used by the collector.
func (e *Engine) WithTransport(rt http.RoundTripper) {
	e.transport = rt
}

// run holds the state of a single Run call.
type run struct {
	engine    *Engine
	ctx       context.Context
	collector *colly.Collector
	logger    *zap.Logger

	pages    atomic.Int64
	listings atomic.Int64
	skipped  atomic.Int64
	failed   atomic.Int64
}

// Run crawls until the frontier is exhausted, closes the sinks and then runs
// the completion hooks. A canceled context stops the crawl and skips the
// hooks; whatever was written stays in the sinks.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	metrics.Init()
	started := time.Now().UTC()
	r := &run{engine: e, ctx: ctx, logger: e.logger}
	collector, err := r.newCollector()
	if err != nil {
		return Summary{}, err
	}
	r.collector = collector

	e.logger.Info("Crawl started", zap.Strings("seeds", e.cfg.Seeds))
	for _, seed := range e.cfg.Seeds {
		if err := r.visit(seed); err != nil {
			e.logger.Error("Failed to visit seed", zap.String("url", seed), zap.Error(err))
		}
	}
	collector.Wait()

	summary := Summary{
		RunID:      e.runID,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
		Pages:      r.pages.Load(),
		Listings:   r.listings.Load(),
		Skipped:    r.skipped.Load(),
		Failed:     r.failed.Load(),
		Feeds:      e.feeds(),
	}
	e.logger.Info("Crawl finished",
		zap.Int64("pages", summary.Pages),
		zap.Int64("listings", summary.Listings),
		zap.Int64("skipped", summary.Skipped),
		zap.Int64("failed", summary.Failed),
	)

	if err := e.closeSinks(); err != nil {
		return summary, err
	}
	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("crawl interrupted: %w", err)
	}
	for i, hook := range e.hooks {
		if err := hook(ctx, summary); err != nil {
			return summary, fmt.Errorf("completion hook %d: %w", i, err)
		}
	}
	return summary, nil
}

func (e *Engine) feeds() []Feed {
	var feeds []Feed
	for _, sink := range e.sinks {
		if fs, ok := sink.(fileSink); ok {
			feeds = append(feeds, Feed{Path: fs.Path(), Offset: fs.Offset()})
		}
	}
	return feeds
}

func (e *Engine) closeSinks() error {
	var errs []error
	for _, sink := range e.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close sinks: %w", errors.Join(errs...))
	}
	return nil
}

func (r *run) newCollector() (*colly.Collector, error) {
	cfg := r.engine.cfg
	c := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowedDomains(cfg.AllowedDomains...),
		colly.Async(true),
	)
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	c.SetRequestTimeout(cfg.RequestTimeout)
	if r.engine.transport != nil {
		c.WithTransport(r.engine.transport)
	}
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
		Delay:       cfg.Delay,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("set collector limits: %w", err)
	}

	c.OnRequest(r.handleRequest)
	c.OnResponse(r.handleResponse)
	c.OnHTML("a[href]", r.handleLink)
	c.OnHTML("html", r.handleListing)
	c.OnError(r.handleError)
	return c, nil
}

// visit schedules u with its own request context so retry counters are not
// shared between pages.
func (r *run) visit(u string) error {
	if err := r.collector.Request(http.MethodGet, u, nil, colly.NewContext(), nil); err != nil {
		return fmt.Errorf("visit %s: %w", u, err)
	}
	return nil
}

func (r *run) handleRequest(req *colly.Request) {
	if r.ctx.Err() != nil {
		req.Abort()
	}
}

func (r *run) handleResponse(resp *colly.Response) {
	u := resp.Request.URL.String()
	r.pages.Add(1)
	metrics.ObservePage(u, r.engine.rules.kind(u), len(resp.Body))
	r.logger.Debug("Fetched page", zap.String("url", u), zap.Int("status_code", resp.StatusCode))
}

// handleLink follows pagination and listing links found on index pages.
// Listing pages are leaves.
func (r *run) handleLink(el *colly.HTMLElement) {
	rules := r.engine.rules
	if rules.kind(el.Request.URL.String()) == pageKindListing {
		return
	}
	link := el.Request.AbsoluteURL(el.Attr("href"))
	if link == "" || !rules.follow(link) {
		return
	}
	if err := r.visit(link); err != nil {
		r.logger.Debug("Skipping link", zap.String("url", link), zap.Error(err))
	}
}

func (r *run) handleListing(el *colly.HTMLElement) {
	u := el.Request.URL.String()
	if r.engine.rules.kind(u) != pageKindListing {
		return
	}
	rec, err := listing.Extract(listing.Page{URL: u, DOM: el.DOM})
	if err != nil {
		reason := "extract_failed"
		switch {
		case errors.Is(err, listing.ErrUnknownCategory):
			reason = "unknown_category"
		case errors.Is(err, listing.ErrMissingCategory):
			reason = "missing_category"
		}
		r.skipped.Add(1)
		metrics.ObserveSkippedListing(reason)
		r.logger.Warn("Skipping listing page", zap.String("url", u), zap.String("reason", reason), zap.Error(err))
		return
	}
	for _, sink := range r.engine.sinks {
		if err := sink.Write(r.ctx, rec); err != nil {
			r.logger.Error("Failed to write listing", zap.String("url", u), zap.String("id", rec.ID), zap.Error(err))
			return
		}
	}
	r.listings.Add(1)
	metrics.ObserveListing()
}

func (r *run) handleError(resp *colly.Response, err error) {
	if resp == nil || resp.Request == nil {
		r.logger.Error("Request failed", zap.Error(err))
		return
	}
	u := resp.Request.URL.String()
	attempt := attempts(resp.Ctx)
	if r.ctx.Err() == nil && r.engine.retry.ShouldRetry(resp.StatusCode, err, attempt) {
		resp.Ctx.Put(attemptKey, attempt+1)
		metrics.ObserveRetry()
		r.logger.Info("Retrying request",
			zap.String("url", u),
			zap.Int("status_code", resp.StatusCode),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		retryErr := resp.Request.Retry()
		if retryErr == nil {
			return
		}
		err = fmt.Errorf("%w (retry: %v)", err, retryErr)
	}

	r.failed.Add(1)
	metrics.ObserveRequestError(resp.StatusCode)
	msg := "Request failed"
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		msg = "Rate limited"
	case http.StatusForbidden:
		msg = "Forbidden"
	}
	r.logger.Error(msg,
		zap.String("url", u),
		zap.Int("status_code", resp.StatusCode),
		zap.Error(err),
	)
}
