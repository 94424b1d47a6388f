package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/scrapigen/scrapigen/cache"
	"github.com/scrapigen/scrapigen/config"
	"github.com/scrapigen/scrapigen/detect"
	"github.com/scrapigen/scrapigen/metrics"
	"github.com/scrapigen/scrapigen/models"
	"github.com/scrapigen/scrapigen/rules"
)

// Orchestrator runs the full fetch pipeline for one URL: cache lookup,
// render decision, attempt execution, outcome classification, and the
// retry/escalation loop. Safe for concurrent use.
type Orchestrator struct {
	cfg      config.EngineConfig
	cacheTTL time.Duration
	rules    *rules.Store
	cache    *cache.Cache
	fetcher  StaticFetcher
	renderer Renderer
	defaults detect.Defaults

	// sleep is swappable so retry tests don't wait out real backoffs.
	sleep func(context.Context, time.Duration) error
}

// NewOrchestrator wires the pipeline together.
func NewOrchestrator(cfg config.EngineConfig, cacheTTL time.Duration, store *rules.Store, c *cache.Cache, f StaticFetcher, r Renderer) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		cacheTTL: cacheTTL,
		rules:    store,
		cache:    c,
		fetcher:  f,
		renderer: r,
		defaults: detect.Defaults{
			WaitTime:       cfg.DefaultWaitTime,
			Stealth:        cfg.StealthDefault,
			BlockResources: cfg.BlockResources,
		},
		sleep: sleepCtx,
	}
}

// Fetch resolves one URL to its page content. Repeated calls within the
// TTL hit the cache; concurrent calls for the same normalized URL
// collapse into a single execution.
func (o *Orchestrator) Fetch(ctx context.Context, rawURL string, opts Options) (*Result, error) {
	key, err := cache.NormalizeKey(rawURL)
	if err != nil {
		return nil, err
	}

	if entry, ok := o.cache.Get(key); ok {
		metrics.CacheHits.Inc()
		return resultFromEntry(entry, true), nil
	}
	metrics.CacheMisses.Inc()

	v, err, shared := o.cache.Do(key, func() (any, error) {
		// A flight that completed between our Get and this Do may have
		// filled the cache already.
		if entry, ok := o.cache.Get(key); ok {
			return resultFromEntry(entry, true), nil
		}
		return o.execute(ctx, rawURL, key, opts)
	})
	if err != nil {
		return nil, err
	}

	res := v.(*Result)
	if shared && !res.Cached {
		// Waiters receive the leader's fresh result; it was not served
		// from the cache from their point of view either.
		copied := *res
		res = &copied
	}
	return res, nil
}

// execute is the attempt loop run under the single-flight guard.
func (o *Orchestrator) execute(ctx context.Context, rawURL, key string, opts Options) (*Result, error) {
	started := time.Now()
	rule := o.rules.Lookup(cache.Hostname(rawURL))

	var d detect.Decision
	if opts.ForceRender {
		d = detect.Escalate(rule, o.defaults, false, "render forced by caller")
	} else {
		d = detect.Decide(rule, nil, o.defaults)
	}

	var lastOutcome Outcome
	for attempt := 0; attempt < o.cfg.MaxRetries; attempt++ {
		html, status, finalURL, attemptErr := o.attempt(ctx, rawURL, d)
		outcome := Classify(html, status, attemptErr, o.cfg.EmptyThreshold)
		lastOutcome = outcome
		metrics.AttemptsTotal.WithLabelValues(string(d.Strategy), outcome.Kind.String()).Inc()

		slog.Debug("fetch attempt",
			"url", rawURL,
			"attempt", attempt,
			"strategy", d.Strategy,
			"stealth", d.Stealth,
			"outcome", outcome.Kind.String(),
			"reason", outcome.Reason,
		)

		// A static body that passed classification still goes through
		// the signal heuristics: a framework shell is not an error, but
		// it is not the page either.
		if outcome.Kind == OutcomeSuccess && d.Strategy == detect.StrategyStatic {
			sig := detect.Analyze(html)
			if next := detect.Decide(rule, &sig, o.defaults); next.Strategy == detect.StrategyRender {
				metrics.EscalationsTotal.WithLabelValues("insufficient_static").Inc()
				slog.Info("escalating to render",
					"url", rawURL, "reason", next.Reason)
				d = next
				continue
			}
		}

		switch plan(outcome, d) {
		case actAccept:
			res := o.accept(key, html, status, finalURL, d, opts)
			metrics.FetchesTotal.WithLabelValues(res.RenderMethod, "success").Inc()
			metrics.FetchDuration.WithLabelValues(res.RenderMethod).Observe(time.Since(started).Seconds())
			return res, nil

		case actEscalate:
			metrics.EscalationsTotal.WithLabelValues(outcome.Kind.String()).Inc()
			slog.Info("escalating to render",
				"url", rawURL,
				"trigger", outcome.Kind.String(),
				"stealth", outcome.Kind == OutcomeBotChallenge || d.Stealth,
			)
			d = detect.Escalate(rule, o.defaults, outcome.Kind == OutcomeBotChallenge, outcome.Reason)

		case actRetry:
			delay := backoff(attempt, o.cfg.BackoffBase, o.cfg.BackoffCap)
			slog.Debug("backing off before retry", "url", rawURL, "delay", delay)
			if err := o.sleep(ctx, delay); err != nil {
				metrics.FetchesTotal.WithLabelValues(string(d.Strategy), "failure").Inc()
				return nil, models.NewFetchError(models.ErrCodeExhausted,
					"canceled while backing off", err)
			}

		case actFail:
			metrics.FetchesTotal.WithLabelValues(string(d.Strategy), "failure").Inc()
			return nil, asBoundaryError(attemptErr, outcome)
		}
	}

	metrics.FetchesTotal.WithLabelValues(string(d.Strategy), "failure").Inc()
	return nil, models.NewFetchError(models.ErrCodeExhausted,
		"retry budget exhausted: "+lastOutcome.Reason, nil)
}

// attempt runs one fetch at the decided level under its own deadline.
func (o *Orchestrator) attempt(ctx context.Context, target string, d detect.Decision) (html string, status int, finalURL string, err error) {
	if d.Strategy == detect.StrategyStatic {
		actx, cancel := context.WithTimeout(ctx, o.cfg.StaticTimeout)
		defer cancel()
		res, ferr := o.fetcher.Fetch(actx, target)
		if ferr != nil {
			return "", 0, "", ferr
		}
		return res.HTML, res.StatusCode, res.FinalURL, nil
	}

	actx, cancel := context.WithTimeout(ctx, o.cfg.RenderTimeout)
	defer cancel()
	res, rerr := o.renderer.Render(actx, target, d)
	if rerr != nil {
		return "", 0, "", rerr
	}
	return res.HTML, res.StatusCode, res.FinalURL, nil
}

// accept stores a successful result and shapes the caller response.
// Failed fetches never reach here, so the cache only ever holds content.
func (o *Orchestrator) accept(key, html string, status int, finalURL string, d detect.Decision, opts Options) *Result {
	ttl := o.cacheTTL
	if opts.TTLOverride > 0 {
		ttl = opts.TTLOverride
	}

	entry := &cache.Entry{
		Key:          key,
		HTML:         html,
		RenderMethod: string(d.Strategy),
		FinalURL:     finalURL,
		StatusCode:   status,
		FetchedAt:    time.Now(),
		TTL:          ttl,
	}
	o.cache.Put(entry)
	metrics.CacheEntries.Set(float64(o.cache.Len()))

	return resultFromEntry(entry, false)
}

func resultFromEntry(e *cache.Entry, cached bool) *Result {
	return &Result{
		HTML:         e.HTML,
		RenderMethod: e.RenderMethod,
		Cached:       cached,
		FetchedAt:    e.FetchedAt,
		StatusCode:   e.StatusCode,
		FinalURL:     e.FinalURL,
	}
}

// asBoundaryError maps a fatal attempt error onto the codes callers see.
// Pool exhaustion and invalid URLs pass through; everything else folds
// into RETRY_EXHAUSTED with the cause preserved.
func asBoundaryError(err error, o Outcome) error {
	if fe, ok := err.(*models.FetchError); ok {
		switch fe.Code {
		case models.ErrCodeInvalidURL, models.ErrCodePoolExhausted:
			return fe
		}
	}
	return models.NewFetchError(models.ErrCodeExhausted,
		"unrecoverable fetch failure: "+o.Reason, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
