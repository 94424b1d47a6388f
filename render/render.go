// Package render executes full browser navigations through a pooled
// headless Chromium, with stealth hardening and resource blocking.
package render

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"

	"github.com/scrapigen/scrapigen/config"
	"github.com/scrapigen/scrapigen/detect"
	"github.com/scrapigen/scrapigen/engine"
	"github.com/scrapigen/scrapigen/models"
)

// Renderer owns one browser process and a bounded pool of pages over it.
// It implements engine.Renderer and is safe for concurrent use.
type Renderer struct {
	browser *rod.Browser
	pool    *Pool
}

// New launches a headless browser with anti-automation flags and builds
// the session pool on top of it.
func New(browserCfg config.BrowserConfig, poolCfg config.PoolConfig) (*Renderer, error) {
	l := launcher.New().
		Headless(browserCfg.Headless).
		NoSandbox(browserCfg.NoSandbox)

	if browserCfg.BrowserBin != "" {
		l = l.Bin(browserCfg.BrowserBin)
	}
	if browserCfg.DefaultProxy != "" {
		l = l.Proxy(browserCfg.DefaultProxy)
	}

	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-ipc-flooding-protection"))
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-prompt-on-repost"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, models.NewFetchError(models.ErrCodeBrowserCrash, "failed to launch browser", err)
	}
	slog.Info("browser launched", "controlURL", controlURL)

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, models.NewFetchError(models.ErrCodeBrowserCrash, "failed to connect to browser", err)
	}

	r := &Renderer{browser: browser}
	r.pool = NewPool(
		PoolConfig{
			Capacity:       poolCfg.MaxSessions,
			AcquireTimeout: poolCfg.AcquireTimeout,
			IdleTTL:        poolCfg.IdleTTL,
			MaxUses:        poolCfg.MaxUses,
			MaxAge:         poolCfg.MaxAge,
		},
		func() (*rod.Page, error) {
			return browser.Page(proto.TargetCreateTarget{})
		},
		func(p *rod.Page) {
			_ = p.Close()
		},
	)
	slog.Info("session pool created", "maxSessions", poolCfg.MaxSessions)
	return r, nil
}

// Render navigates to url in a pooled page per the decision and returns
// the post-JavaScript DOM.
//
// Lifecycle:
//
//  1. Acquire session         – borrow a page (POOL_EXHAUSTED on timeout)
//  2. DEFER: cleanup          – about:blank + return/retire the session
//  3. Stealth (optional)      – must land before navigation
//  4. Hijack mount            – resource blocking, also pre-navigation
//  5. Context binding         – propagate the deadline to Rod calls
//  6. Navigate + wait         – DOM stable, then the rule's settle delay
//  7. Extract                 – status via the performance API, then HTML
//
// The about:blank in step 2 uses the ORIGINAL page reference, not the
// context-bound one, so cleanup succeeds even after the deadline fires.
func (r *Renderer) Render(ctx context.Context, target string, d detect.Decision) (*engine.RenderResult, error) {
	session, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	page := session.Page

	var failed, crashed bool
	defer func() {
		if !crashed {
			if navErr := page.Navigate("about:blank"); navErr != nil {
				slog.Warn("render cleanup: about:blank failed", "error", navErr)
				crashed = isCrashError(navErr)
			}
		}
		r.pool.Release(session, failed, crashed)
	}()

	if d.Stealth {
		applyStealth(page, target)
		navigationJitter()
	}

	if router := setupHijack(page, d.BlockedResources); router != nil {
		defer func() { _ = router.Stop() }()
	}

	p := page.Context(ctx)

	if navErr := p.Navigate(target); navErr != nil {
		failed = true
		crashed = isCrashError(navErr)
		return nil, categorizeError(navErr, "navigation to target URL failed")
	}

	if stableErr := p.WaitDOMStable(300*time.Millisecond, 0.1); stableErr != nil {
		slog.Debug("WaitDOMStable did not converge, proceeding with current DOM",
			"error", stableErr)
	}

	// Settle delay from the domain rule: JS-heavy sites need extra time
	// after DOM stability for XHR-driven content to land.
	if d.WaitTime > 0 {
		select {
		case <-time.After(d.WaitTime):
		case <-ctx.Done():
			failed = true
			return nil, categorizeError(ctx.Err(), "canceled during settle delay")
		}
	}

	// Status code via the performance API; CDP network listeners conflict
	// with the hijack router on recent Chromium, this path does not.
	var statusCode int
	if res, evalErr := p.Eval(`() => {
		try {
			const entries = performance.getEntriesByType("navigation");
			if (entries.length > 0) return entries[0].responseStatus || 0;
		} catch(e) {}
		return 0;
	}`); evalErr == nil {
		statusCode = res.Value.Int()
	}

	html, htmlErr := p.HTML()
	if htmlErr != nil {
		failed = true
		crashed = isCrashError(htmlErr)
		return nil, categorizeError(htmlErr, "failed to extract page HTML")
	}

	finalURL := evalStringOrEmpty(p, `() => window.location.href`)
	if finalURL == "" {
		finalURL = target
	}

	return &engine.RenderResult{
		HTML:       html,
		StatusCode: statusCode,
		FinalURL:   finalURL,
	}, nil
}

// Stats reports the session pool state for the health endpoint.
func (r *Renderer) Stats() models.PoolStats {
	return r.pool.Stats()
}

// Close drains the pool and kills the browser process. Call on graceful
// shutdown to prevent zombie Chromium processes.
func (r *Renderer) Close() {
	slog.Info("renderer shutting down: draining session pool")
	r.pool.Close()
	slog.Info("renderer shutting down: closing browser")
	r.browser.MustClose()
	slog.Info("renderer shutdown complete")
}

// evalStringOrEmpty evaluates a JS expression and returns the string
// result, swallowing errors (used for optional metadata).
func evalStringOrEmpty(page *rod.Page, js string) string {
	res, err := page.Eval(js)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

// isCrashError reports whether an error means the page or browser target
// is gone and the session must be disposed rather than reused.
func isCrashError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "crash") ||
		strings.Contains(msg, "target closed") ||
		strings.Contains(msg, "session closed") ||
		strings.Contains(msg, "detached") ||
		strings.Contains(msg, "websocket") ||
		strings.Contains(msg, "connection is closed")
}

// categorizeError wraps raw Rod errors into typed FetchErrors so the
// retry loop and API layer can branch on the code.
func categorizeError(err error, msg string) *models.FetchError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewFetchError(models.ErrCodeTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewFetchError(models.ErrCodeTimeout, "request canceled", err)
	case isCrashError(err):
		return models.NewFetchError(models.ErrCodeBrowserCrash, msg, err)
	default:
		return models.NewFetchError(models.ErrCodeNavigation, msg, err)
	}
}
