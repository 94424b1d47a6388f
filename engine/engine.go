// Package engine composes the fetch pipeline: cache check, render
// decision, execution, outcome classification, and the retry/escalation
// loop. It is the only component with a multi-step state machine; the
// fetcher, renderer, detector, and rule store are stateless units it
// calls.
package engine

import (
	"context"
	"time"

	"github.com/scrapigen/scrapigen/detect"
)

// StaticResult is the output of a plain HTTP fetch. The body and status
// are reported unconditionally — a 403 or challenge page comes back as
// content, and classifying "did this actually work" is the retry
// coordinator's job, not the fetcher's.
type StaticResult struct {
	HTML       string
	StatusCode int
	FinalURL   string
}

// RenderResult is the output of a successful browser render.
type RenderResult struct {
	HTML       string
	StatusCode int
	FinalURL   string
}

// StaticFetcher performs a single plain HTTP GET with browser-like
// headers. It does not execute scripts.
type StaticFetcher interface {
	Fetch(ctx context.Context, url string) (*StaticResult, error)
}

// Renderer executes a full browser navigation according to a decision.
type Renderer interface {
	Render(ctx context.Context, url string, d detect.Decision) (*RenderResult, error)
}

// Result is the outcome of one orchestrated fetch call.
type Result struct {
	HTML         string
	RenderMethod string // "static" or "render"
	Cached       bool
	FetchedAt    time.Time
	StatusCode   int
	FinalURL     string
}

// Options are the per-call knobs exposed at the engine boundary.
type Options struct {
	// ForceRender skips the static attempt entirely.
	ForceRender bool

	// TTLOverride replaces the configured cache TTL for this result.
	// Zero means use the default.
	TTLOverride time.Duration
}
