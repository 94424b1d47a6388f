package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrapigen/scrapigen/cache"
	"github.com/scrapigen/scrapigen/config"
	"github.com/scrapigen/scrapigen/detect"
	"github.com/scrapigen/scrapigen/models"
	"github.com/scrapigen/scrapigen/rules"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	fn    func(call int) (*StaticResult, error)
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*StaticResult, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.fn(call)
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRenderer struct {
	mu        sync.Mutex
	calls     int
	decisions []detect.Decision
	fn        func(call int, d detect.Decision) (*RenderResult, error)
}

func (r *fakeRenderer) Render(ctx context.Context, url string, d detect.Decision) (*RenderResult, error) {
	r.mu.Lock()
	r.calls++
	call := r.calls
	r.decisions = append(r.decisions, d)
	r.mu.Unlock()
	return r.fn(call, d)
}

func (r *fakeRenderer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *fakeRenderer) lastDecision() detect.Decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.decisions[len(r.decisions)-1]
}

func bigPage() string {
	return "<html><body>" + strings.Repeat("<p>plenty of real content</p>", 100) + "</body></html>"
}

func testConfig() config.EngineConfig {
	return config.EngineConfig{
		StaticTimeout:   time.Second,
		RenderTimeout:   time.Second,
		MaxRetries:      5,
		DefaultWaitTime: 0,
		BlockResources:  true,
		BackoffBase:     time.Millisecond,
		BackoffCap:      2 * time.Millisecond,
		EmptyThreshold:  500,
	}
}

func newTestOrchestrator(t *testing.T, f StaticFetcher, r Renderer) (*Orchestrator, *cache.Cache) {
	t.Helper()
	store := rules.NewStore(rules.DomainRule{HTMLThreshold: 1000}, rules.Builtin())
	c := cache.New(100)
	t.Cleanup(c.Close)

	o := NewOrchestrator(testConfig(), time.Hour, store, c, f, r)
	o.sleep = func(context.Context, time.Duration) error { return nil }
	return o, c
}

func TestFetch_StaticSuccessAndCacheHit(t *testing.T) {
	f := &fakeFetcher{fn: func(int) (*StaticResult, error) {
		return &StaticResult{HTML: bigPage(), StatusCode: 200, FinalURL: "https://example.com/page"}, nil
	}}
	r := &fakeRenderer{fn: func(int, detect.Decision) (*RenderResult, error) {
		t.Fatal("renderer must not run for sufficient static content")
		return nil, nil
	}}
	o, _ := newTestOrchestrator(t, f, r)

	res, err := o.Fetch(context.Background(), "https://example.com/page", Options{})
	require.NoError(t, err)
	assert.Equal(t, "static", res.RenderMethod)
	assert.False(t, res.Cached)
	assert.Equal(t, 200, res.StatusCode)

	res2, err := o.Fetch(context.Background(), "https://example.com/page", Options{})
	require.NoError(t, err)
	assert.True(t, res2.Cached)
	assert.Equal(t, res.FetchedAt, res2.FetchedAt, "cache hit reports the original fetch time")
	assert.Equal(t, 1, f.count())
}

func TestFetch_NormalizedVariantsShareCacheEntry(t *testing.T) {
	f := &fakeFetcher{fn: func(int) (*StaticResult, error) {
		return &StaticResult{HTML: bigPage(), StatusCode: 200}, nil
	}}
	r := &fakeRenderer{fn: func(int, detect.Decision) (*RenderResult, error) { return nil, nil }}
	o, _ := newTestOrchestrator(t, f, r)

	_, err := o.Fetch(context.Background(), "https://Example.com:443/items/", Options{})
	require.NoError(t, err)
	res, err := o.Fetch(context.Background(), "https://example.com/items", Options{})
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, 1, f.count())
}

func TestFetch_InvalidURL(t *testing.T) {
	o, _ := newTestOrchestrator(t,
		&fakeFetcher{fn: func(int) (*StaticResult, error) { return nil, nil }},
		&fakeRenderer{fn: func(int, detect.Decision) (*RenderResult, error) { return nil, nil }})

	_, err := o.Fetch(context.Background(), "ftp://example.com/x", Options{})
	require.Error(t, err)
	var fe *models.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, models.ErrCodeInvalidURL, fe.Code)
}

func TestFetch_ForceRenderSkipsStatic(t *testing.T) {
	f := &fakeFetcher{fn: func(int) (*StaticResult, error) {
		t.Fatal("static fetcher must not run when render is forced")
		return nil, nil
	}}
	r := &fakeRenderer{fn: func(_ int, d detect.Decision) (*RenderResult, error) {
		return &RenderResult{HTML: bigPage(), StatusCode: 200}, nil
	}}
	o, _ := newTestOrchestrator(t, f, r)

	res, err := o.Fetch(context.Background(), "https://example.com/app", Options{ForceRender: true})
	require.NoError(t, err)
	assert.Equal(t, "render", res.RenderMethod)
	assert.Equal(t, 1, r.count())
}

func TestFetch_StealthRuleGoesStraightToRender(t *testing.T) {
	f := &fakeFetcher{fn: func(int) (*StaticResult, error) {
		t.Fatal("stealth-ruled host must never see a static attempt")
		return nil, nil
	}}
	r := &fakeRenderer{fn: func(_ int, d detect.Decision) (*RenderResult, error) {
		return &RenderResult{HTML: bigPage(), StatusCode: 200}, nil
	}}
	o, _ := newTestOrchestrator(t, f, r)

	res, err := o.Fetch(context.Background(), "https://www.olx.com.pk/items/q-laptop", Options{})
	require.NoError(t, err)
	assert.Equal(t, "render", res.RenderMethod)

	d := r.lastDecision()
	assert.True(t, d.Stealth)
	assert.Equal(t, 3*time.Second, d.WaitTime)
	assert.NotEmpty(t, d.BlockedResources)
}

func TestFetch_ShellContentEscalatesToRender(t *testing.T) {
	// Static body passes the empty check but is a pre-hydration shell:
	// under the 1000-byte default threshold, so the detector flips it.
	shell := `<html><body><div id="root"></div>` + strings.Repeat("<script src=\"/app.js\"></script>", 20) + "</body></html>"
	require.Greater(t, len(shell), 500)
	require.Less(t, len(shell), 1000)

	f := &fakeFetcher{fn: func(int) (*StaticResult, error) {
		return &StaticResult{HTML: shell, StatusCode: 200}, nil
	}}
	r := &fakeRenderer{fn: func(int, detect.Decision) (*RenderResult, error) {
		return &RenderResult{HTML: bigPage(), StatusCode: 200}, nil
	}}
	o, _ := newTestOrchestrator(t, f, r)

	res, err := o.Fetch(context.Background(), "https://example.com/spa", Options{})
	require.NoError(t, err)
	assert.Equal(t, "render", res.RenderMethod)
	assert.Equal(t, 1, f.count())
	assert.Equal(t, 1, r.count())
}

func TestFetch_BotChallengeEscalatesWithStealth(t *testing.T) {
	f := &fakeFetcher{fn: func(int) (*StaticResult, error) {
		return &StaticResult{HTML: "<title>Just a moment...</title>", StatusCode: 403}, nil
	}}
	r := &fakeRenderer{fn: func(int, detect.Decision) (*RenderResult, error) {
		return &RenderResult{HTML: bigPage(), StatusCode: 200}, nil
	}}
	o, _ := newTestOrchestrator(t, f, r)

	res, err := o.Fetch(context.Background(), "https://example.com/protected", Options{})
	require.NoError(t, err)
	assert.Equal(t, "render", res.RenderMethod)
	assert.True(t, r.lastDecision().Stealth, "challenge escalation must force stealth")
}

func TestFetch_EmptyRenderIsAccepted(t *testing.T) {
	f := &fakeFetcher{fn: func(int) (*StaticResult, error) {
		return &StaticResult{HTML: "<html></html>", StatusCode: 200}, nil
	}}
	r := &fakeRenderer{fn: func(int, detect.Decision) (*RenderResult, error) {
		return &RenderResult{HTML: "<html><body>tiny</body></html>", StatusCode: 200}, nil
	}}
	o, _ := newTestOrchestrator(t, f, r)

	res, err := o.Fetch(context.Background(), "https://example.com/sparse", Options{})
	require.NoError(t, err)
	assert.Equal(t, "render", res.RenderMethod, "empty static escalates once")
	assert.Equal(t, 1, r.count(), "a genuinely tiny rendered page is final")
}

func TestFetch_TransientFailuresExhaustBudget(t *testing.T) {
	f := &fakeFetcher{fn: func(int) (*StaticResult, error) {
		return nil, models.NewFetchError(models.ErrCodeTimeout, "timed out", context.DeadlineExceeded)
	}}
	r := &fakeRenderer{fn: func(int, detect.Decision) (*RenderResult, error) { return nil, nil }}
	o, c := newTestOrchestrator(t, f, r)

	_, err := o.Fetch(context.Background(), "https://example.com/flaky", Options{})
	require.Error(t, err)

	var fe *models.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, models.ErrCodeExhausted, fe.Code)
	assert.Equal(t, testConfig().MaxRetries, f.count())
	assert.Equal(t, 0, c.Len(), "failures are never cached")
}

func TestFetch_PoolExhaustedSurfacesDirectly(t *testing.T) {
	r := &fakeRenderer{fn: func(int, detect.Decision) (*RenderResult, error) {
		return nil, models.NewFetchError(models.ErrCodePoolExhausted, "no session", nil)
	}}
	o, _ := newTestOrchestrator(t,
		&fakeFetcher{fn: func(int) (*StaticResult, error) { return nil, nil }}, r)

	_, err := o.Fetch(context.Background(), "https://amazon.com/dp/B000", Options{})
	require.Error(t, err)
	var fe *models.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, models.ErrCodePoolExhausted, fe.Code)
	assert.Equal(t, 1, r.count(), "pool exhaustion is not retried")
}

func TestFetch_TTLOverride(t *testing.T) {
	f := &fakeFetcher{fn: func(int) (*StaticResult, error) {
		return &StaticResult{HTML: bigPage(), StatusCode: 200}, nil
	}}
	o, c := newTestOrchestrator(t, f,
		&fakeRenderer{fn: func(int, detect.Decision) (*RenderResult, error) { return nil, nil }})

	_, err := o.Fetch(context.Background(), "https://example.com/ttl", Options{TTLOverride: 5 * time.Minute})
	require.NoError(t, err)

	key, err := cache.NormalizeKey("https://example.com/ttl")
	require.NoError(t, err)
	entry, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, 5*time.Minute, entry.TTL)
}

func TestFetch_ConcurrentCallsCollapse(t *testing.T) {
	release := make(chan struct{})
	f := &fakeFetcher{fn: func(int) (*StaticResult, error) {
		<-release
		return &StaticResult{HTML: bigPage(), StatusCode: 200}, nil
	}}
	o, _ := newTestOrchestrator(t, f,
		&fakeRenderer{fn: func(int, detect.Decision) (*RenderResult, error) { return nil, nil }})

	const n = 6
	var wg sync.WaitGroup
	results := make([]*Result, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = o.Fetch(context.Background(), "https://example.com/hot", Options{})
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.False(t, results[i].Cached, "in-flight waiters are not cache hits")
		assert.Equal(t, results[0].HTML, results[i].HTML)
	}
	assert.Equal(t, 1, f.count(), "concurrent fetches for one key collapse")
}
