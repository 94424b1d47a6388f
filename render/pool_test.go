package render

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-rod/rod"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrapigen/scrapigen/metrics"
	"github.com/scrapigen/scrapigen/models"
)

// The pool never touches page internals itself; creation and teardown
// go through the injected callbacks, so tests can hand it inert pages.
func fakeFactory(created *int, mu *sync.Mutex) PageFactory {
	return func() (*rod.Page, error) {
		mu.Lock()
		defer mu.Unlock()
		*created++
		return &rod.Page{}, nil
	}
}

func countingDestroy(destroyed *int, mu *sync.Mutex) PageDestroyer {
	return func(*rod.Page) {
		mu.Lock()
		defer mu.Unlock()
		*destroyed++
	}
}

func newTestPool(t *testing.T, cfg PoolConfig, created, destroyed *int) *Pool {
	t.Helper()
	var mu sync.Mutex
	p := NewPool(cfg, fakeFactory(created, &mu), countingDestroy(destroyed, &mu))
	t.Cleanup(p.Close)
	return p
}

func baseCfg() PoolConfig {
	return PoolConfig{
		Capacity:       2,
		AcquireTimeout: 100 * time.Millisecond,
		IdleTTL:        time.Hour,
		MaxUses:        50,
		MaxAge:         time.Hour,
	}
}

func TestPool_AcquireCreatesLazily(t *testing.T) {
	var created, destroyed int
	p := newTestPool(t, baseCfg(), &created, &destroyed)

	s1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	s2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, created)
	assert.NotEqual(t, s1.ID, s2.ID)

	stats := p.Stats()
	assert.Equal(t, 2, stats.LiveSessions)
	assert.Equal(t, 2, stats.ActiveSessions)
}

func TestPool_ReleaseEnablesReuse(t *testing.T) {
	var created, destroyed int
	p := newTestPool(t, baseCfg(), &created, &destroyed)

	s, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(s, false, false)

	s2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, s.ID, s2.ID, "healthy session should be reused")
	assert.Equal(t, 1, created)
}

func TestPool_ExhaustionTimesOut(t *testing.T) {
	var created, destroyed int
	cfg := baseCfg()
	cfg.Capacity = 1
	p := newTestPool(t, cfg, &created, &destroyed)

	_, err := p.Acquire(context.Background())
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Acquire(context.Background())
	require.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(start), cfg.AcquireTimeout)

	var fe *models.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, models.ErrCodePoolExhausted, fe.Code)
}

func TestPool_WaiterGetsReleasedSession(t *testing.T) {
	var created, destroyed int
	cfg := baseCfg()
	cfg.Capacity = 1
	cfg.AcquireTimeout = time.Second
	p := newTestPool(t, cfg, &created, &destroyed)

	s, err := p.Acquire(context.Background())
	require.NoError(t, err)

	done := make(chan *Session)
	go func() {
		got, aerr := p.Acquire(context.Background())
		require.NoError(t, aerr)
		done <- got
	}()

	time.Sleep(20 * time.Millisecond)
	p.Release(s, false, false)

	select {
	case got := <-done:
		assert.Equal(t, s.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("waiter never received the released session")
	}
}

func TestPool_WaiterReplenishesAfterCrash(t *testing.T) {
	var created, destroyed int
	cfg := baseCfg()
	cfg.Capacity = 1
	cfg.AcquireTimeout = time.Minute
	p := newTestPool(t, cfg, &created, &destroyed)

	s, err := p.Acquire(context.Background())
	require.NoError(t, err)

	done := make(chan *Session)
	go func() {
		got, aerr := p.Acquire(context.Background())
		require.NoError(t, aerr)
		done <- got
	}()

	time.Sleep(20 * time.Millisecond)
	start := time.Now()
	p.Release(s, true, true)

	// The crash frees capacity with nothing on the idle channel; the
	// waiter must create a replacement rather than wait out the timeout.
	select {
	case got := <-done:
		assert.NotEqual(t, s.ID, got.ID, "crashed session must not be handed out")
		assert.Less(t, time.Since(start), 5*time.Second)
		assert.Equal(t, 2, created)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter starved after the crash freed capacity")
	}
}

func TestPool_WaiterReplenishesAfterRetirement(t *testing.T) {
	var created, destroyed int
	cfg := baseCfg()
	cfg.Capacity = 1
	cfg.AcquireTimeout = time.Minute
	cfg.MaxUses = 1
	p := newTestPool(t, cfg, &created, &destroyed)

	s, err := p.Acquire(context.Background())
	require.NoError(t, err)

	done := make(chan *Session)
	go func() {
		got, aerr := p.Acquire(context.Background())
		require.NoError(t, aerr)
		done <- got
	}()

	time.Sleep(20 * time.Millisecond)
	p.Release(s, false, false)

	select {
	case got := <-done:
		assert.NotEqual(t, s.ID, got.ID, "retired session must not be handed out")
	case <-time.After(5 * time.Second):
		t.Fatal("waiter starved after retirement freed capacity")
	}
}

func TestPool_CrashedSessionIsDisposed(t *testing.T) {
	var created, destroyed int
	p := newTestPool(t, baseCfg(), &created, &destroyed)

	s, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(s, true, true)

	assert.Equal(t, 1, destroyed)
	s2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, s.ID, s2.ID, "crashed session must not be reused")
}

func TestPool_RetiresAfterConsecutiveFailures(t *testing.T) {
	var created, destroyed int
	p := newTestPool(t, baseCfg(), &created, &destroyed)

	s, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(s, true, false)

	s2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, s.ID, s2.ID, "one failure alone does not retire")
	p.Release(s2, true, false)

	assert.Equal(t, 1, destroyed, "second consecutive failure retires the session")
}

func TestPool_SuccessResetsFailureStreak(t *testing.T) {
	var created, destroyed int
	p := newTestPool(t, baseCfg(), &created, &destroyed)

	s, _ := p.Acquire(context.Background())
	p.Release(s, true, false)
	s, _ = p.Acquire(context.Background())
	p.Release(s, false, false)
	s, _ = p.Acquire(context.Background())
	p.Release(s, true, false)

	assert.Equal(t, 0, destroyed, "failures separated by a success do not retire")
}

func TestPool_RetiresAfterMaxUses(t *testing.T) {
	var created, destroyed int
	cfg := baseCfg()
	cfg.MaxUses = 3
	p := newTestPool(t, cfg, &created, &destroyed)

	for i := 0; i < 3; i++ {
		s, err := p.Acquire(context.Background())
		require.NoError(t, err)
		p.Release(s, false, false)
	}
	assert.Equal(t, 1, destroyed, "session retires after its use budget")
}

func TestPool_CanceledAcquire(t *testing.T) {
	var created, destroyed int
	cfg := baseCfg()
	cfg.Capacity = 1
	cfg.AcquireTimeout = time.Minute
	p := newTestPool(t, cfg, &created, &destroyed)

	_, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err = p.Acquire(ctx)
	require.Error(t, err)

	var fe *models.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, models.ErrCodePoolExhausted, fe.Code)
}

func TestPool_GaugesTrackOccupancy(t *testing.T) {
	var created, destroyed int
	var mu sync.Mutex
	p := NewPool(baseCfg(), fakeFactory(&created, &mu), countingDestroy(&destroyed, &mu))

	s, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PoolLiveSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PoolActiveSessions))

	p.Release(s, false, false)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PoolLiveSessions))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.PoolActiveSessions))

	p.Close()
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.PoolLiveSessions))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.PoolActiveSessions))
}

func TestPool_CloseDestroysEverything(t *testing.T) {
	var created, destroyed int
	var mu sync.Mutex
	p := NewPool(baseCfg(), fakeFactory(&created, &mu), countingDestroy(&destroyed, &mu))

	s1, _ := p.Acquire(context.Background())
	s2, _ := p.Acquire(context.Background())
	p.Release(s1, false, false)
	_ = s2

	p.Close()
	mu.Lock()
	assert.Equal(t, created, destroyed)
	mu.Unlock()
}
