package render

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"

	"github.com/scrapigen/scrapigen/metrics"
	"github.com/scrapigen/scrapigen/models"
)

// Session wraps a live browser page with health tracking metadata. A
// session is retired (not reused) after two consecutive failures, after
// heavy or long use, or after sitting idle past the configured bound.
type Session struct {
	ID   int64
	Page *rod.Page

	mu          sync.Mutex
	consecFails int
	useCount    int
	created     time.Time
	lastUsed    time.Time
}

func newSession(id int64, page *rod.Page) *Session {
	now := time.Now()
	return &Session{ID: id, Page: page, created: now, lastUsed: now}
}

func (s *Session) recordOutcome(failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.useCount++
	s.lastUsed = time.Now()
	if failed {
		s.consecFails++
	} else {
		s.consecFails = 0
	}
}

func (s *Session) shouldRetire(maxUses int, maxAge time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consecFails >= 2 {
		return true
	}
	if maxUses > 0 && s.useCount >= maxUses {
		return true
	}
	if maxAge > 0 && time.Since(s.created) >= maxAge {
		return true
	}
	return false
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

func (s *Session) uses() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.useCount
}

// PoolConfig sizes and bounds the session pool.
type PoolConfig struct {
	Capacity       int
	AcquireTimeout time.Duration
	IdleTTL        time.Duration
	MaxUses        int
	MaxAge         time.Duration
}

// PageFactory creates a fresh browser page.
type PageFactory func() (*rod.Page, error)

// PageDestroyer closes a page's underlying resources.
type PageDestroyer func(*rod.Page)

// Pool is a bounded pool of reusable browser sessions. Sessions are
// created lazily up to Capacity; callers block when the pool is
// saturated, up to AcquireTimeout, after which acquisition fails with a
// pool-exhausted error rather than growing unbounded. A crashed session
// is never returned to the pool.
type Pool struct {
	cfg     PoolConfig
	factory PageFactory
	destroy PageDestroyer

	idle chan *Session
	// freed is pulsed whenever a session is destroyed, so waiters parked
	// on a saturated pool can take the creation path instead of burning
	// their whole acquire timeout.
	freed   chan struct{}
	mu      sync.Mutex
	live    map[int64]*Session
	nextID  atomic.Int64
	active  atomic.Int32
	done    chan struct{}
	closing atomic.Bool
}

// NewPool creates a Pool and starts the idle reaper.
func NewPool(cfg PoolConfig, factory PageFactory, destroy PageDestroyer) *Pool {
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	p := &Pool{
		cfg:     cfg,
		factory: factory,
		destroy: destroy,
		idle:    make(chan *Session, cfg.Capacity),
		freed:   make(chan struct{}, cfg.Capacity),
		live:    make(map[int64]*Session),
		done:    make(chan struct{}),
	}
	go p.reapLoop()
	return p
}

// Acquire returns a healthy session, creating one if the pool is below
// capacity. When saturated it waits up to AcquireTimeout (or ctx
// expiry) and then fails with POOL_EXHAUSTED.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	for {
		select {
		case s := <-p.idle:
			if p.staleIdle(s) {
				p.destroySession(s)
				continue
			}
			return p.checkout(s), nil
		default:
		}
		break
	}

	s, ok, err := p.tryCreate()
	if err != nil {
		return nil, models.NewFetchError(models.ErrCodeBrowserCrash, "failed to create browser session", err)
	}
	if ok {
		return p.checkout(s), nil
	}

	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()
	for {
		select {
		case s := <-p.idle:
			if p.staleIdle(s) {
				p.destroySession(s)
				continue
			}
			return p.checkout(s), nil
		case <-p.freed:
			// A session was destroyed while we waited; capacity is back
			// below the cap, so replenish instead of waiting out the timer.
			s, ok, err := p.tryCreate()
			if err != nil {
				return nil, models.NewFetchError(models.ErrCodeBrowserCrash, "failed to create browser session", err)
			}
			if ok {
				return p.checkout(s), nil
			}
		case <-timer.C:
			return nil, models.NewFetchError(models.ErrCodePoolExhausted,
				"no browser session available within acquisition timeout", nil)
		case <-ctx.Done():
			return nil, models.NewFetchError(models.ErrCodePoolExhausted,
				"canceled while waiting for a browser session", ctx.Err())
		}
	}
}

// checkout marks a session as handed out.
func (p *Pool) checkout(s *Session) *Session {
	p.active.Add(1)
	p.publishStats()
	return s
}

// tryCreate makes a fresh session if the pool is below capacity.
func (p *Pool) tryCreate() (*Session, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.live) >= p.cfg.Capacity {
		return nil, false, nil
	}
	s, err := p.createLocked()
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

// Release returns a session after a render. A crashed session is
// disposed immediately; an unhealthy one is retired. Both paths free
// capacity and wake any blocked Acquire so it can replenish the pool.
func (p *Pool) Release(s *Session, failed, crashed bool) {
	p.active.Add(-1)
	defer p.publishStats()
	s.recordOutcome(failed)

	if crashed || s.shouldRetire(p.cfg.MaxUses, p.cfg.MaxAge) {
		slog.Debug("render: retiring session",
			"id", s.ID, "crashed", crashed, "uses", s.uses())
		p.destroySession(s)
		return
	}

	if p.closing.Load() {
		p.destroySession(s)
		return
	}

	select {
	case p.idle <- s:
	default:
		// Idle buffer full (capacity shrank during close); drop it.
		p.destroySession(s)
	}
}

// Stats reports pool occupancy for the health endpoint.
func (p *Pool) Stats() models.PoolStats {
	p.mu.Lock()
	live := len(p.live)
	p.mu.Unlock()
	return models.PoolStats{
		MaxSessions:    p.cfg.Capacity,
		LiveSessions:   live,
		ActiveSessions: int(p.active.Load()),
	}
}

// Close stops the reaper and destroys every tracked session.
func (p *Pool) Close() {
	p.closing.Store(true)
	close(p.done)

	for {
		select {
		case s := <-p.idle:
			p.destroySession(s)
			continue
		default:
		}
		break
	}

	p.mu.Lock()
	for id, s := range p.live {
		p.destroy(s.Page)
		delete(p.live, id)
	}
	p.mu.Unlock()
	p.publishStats()
}

func (p *Pool) staleIdle(s *Session) bool {
	return p.cfg.IdleTTL > 0 && time.Since(s.idleSince()) >= p.cfg.IdleTTL
}

func (p *Pool) createLocked() (*Session, error) {
	page, err := p.factory()
	if err != nil {
		return nil, err
	}
	s := newSession(p.nextID.Add(1), page)
	p.live[s.ID] = s
	return s, nil
}

func (p *Pool) destroySession(s *Session) {
	p.mu.Lock()
	delete(p.live, s.ID)
	p.mu.Unlock()
	p.destroy(s.Page)
	p.publishStats()
	select {
	case p.freed <- struct{}{}:
	default:
	}
}

// publishStats mirrors pool occupancy into the Prometheus gauges.
func (p *Pool) publishStats() {
	st := p.Stats()
	metrics.PoolLiveSessions.Set(float64(st.LiveSessions))
	metrics.PoolActiveSessions.Set(float64(st.ActiveSessions))
}

// reapLoop retires sessions that sat idle past IdleTTL.
func (p *Pool) reapLoop() {
	if p.cfg.IdleTTL <= 0 {
		return
	}
	ticker := time.NewTicker(p.cfg.IdleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.reapIdle()
		}
	}
}

func (p *Pool) reapIdle() {
	var keep []*Session
	for {
		select {
		case s := <-p.idle:
			if p.staleIdle(s) {
				slog.Debug("render: reaping idle session", "id", s.ID)
				p.destroySession(s)
			} else {
				keep = append(keep, s)
			}
			continue
		default:
		}
		break
	}
	for _, s := range keep {
		select {
		case p.idle <- s:
		default:
			p.destroySession(s)
		}
	}
}
