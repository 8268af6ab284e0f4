// Package auth owns the lifecycle of the short-lived signed credential.
//
// A Manager obtains tokens from an external TokenProvider, rate limits
// requests to it, and schedules a proactive refresh shortly before each
// accepted token expires. The manager never persists tokens; a restarted
// process begins unauthenticated.
package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/BTreeMap/SyncKeeper/internal/clock"
	"github.com/BTreeMap/SyncKeeper/internal/timer"
)

const (
	// DefaultRefreshWindow is how long before expiry a proactive refresh fires.
	DefaultRefreshWindow = 60 * time.Second
	// DefaultRateLimitWindow is the minimum spacing between dispatched provider requests.
	DefaultRateLimitWindow = time.Second
)

// State is the credential state as seen by callers.
type State int

const (
	StateUnauthenticated State = iota
	StatePendingRefresh
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StatePendingRefresh:
		return "pending_refresh"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// TokenProvider supplies new tokens. RequestToken may block. An empty token
// means "no update"; a returned error is treated the same way.
type TokenProvider interface {
	RequestToken(ctx context.Context) (string, error)
}

// TokenProviderFunc adapts a function to TokenProvider.
type TokenProviderFunc func(ctx context.Context) (string, error)

// RequestToken calls f.
func (f TokenProviderFunc) RequestToken(ctx context.Context) (string, error) {
	return f(ctx)
}

// Scheduler is a per-owner one-shot timer with cancel-and-replace semantics.
// *timer.OneShot satisfies it.
type Scheduler interface {
	ScheduleAfter(delay time.Duration, fn func())
	Cancel()
}

// Opts holds Manager configuration.
type Opts struct {
	RateLimitWindow time.Duration
	RefreshWindow   time.Duration
	// ProviderTimeout bounds each provider call through its context. Zero means no bound.
	ProviderTimeout time.Duration
	Clock           clock.Clock
	Scheduler       Scheduler
}

// Option configures a Manager.
type Option func(*Opts)

// WithRateLimitWindow sets the minimum spacing between provider requests.
func WithRateLimitWindow(d time.Duration) Option {
	return func(o *Opts) { o.RateLimitWindow = d }
}

// WithRefreshWindow sets the lead time before expiry for proactive refresh.
func WithRefreshWindow(d time.Duration) Option {
	return func(o *Opts) { o.RefreshWindow = d }
}

// WithProviderTimeout bounds each provider call.
func WithProviderTimeout(d time.Duration) Option {
	return func(o *Opts) { o.ProviderTimeout = d }
}

// WithClock injects the time source.
func WithClock(c clock.Clock) Option {
	return func(o *Opts) { o.Clock = c }
}

// WithScheduler injects the refresh timer.
func WithScheduler(s Scheduler) Option {
	return func(o *Opts) { o.Scheduler = s }
}

// Manager holds the current token and drives its refresh.
type Manager struct {
	provider        TokenProvider
	clock           clock.Clock
	scheduler       Scheduler
	rateLimitWindow time.Duration
	refreshWindow   time.Duration
	providerTimeout time.Duration

	mu              sync.Mutex
	token           string
	pendingRefresh  bool
	lastRequestTime time.Time
	failedCount     int
	nextRefresh     time.Time

	throttledLog rate.Sometimes
}

// NewManager creates a Manager in the unauthenticated state.
func NewManager(provider TokenProvider, opts ...Option) *Manager {
	cfg := Opts{
		RateLimitWindow: DefaultRateLimitWindow,
		RefreshWindow:   DefaultRefreshWindow,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = timer.NewOneShot("auth-refresh", cfg.Clock)
	}

	slog.Debug("NewManager invoked", "rateLimitWindow", cfg.RateLimitWindow, "refreshWindow", cfg.RefreshWindow, "providerTimeout", cfg.ProviderTimeout)
	return &Manager{
		provider:        provider,
		clock:           cfg.Clock,
		scheduler:       cfg.Scheduler,
		rateLimitWindow: cfg.RateLimitWindow,
		refreshWindow:   cfg.RefreshWindow,
		providerTimeout: cfg.ProviderTimeout,
		throttledLog:    rate.Sometimes{First: 3, Interval: 30 * time.Second},
	}
}

// RequestRefresh asks the provider for a new token.
//
// It is a no-op while a refresh is pending. Outside the rate-limit window it
// blocks on the provider and accepts the result. Inside the window it schedules
// one deferred RequestRefresh at lastRequestTime+window instead. Both branches
// move lastRequestTime to now, so back-to-back throttled calls keep deferring.
func (m *Manager) RequestRefresh(ctx context.Context) {
	m.mu.Lock()
	if m.pendingRefresh {
		m.mu.Unlock()
		slog.Debug("Manager.RequestRefresh: refresh already pending, ignoring")
		return
	}

	now := m.clock.Now()
	if m.lastRequestTime.IsZero() || now.Sub(m.lastRequestTime) >= m.rateLimitWindow {
		m.pendingRefresh = true
		m.failedCount++
		m.lastRequestTime = now
		failed := m.failedCount
		m.mu.Unlock()

		slog.Debug("Manager.RequestRefresh: dispatching provider request", "failedSequentialCount", failed)
		m.accept(m.fetch(ctx), true)
		return
	}

	fireAt := m.lastRequestTime.Add(m.rateLimitWindow)
	m.scheduleLocked(fireAt.Sub(now))
	m.lastRequestTime = now
	m.mu.Unlock()

	m.throttledLog.Do(func() {
		slog.Info("Manager.RequestRefresh: rate limited, deferring", "fireAt", fireAt)
	})
}

// fetch calls the provider, mapping failures to "no update".
func (m *Manager) fetch(ctx context.Context) string {
	if m.provider == nil {
		slog.Warn("Manager.fetch: no token provider configured")
		return ""
	}
	if m.providerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.providerTimeout)
		defer cancel()
	}

	token, err := m.provider.RequestToken(ctx)
	if err != nil {
		slog.Warn("Manager.fetch: token provider failed", "error", err)
		return ""
	}
	return token
}

// SetToken accepts a token supplied from outside, e.g. at login.
// An empty value logs out, as Clear does.
func (m *Manager) SetToken(token string) {
	if token == "" {
		m.Clear()
		return
	}
	m.accept(token, false)
}

// accept applies the transition rules for a candidate token.
//
//   - empty from the provider: no update; the pending flag is released.
//   - identical to the current token: nothing changes, and a pending flag stays set.
//   - otherwise: store it, clear pending, schedule the expiry refresh.
func (m *Manager) accept(token string, fromProvider bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if token == "" {
		if fromProvider {
			m.pendingRefresh = false
		}
		slog.Debug("Manager.accept: no new token", "state", m.stateLocked())
		return
	}
	if token == m.token {
		slog.Debug("Manager.accept: token unchanged, no transition", "pendingRefresh", m.pendingRefresh)
		return
	}

	prev := m.stateLocked()
	m.token = token
	m.pendingRefresh = false
	slog.Info("Manager.accept: token updated", "from", prev, "to", m.stateLocked())

	m.queueExpirationRefreshLocked(token)
}

func (m *Manager) queueExpirationRefreshLocked(token string) {
	exp, err := DecodeExpiration(token)
	if err != nil {
		slog.Error("Manager: could not schedule expiration refresh", "error", err)
		m.scheduler.Cancel()
		m.nextRefresh = time.Time{}
		return
	}

	now := m.clock.Now()
	delayMillis := exp.UnixMilli() - m.refreshWindow.Milliseconds() - now.UnixMilli()
	m.scheduleLocked(time.Duration(delayMillis) * time.Millisecond)
	slog.Debug("Manager: expiration refresh queued", "expiresAt", exp, "nextRefresh", m.nextRefresh)
}

// scheduleLocked replaces any pending refresh with one after delay.
func (m *Manager) scheduleLocked(delay time.Duration) {
	at := m.clock.Now().Add(delay)
	m.nextRefresh = at
	m.scheduler.ScheduleAfter(delay, func() {
		m.mu.Lock()
		// A newer schedule may have been installed after this call was released.
		if m.nextRefresh.Equal(at) {
			m.nextRefresh = time.Time{}
		}
		m.mu.Unlock()
		m.RequestRefresh(context.Background())
	})
}

// ResetFailureCount zeroes the sequential request counter.
func (m *Manager) ResetFailureCount() {
	m.mu.Lock()
	m.failedCount = 0
	m.mu.Unlock()
}

// ReleasePending drops a stuck pending flag while keeping the current token,
// so the next RequestRefresh dispatches again. It reports whether a flag was set.
// A provider call still in flight when it is released may then race a new one.
func (m *Manager) ReleasePending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.pendingRefresh {
		return false
	}
	m.pendingRefresh = false
	slog.Warn("Manager.ReleasePending: pending refresh released", "state", m.stateLocked())
	return true
}

// Clear drops the token, the pending flag and any scheduled refresh.
// It is the explicit escape from a refresh left pending by an unchanged token.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.scheduler.Cancel()
	m.token = ""
	m.pendingRefresh = false
	m.nextRefresh = time.Time{}
	slog.Info("Manager.Clear: credentials cleared")
}

// Stop cancels any scheduled refresh without touching the token.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduler.Cancel()
	m.nextRefresh = time.Time{}
}

// Token returns the current token, or "" when unauthenticated.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// State reports the current credential state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *Manager) stateLocked() State {
	switch {
	case m.pendingRefresh:
		return StatePendingRefresh
	case m.token != "":
		return StateAuthenticated
	default:
		return StateUnauthenticated
	}
}

// PendingRefresh reports whether a provider request is outstanding.
func (m *Manager) PendingRefresh() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingRefresh
}

// FailedRequestCount returns the number of requests dispatched since the last reset.
func (m *Manager) FailedRequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failedCount
}

// NextRefresh returns when the scheduled refresh fires. ok is false when none is scheduled.
func (m *Manager) NextRefresh() (at time.Time, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextRefresh, !m.nextRefresh.IsZero()
}
