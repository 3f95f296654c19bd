// Package session owns the single authenticated browsing session.
//
// The Manager is the only component that mutates session state. Concurrent
// EnsureAuthenticated calls collapse into one in-flight login (single-flight)
// and all callers observe its outcome; a waiter cancelling its context stops
// waiting, but never cancels the shared attempt.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/TobiSchelling/ftdigest/internal/retry"
)

var (
	// ErrAuth means the credential was rejected or the SSO flow failed
	// within the bounded attempt budget.
	ErrAuth = errors.New("authentication failed")
	// ErrLocked means the failure budget is exhausted. No further network
	// attempts happen until Reset is called.
	ErrLocked = errors.New("session locked after repeated login failures")
)

// Authenticator performs the site-specific login flow. Login runs the
// whole multi-step flow (credential submission, SSO hop, success-marker
// detection) as a unit; a mid-step failure fails the whole call.
// Validate probes whether a previously exported cookie blob still grants
// access.
type Authenticator interface {
	Login(ctx context.Context, cred Credential) ([]byte, error)
	Validate(ctx context.Context, blob []byte) (bool, error)
}

// Store persists the opaque session blob across process restarts, keyed
// by credential identity. Load returns (nil, nil) when no blob exists.
type Store interface {
	LoadSession(key string) ([]byte, error)
	SaveSession(key string, blob []byte) error
	DeleteSession(key string) error
}

// Session is an immutable snapshot handed to callers. Epoch identifies
// which authentication produced it, so the Manager can ignore expiry
// reports about sessions it has already replaced.
type Session struct {
	State         State
	Blob          []byte
	LastValidated time.Time
	Epoch         uint64
}

// Config bounds the login behavior.
type Config struct {
	// MaxRetries is the consecutive-failure budget before lockout.
	MaxRetries int
	// Backoff paces retries within one authentication flight.
	Backoff retry.Config
	// ValidFor is how long a validated session is trusted before it is
	// lazily re-probed.
	ValidFor time.Duration
	// LoginTimeout caps one whole authentication flight, independent of
	// any caller's context.
	LoginTimeout time.Duration
}

// DefaultConfig mirrors the conservative budgets used against the live site.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		Backoff: retry.Config{
			MaxAttempts:  3,
			InitialDelay: 2 * time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
		ValidFor:     time.Hour,
		LoginTimeout: 2 * time.Minute,
	}
}

// Manager is the mutex-guarded session singleton.
type Manager struct {
	cred  Credential
	auth  Authenticator
	store Store // optional
	cfg   Config

	group singleflight.Group

	mu            sync.Mutex
	state         State
	blob          []byte
	lastValidated time.Time
	epoch         uint64
	failures      int
	storedTried   bool
}

// NewManager creates a Manager for a single credential. store may be nil
// to disable blob persistence.
func NewManager(cred Credential, auth Authenticator, store Store, cfg Config) *Manager {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.ValidFor <= 0 {
		cfg.ValidFor = time.Hour
	}
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = 2 * time.Minute
	}
	return &Manager{
		cred:  cred,
		auth:  auth,
		store: store,
		cfg:   cfg,
		state: StateUnauthenticated,
	}
}

// State returns the current session state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// EnsureAuthenticated returns a valid session snapshot, logging in or
// re-validating as needed. Concurrent calls share one login attempt.
// After lockout it fails immediately with ErrLocked and performs no I/O.
func (m *Manager) EnsureAuthenticated(ctx context.Context) (Session, error) {
	m.mu.Lock()
	switch m.state {
	case StateLocked:
		m.mu.Unlock()
		return Session{}, ErrLocked
	case StateAuthenticated:
		if time.Since(m.lastValidated) < m.cfg.ValidFor {
			s := m.snapshotLocked()
			m.mu.Unlock()
			return s, nil
		}
	}
	m.mu.Unlock()

	// DoChan rather than Do: the waiter may give up on its own context
	// without tearing down the flight other callers are sharing.
	ch := m.group.DoChan("auth", m.authenticate)
	select {
	case <-ctx.Done():
		return Session{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Session{}, res.Err
		}
		return res.Val.(Session), nil
	}
}

// Invalidate reports that the session with the given epoch hit a login
// wall. Reports about an epoch the Manager has already replaced are
// ignored, so one expiry triggers at most one re-login.
func (m *Manager) Invalidate(epoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if epoch != m.epoch || m.state != StateAuthenticated {
		return
	}
	m.transitionLocked(StateExpired)
}

// Reset is the external escape hatch from Locked: it clears the failure
// counter and the persisted blob so the next call logs in from scratch.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateLocked {
		m.transitionLocked(StateUnauthenticated)
	} else {
		m.state = StateUnauthenticated
	}
	m.failures = 0
	m.blob = nil
	m.storedTried = false
	if m.store != nil {
		if err := m.store.DeleteSession(m.cred.Key()); err != nil {
			log.Printf("deleting persisted session: %v", err)
		}
	}
}

// Close persists the current blob so a restarted process can skip a
// fresh login.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.store == nil || m.state != StateAuthenticated || len(m.blob) == 0 {
		return nil
	}
	return m.store.SaveSession(m.cred.Key(), m.blob)
}

// authenticate is the single-flight body. It runs on its own timeout so
// no individual caller's cancellation can abort it.
func (m *Manager) authenticate() (any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.LoginTimeout)
	defer cancel()

	m.mu.Lock()
	switch m.state {
	case StateLocked:
		m.mu.Unlock()
		return nil, ErrLocked
	case StateAuthenticated:
		// A flight that finished just before we were queued.
		if time.Since(m.lastValidated) < m.cfg.ValidFor {
			s := m.snapshotLocked()
			m.mu.Unlock()
			return s, nil
		}
		// Stale: probe before trusting it further.
		blob := m.blob
		m.mu.Unlock()
		ok, err := m.auth.Validate(ctx, blob)
		m.mu.Lock()
		if err == nil && ok {
			m.lastValidated = time.Now()
			s := m.snapshotLocked()
			m.mu.Unlock()
			return s, nil
		}
		m.transitionLocked(StateExpired)
	}

	// A persisted blob from a previous process may still be valid.
	if m.state == StateUnauthenticated && !m.storedTried && m.store != nil {
		m.storedTried = true
		m.mu.Unlock()
		if s, ok := m.tryStoredSession(ctx); ok {
			return s, nil
		}
		m.mu.Lock()
	}
	m.mu.Unlock()

	return m.login(ctx)
}

// tryStoredSession probes the persisted blob and adopts it when still valid.
func (m *Manager) tryStoredSession(ctx context.Context) (Session, bool) {
	blob, err := m.store.LoadSession(m.cred.Key())
	if err != nil {
		log.Printf("loading persisted session: %v", err)
		return Session{}, false
	}
	if len(blob) == 0 {
		return Session{}, false
	}

	ok, err := m.auth.Validate(ctx, blob)
	if err != nil || !ok {
		log.Println("persisted session no longer valid, logging in fresh")
		if err := m.store.DeleteSession(m.cred.Key()); err != nil {
			log.Printf("deleting stale session blob: %v", err)
		}
		return Session{}, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitionLocked(StateAuthenticating)
	m.transitionLocked(StateAuthenticated)
	m.adoptLocked(blob)
	log.Println("reusing persisted session")
	return m.snapshotLocked(), true
}

// login runs the multi-step flow with bounded backoff. Each failed
// attempt increments the consecutive-failure counter; exhausting
// MaxRetries locks the manager.
func (m *Manager) login(ctx context.Context) (Session, error) {
	m.mu.Lock()
	budget := m.cfg.MaxRetries - m.failures
	m.mu.Unlock()
	if budget < 1 {
		return Session{}, m.lock()
	}

	cfg := m.cfg.Backoff
	cfg.MaxAttempts = budget

	var blob []byte
	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		m.mu.Lock()
		m.transitionLocked(StateAuthenticating)
		m.mu.Unlock()

		b, err := m.auth.Login(ctx, m.cred)
		m.mu.Lock()
		defer m.mu.Unlock()
		if err != nil {
			m.failures++
			m.transitionLocked(StateUnauthenticated)
			log.Printf("login attempt failed (%d/%d): %v", m.failures, m.cfg.MaxRetries, err)
			return err
		}
		blob = b
		return nil
	})
	if err != nil {
		m.mu.Lock()
		exhausted := m.failures >= m.cfg.MaxRetries
		m.mu.Unlock()
		if exhausted {
			lockErr := m.lock()
			return Session{}, fmt.Errorf("%w: %w", lockErr, err)
		}
		return Session{}, fmt.Errorf("%w: %w", ErrAuth, err)
	}

	m.mu.Lock()
	m.transitionLocked(StateAuthenticated)
	m.adoptLocked(blob)
	s := m.snapshotLocked()
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.SaveSession(m.cred.Key(), blob); err != nil {
			log.Printf("persisting session blob: %v", err)
		}
	}
	log.Println("login succeeded")
	return s, nil
}

func (m *Manager) lock() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateLocked {
		m.transitionLocked(StateLocked)
		log.Printf("session locked after %d consecutive login failures", m.failures)
	}
	return ErrLocked
}

// adoptLocked installs a freshly validated blob and bumps the epoch.
func (m *Manager) adoptLocked(blob []byte) {
	m.blob = blob
	m.lastValidated = time.Now()
	m.failures = 0
	m.epoch++
}

func (m *Manager) transitionLocked(to State) {
	if err := ValidateTransition(m.state, to); err != nil {
		// The transition table and the Manager must agree; a violation
		// is a bug worth hearing about, not worth crashing over.
		log.Printf("session state machine violation: %v", err)
	}
	m.state = to
}

func (m *Manager) snapshotLocked() Session {
	return Session{
		State:         m.state,
		Blob:          m.blob,
		LastValidated: m.lastValidated,
		Epoch:         m.epoch,
	}
}
