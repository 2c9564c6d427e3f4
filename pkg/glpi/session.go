package glpi

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	pkglog "HelpdeskPulse/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

// SessionToken is a GLPI session credential.
type SessionToken struct {
	Value     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Age returns how long ago the token was created.
func (t SessionToken) Age(now time.Time) time.Duration {
	return now.Sub(t.CreatedAt)
}

// Authenticator opens and closes GLPI sessions.
type Authenticator interface {
	InitSession(ctx context.Context) (string, error)
	KillSession(ctx context.Context, token string) error
}

// SessionManager owns the session token. A single mutex covers the
// check → authenticate → store sequence, so concurrent callers during a
// renewal trigger exactly one InitSession and all observe its result.
type SessionManager struct {
	name    string
	auth    Authenticator
	timeout time.Duration
	margin  time.Duration
	now     func() time.Time

	mu    sync.Mutex
	token *SessionToken
	// lastErr/lastErrAt let callers that queued behind a failed renewal
	// observe that failure instead of authenticating again.
	lastErr   error
	lastErrAt time.Time

	// current mirrors token for lock-free readers (metrics).
	current  atomic.Pointer[SessionToken]
	renewals atomic.Int64

	log *pkglog.LogHelper
}

// NewSessionManager creates a manager. A token is considered valid while its
// age is below timeout-margin.
func NewSessionManager(name string, auth Authenticator, timeout, margin time.Duration, logger log.Logger) *SessionManager {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	if margin < 0 || margin >= timeout {
		margin = 0
	}
	return &SessionManager{
		name:    name,
		auth:    auth,
		timeout: timeout,
		margin:  margin,
		now:     time.Now,
		log:     pkglog.NewLogHelper(log.With(logger, "module", "glpi/session", "client", name)),
	}
}

func (m *SessionManager) valid(t *SessionToken, now time.Time) bool {
	return t != nil && t.Age(now) < m.timeout-m.margin
}

// Token returns a valid session token, authenticating if needed.
// It fails with *SessionExpiredError when authentication fails.
func (m *SessionManager) Token(ctx context.Context) (SessionToken, error) {
	waitStart := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.valid(m.token, now) {
		return *m.token, nil
	}

	// Someone renewed and failed while we were waiting for the lock
	if m.lastErr != nil && !m.lastErrAt.Before(waitStart) {
		return SessionToken{}, &SessionExpiredError{Err: m.lastErr}
	}

	if err := ctx.Err(); err != nil {
		return SessionToken{}, err
	}

	start := m.now()
	value, err := m.auth.InitSession(ctx)
	if err != nil {
		m.lastErr, m.lastErrAt = err, m.now()
		sessionRenewals.WithLabelValues(m.name, "failure").Inc()
		m.log.Warnw("msg", "Failed to initialize GLPI session", "error", err)
		return SessionToken{}, &SessionExpiredError{Err: err}
	}

	created := m.now()
	token := &SessionToken{
		Value:     value,
		CreatedAt: created,
		ExpiresAt: created.Add(m.timeout),
	}
	m.token = token
	m.lastErr = nil
	m.current.Store(token)
	m.renewals.Add(1)
	sessionRenewals.WithLabelValues(m.name, "success").Inc()
	m.log.Auth("GLPI session initialized",
		"session_token", value,
		"expires_at", token.ExpiresAt.Format(time.RFC3339),
		"duration_ms", created.Sub(start).Milliseconds())

	return *token, nil
}

// Invalidate drops the stored token if it is still the one the caller used,
// so the next Token call authenticates again. A 401 seen with an older token
// does not discard a token renewed in the meantime. It reports whether the
// stored token was cleared.
func (m *SessionManager) Invalidate(value string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token == nil || m.token.Value != value {
		return false
	}
	m.token = nil
	m.current.Store(nil)
	m.log.Auth("GLPI session invalidated after authorization failure")
	return true
}

// Current returns the stored token without blocking on a renewal in flight.
func (m *SessionManager) Current() (SessionToken, bool) {
	t := m.current.Load()
	if t == nil {
		return SessionToken{}, false
	}
	return *t, true
}

// Renewals returns how many sessions have been opened.
func (m *SessionManager) Renewals() int64 {
	return m.renewals.Load()
}

// Close kills the current session, if any.
func (m *SessionManager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token == nil {
		return nil
	}
	value := m.token.Value
	m.token = nil
	m.current.Store(nil)

	if err := m.auth.KillSession(ctx, value); err != nil {
		m.log.Warnw("msg", "Failed to kill GLPI session", "error", err)
		return err
	}
	m.log.Auth("GLPI session closed")
	return nil
}
