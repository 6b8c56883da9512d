// Package session tracks the auth token and signed-in user, persisting both so
// a session survives restarts.
package session

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"petri/pkg/domain"
)

// Authenticator is the subset of the remote client the manager needs.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (domain.LoginResponse, error)
	Register(ctx context.Context, email, password, username string) (domain.LoginResponse, error)
}

// LogoutHook runs after a logout cleared the session.
type LogoutHook func(ctx context.Context) error

// Manager owns the active session.
type Manager struct {
	auth   Authenticator
	kv     domain.KeyValueStore
	logger *zap.Logger
	now    func() time.Time

	mu    sync.RWMutex
	token string
	user  *domain.User
	hooks map[int]LogoutHook
	next  int
	gen   uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// New returns a manager without an active session; call Restore to reload one.
func New(auth Authenticator, kv domain.KeyValueStore, opts ...Option) *Manager {
	m := &Manager{
		auth:   auth,
		kv:     kv,
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
		hooks:  make(map[int]LogoutHook),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Login authenticates with username and password.
func (m *Manager) Login(ctx context.Context, username, password string) (domain.User, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return domain.User{}, domain.InvalidArgumentf("username and password are required")
	}
	resp, err := m.auth.Login(ctx, username, password)
	if err != nil {
		return domain.User{}, err
	}
	user := domain.User{ID: resp.UserID, Username: firstNonEmpty(resp.Username, username), CreatedAt: m.now()}
	if strings.Contains(username, "@") {
		user.Email = username
	}
	user.DisplayName = displayName(user)
	return user, m.establish(ctx, resp.AccessToken, user)
}

// Register creates an account and signs in.
func (m *Manager) Register(ctx context.Context, email, password, username string) (domain.User, error) {
	if strings.TrimSpace(email) == "" || password == "" || strings.TrimSpace(username) == "" {
		return domain.User{}, domain.InvalidArgumentf("email, password and username are required")
	}
	resp, err := m.auth.Register(ctx, email, password, username)
	if err != nil {
		return domain.User{}, err
	}
	user := domain.User{ID: resp.UserID, Username: firstNonEmpty(resp.Username, username), Email: email, DisplayName: username, CreatedAt: m.now()}
	return user, m.establish(ctx, resp.AccessToken, user)
}

// establish installs a new session. When the incoming user differs from the
// previous one, held in memory or persisted, the logout hooks run first so no
// tree data carries over between accounts.
func (m *Manager) establish(ctx context.Context, token string, user domain.User) error {
	if token == "" {
		return domain.RemoteFailure(errors.New("response carried no access token"), "sign in")
	}
	userJSON, err := json.Marshal(user)
	if err != nil {
		return errors.Wrap(err, "encode user")
	}
	tokenJSON, err := json.Marshal(token)
	if err != nil {
		return errors.Wrap(err, "encode token")
	}
	prev, err := m.previousUser(ctx)
	if err != nil {
		return err
	}
	if prev != nil && !sameUser(*prev, user) {
		m.logger.Info("switching user, clearing previous session data",
			zap.Int64("previous_user_id", prev.ID), zap.Int64("user_id", user.ID))
		if err := m.runHooks(ctx, m.reset()); err != nil {
			return errors.Wrap(err, "clear previous session")
		}
	}
	if err := m.kv.Set(ctx, domain.KeyAuthToken, tokenJSON); err != nil {
		return domain.StorageFailure(err, "persist token")
	}
	if err := m.kv.Set(ctx, domain.KeyUser, userJSON); err != nil {
		return domain.StorageFailure(err, "persist user")
	}
	m.mu.Lock()
	m.token = token
	m.user = &user
	m.mu.Unlock()
	m.logger.Info("session established", zap.Int64("user_id", user.ID), zap.String("username", user.Username))
	return nil
}

// previousUser returns the user of the current or last persisted session.
func (m *Manager) previousUser(ctx context.Context) (*domain.User, error) {
	m.mu.RLock()
	cur := m.user
	m.mu.RUnlock()
	if cur != nil {
		u := *cur
		return &u, nil
	}
	raw, ok, err := m.kv.Get(ctx, domain.KeyUser)
	if err != nil {
		return nil, domain.StorageFailure(err, "read user")
	}
	if !ok {
		return nil, nil
	}
	var u domain.User
	if err := json.Unmarshal(raw, &u); err != nil {
		// an unreadable entry cannot prove the account is the same one
		m.logger.Warn("corrupt user entry before sign in", zap.Error(errors.Mark(err, domain.ErrStorageCorrupt)))
		return &domain.User{}, nil
	}
	return &u, nil
}

func sameUser(a, b domain.User) bool {
	if a.ID != 0 || b.ID != 0 {
		return a.ID == b.ID
	}
	return a.Username != "" && strings.EqualFold(a.Username, b.Username)
}

// reset clears the in-memory session, advances the generation and returns the
// hooks in registration order.
func (m *Manager) reset() []LogoutHook {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	m.user = nil
	m.gen++
	hooks := make([]LogoutHook, 0, len(m.hooks))
	for i := 0; i < m.next; i++ {
		if h, ok := m.hooks[i]; ok {
			hooks = append(hooks, h)
		}
	}
	return hooks
}

func (m *Manager) runHooks(ctx context.Context, hooks []LogoutHook) error {
	var errs error
	for _, h := range hooks {
		if err := h(ctx); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	return errs
}

// Restore reloads a persisted session. Returns false when none was stored or
// the stored entries are unreadable.
func (m *Manager) Restore(ctx context.Context) (bool, error) {
	rawToken, okToken, err := m.kv.Get(ctx, domain.KeyAuthToken)
	if err != nil {
		return false, domain.StorageFailure(err, "read token")
	}
	rawUser, okUser, err := m.kv.Get(ctx, domain.KeyUser)
	if err != nil {
		return false, domain.StorageFailure(err, "read user")
	}
	if !okToken {
		return false, nil
	}
	var token string
	if err := json.Unmarshal(rawToken, &token); err != nil {
		// older payloads stored the bare token
		token = strings.TrimSpace(string(rawToken))
	}
	if token == "" {
		return false, nil
	}
	var user *domain.User
	if okUser {
		var u domain.User
		if err := json.Unmarshal(rawUser, &u); err != nil {
			m.logger.Warn("discarding corrupt user entry", zap.Error(errors.Mark(err, domain.ErrStorageCorrupt)))
		} else {
			user = &u
		}
	}
	m.mu.Lock()
	m.token = token
	m.user = user
	m.mu.Unlock()
	return true, nil
}

// Logout clears the session and runs the logout hooks. Hook failures are
// joined into the returned error; every hook still runs.
func (m *Manager) Logout(ctx context.Context) error {
	hooks := m.reset()
	var errs error
	if err := m.kv.Delete(ctx, domain.SessionKeys...); err != nil {
		errs = errors.CombineErrors(errs, domain.StorageFailure(err, "clear session"))
	}
	errs = errors.CombineErrors(errs, m.runHooks(ctx, hooks))
	m.logger.Info("session cleared")
	return errs
}

// Expire drops the token after the remote service rejected it. Overlays and
// the current user entry are kept so the same user resumes local state on the
// next login; a different user triggers the logout hooks in establish.
func (m *Manager) Expire(ctx context.Context) error {
	m.mu.Lock()
	m.token = ""
	m.mu.Unlock()
	if err := m.kv.Delete(ctx, domain.KeyAuthToken); err != nil {
		return domain.StorageFailure(err, "expire token")
	}
	m.logger.Warn("session token expired")
	return nil
}

// OnLogout registers h and returns a function deregistering it.
func (m *Manager) OnLogout(h LogoutHook) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.next
	m.next++
	m.hooks[id] = h
	return func() {
		m.mu.Lock()
		delete(m.hooks, id)
		m.mu.Unlock()
	}
}

// Generation identifies the data scope of the session. It advances whenever
// the session's tree data is cleared: on logout and on a switch to another
// user. Expiry alone keeps it.
func (m *Manager) Generation() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gen
}

// IsAuthenticated reports whether a token is held.
func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token != ""
}

// Token returns the bearer token, or "" when signed out.
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

// CurrentUser returns the signed-in user.
func (m *Manager) CurrentUser() (domain.User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return domain.User{}, false
	}
	return *m.user, true
}

func displayName(u domain.User) string {
	if u.Username != "" && !strings.Contains(u.Username, "@") {
		return u.Username
	}
	if at := strings.Index(u.Username, "@"); at > 0 {
		return u.Username[:at]
	}
	return u.Username
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
