package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"schoolbus-tracker/internal/apiclient"
	"schoolbus-tracker/internal/localstore"
	"schoolbus-tracker/internal/metrics"
)

// Storage keys, shared with the dashboard's localStorage layout.
const (
	KeyUserType   = "userType"
	KeyIsLoggedIn = "isLoggedIn"
	KeyToken      = "token"
	KeyUser       = "user"
)

var ErrInvalidUserType = errors.New("user type must be admin or parent")

// Authenticator posts credentials to the session endpoint.
type Authenticator interface {
	CreateSession(ctx context.Context, creds apiclient.Credentials) (apiclient.SessionResponse, error)
}

// Store is the persistent side of the session.
type Store interface {
	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, error)
	Remove(ctx context.Context, key string) error
	SetWithExpiry(ctx context.Context, key string, value any, ttl time.Duration) error
	GetWithExpiry(ctx context.Context, key string, dst any) error
}

// State is what the dashboard knows about the signed-in user.
type State struct {
	UserType   string          `json:"userType"`
	IsLoggedIn bool            `json:"isLoggedIn"`
	Token      string          `json:"-"`
	User       *apiclient.User `json:"user,omitempty"`
}

// Manager is the single auth context of the process.
type Manager struct {
	auth    Authenticator
	store   Store
	ttl     time.Duration
	metrics *metrics.Collector
	logger  *slog.Logger

	mu    sync.Mutex
	state State
}

func NewManager(auth Authenticator, store Store, ttl time.Duration, m *metrics.Collector, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{auth: auth, store: store, ttl: ttl, metrics: m, logger: logger}
}

func validUserType(t string) bool {
	return t == apiclient.RoleAdmin || t == apiclient.RoleParent
}

// Login posts the credentials and persists the session on success. The
// caller redirects with HomePath.
func (m *Manager) Login(ctx context.Context, email, password, userType string) (State, error) {
	if !validUserType(userType) {
		return State{}, ErrInvalidUserType
	}
	if strings.TrimSpace(email) == "" || password == "" {
		missing := []string{}
		if strings.TrimSpace(email) == "" {
			missing = append(missing, "email")
		}
		if password == "" {
			missing = append(missing, "password")
		}
		return State{}, &apiclient.ValidationError{Entity: "login", Missing: missing}
	}

	resp, err := m.auth.CreateSession(ctx, apiclient.Credentials{Email: email, Password: password, UserType: userType})
	m.countLogin(err)
	if err != nil {
		return State{}, fmt.Errorf("login: %w", err)
	}

	ttl := m.ttl
	if resp.ExpiresIn > 0 {
		ttl = time.Duration(resp.ExpiresIn) * time.Second
	}
	user := resp.User
	if err := m.persist(ctx, resp.Token, userType, &user, ttl); err != nil {
		return State{}, err
	}

	st := State{UserType: userType, IsLoggedIn: true, Token: resp.Token, User: &user}
	m.mu.Lock()
	m.state = st
	m.mu.Unlock()
	m.logger.Info("logged in", slog.String("userType", userType), slog.String("user", user.ID))
	return st, nil
}

func (m *Manager) countLogin(err error) {
	if m.metrics == nil {
		return
	}
	if err != nil {
		m.metrics.SessionLogins.WithLabelValues("error").Inc()
	} else {
		m.metrics.SessionLogins.WithLabelValues("ok").Inc()
	}
}

func (m *Manager) persist(ctx context.Context, token, userType string, user *apiclient.User, ttl time.Duration) error {
	if err := m.store.SetWithExpiry(ctx, KeyToken, token, ttl); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	if err := m.store.SetWithExpiry(ctx, KeyUser, user, ttl); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	if err := m.store.Set(ctx, KeyUserType, userType); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	if err := m.store.Set(ctx, KeyIsLoggedIn, "true"); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

// Logout forgets the session in memory and in the store.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	m.state = State{}
	m.mu.Unlock()

	var errs []error
	for _, k := range []string{KeyToken, KeyUser, KeyUserType, KeyIsLoggedIn} {
		if err := m.store.Remove(ctx, k); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Current reloads the session from the store. An expired token logs the
// user out.
func (m *Manager) Current(ctx context.Context) (State, error) {
	var token string
	err := m.store.GetWithExpiry(ctx, KeyToken, &token)
	if errors.Is(err, localstore.ErrNotFound) {
		m.mu.Lock()
		wasLoggedIn := m.state.IsLoggedIn
		m.mu.Unlock()
		if wasLoggedIn {
			m.logger.Info("session expired")
		}
		if err := m.Logout(ctx); err != nil {
			return State{}, err
		}
		return State{}, nil
	}
	if err != nil {
		return State{}, err
	}

	st := State{Token: token, IsLoggedIn: true}
	if ut, err := m.store.Get(ctx, KeyUserType); err == nil {
		st.UserType = ut
	} else if !errors.Is(err, localstore.ErrNotFound) {
		return State{}, err
	}
	var user apiclient.User
	if err := m.store.GetWithExpiry(ctx, KeyUser, &user); err == nil {
		st.User = &user
	} else if !errors.Is(err, localstore.ErrNotFound) {
		return State{}, err
	}

	m.mu.Lock()
	m.state = st
	m.mu.Unlock()
	return st, nil
}

// Token implements apiclient.TokenSource.
func (m *Manager) Token(ctx context.Context) (string, error) {
	st, err := m.Current(ctx)
	if err != nil {
		return "", err
	}
	return st.Token, nil
}

// ClearToken implements apiclient.TokenSource; a rejected token ends the
// session.
func (m *Manager) ClearToken(ctx context.Context) error {
	m.logger.Warn("token rejected by API, logging out")
	return m.Logout(ctx)
}

// HomePath is where a freshly logged-in user of the given type lands.
func HomePath(userType string) string {
	switch userType {
	case apiclient.RoleAdmin:
		return "/admin"
	case apiclient.RoleParent:
		return "/parent"
	}
	return "/login"
}
