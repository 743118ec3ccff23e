// Package sessions keeps one authenticated session per service and account, and persists
// their tokens, metadata and response caches in key-value stores.
package sessions

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"sync"

	"github.com/jrsteele09/go-weconnect/auth"
	"github.com/jrsteele09/go-weconnect/cache"
	"github.com/jrsteele09/go-weconnect/myvw"
	"github.com/jrsteele09/go-weconnect/store"
	"github.com/jrsteele09/go-weconnect/token"
	"github.com/jrsteele09/go-weconnect/webauth"
	"github.com/jrsteele09/go-weconnect/weconnect"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// DefaultNamespace prefixes every session identifier.
const DefaultNamespace = "go-weconnect"

// Service names a vendor backend.
type Service string

const (
	WeConnect Service = "WeConnect"
	MyVW      Service = "MyVW"
)

func (s Service) String() string {
	return string(s)
}

// User is the account a session logs in with.
type User struct {
	Username string
	Password string
}

func (u User) String() string {
	return u.Username + ":" + u.Password
}

// Entry is what the token store keeps per session.
type Entry struct {
	Token    *token.Token   `json:"token"`
	Metadata map[string]any `json:"metadata"`
}

// Factory creates a session for user with the restored state in opts.
type Factory func(user User, opts ...auth.SessionOption) (*auth.Session, error)

// GenerateHash identifies service and user without exposing the password.
func GenerateHash(service Service, user User) string {
	sum := sha512.Sum512([]byte(service.String() + user.String()))
	return hex.EncodeToString(sum[:])
}

type sessionKey struct {
	service Service
	hash    string
}

type Manager struct {
	tokens      store.Store
	cache       store.Store
	namespace   string
	factories   map[Service]Factory
	sessionOpts []auth.SessionOption
	logger      zerolog.Logger

	sessions map[sessionKey]*auth.Session
	lock     sync.Mutex
}

type Option func(*Manager)

func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		m.namespace = namespace
	}
}

// WithFactory registers or replaces the session factory of service.
func WithFactory(service Service, f Factory) Option {
	return func(m *Manager) {
		m.factories[service] = f
	}
}

// WithSessionOptions are applied to every new session before the restored state.
func WithSessionOptions(opts ...auth.SessionOption) Option {
	return func(m *Manager) {
		m.sessionOpts = append(m.sessionOpts, opts...)
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a registry backed by the token and cache stores.
func NewManager(tokens, responses store.Store, opts ...Option) *Manager {
	m := &Manager{
		tokens:    tokens,
		cache:     responses,
		namespace: DefaultNamespace,
		logger:    zerolog.Nop(),
		sessions:  make(map[sessionKey]*auth.Session),
	}
	m.factories = map[Service]Factory{
		WeConnect: func(user User, opts ...auth.SessionOption) (*auth.Session, error) {
			return weconnect.New(credentials(user), weconnect.WithLogger(m.logger)).NewSession(opts...)
		},
		MyVW: func(user User, opts ...auth.SessionOption) (*auth.Session, error) {
			return myvw.New(credentials(user), myvw.WithLogger(m.logger)).NewSession(opts...)
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func credentials(user User) webauth.Credentials {
	return webauth.Credentials{Username: user.Username, Password: user.Password}
}

// GenerateIdentifier is the store key of the session for service and user.
func (m *Manager) GenerateIdentifier(service Service, user User) string {
	return m.namespace + ":" + GenerateHash(service, user)
}

// GetSession returns the live session for service and user, creating it from the persisted
// token, metadata and response cache on first use.
func (m *Manager) GetSession(ctx context.Context, service Service, user User) (*auth.Session, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	key := sessionKey{service: service, hash: GenerateHash(service, user)}
	if s, ok := m.sessions[key]; ok {
		return s, nil
	}

	factory, ok := m.factories[service]
	if !ok {
		return nil, errors.Errorf("unknown service %q", service)
	}

	id := m.namespace + ":" + key.hash
	opts := append([]auth.SessionOption{}, m.sessionOpts...)

	var entry Entry
	found, err := m.tokens.Get(ctx, id, &entry)
	if err != nil {
		return nil, errors.Wrap(err, "loading token")
	}
	if found {
		m.logger.Debug().Str("service", service.String()).Msg("Restoring persisted session")
		if entry.Token != nil {
			opts = append(opts, auth.WithToken(entry.Token))
		}
		opts = append(opts, auth.WithMetadata(entry.Metadata))
	}

	responses := cache.NewResponses()
	found, err = m.cache.Get(ctx, id, responses)
	if err != nil {
		return nil, errors.Wrap(err, "loading response cache")
	}
	if found {
		opts = append(opts, auth.WithCache(responses))
	}

	s, err := factory(user, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "creating %s session", service)
	}
	m.sessions[key] = s
	return s, nil
}

// Persist writes the token, metadata and response cache of every live session.
func (m *Manager) Persist(ctx context.Context) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	for key, s := range m.sessions {
		id := m.namespace + ":" + key.hash
		if err := m.tokens.Set(ctx, id, Entry{Token: s.Token(), Metadata: s.Metadata()}); err != nil {
			return errors.Wrap(err, "persisting token")
		}
		if err := m.cache.Set(ctx, id, s.Cache()); err != nil {
			return errors.Wrap(err, "persisting response cache")
		}
	}
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.sessions)
}
