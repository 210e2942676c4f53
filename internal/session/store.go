package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"gallerio/internal/domain"
)

// ErrEmptyToken is returned by Login when no token is supplied.
var ErrEmptyToken = errors.New("session token is empty")

// Blob is the persisted form of a session.
type Blob struct {
	Token    string          `json:"token"`
	Identity domain.Identity `json:"identity"`
	SavedAt  time.Time       `json:"savedAt"`
}

// Persister stores the session blob between process runs.
type Persister interface {
	// Load returns nil, nil when nothing is stored.
	Load(ctx context.Context) (*Blob, error)
	Save(ctx context.Context, blob Blob) error
	Clear(ctx context.Context) error
}

// EventKind describes a session transition.
type EventKind int

const (
	LoggedIn EventKind = iota + 1
	LoggedOut
	Invalidated
)

func (k EventKind) String() string {
	switch k {
	case LoggedIn:
		return "logged_in"
	case LoggedOut:
		return "logged_out"
	case Invalidated:
		return "invalidated"
	default:
		return "unknown"
	}
}

// Event is published to subscribers after every transition.
type Event struct {
	Kind     EventKind
	Identity domain.Identity
}

// Store holds the current identity and bearer token. Login, Logout and Invalidate are the
// only writers; everything else reads.
type Store struct {
	mu        sync.RWMutex
	identity  *domain.Identity
	token     string
	persister Persister
	logger    *slog.Logger
	now       func() time.Time

	subMu  sync.Mutex
	subs   map[int]chan Event
	nextID int
}

// Open creates a store and restores the persisted session. Expired JWTs are discarded.
func Open(ctx context.Context, persister Persister, logger *slog.Logger) (*Store, error) {
	return openAt(ctx, persister, logger, time.Now)
}

func openAt(ctx context.Context, persister Persister, logger *slog.Logger, now func() time.Time) (*Store, error) {
	if persister == nil {
		persister = NewMemoryPersister()
	}
	s := &Store{
		persister: persister,
		logger:    logger.With("component", "session"),
		now:       now,
		subs:      map[int]chan Event{},
	}

	blob, err := persister.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if blob == nil || strings.TrimSpace(blob.Token) == "" {
		return s, nil
	}
	if expired(blob.Token, now()) {
		s.logger.Info("discarding expired session", "user_id", blob.Identity.ID)
		if err := persister.Clear(ctx); err != nil {
			s.logger.Warn("clear expired session failed", "error", err)
		}
		return s, nil
	}

	identity := blob.Identity
	s.identity = &identity
	s.token = blob.Token
	s.logger.Debug("session restored", "user_id", identity.ID, "role", identity.Role)
	return s, nil
}

// Token returns the bearer token, or "" when logged out.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Identity returns the current identity.
func (s *Store) Identity() (domain.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return domain.Identity{}, false
	}
	return *s.identity, true
}

// Current is Identity under the name the conversation engine expects.
func (s *Store) Current() (domain.Identity, bool) {
	return s.Identity()
}

// Login replaces the session and persists it.
func (s *Store) Login(ctx context.Context, identity domain.Identity, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrEmptyToken
	}
	if err := s.persister.Save(ctx, Blob{Token: token, Identity: identity, SavedAt: s.now().UTC()}); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}

	s.mu.Lock()
	s.identity = &identity
	s.token = token
	s.mu.Unlock()

	s.logger.Info("logged in", "user_id", identity.ID, "role", identity.Role)
	s.publish(Event{Kind: LoggedIn, Identity: identity})
	return nil
}

// Logout clears the session in memory and in the persister.
func (s *Store) Logout(ctx context.Context) error {
	s.mu.Lock()
	var prev domain.Identity
	if s.identity != nil {
		prev = *s.identity
	}
	s.identity = nil
	s.token = ""
	s.mu.Unlock()

	err := s.persister.Clear(ctx)
	s.publish(Event{Kind: LoggedOut, Identity: prev})
	if err != nil {
		return fmt.Errorf("clear persisted session: %w", err)
	}
	return nil
}

// Invalidate clears the session only if token is still the current token. It reports whether
// this call performed the clear, so concurrent callers holding the same token see true once.
func (s *Store) Invalidate(ctx context.Context, token string) bool {
	if token == "" {
		return false
	}
	s.mu.Lock()
	if s.token != token {
		s.mu.Unlock()
		return false
	}
	var prev domain.Identity
	if s.identity != nil {
		prev = *s.identity
	}
	s.identity = nil
	s.token = ""
	s.mu.Unlock()

	if err := s.persister.Clear(ctx); err != nil {
		s.logger.Warn("clear persisted session failed", "error", err)
	}
	s.logger.Warn("session invalidated", "user_id", prev.ID)
	s.publish(Event{Kind: Invalidated, Identity: prev})
	return true
}

// Subscribe returns a channel of session events and a function that releases it.
// Slow subscribers miss events rather than blocking writers.
func (s *Store) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 8)
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

func (s *Store) publish(evt Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			s.logger.Debug("dropping session event for slow subscriber", "event", evt.Kind.String())
		}
	}
}

// expired reports whether token is a JWT whose exp claim is in the past. Opaque tokens never
// expire client-side; the backend remains the authority.
func expired(token string, now time.Time) bool {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !now.Before(claims.ExpiresAt.Time)
}
