// Package identity signs users in with username and password, issues access
// and refresh tokens, and resolves a token's principal to a user record.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"kttrack/api/internal/auth"
	"kttrack/api/internal/domain"
	"kttrack/api/internal/session"
	"kttrack/api/internal/util"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrTimedOut           = errors.New("identity lookup timed out")
	ErrSessionRevoked     = errors.New("session revoked")
	ErrUserNotFound       = errors.New("user not found")
)

type UserStore interface {
	GetUserByID(ctx context.Context, userID string) (domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (domain.User, error)
	CountUsers(ctx context.Context) (int, error)
	InsertUser(ctx context.Context, user domain.User) (domain.User, error)
}

type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, data session.TokenData, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (session.TokenData, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

type Config struct {
	Secret         []byte
	AccessTTL      time.Duration
	RefreshTTL     time.Duration
	ProfileTimeout time.Duration
}

// Principal is what an access token asserts about its bearer.
type Principal struct {
	UserID    string
	Username  string
	Role      domain.AppRole
	TokenID   string
	ExpiresAt time.Time
}

type Session struct {
	AccessToken  string      `json:"token"`
	RefreshToken string      `json:"refreshToken"`
	ExpiresAt    time.Time   `json:"expiresAt"`
	User         domain.User `json:"user"`
}

type SessionEventType string

const (
	SessionSignedIn  SessionEventType = "signed_in"
	SessionRefreshed SessionEventType = "refreshed"
	SessionSignedOut SessionEventType = "signed_out"
)

type SessionEvent struct {
	Type   SessionEventType
	UserID string
}

type Service struct {
	users    UserStore
	sessions SessionStore
	cfg      Config
	logger   *zap.Logger

	mu          sync.Mutex
	subscribers map[int]chan SessionEvent
	nextSubID   int
}

func NewService(users UserStore, sessions SessionStore, cfg Config, logger *zap.Logger) *Service {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}
	if cfg.ProfileTimeout <= 0 {
		cfg.ProfileTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		users:       users,
		sessions:    sessions,
		cfg:         cfg,
		logger:      logger,
		subscribers: map[int]chan SessionEvent{},
	}
}

func (s *Service) SignIn(ctx context.Context, username, password string) (Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return Session{}, ErrInvalidCredentials
	}

	user, err := s.lookup(ctx, "username", func(ctx context.Context) (domain.User, error) {
		return s.users.GetUserByUsername(ctx, username)
	})
	if errors.Is(err, ErrTimedOut) {
		return Session{}, err
	}
	if err != nil || user.DeactivatedAt != nil {
		return Session{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}

	sess, err := s.issue(ctx, user)
	if err != nil {
		return Session{}, err
	}
	s.publish(SessionEvent{Type: SessionSignedIn, UserID: user.ID})
	return sess, nil
}

// Refresh rotates a refresh token: the old one is revoked and a new pair is
// issued for the same user.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if refreshToken == "" {
		return Session{}, ErrSessionRevoked
	}
	hash := auth.HashToken(refreshToken)
	data, err := s.sessions.LookupRefreshSession(ctx, hash)
	if errors.Is(err, session.ErrSessionNotFound) {
		return Session{}, ErrSessionRevoked
	}
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, hash); err != nil {
		return Session{}, err
	}

	user, err := s.ResolveProfile(ctx, Principal{UserID: data.UserID, Username: data.Username})
	if err != nil {
		return Session{}, err
	}
	if user.DeactivatedAt != nil {
		return Session{}, ErrSessionRevoked
	}

	sess, err := s.issue(ctx, user)
	if err != nil {
		return Session{}, err
	}
	s.publish(SessionEvent{Type: SessionRefreshed, UserID: user.ID})
	return sess, nil
}

// SignOut revokes the access token behind principal and, when given, the
// refresh token.
func (s *Service) SignOut(ctx context.Context, principal Principal, refreshToken string) error {
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			return err
		}
	}
	if principal.TokenID != "" {
		if err := s.sessions.RevokeAccessToken(ctx, principal.TokenID, principal.ExpiresAt); err != nil {
			return err
		}
	}
	s.publish(SessionEvent{Type: SessionSignedOut, UserID: principal.UserID})
	return nil
}

// Principal validates an access token and returns who it belongs to.
func (s *Service) Principal(ctx context.Context, accessToken string) (Principal, error) {
	claims, err := auth.ParseToken(s.cfg.Secret, accessToken)
	if err != nil {
		return Principal{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Principal{}, err
	}
	if revoked {
		return Principal{}, ErrSessionRevoked
	}
	return Principal{
		UserID:    claims.Subject,
		Username:  claims.Name,
		Role:      domain.AppRole(claims.Role),
		TokenID:   claims.ID,
		ExpiresAt: claims.Expiry(),
	}, nil
}

// ResolveProfile maps a principal to its user record: by id first, then by
// username. Each attempt is bounded by the profile timeout.
func (s *Service) ResolveProfile(ctx context.Context, principal Principal) (domain.User, error) {
	var timedOut bool
	if principal.UserID != "" {
		user, err := s.lookup(ctx, "id", func(ctx context.Context) (domain.User, error) {
			return s.users.GetUserByID(ctx, principal.UserID)
		})
		if err == nil {
			return user, nil
		}
		timedOut = errors.Is(err, ErrTimedOut)
	}

	if principal.Username != "" {
		user, err := s.lookup(ctx, "username", func(ctx context.Context) (domain.User, error) {
			return s.users.GetUserByUsername(ctx, principal.Username)
		})
		if err == nil {
			return user, nil
		}
		timedOut = timedOut || errors.Is(err, ErrTimedOut)
	}

	if timedOut {
		return domain.User{}, ErrTimedOut
	}
	return domain.User{}, ErrUserNotFound
}

// Subscribe returns a channel of session changes and a func to stop
// receiving them. Slow subscribers miss events rather than block publishers.
func (s *Service) Subscribe() (<-chan SessionEvent, func()) {
	ch := make(chan SessionEvent, 8)
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// EnsureAdmin creates an "admin" account when the user table is empty. It
// reports whether an account was created.
func (s *Service) EnsureAdmin(ctx context.Context, password string) (bool, error) {
	if password == "" {
		return false, nil
	}
	count, err := s.users.CountUsers(ctx)
	if err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}
	hash, err := HashPassword(password)
	if err != nil {
		return false, err
	}
	if _, err := s.users.InsertUser(ctx, domain.User{
		ID:           util.NewID("usr"),
		Username:     "admin",
		DisplayName:  "Administrator",
		PasswordHash: hash,
		Role:         domain.AppRoleAdmin,
	}); err != nil {
		return false, err
	}
	s.logger.Info("bootstrap admin account created")
	return true, nil
}

func HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", errors.New("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (s *Service) issue(ctx context.Context, user domain.User) (Session, error) {
	jti, err := randomToken(16)
	if err != nil {
		return Session{}, err
	}
	claims := auth.NewClaims(user.ID, user.Username, string(user.Role), jti, s.cfg.AccessTTL)
	access, err := auth.IssueToken(s.cfg.Secret, claims)
	if err != nil {
		return Session{}, err
	}

	refresh, err := randomToken(32)
	if err != nil {
		return Session{}, err
	}
	data := session.TokenData{UserID: user.ID, Username: user.Username, Role: string(user.Role)}
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), data, time.Now().Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	user.PasswordHash = ""
	return Session{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    claims.Expiry(),
		User:         user,
	}, nil
}

// lookup runs fn with the profile timeout. fn runs on its own goroutine so a
// store that ignores ctx cannot hold the caller past the deadline.
func (s *Service) lookup(ctx context.Context, by string, fn func(context.Context) (domain.User, error)) (domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProfileTimeout)
	defer cancel()

	type result struct {
		user domain.User
		err  error
	}
	done := make(chan result, 1)
	go func() {
		user, err := fn(ctx)
		done <- result{user: user, err: err}
	}()

	select {
	case r := <-done:
		if errors.Is(r.err, context.DeadlineExceeded) {
			s.logger.Warn("profile lookup timed out", zap.String("by", by), zap.Duration("timeout", s.cfg.ProfileTimeout))
			return domain.User{}, ErrTimedOut
		}
		return r.user, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			s.logger.Warn("profile lookup timed out", zap.String("by", by), zap.Duration("timeout", s.cfg.ProfileTimeout))
			return domain.User{}, ErrTimedOut
		}
		return domain.User{}, ctx.Err()
	}
}

func (s *Service) publish(event SessionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

func randomToken(size int) (string, error) {
	bytes := make([]byte, size)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}
