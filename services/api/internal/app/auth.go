package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"hustl/internal/util"
	"hustl/pkg/auth"
	"hustl/pkg/domain"
	"hustl/pkg/store"
)

const (
	AuthSignedIn  = "SIGNED_IN"
	AuthSignedOut = "SIGNED_OUT"
)

// AuthEvent is delivered to OnAuthStateChange listeners.
type AuthEvent struct {
	Type    string
	UserID  string
	Session *store.Session
}

type SignUpInput struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	FullName   string `json:"full_name"`
	University string `json:"university"`
}

// AuthResult is returned by sign-up and sign-in.
type AuthResult struct {
	Session store.Session  `json:"session"`
	Profile domain.Profile `json:"profile"`
}

// Auth handles credentials and sessions.
type Auth struct {
	app *App

	mu        sync.RWMutex
	listeners map[int]func(AuthEvent)
	nextID    int
}

// SignUp registers a user, creates the profile and signs them in.
func (s *Auth) SignUp(ctx context.Context, in SignUpInput) (AuthResult, error) {
	email := strings.TrimSpace(strings.ToLower(in.Email))
	fullName := plainText(in.FullName)
	v := validator{}
	v.check(email != "", "email", "required")
	v.check(email == "" || strings.Contains(email, "@"), "email", "must be an email address")
	v.check(fullName != "", "full_name", "required")
	v.check(in.Password != "", "password", "required")
	if in.Password != "" {
		if err := auth.ValidatePassword(in.Password); err != nil {
			v.check(false, "password", err.Error())
		}
	}
	if err := v.err(); err != nil {
		return AuthResult{}, err
	}

	exists, err := s.app.store.HasUserEmail(ctx, email)
	if err != nil {
		return AuthResult{}, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return AuthResult{}, ErrEmailAlreadyExists
	}
	passwordHash, err := auth.HashPassword(in.Password)
	if err != nil {
		return AuthResult{}, fmt.Errorf("hash password: %w", err)
	}
	university := plainText(in.University)
	if university == "" {
		university = s.app.university
	}

	now := time.Now().UTC()
	id := util.NewID()
	user := domain.User{
		ID:           id,
		Email:        email,
		PasswordHash: passwordHash,
		Status:       domain.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	profile := domain.Profile{
		ID:         id,
		Email:      email,
		FullName:   fullName,
		University: university,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.app.store.CreateUser(ctx, user, profile); err != nil {
		return AuthResult{}, fmt.Errorf("create user: %w", err)
	}
	return s.startSession(ctx, id)
}

// SignIn checks credentials and issues a session.
func (s *Auth) SignIn(ctx context.Context, email, password string) (AuthResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return AuthResult{}, ErrInvalidCredentials
	}
	user, ok, err := s.app.store.GetUserByEmail(ctx, email)
	if err != nil {
		return AuthResult{}, fmt.Errorf("lookup user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return AuthResult{}, ErrInvalidCredentials
	}
	if user.Status == domain.StatusDisabled {
		return AuthResult{}, ErrUserDisabled
	}
	return s.startSession(ctx, user.ID)
}

func (s *Auth) startSession(ctx context.Context, userID string) (AuthResult, error) {
	sess, err := s.app.sessions.NewSession(ctx, userID)
	if err != nil {
		return AuthResult{}, fmt.Errorf("issue session: %w", err)
	}
	profile, err := s.app.store.GetProfile(ctx, userID)
	if err != nil {
		return AuthResult{}, fmt.Errorf("load profile: %w", err)
	}
	s.emit(AuthEvent{Type: AuthSignedIn, UserID: userID, Session: &sess})
	return AuthResult{Session: sess, Profile: profile}, nil
}

// SignOut revokes token until it would have expired.
func (s *Auth) SignOut(ctx context.Context, token string) error {
	sess, err := s.app.sessions.GetSession(ctx, token)
	if err != nil {
		return s.mapSessionError(err)
	}
	if err := s.app.sessions.DeleteSession(ctx, token); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	s.emit(AuthEvent{Type: AuthSignedOut, UserID: sess.UserID})
	return nil
}

// GetSession resolves a bearer token to an active user's session.
func (s *Auth) GetSession(ctx context.Context, token string) (store.Session, error) {
	sess, err := s.app.sessions.GetSession(ctx, token)
	if err != nil {
		return store.Session{}, s.mapSessionError(err)
	}
	user, ok, err := s.app.store.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return store.Session{}, fmt.Errorf("lookup user: %w", err)
	}
	if !ok || user.Status == domain.StatusDisabled {
		return store.Session{}, ErrNoAuthenticatedUser
	}
	return sess, nil
}

func (s *Auth) mapSessionError(err error) error {
	if errors.Is(err, store.ErrInvalidToken) || errors.Is(err, store.ErrTokenRevoked) {
		return fmt.Errorf("%w: %v", ErrNoAuthenticatedUser, err)
	}
	return err
}

// OnAuthStateChange registers fn for sign-in and sign-out events. The
// returned func removes it.
func (s *Auth) OnAuthStateChange(fn func(AuthEvent)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *Auth) emit(ev AuthEvent) {
	s.mu.RLock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(AuthEvent), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}
