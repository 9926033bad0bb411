package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rxdispatch/rxdispatch-backend/pkg/config"
)

const refreshTokenBytes = 32

var (
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	errAccessIDRequired    = errors.New("access id is required")
	errUserIDRequired      = errors.New("user id is required")
)

// Store persists refresh sessions. *redis.Client implements it.
type Store interface {
	OpenSession(ctx context.Context, userID, accessID, digest string, ttl time.Duration) error
	SwapSession(ctx context.Context, userID, oldAccessID, expected, newAccessID, digest string, ttl time.Duration) (bool, error)
	CloseSession(ctx context.Context, userID, accessID string) error
	CloseUserSessions(ctx context.Context, userID string) (int, error)
	SessionExists(ctx context.Context, accessID string) (bool, error)
}

// AccessSessionChecker exposes the read-only surface needed by middleware.
type AccessSessionChecker interface {
	HasSession(ctx context.Context, accessID string) (bool, error)
}

// UserSessionRevoker ends every session a user holds.
type UserSessionRevoker interface {
	RevokeAll(ctx context.Context, userID uuid.UUID) error
}

// Manager issues and rotates refresh tokens. Only a SHA-256 digest of each
// token is stored, keyed by the access token's jti.
type Manager struct {
	store Store
	ttl   time.Duration
}

func NewManager(store Store, cfg config.JWTConfig) (*Manager, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	ttl := cfg.RefreshTokenTTL()
	accessTTL := time.Duration(cfg.ExpirationMinutes) * time.Minute
	switch {
	case ttl <= 0:
		return nil, errors.New("refresh token ttl must be positive")
	case ttl <= accessTTL:
		return nil, fmt.Errorf("refresh token ttl (%s) must exceed access token ttl (%s)", ttl, accessTTL)
	}
	return &Manager{store: store, ttl: ttl}, nil
}

// Generate opens a session for accessID and returns its refresh token.
func (m *Manager) Generate(ctx context.Context, userID uuid.UUID, accessID string) (string, error) {
	if blank(accessID) {
		return "", errAccessIDRequired
	}
	if userID == uuid.Nil {
		return "", errUserIDRequired
	}
	token, err := newRefreshToken()
	if err != nil {
		return "", err
	}
	if err := m.store.OpenSession(ctx, userID.String(), accessID, digest(token), m.ttl); err != nil {
		return "", fmt.Errorf("open session: %w", err)
	}
	return token, nil
}

// Rotate exchanges a refresh token for a new access id and refresh token.
// The old session is consumed, so replaying the same token fails.
func (m *Manager) Rotate(ctx context.Context, userID uuid.UUID, oldAccessID, provided string) (string, string, error) {
	if blank(oldAccessID) || blank(provided) || userID == uuid.Nil {
		return "", "", ErrInvalidRefreshToken
	}
	token, err := newRefreshToken()
	if err != nil {
		return "", "", err
	}
	newAccessID := NewAccessID()
	swapped, err := m.store.SwapSession(ctx, userID.String(), oldAccessID, digest(provided), newAccessID, digest(token), m.ttl)
	if err != nil {
		return "", "", fmt.Errorf("rotate session: %w", err)
	}
	if !swapped {
		return "", "", ErrInvalidRefreshToken
	}
	return newAccessID, token, nil
}

// Revoke ends a single session.
func (m *Manager) Revoke(ctx context.Context, userID uuid.UUID, accessID string) error {
	if blank(accessID) {
		return errAccessIDRequired
	}
	owner := ""
	if userID != uuid.Nil {
		owner = userID.String()
	}
	return m.store.CloseSession(ctx, owner, accessID)
}

// RevokeAll ends every session indexed under the user.
func (m *Manager) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	if userID == uuid.Nil {
		return errUserIDRequired
	}
	_, err := m.store.CloseUserSessions(ctx, userID.String())
	return err
}

// HasSession reports whether the access id still has a live refresh session.
func (m *Manager) HasSession(ctx context.Context, accessID string) (bool, error) {
	if blank(accessID) {
		return false, errAccessIDRequired
	}
	return m.store.SessionExists(ctx, accessID)
}

// NewAccessID produces the identifier used as the JWT jti and session key.
func NewAccessID() string {
	return uuid.NewString()
}

func newRefreshToken() (string, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }
