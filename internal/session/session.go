// Package session carries the acting party through every operation
// explicitly instead of reading an ambient "current user".
package session

import (
	"context"
	"strings"

	"tutorme/tutorchat/internal/apperr"
	"tutorme/tutorchat/internal/auth"
)

type Role string

const (
	RoleStudent Role = "student"
	RoleTutor   Role = "tutor"
)

type Session struct {
	UserID      string
	Identity    string
	DisplayName string
	Role        Role
}

func New(userID, identity, displayName string, role Role) *Session {
	return &Session{
		UserID:      strings.TrimSpace(userID),
		Identity:    strings.ToLower(strings.TrimSpace(identity)),
		DisplayName: strings.TrimSpace(displayName),
		Role:        role,
	}
}

// FromClaims opens a session for a verified token.
func FromClaims(claims *auth.Claims) *Session {
	if claims == nil {
		return nil
	}
	role := RoleStudent
	if Role(claims.Role) == RoleTutor {
		role = RoleTutor
	}
	return New(claims.UserID, claims.Email, claims.Name, role)
}

func (s *Session) IsTutor() bool {
	return s != nil && s.Role == RoleTutor
}

// Require fails with NotAuthenticated when no identity can be resolved.
func Require(s *Session, op string) error {
	if s == nil || s.Identity == "" {
		return apperr.E(apperr.NotAuthenticated, op, nil)
	}
	return nil
}

type sessionKey struct{}

func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionKey{}).(*Session)
	return s
}
