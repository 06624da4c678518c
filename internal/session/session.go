// Package session carries the acting user explicitly through every
// user-facing entry point.
package session

import (
	"strings"

	"bhasha/internal/services"
)

// Session identifies the user on whose behalf an operation runs.
type Session struct {
	UserID string
}

// New returns a session for userID.
func New(userID string) Session {
	return Session{UserID: strings.TrimSpace(userID)}
}

// Require returns an authorization error when no user is attached.
func (s Session) Require() error {
	if s.UserID == "" {
		return services.Wrap(services.ErrAuthorization, "session", "require", "no acting user; pass --user or set session.user_id", nil)
	}
	return nil
}

// Owns reports whether the session user owns a record with ownerID.
func (s Session) Owns(ownerID string) bool {
	return s.UserID != "" && s.UserID == ownerID
}

// RequireOwner fails unless the session user owns the record.
func (s Session) RequireOwner(component, operation, ownerID string) error {
	if err := s.Require(); err != nil {
		return err
	}
	if !s.Owns(ownerID) {
		return services.Wrap(services.ErrAuthorization, component, operation, "acting user does not own this record", nil)
	}
	return nil
}
