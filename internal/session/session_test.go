package session_test

import (
	"errors"
	"testing"

	"bhasha/internal/services"
	"bhasha/internal/session"
)

func TestRequireOwner(t *testing.T) {
	tests := []struct {
		name    string
		sess    session.Session
		owner   string
		wantErr bool
	}{
		{"owner", session.New(" u1 "), "u1", false},
		{"other user", session.New("u2"), "u1", true},
		{"anonymous", session.New(""), "u1", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.sess.RequireOwner("content", "delete", tc.owner)
			if (err != nil) != tc.wantErr {
				t.Fatalf("RequireOwner err=%v wantErr=%v", err, tc.wantErr)
			}
			if err != nil && !errors.Is(err, services.ErrAuthorization) {
				t.Fatalf("expected authorization error, got %v", err)
			}
		})
	}
}
