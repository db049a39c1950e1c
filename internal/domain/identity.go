package domain

import (
	"fmt"
	"strings"
)

// IdentityKind distinguishes authenticated users from anonymous sessions.
type IdentityKind string

const (
	IdentityUser    IdentityKind = "user"
	IdentitySession IdentityKind = "session"
)

// CartIdentity names the owner of a cart: exactly one of a user id or a
// session id.
type CartIdentity struct {
	Kind IdentityKind `json:"kind"`
	ID   string       `json:"id"`
}

// UserIdentity returns the identity of an authenticated user.
func UserIdentity(userID string) CartIdentity {
	return CartIdentity{Kind: IdentityUser, ID: userID}
}

// SessionIdentity returns the identity of an anonymous session.
func SessionIdentity(sessionID string) CartIdentity {
	return CartIdentity{Kind: IdentitySession, ID: sessionID}
}

// ResolveIdentity picks the cart identity for a request. An authenticated user
// wins over a session.
func ResolveIdentity(userID, sessionID string) (CartIdentity, error) {
	userID = strings.TrimSpace(userID)
	sessionID = strings.TrimSpace(sessionID)
	switch {
	case userID != "":
		return UserIdentity(userID), nil
	case sessionID != "":
		return SessionIdentity(sessionID), nil
	default:
		return CartIdentity{}, fmt.Errorf("no user or session identity")
	}
}

// Validate checks that the identity has a known kind and a non-empty id.
func (c CartIdentity) Validate() error {
	if c.Kind != IdentityUser && c.Kind != IdentitySession {
		return fmt.Errorf("unknown identity kind %q", c.Kind)
	}
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("empty %s id", c.Kind)
	}
	return nil
}

// IsUser reports whether the identity belongs to an authenticated user.
func (c CartIdentity) IsUser() bool {
	return c.Kind == IdentityUser
}

// Key returns the stable string used for locking, e.g. "user:42".
func (c CartIdentity) Key() string {
	return string(c.Kind) + ":" + c.ID
}

func (c CartIdentity) String() string {
	return c.Key()
}
