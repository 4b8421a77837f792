package shared

import (
	"context"
	"regexp"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// User identity
// ═══════════════════════════════════════════════════════════════════════════

// UserID identifies a learner in the host application's user table.
type UserID string

var userIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:@-]{0,127}$`)

// IsValid checks the identifier shape.
func (u UserID) IsValid() bool {
	return userIDRegex.MatchString(string(u))
}

// String returns the string representation.
func (u UserID) String() string {
	return string(u)
}

// NewUserID trims and validates a raw identifier.
func NewUserID(raw string) (UserID, error) {
	id := UserID(strings.TrimSpace(raw))
	if !id.IsValid() {
		return "", ErrInvalidUserID
	}
	return id, nil
}

// Role is the account role, used for budget defaults and permission bypass.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// IsAdmin reports whether the role bypasses self-service gates.
func (r Role) IsAdmin() bool {
	return strings.EqualFold(string(r), string(RoleAdmin))
}

// User is the projection of the host user directory this engine needs.
type User struct {
	ID       string
	Username string
	Role     Role
}

// IsAdmin reports whether the user is an administrator.
func (u User) IsAdmin() bool {
	return u.Role.IsAdmin()
}

// UserDirectory is the read-only view over the host user table.
type UserDirectory interface {
	// GetUser returns ErrUserNotFound when the id is unknown.
	GetUser(ctx context.Context, userID string) (*User, error)

	// CountUsers returns the total number of registered users.
	CountUsers(ctx context.Context) (int, error)
}

// ═══════════════════════════════════════════════════════════════════════════
// Transactions
// ═══════════════════════════════════════════════════════════════════════════

// Transactor runs fn inside a single store transaction. Repositories called
// with the ctx passed to fn join that transaction; the transaction commits
// when fn returns nil and rolls back otherwise.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// NoTx runs fn directly. Used by in-memory wiring and tests.
type NoTx struct{}

// WithinTx implements Transactor.
func (NoTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
