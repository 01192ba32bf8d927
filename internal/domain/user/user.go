// Package user manages storefront accounts and their authentication.
package user

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// Role is the authorization role of an account.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

var (
	// ErrNotFound is returned when an account does not exist.
	ErrNotFound = errors.New("user not found")
	// ErrDuplicateEmail is returned when registering an e-mail that is taken.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrInvalidCredentials is returned for unknown e-mails and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrForbidden is returned when a non-admin attempts an admin login.
	ErrForbidden = errors.New("admin access required")
	// ErrInvalidInput is returned when registration input fails validation.
	ErrInvalidInput = errors.New("invalid registration")
)

const minPasswordLength = 8

// User is a storefront account.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
}

// IsAdmin reports whether the account may use admin tokens.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// NormalizeEmail canonicalizes an e-mail address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// RegisterInput carries the fields needed to create an account.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

func (in *RegisterInput) validate() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = NormalizeEmail(in.Email)
	switch {
	case in.Name == "":
		return errors.Wrap(ErrInvalidInput, "name is required")
	case len(in.Password) < minPasswordLength:
		return errors.Wrapf(ErrInvalidInput, "password must be at least %d characters", minPasswordLength)
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return errors.Wrap(ErrInvalidInput, "email is malformed")
	}
	return nil
}

// Repository defines persistence operations for accounts.
type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Count(ctx context.Context) (int, error)
}
