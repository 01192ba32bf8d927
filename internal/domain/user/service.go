package user

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/xenking/storefront/internal/auth"
)

// TokenIssuer issues and parses bearer tokens.
type TokenIssuer interface {
	Issue(kind auth.Kind, subject, role string) (*auth.Pair, error)
	Parse(token string, kind auth.Kind, use auth.Use) (*auth.Claims, error)
}

// Session is the result of a successful login or refresh.
type Session struct {
	User   *User
	Tokens *auth.Pair
}

// Service implements registration, login and token refresh.
type Service struct {
	users  Repository
	tokens TokenIssuer
	cost   int
}

// NewService creates an account Service.
func NewService(users Repository, tokens TokenIssuer) *Service {
	return &Service{users: users, tokens: tokens, cost: bcrypt.DefaultCost}
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string, cost int) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", errors.Wrap(err, "hash password")
	}
	return string(h), nil
}

// Register creates a customer account and logs it in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	hash, err := HashPassword(in.Password, s.cost)
	if err != nil {
		return nil, err
	}
	u := &User{
		ID:           uuid.New().String(),
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         RoleUser,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, ErrDuplicateEmail
		}
		return nil, errors.Wrap(err, "create user")
	}
	return s.session(u, auth.KindUser)
}

// Login checks credentials and issues tokens of the requested kind. Admin
// tokens are only issued to admin accounts.
func (s *Service) Login(ctx context.Context, email, password string, kind auth.Kind) (*Session, error) {
	u, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, errors.Wrap(err, "get user")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if kind == auth.KindAdmin && !u.IsAdmin() {
		return nil, ErrForbidden
	}
	return s.session(u, kind)
}

// Refresh exchanges a refresh token for a new token pair of the same kind.
func (s *Service) Refresh(ctx context.Context, refreshToken string, kind auth.Kind) (*Session, error) {
	claims, err := s.tokens.Parse(refreshToken, kind, auth.UseRefresh)
	if err != nil {
		return nil, err
	}
	u, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, auth.ErrInvalidToken
		}
		return nil, errors.Wrap(err, "get user")
	}
	if kind == auth.KindAdmin && !u.IsAdmin() {
		return nil, ErrForbidden
	}
	return s.session(u, kind)
}

// Me returns the account behind an authenticated principal.
func (s *Service) Me(ctx context.Context, userID string) (*User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "get user")
	}
	return u, nil
}

func (s *Service) session(u *User, kind auth.Kind) (*Session, error) {
	pair, err := s.tokens.Issue(kind, u.ID, string(u.Role))
	if err != nil {
		return nil, errors.Wrap(err, "issue tokens")
	}
	return &Session{User: u, Tokens: pair}, nil
}
