// Package auth issues and validates the JWT bearer tokens used by the API.
//
// Storefront customers and administrators get different token kinds signed
// with different secrets, so a customer token can never be replayed against
// admin routes. Each login yields an access/refresh pair; refresh tokens only
// mint new pairs and never authorize API calls.
package auth

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
)

// Kind distinguishes customer tokens from admin tokens.
type Kind string

const (
	KindUser  Kind = "user"
	KindAdmin Kind = "admin"
)

// Use distinguishes access tokens from refresh tokens.
type Use string

const (
	UseAccess  Use = "access"
	UseRefresh Use = "refresh"
)

const issuer = "storefront"

var (
	// ErrInvalidToken is returned for malformed, expired or wrongly typed tokens.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrUnknownKind is returned when no secret is configured for a token kind.
	ErrUnknownKind = errors.New("unknown token kind")
)

// Claims are the JWT claims carried by storefront tokens.
type Claims struct {
	jwt.RegisteredClaims
	Kind Kind   `json:"kind"`
	Use  Use    `json:"use"`
	Role string `json:"role,omitempty"`
}

// Pair is an access/refresh token pair returned on login and refresh.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// TokensConfig holds signing secrets and lifetimes.
type TokensConfig struct {
	UserSecret  []byte
	AdminSecret []byte
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
}

// Tokens signs and verifies HS256 tokens.
type Tokens struct {
	secrets    map[Kind][]byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokens creates a Tokens instance. Both secrets are required.
func NewTokens(cfg TokensConfig) (*Tokens, error) {
	if len(cfg.UserSecret) == 0 || len(cfg.AdminSecret) == 0 {
		return nil, errors.New("user and admin token secrets are required")
	}
	if string(cfg.UserSecret) == string(cfg.AdminSecret) {
		return nil, errors.New("user and admin token secrets must differ")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	return &Tokens{
		secrets: map[Kind][]byte{
			KindUser:  cfg.UserSecret,
			KindAdmin: cfg.AdminSecret,
		},
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
	}, nil
}

// Issue creates a fresh access/refresh pair for subject.
func (t *Tokens) Issue(kind Kind, subject, role string) (*Pair, error) {
	now := t.now().UTC()
	access, accessExp, err := t.sign(kind, UseAccess, subject, role, now, t.accessTTL)
	if err != nil {
		return nil, errors.Wrap(err, "sign access token")
	}
	refresh, refreshExp, err := t.sign(kind, UseRefresh, subject, role, now, t.refreshTTL)
	if err != nil {
		return nil, errors.Wrap(err, "sign refresh token")
	}
	return &Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (t *Tokens) sign(kind Kind, use Use, subject, role string, now time.Time, ttl time.Duration) (string, time.Time, error) {
	secret, ok := t.secrets[kind]
	if !ok {
		return "", time.Time{}, ErrUnknownKind
	}
	exp := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Kind: kind,
		Use:  use,
		Role: role,
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return s, exp, nil
}

// Parse validates a token of the expected kind and use and returns its claims.
func (t *Tokens) Parse(token string, kind Kind, use Use) (*Claims, error) {
	secret, ok := t.secrets[kind]
	if !ok {
		return nil, ErrUnknownKind
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Kind != kind || claims.Use != use || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
