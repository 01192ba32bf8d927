package user

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/xenking/storefront/internal/auth"
)

type memUsers struct {
	byID map[string]*User
}

func newMemUsers(users ...*User) *memUsers {
	m := &memUsers{byID: map[string]*User{}}
	for _, u := range users {
		m.byID[u.ID] = u
	}
	return m
}

func (m *memUsers) Create(_ context.Context, u *User) error {
	for _, existing := range m.byID {
		if existing.Email == u.Email {
			return ErrDuplicateEmail
		}
	}
	u.CreatedAt = time.Now()
	m.byID[u.ID] = u
	return nil
}

func (m *memUsers) GetByID(_ context.Context, id string) (*User, error) {
	u, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u, nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*User, error) {
	for _, u := range m.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) Count(context.Context) (int, error) { return len(m.byID), nil }

func newTestService(t *testing.T, users ...*User) *Service {
	t.Helper()
	tokens, err := auth.NewTokens(auth.TokensConfig{
		UserSecret:  []byte("u-secret"),
		AdminSecret: []byte("a-secret"),
	})
	require.NoError(t, err)
	svc := NewService(newMemUsers(users...), tokens)
	svc.cost = bcrypt.MinCost
	return svc
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	h, err := HashPassword(password, bcrypt.MinCost)
	require.NoError(t, err)
	return h
}

func TestRegister(t *testing.T) {
	svc := newTestService(t)

	s, err := svc.Register(context.Background(), RegisterInput{
		Name:     " Ada ",
		Email:    " Ada@Example.COM ",
		Password: "correct-horse",
	})
	require.NoError(t, err)
	assert.Equal(t, "Ada", s.User.Name)
	assert.Equal(t, "ada@example.com", s.User.Email)
	assert.Equal(t, RoleUser, s.User.Role)
	assert.NotEqual(t, "correct-horse", s.User.PasswordHash)
	assert.NotEmpty(t, s.Tokens.AccessToken)

	_, err = svc.Register(context.Background(), RegisterInput{
		Name: "Other", Email: "ada@example.com", Password: "another-pass",
	})
	require.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestRegister_Validation(t *testing.T) {
	svc := newTestService(t)

	tests := []struct {
		name string
		in   RegisterInput
	}{
		{"missing name", RegisterInput{Email: "a@b.co", Password: "longenough"}},
		{"short password", RegisterInput{Name: "A", Email: "a@b.co", Password: "short"}},
		{"bad email", RegisterInput{Name: "A", Email: "not-an-email", Password: "longenough"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.in)
			require.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestLogin(t *testing.T) {
	customer := &User{ID: "u1", Name: "C", Email: "c@shop.test", PasswordHash: mustHash(t, "customer-pw"), Role: RoleUser}
	admin := &User{ID: "a1", Name: "A", Email: "a@shop.test", PasswordHash: mustHash(t, "admin-pw-1"), Role: RoleAdmin}
	svc := newTestService(t, customer, admin)
	ctx := context.Background()

	s, err := svc.Login(ctx, "C@shop.test", "customer-pw", auth.KindUser)
	require.NoError(t, err)
	assert.Equal(t, "u1", s.User.ID)

	_, err = svc.Login(ctx, "c@shop.test", "wrong", auth.KindUser)
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "nobody@shop.test", "customer-pw", auth.KindUser)
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "c@shop.test", "customer-pw", auth.KindAdmin)
	require.ErrorIs(t, err, ErrForbidden)

	s, err = svc.Login(ctx, "a@shop.test", "admin-pw-1", auth.KindAdmin)
	require.NoError(t, err)
	assert.True(t, s.User.IsAdmin())
}

func TestRefresh(t *testing.T) {
	customer := &User{ID: "u1", Email: "c@shop.test", PasswordHash: mustHash(t, "customer-pw"), Role: RoleUser}
	svc := newTestService(t, customer)
	ctx := context.Background()

	s, err := svc.Login(ctx, "c@shop.test", "customer-pw", auth.KindUser)
	require.NoError(t, err)

	refreshed, err := svc.Refresh(ctx, s.Tokens.RefreshToken, auth.KindUser)
	require.NoError(t, err)
	assert.Equal(t, "u1", refreshed.User.ID)

	_, err = svc.Refresh(ctx, s.Tokens.AccessToken, auth.KindUser)
	require.ErrorIs(t, err, auth.ErrInvalidToken)

	_, err = svc.Refresh(ctx, s.Tokens.RefreshToken, auth.KindAdmin)
	require.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestMe(t *testing.T) {
	svc := newTestService(t, &User{ID: "u1", Email: "c@shop.test"})

	u, err := svc.Me(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "c@shop.test", u.Email)

	_, err = svc.Me(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}
