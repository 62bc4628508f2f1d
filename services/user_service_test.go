package services

import (
	"context"
	"testing"
	"time"

	"bankcards/models"
	"bankcards/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registerRequest(username string) RegisterRequest {
	return RegisterRequest{
		Username:  username,
		Email:     username + "@mail.test",
		Password:  "secret123",
		FirstName: "Ivan",
		LastName:  "Petrov",
	}
}

func TestRegisterAndLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := registerRequest("ivan")
	req.Role = "ADMIN"
	user, err := f.users.Register(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, user.Role, "public registration never grants ADMIN")
	assert.True(t, user.Enabled)

	stored, err := f.store.Users().FindByUsername(ctx, "ivan")
	require.NoError(t, err)
	assert.NotEqual(t, "secret123", stored.Password)
	assert.True(t, utils.VerifyPassword("secret123", stored.Password))

	resp, err := f.users.Login(ctx, LoginRequest{Username: "ivan", Password: "secret123"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", resp.Type)
	assert.Equal(t, models.RoleUser, resp.Role)

	caller, err := f.tokens.Parse(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, caller.UserID)
	assert.Equal(t, "ivan", caller.Username)
}

func TestRegister_Duplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.users.Register(ctx, registerRequest("ivan"))
	require.NoError(t, err)

	_, err = f.users.Register(ctx, registerRequest("ivan"))
	require.ErrorIs(t, err, ErrDuplicateUser)
	assert.Equal(t, "Username is already taken!", err.Error())

	req := registerRequest("petr")
	req.Email = "ivan@mail.test"
	_, err = f.users.Register(ctx, req)
	require.ErrorIs(t, err, ErrDuplicateUser)
	assert.Equal(t, "Email is already in use!", err.Error())
}

func TestLogin_Failures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.users.Register(ctx, registerRequest("ivan"))
	require.NoError(t, err)

	hash, err := utils.HashPassword("secret123")
	require.NoError(t, err)
	require.NoError(t, f.store.Users().Create(ctx, &models.User{
		Username: "blocked", Email: "blocked@mail.test", Password: hash, Role: models.RoleUser, Enabled: false,
	}))

	_, err = f.users.Login(ctx, LoginRequest{Username: "ivan", Password: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.users.Login(ctx, LoginRequest{Username: "nobody", Password: "secret123"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.users.Login(ctx, LoginRequest{Username: "blocked", Password: "secret123"})
	assert.ErrorIs(t, err, ErrAccountDisabled)
}

func TestCreateUser_AdminOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.user(t, "root", models.RoleAdmin)
	alice := f.user(t, "alice", models.RoleUser)

	req := registerRequest("second")
	req.Role = "admin"
	created, err := f.users.CreateUser(ctx, admin, req)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, created.Role)

	_, err = f.users.CreateUser(ctx, alice, registerRequest("third"))
	assert.ErrorIs(t, err, ErrAccessDenied)

	req = registerRequest("fourth")
	req.Role = "ROOT"
	_, err = f.users.CreateUser(ctx, admin, req)
	assert.ErrorIs(t, err, &Error{Kind: KindValidation})
}

func TestEnsureAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.users.EnsureAdmin(ctx, "", "", ""))
	require.NoError(t, f.users.EnsureAdmin(ctx, "admin", "", "admin123"))
	// повторный запуск ничего не меняет
	require.NoError(t, f.users.EnsureAdmin(ctx, "admin", "", "admin123"))

	admin, err := f.store.Users().FindByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, admin.Role)
	assert.Equal(t, "admin@localhost", admin.Email)

	f.user(t, "plain", models.RoleUser)
	assert.Error(t, f.users.EnsureAdmin(ctx, "plain", "", "x"))
}

func TestListUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.user(t, "root", models.RoleAdmin)
	alice := f.user(t, "alice", models.RoleUser)
	f.user(t, "bob", models.RoleUser)

	page, err := f.users.ListUsers(ctx, admin, paging(0, 2))
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.TotalElements)
	assert.Len(t, page.Content, 2)
	assert.Equal(t, 2, page.TotalPages)

	_, err = f.users.ListUsers(ctx, alice, paging(0, 10))
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestTokenService(t *testing.T) {
	tokens := NewTokenService("secret", time.Hour)
	user := &models.User{ID: 7, Username: "ivan", Role: models.RoleAdmin}

	token, err := tokens.Issue(user)
	require.NoError(t, err)

	caller, err := tokens.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, Caller{UserID: 7, Username: "ivan", Role: models.RoleAdmin}, caller)

	_, err = NewTokenService("other", time.Hour).Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = tokens.Parse("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewTokenService("secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, err := expired.Issue(user)
	require.NoError(t, err)
	_, err = tokens.Parse(old)
	assert.ErrorIs(t, err, ErrInvalidToken)

	unknownRole, err := tokens.Issue(&models.User{ID: 8, Username: "x", Role: "ROOT"})
	require.NoError(t, err)
	_, err = tokens.Parse(unknownRole)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestGuard(t *testing.T) {
	g := NewGuard()
	card := &models.Card{OwnerID: 1}
	owner := Caller{UserID: 1, Role: models.RoleUser}
	stranger := Caller{UserID: 2, Role: models.RoleUser}
	admin := Caller{UserID: 3, Role: models.RoleAdmin}
	roleless := Caller{UserID: 1}

	assert.NoError(t, g.Authorize(owner, card))
	assert.ErrorIs(t, g.Authorize(stranger, card), ErrAccessDenied)
	assert.NoError(t, g.Authorize(admin, card))
	assert.ErrorIs(t, g.Authorize(roleless, card), ErrAccessDenied)

	transfer := &models.Transfer{FromCard: &models.Card{OwnerID: 2}, ToCard: card}
	assert.NoError(t, g.Authorize(owner, transfer))
	assert.NoError(t, g.Authorize(stranger, transfer))
	assert.ErrorIs(t, g.Authorize(Caller{UserID: 9, Role: models.RoleUser}, transfer), ErrAccessDenied)

	assert.NoError(t, g.RequireOwner(owner, card, card))
	assert.ErrorIs(t, g.RequireOwner(admin, card), ErrAccessDenied)

	assert.NoError(t, g.RequireAdmin(admin))
	assert.ErrorIs(t, g.RequireAdmin(owner), ErrAccessDenied)
}
