package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/event-booking/internal/adapters/memory"
	"github.com/robertarktes/event-booking/internal/auth"
	"github.com/robertarktes/event-booking/internal/domain"
	"github.com/robertarktes/event-booking/internal/observability"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newService() (*auth.Service, *memory.Store) {
	store := memory.New()
	tokens := auth.NewTokens("test-secret", time.Hour)
	return auth.NewService(store, tokens, bcrypt.MinCost, observability.NewNopLogger()), store
}

func TestSignupAndLogin(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()

	u, err := svc.Signup(ctx, auth.SignupInput{
		Email:     "Org@Example.com",
		Password:  "correct horse",
		FullName:  "Org Anizer",
		Role:      "organizer",
		Interests: []string{"jazz", " Jazz ", "", "tech"},
	})
	require.NoError(t, err)
	require.Equal(t, "org@example.com", u.Email)
	require.Equal(t, domain.RoleOrganizer, u.Role)
	require.Equal(t, []string{"jazz", "tech"}, u.Interests)

	_, err = svc.Signup(ctx, auth.SignupInput{Email: "org@example.com", Password: "another one"})
	require.ErrorIs(t, err, domain.ErrConflict)

	session, err := svc.Login(ctx, "ORG@example.com", "correct horse")
	require.NoError(t, err)
	id, err := svc.Tokens().Verify(session.Token)
	require.NoError(t, err)
	require.Equal(t, auth.Identity{UserID: u.ID, Role: domain.RoleOrganizer}, id)

	_, err = svc.Login(ctx, "org@example.com", "wrong password")
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = svc.Login(ctx, "nobody@example.com", "correct horse")
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestSignupValidation(t *testing.T) {
	svc, _ := newService()
	tests := []struct {
		name string
		in   auth.SignupInput
	}{
		{"bad email", auth.SignupInput{Email: "not-an-email", Password: "longenough"}},
		{"short password", auth.SignupInput{Email: "a@example.com", Password: "short"}},
		{"bad role", auth.SignupInput{Email: "a@example.com", Password: "longenough", Role: "ADMIN"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Signup(context.Background(), tt.in)
			require.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestInactiveUserCannotLogin(t *testing.T) {
	ctx := context.Background()
	svc, store := newService()
	hash, err := auth.HashPassword("password123", bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, store.CreateUser(ctx, &domain.User{
		ID: uuid.New(), Email: "gone@example.com", PasswordHash: hash, Role: domain.RoleAttendee,
	}))

	_, err = svc.Login(ctx, "gone@example.com", "password123")
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestUpdateInterests(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()
	u, err := svc.Signup(ctx, auth.SignupInput{Email: "a@example.com", Password: "longenough"})
	require.NoError(t, err)
	require.Equal(t, domain.RoleAttendee, u.Role)

	updated, err := svc.UpdateInterests(ctx, u.ID, []string{"theatre", "theatre", "film"})
	require.NoError(t, err)
	require.Equal(t, []string{"theatre", "film"}, updated.Interests)

	_, err = svc.UpdateInterests(ctx, uuid.New(), nil)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestVerifyRejects(t *testing.T) {
	tokens := auth.NewTokens("secret-a", time.Hour)
	u := &domain.User{ID: uuid.New(), Role: domain.RoleAttendee}

	raw, _, err := tokens.Issue(u)
	require.NoError(t, err)

	_, err = auth.NewTokens("secret-b", time.Hour).Verify(raw)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	expired, _, err := auth.NewTokens("secret-a", -time.Minute).Issue(u)
	require.NoError(t, err)
	_, err = tokens.Verify(expired)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": u.ID.String()}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = tokens.Verify(none)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}
