// Package auth registers users, checks their passwords and issues the
// access tokens the HTTP layer verifies.
package auth

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-booking/internal/domain"
	"github.com/robertarktes/event-booking/internal/observability"
)

type SignupInput struct {
	Email     string      `json:"email"`
	Password  string      `json:"password"`
	FullName  string      `json:"full_name"`
	Role      domain.Role `json:"role"`
	Interests []string    `json:"interests"`
}

type Session struct {
	Token     string       `json:"access_token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *domain.User `json:"user"`
}

type Service struct {
	store      domain.Store
	tokens     *Tokens
	bcryptCost int
	log        observability.Logger
}

func NewService(store domain.Store, tokens *Tokens, bcryptCost int, log observability.Logger) *Service {
	return &Service{store: store, tokens: tokens, bcryptCost: bcryptCost, log: log}
}

func (s *Service) Tokens() *Tokens {
	return s.tokens
}

func normalizeInterests(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		key := strings.ToLower(v)
		if v == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}

func (s *Service) Signup(ctx context.Context, in SignupInput) (*domain.User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, errors.Wrapf(domain.ErrInvalidInput, "invalid email %q", in.Email)
	}
	if len(in.Password) < MinPasswordLen {
		return nil, errors.Wrapf(domain.ErrInvalidInput, "password must be at least %d characters", MinPasswordLen)
	}
	role := domain.Role(strings.ToUpper(strings.TrimSpace(string(in.Role))))
	switch role {
	case "":
		role = domain.RoleAttendee
	case domain.RoleAttendee, domain.RoleOrganizer:
	default:
		return nil, errors.Wrapf(domain.ErrInvalidInput, "unknown role %q", in.Role)
	}

	hash, err := HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return nil, err
	}
	u := &domain.User{
		ID:           uuid.New(),
		Email:        email,
		FullName:     strings.TrimSpace(in.FullName),
		PasswordHash: hash,
		Role:         role,
		Interests:    normalizeInterests(in.Interests),
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	s.log.WithField("user_id", u.ID).WithField("role", u.Role).Info("user registered")
	return u, nil
}

// Login never reveals whether the email exists.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	u, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, errors.Wrap(domain.ErrUnauthorized, "invalid credentials")
	}
	if err != nil {
		return nil, err
	}
	if !VerifyPassword(u.PasswordHash, password) {
		return nil, errors.Wrap(domain.ErrUnauthorized, "invalid credentials")
	}
	if !u.IsActive {
		return nil, errors.Wrap(domain.ErrUnauthorized, "account is disabled")
	}
	token, exp, err := s.tokens.Issue(u)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: exp, User: u}, nil
}

func (s *Service) Profile(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	return s.store.GetUser(ctx, userID)
}

func (s *Service) UpdateInterests(ctx context.Context, userID uuid.UUID, interests []string) (*domain.User, error) {
	if err := s.store.UpdateUserInterests(ctx, userID, normalizeInterests(interests)); err != nil {
		return nil, err
	}
	return s.store.GetUser(ctx, userID)
}
