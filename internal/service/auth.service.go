package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"mini-oms/internal/domain"
	"mini-oms/internal/repo"
	"mini-oms/internal/security"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = repo.ErrEmailTaken
)

type Session struct {
	User      *domain.User  `json:"user"`
	Token     string        `json:"token"`
	ExpiresIn time.Duration `json:"-"`
}

type AuthService interface {
	Register(ctx context.Context, name, email, password string) (*Session, error)
	Login(ctx context.Context, email, password string) (*Session, error)
	// Authenticate resolves a bearer token to its actor.
	Authenticate(ctx context.Context, token string) (domain.Actor, error)
}

type authService struct {
	users  repo.UserRepo
	tokens *security.Tokens
	cost   int
}

func NewAuthService(users repo.UserRepo, tokens *security.Tokens) AuthService {
	return &authService{users: users, tokens: tokens, cost: bcrypt.DefaultCost}
}

// Register creates a customer account. Administrators are only seeded.
func (s *authService) Register(ctx context.Context, name, email, password string) (*Session, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" {
		return nil, domain.ErrInvalidRequest.Withf("name is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, domain.ErrInvalidRequest.Withf("invalid email address")
	}
	if len(password) < 6 {
		return nil, domain.ErrInvalidRequest.Withf("password must be at least 6 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	u := &domain.User{
		ID:           uuid.New(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         domain.RoleCustomer,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return s.session(u)
}

func (s *authService) Login(ctx context.Context, email, password string) (*Session, error) {
	u, err := s.users.FindByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.session(u)
}

func (s *authService) Authenticate(ctx context.Context, token string) (domain.Actor, error) {
	return s.tokens.Parse(token)
}

func (s *authService) session(u *domain.User) (*Session, error) {
	token, err := s.tokens.Issue(u.Actor())
	if err != nil {
		return nil, err
	}
	return &Session{User: u, Token: token, ExpiresIn: s.tokens.TTL()}, nil
}
