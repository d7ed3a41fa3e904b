package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/mkarlin/llm-playground/internal/models"
	"github.com/mkarlin/llm-playground/internal/store"
)

var (
	ErrSecretRequired     = errors.New("auth: jwt secret required")
	ErrUserExists         = errors.New("auth: username already exists")
	ErrUsernameRequired   = errors.New("auth: username is required")
	ErrPasswordRequired   = errors.New("auth: password is required")
	ErrInvalidCredentials = errors.New("auth: invalid username or password")
	ErrInvalidToken       = errors.New("auth: invalid token")
)

// UserStore is the persistence surface the auth service needs.
type UserStore interface {
	Create(ctx context.Context, user models.User) (models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
}

type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      models.User
}

// Service registers users, checks credentials, and issues/verifies bearer
// tokens.
type Service struct {
	users  UserStore
	secret []byte
	ttl    time.Duration
}

func NewService(users UserStore, secret string, ttl time.Duration) (*Service, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrSecretRequired
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &Service{users: users, secret: []byte(secret), ttl: ttl}, nil
}

func (s *Service) Register(ctx context.Context, username, password string) (models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return models.User{}, ErrUsernameRequired
	}
	if strings.TrimSpace(password) == "" {
		return models.User{}, ErrPasswordRequired
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, err
	}

	user, err := s.users.Create(ctx, models.User{
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	})
	if errors.Is(err, store.ErrUsernameTaken) {
		return models.User{}, ErrUserExists
	}
	if err != nil {
		return models.User{}, err
	}

	return user.Sanitize(), nil
}

// Login verifies credentials and issues a token. Unknown usernames and wrong
// passwords produce the same error so the response leaks nothing about which
// field was wrong.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.GetByUsername(ctx, username)
	if errors.Is(err, store.ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, expiresAt, err := s.IssueToken(user.ID)
	if err != nil {
		return nil, err
	}

	return &LoginResult{Token: token, ExpiresAt: expiresAt, User: user.Sanitize()}, nil
}

// IssueToken signs an HS256 token whose subject is the user id.
func (s *Service) IssueToken(userID string) (string, time.Time, error) {
	expiresAt := time.Now().UTC().Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}

	return signed, expiresAt, nil
}

// VerifyToken parses a bearer token and returns the user id it was issued
// for.
func (s *Service) VerifyToken(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil {
		return "", ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}

	return claims.Subject, nil
}

// EnsureAdmin registers the configured admin user when absent. Re-running is
// a no-op.
func (s *Service) EnsureAdmin(ctx context.Context, username, password string) error {
	if strings.TrimSpace(username) == "" || password == "" {
		return nil
	}

	_, err := s.Register(ctx, username, password)
	if errors.Is(err, ErrUserExists) {
		return nil
	}
	return err
}
