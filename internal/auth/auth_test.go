package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mkarlin/llm-playground/internal/auth"
	"github.com/mkarlin/llm-playground/internal/models"
	"github.com/mkarlin/llm-playground/internal/store"
)

type memoryUsers struct {
	byName map[string]models.User
	byID   map[string]models.User
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{byName: make(map[string]models.User), byID: make(map[string]models.User)}
}

func (m *memoryUsers) Create(_ context.Context, user models.User) (models.User, error) {
	if _, exists := m.byName[user.Username]; exists {
		return models.User{}, store.ErrUsernameTaken
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	m.byName[user.Username] = user
	m.byID[user.ID] = user
	return user, nil
}

func (m *memoryUsers) GetByUsername(_ context.Context, username string) (*models.User, error) {
	user, ok := m.byName[username]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return &user, nil
}

func (m *memoryUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	user, ok := m.byID[id]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return &user, nil
}

func TestRegisterAndLogin(t *testing.T) {
	svc, err := auth.NewService(newMemoryUsers(), "test-secret", time.Hour)
	if err != nil {
		t.Fatalf("unexpected error creating auth service: %v", err)
	}

	user, err := svc.Register(context.Background(), "alice", "s3cret!")
	if err != nil {
		t.Fatalf("register returned error: %v", err)
	}

	if user.ID == "" {
		t.Fatalf("expected user id to be populated")
	}
	if user.PasswordHash != "" {
		t.Fatalf("expected password hash to be stripped from result")
	}

	result, err := svc.Login(context.Background(), "alice", "s3cret!")
	if err != nil {
		t.Fatalf("login returned error: %v", err)
	}
	if result.Token == "" {
		t.Fatalf("expected token on login")
	}

	userID, err := svc.VerifyToken(result.Token)
	if err != nil {
		t.Fatalf("verify token failed: %v", err)
	}
	if userID != user.ID {
		t.Fatalf("expected token subject %s, got %s", user.ID, userID)
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	svc, err := auth.NewService(newMemoryUsers(), "test-secret", time.Hour)
	if err != nil {
		t.Fatalf("unexpected error creating auth service: %v", err)
	}

	if _, err := svc.Register(context.Background(), "alice", "first"); err != nil {
		t.Fatalf("first register returned error: %v", err)
	}

	if _, err := svc.Register(context.Background(), "alice", "second"); !errors.Is(err, auth.ErrUserExists) {
		t.Fatalf("expected duplicate username error, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, err := auth.NewService(newMemoryUsers(), "test-secret", time.Hour)
	if err != nil {
		t.Fatalf("unexpected error creating auth service: %v", err)
	}

	if _, err := svc.Register(context.Background(), "   ", "password"); !errors.Is(err, auth.ErrUsernameRequired) {
		t.Fatalf("expected username required error, got %v", err)
	}
	if _, err := svc.Register(context.Background(), "bob", ""); !errors.Is(err, auth.ErrPasswordRequired) {
		t.Fatalf("expected password required error, got %v", err)
	}
}

// Wrong password and unknown username must be indistinguishable to the
// caller.
func TestLoginFailuresDoNotLeakWhichFieldWasWrong(t *testing.T) {
	svc, err := auth.NewService(newMemoryUsers(), "test-secret", time.Hour)
	if err != nil {
		t.Fatalf("unexpected error creating auth service: %v", err)
	}

	if _, err := svc.Register(context.Background(), "alice", "s3cret!"); err != nil {
		t.Fatalf("register returned error: %v", err)
	}

	_, wrongPassword := svc.Login(context.Background(), "alice", "nope")
	_, unknownUser := svc.Login(context.Background(), "mallory", "nope")

	if !errors.Is(wrongPassword, auth.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for wrong password, got %v", wrongPassword)
	}
	if !errors.Is(unknownUser, auth.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown user, got %v", unknownUser)
	}
	if wrongPassword.Error() != unknownUser.Error() {
		t.Fatalf("login errors differ: %q vs %q", wrongPassword, unknownUser)
	}
}

func TestVerifyTokenRejectsGarbage(t *testing.T) {
	svc, err := auth.NewService(newMemoryUsers(), "test-secret", time.Hour)
	if err != nil {
		t.Fatalf("unexpected error creating auth service: %v", err)
	}

	if _, err := svc.VerifyToken("not-a-token"); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected invalid token error, got %v", err)
	}
}

func TestEnsureAdminIsIdempotent(t *testing.T) {
	svc, err := auth.NewService(newMemoryUsers(), "test-secret", time.Hour)
	if err != nil {
		t.Fatalf("unexpected error creating auth service: %v", err)
	}

	if err := svc.EnsureAdmin(context.Background(), "admin", "pw"); err != nil {
		t.Fatalf("first ensure admin returned error: %v", err)
	}
	if err := svc.EnsureAdmin(context.Background(), "admin", "pw"); err != nil {
		t.Fatalf("second ensure admin returned error: %v", err)
	}

	if _, err := svc.Login(context.Background(), "admin", "pw"); err != nil {
		t.Fatalf("admin login returned error: %v", err)
	}
}
