package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkarlin/llm-playground/internal/models"
)

var (
	ErrUsernameTaken = errors.New("store: username already exists")
	ErrUserNotFound  = errors.New("store: user not found")
)

// Users persists user records.
type Users struct {
	pool *pgxpool.Pool
}

func NewUsers(pool *pgxpool.Pool) *Users {
	return &Users{pool: pool}
}

// Create inserts a new user. The username uniqueness constraint maps to
// ErrUsernameTaken.
func (s *Users) Create(ctx context.Context, user models.User) (models.User, error) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	const query = `INSERT INTO users (id, username, password_hash, created_at) VALUES ($1, $2, $3, $4)`
	if _, err := s.pool.Exec(ctx, query, user.ID, user.Username, user.PasswordHash, user.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return models.User{}, ErrUsernameTaken
		}
		return models.User{}, fmt.Errorf("store: insert user: %w", err)
	}

	return user, nil
}

func (s *Users) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	const query = `SELECT id, username, password_hash, created_at FROM users WHERE username = $1`

	var user models.User
	err := s.pool.QueryRow(ctx, query, username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: query user by username: %w", err)
	}

	return &user, nil
}

func (s *Users) GetByID(ctx context.Context, id string) (*models.User, error) {
	const query = `SELECT id, username, password_hash, created_at FROM users WHERE id = $1`

	var user models.User
	err := s.pool.QueryRow(ctx, query, id).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: query user by id: %w", err)
	}

	return &user, nil
}
