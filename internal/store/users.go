package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sleep4at/Smart-Home-System/pkg/models"
)

// UserStore reads the externally provisioned principal table.
type UserStore interface {
	GetByID(ctx context.Context, id int64) (models.User, error)
}

type SQLUserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *SQLUserStore {
	return &SQLUserStore{db: db}
}

func (s *SQLUserStore) GetByID(ctx context.Context, id int64) (models.User, error) {
	if s == nil || s.db == nil {
		return models.User{}, errors.New("user store unavailable")
	}

	var user models.User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, is_admin, created_at
		FROM users
		WHERE id = $1
	`, id).Scan(&user.ID, &user.Username, &user.Email, &user.IsAdmin, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}
