package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/go-shop-api/internal/database"
	"github.com/safar/go-shop-api/internal/models"
)

func CreateUser(ctx context.Context, db *sql.DB, email, name, passwordHash, role string) (*models.User, error) {
	user := &models.User{}

	query := `
		INSERT INTO users (email, name, password_hash, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING id, email, name, password_hash, role, created_at, updated_at`

	err := db.QueryRowContext(ctx, query, email, name, passwordHash, role).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.PasswordHash,
		&user.Role,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, database.ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	return user, nil
}

func GetUser(ctx context.Context, db *sql.DB, id int64) (*models.User, error) {
	return getUserWhere(ctx, db, "id = $1", id)
}

func GetUserByEmail(ctx context.Context, db *sql.DB, email string) (*models.User, error) {
	return getUserWhere(ctx, db, "email = $1", email)
}

func getUserWhere(ctx context.Context, db *sql.DB, where string, arg interface{}) (*models.User, error) {
	user := &models.User{}

	query := `
		SELECT id, email, name, password_hash, role, created_at, updated_at
		FROM users
		WHERE ` + where

	err := db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.PasswordHash,
		&user.Role,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return user, nil
}
