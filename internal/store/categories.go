package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/go-shop-api/internal/database"
	"github.com/safar/go-shop-api/internal/models"
)

func CreateCategory(ctx context.Context, db *sql.DB, name string, parentID *int64) (*models.Category, error) {
	if parentID != nil {
		if _, err := GetCategory(ctx, db, *parentID); err != nil {
			return nil, err
		}
	}

	category := &models.Category{}
	query := `
		INSERT INTO categories (name, parent_id, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		RETURNING id, name, parent_id, created_at, updated_at`

	err := db.QueryRowContext(ctx, query, name, parentID).Scan(
		&category.ID,
		&category.Name,
		&category.ParentID,
		&category.CreatedAt,
		&category.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create category: %w", err)
	}

	return category, nil
}

func GetCategory(ctx context.Context, db *sql.DB, id int64) (*models.Category, error) {
	category := &models.Category{}

	query := `
		SELECT id, name, parent_id, created_at, updated_at
		FROM categories
		WHERE id = $1`

	err := db.QueryRowContext(ctx, query, id).Scan(
		&category.ID,
		&category.Name,
		&category.ParentID,
		&category.CreatedAt,
		&category.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrCategoryNotFound
		}
		return nil, fmt.Errorf("get category: %w", err)
	}

	return category, nil
}

func UpdateCategory(ctx context.Context, db *sql.DB, id int64, name string) (*models.Category, error) {
	category := &models.Category{}

	query := `
		UPDATE categories
		SET name = $1, updated_at = NOW()
		WHERE id = $2
		RETURNING id, name, parent_id, created_at, updated_at`

	err := db.QueryRowContext(ctx, query, name, id).Scan(
		&category.ID,
		&category.Name,
		&category.ParentID,
		&category.CreatedAt,
		&category.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrCategoryNotFound
		}
		return nil, fmt.Errorf("update category: %w", err)
	}

	return category, nil
}

func DeleteCategory(ctx context.Context, db *sql.DB, id int64) error {
	result, err := db.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrCategoryNotFound
	}
	return nil
}

func ListCategories(ctx context.Context, db *sql.DB) ([]models.Category, error) {
	return queryCategories(ctx, db, `
		SELECT id, name, parent_id, created_at, updated_at
		FROM categories
		ORDER BY name`)
}

func ListCategoryChildren(ctx context.Context, db *sql.DB, parentID int64) ([]models.Category, error) {
	if _, err := GetCategory(ctx, db, parentID); err != nil {
		return nil, err
	}
	return queryCategories(ctx, db, `
		SELECT id, name, parent_id, created_at, updated_at
		FROM categories
		WHERE parent_id = $1
		ORDER BY name`, parentID)
}

func queryCategories(ctx context.Context, db *sql.DB, query string, args ...interface{}) ([]models.Category, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var categories []models.Category
	for rows.Next() {
		var category models.Category
		err := rows.Scan(
			&category.ID,
			&category.Name,
			&category.ParentID,
			&category.CreatedAt,
			&category.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, category)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return categories, nil
}
