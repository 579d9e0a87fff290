package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/go-shop-api/internal/database"
	"github.com/safar/go-shop-api/internal/models"
	"github.com/shopspring/decimal"
)

type CreateProductRequest struct {
	SKU         string
	Name        string
	Description string
	CategoryID  *int64
	Price       decimal.Decimal
	Stock       int
}

func CreateProduct(ctx context.Context, db *sql.DB, req CreateProductRequest) (*models.Product, error) {
	product := &models.Product{}

	query := `
		INSERT INTO products (sku, name, description, category_id, price, stock_quantity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING id, sku, name, description, category_id, price, stock_quantity, created_at, updated_at`

	err := db.QueryRowContext(ctx, query,
		req.SKU, req.Name, req.Description, req.CategoryID, req.Price, req.Stock).Scan(
		&product.ID,
		&product.SKU,
		&product.Name,
		&product.Description,
		&product.CategoryID,
		&product.Price,
		&product.StockQuantity,
		&product.CreatedAt,
		&product.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, database.ErrSKUTaken
		}
		return nil, fmt.Errorf("create product: %w", err)
	}

	return product, nil
}

func GetProduct(ctx context.Context, db *sql.DB, id int64) (*models.Product, error) {
	return scanProduct(db.QueryRowContext(ctx, `
		SELECT id, sku, name, description, category_id, price, stock_quantity, created_at, updated_at
		FROM products
		WHERE id = $1`, id))
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanProduct(row scanner) (*models.Product, error) {
	product := &models.Product{}
	err := row.Scan(
		&product.ID,
		&product.SKU,
		&product.Name,
		&product.Description,
		&product.CategoryID,
		&product.Price,
		&product.StockQuantity,
		&product.CreatedAt,
		&product.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return product, nil
}

type UpdateProductRequest struct {
	Name        string
	Description string
	CategoryID  *int64
	Price       decimal.Decimal
	Stock       int
}

func UpdateProduct(ctx context.Context, db *sql.DB, id int64, req UpdateProductRequest) (*models.Product, error) {
	product := &models.Product{}

	query := `
		UPDATE products
		SET name = $1, description = $2, category_id = $3, price = $4, stock_quantity = $5, updated_at = NOW()
		WHERE id = $6
		RETURNING id, sku, name, description, category_id, price, stock_quantity, created_at, updated_at`

	err := db.QueryRowContext(ctx, query,
		req.Name, req.Description, req.CategoryID, req.Price, req.Stock, id).Scan(
		&product.ID,
		&product.SKU,
		&product.Name,
		&product.Description,
		&product.CategoryID,
		&product.Price,
		&product.StockQuantity,
		&product.CreatedAt,
		&product.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("update product: %w", err)
	}

	return product, nil
}

func DeleteProduct(ctx context.Context, db *sql.DB, id int64) error {
	var referenced bool
	err := db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM order_items WHERE product_id = $1)", id).Scan(&referenced)
	if err != nil {
		return fmt.Errorf("check product references: %w", err)
	}
	if referenced {
		return database.ErrProductReferenced
	}

	result, err := db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrProductNotFound
	}
	return nil
}

// GetProductForUpdate re-reads the product row inside tx with a row lock.
// Settlement must decide on this read, never on a value fetched before the
// transaction began.
func GetProductForUpdate(ctx context.Context, tx *sql.Tx, productID int64) (*models.Product, error) {
	return scanProduct(tx.QueryRowContext(ctx, `
		SELECT id, sku, name, description, category_id, price, stock_quantity, created_at, updated_at
		FROM products
		WHERE id = $1
		FOR UPDATE`, productID))
}

// DecrementStock applies the atomic conditional decrement. The guard in the
// WHERE clause makes concurrent settlements against the same product serialize
// on the row instead of racing an application-held value.
func DecrementStock(ctx context.Context, tx *sql.Tx, product *models.Product, quantity int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE products
		 SET stock_quantity = stock_quantity - $1,
		     updated_at = NOW()
		 WHERE id = $2
		   AND stock_quantity >= $1`,
		quantity, product.ID)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return &database.InsufficientStockError{
			ProductID:   product.ID,
			ProductName: product.Name,
			Available:   product.StockQuantity,
			Required:    quantity,
		}
	}

	return nil
}

// RecordStockMovement inserts the per-order-per-product movement row. A unique
// violation here means another settlement of the same order already committed
// a decrement, and the whole attempt must abort.
func RecordStockMovement(ctx context.Context, tx *sql.Tx, orderID, productID int64, quantity int) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO stock_movements (order_id, product_id, quantity, created_at)
		 VALUES ($1, $2, $3, NOW())`,
		orderID, productID, quantity)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return database.ErrDuplicateSettlement
		}
		return fmt.Errorf("record stock movement: %w", err)
	}
	return nil
}

func ListProducts(ctx context.Context, db *sql.DB, page, pageSize int) (*OffsetPage, error) {
	var total int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT id, sku, name, description, category_id, price, stock_quantity, created_at, updated_at
		FROM products
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := db.QueryContext(ctx, query, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, *product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return NewOffsetPage(products, total, page, pageSize), nil
}
