package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"salesbot/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetProductByID retrieves a product by ID scoped to a tenant
func (s *Store) GetProductByID(ctx context.Context, tenantID string, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product,
		"SELECT * FROM products WHERE tenant_id = $1 AND id = $2", tenantID, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProductsByTenant retrieves the full catalog for a tenant
func (s *Store) GetProductsByTenant(ctx context.Context, tenantID string) ([]models.Product, error) {
	var products []models.Product
	err := s.db.SelectContext(ctx, &products,
		"SELECT * FROM products WHERE tenant_id = $1 ORDER BY id", tenantID)
	return products, err
}

// SearchProducts finds catalog items whose name or keywords match the query
func (s *Store) SearchProducts(ctx context.Context, tenantID, query string) ([]models.Product, error) {
	var products []models.Product
	err := s.db.SelectContext(ctx, &products, `
		SELECT * FROM products
		WHERE tenant_id = $1 AND (name ILIKE '%' || $2 || '%' OR keywords ILIKE '%' || $2 || '%')
		ORDER BY id LIMIT 10`, tenantID, query)
	return products, err
}

// DecrementStock decrements product stock clamped at zero. Returns the rows affected
// so callers can tell whether the product existed.
func (s *Store) DecrementStock(ctx context.Context, tenantID string, productID int64, quantity int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products SET stock = GREATEST(stock - $1, 0), updated_at = NOW()
		WHERE tenant_id = $2 AND id = $3`,
		quantity, tenantID, productID)
	if err != nil {
		return 0, fmt.Errorf("failed to decrement stock: %w", err)
	}
	return res.RowsAffected()
}
