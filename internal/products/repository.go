package products

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/joao-fontenele/bitelynk/internal/domain"
)

var ErrDuplicateName = errors.New("product name already exists")

const productColumns = `id, name, description, category, price, rating, hearts, image_url, image_public_id, created_at, updated_at`

type ProductRepository struct {
	db *sql.DB
}

func NewProductRepository(db *sql.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(s scanner, p *domain.Product) error {
	return s.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.Price, &p.Rating, &p.Hearts,
		&p.ImageURL, &p.ImagePublicID, &p.CreatedAt, &p.UpdatedAt)
}

func (r *ProductRepository) List(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	products := []domain.Product{}
	for rows.Next() {
		var p domain.Product
		if err := scanProduct(rows, &p); err != nil {
			return nil, err
		}
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (r *ProductRepository) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	if uuid.Validate(id) != nil {
		return nil, nil
	}

	p := &domain.Product{}
	err := scanProduct(r.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1
	`, id), p)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return p, nil
}

func (r *ProductRepository) Create(ctx context.Context, p *domain.Product) error {
	p.ID = uuid.New().String()

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO products (id, name, description, category, price, rating, hearts, image_url, image_public_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, p.ID, p.Name, p.Description, p.Category, p.Price, p.Rating, p.Hearts, p.ImageURL, p.ImagePublicID,
	).Scan(&p.CreatedAt, &p.UpdatedAt)

	return mapWriteError(err)
}

// Update writes every mutable column of p. Returns false when the product
// no longer exists.
func (r *ProductRepository) Update(ctx context.Context, p *domain.Product) (bool, error) {
	err := r.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $2, description = $3, category = $4, price = $5, rating = $6, hearts = $7,
			image_url = $8, image_public_id = $9, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, p.ID, p.Name, p.Description, p.Category, p.Price, p.Rating, p.Hearts, p.ImageURL, p.ImagePublicID,
	).Scan(&p.UpdatedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err := mapWriteError(err); err != nil {
		return false, err
	}
	return true, nil
}

func (r *ProductRepository) Delete(ctx context.Context, id string) (bool, error) {
	if uuid.Validate(id) != nil {
		return false, nil
	}

	result, err := r.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected > 0, nil
}

// IncrementHearts bumps the popularity counter in place so concurrent
// hearts never overwrite each other.
func (r *ProductRepository) IncrementHearts(ctx context.Context, id string) (int, error) {
	if uuid.Validate(id) != nil {
		return 0, sql.ErrNoRows
	}

	var hearts int
	err := r.db.QueryRowContext(ctx, `
		UPDATE products
		SET hearts = hearts + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING hearts
	`, id).Scan(&hearts)
	return hearts, err
}

func mapWriteError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicateName
	}
	return err
}
