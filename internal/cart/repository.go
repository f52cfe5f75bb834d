package cart

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/joao-fontenele/bitelynk/internal/domain"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrItemNotFound    = errors.New("cart item not found")
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
)

type Outcome int

const (
	OutcomeCreated Outcome = iota + 1
	OutcomeUpdated
	OutcomeRemoved
)

type CartRepository struct {
	db *sql.DB
}

func NewCartRepository(db *sql.DB) *CartRepository {
	return &CartRepository{db: db}
}

const itemSelect = `
	SELECT ci.id, ci.user_id, ci.product_id, ci.quantity, ci.created_at, ci.updated_at,
		p.id, p.name, p.description, p.category, p.price, p.rating, p.hearts,
		p.image_url, p.image_public_id, p.created_at, p.updated_at
	FROM cart_items ci
	JOIN products p ON p.id = ci.product_id
`

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(s scanner, item *domain.CartItem) error {
	p := &item.Product
	return s.Scan(&item.ID, &item.UserID, &item.ProductID, &item.Quantity, &item.CreatedAt, &item.UpdatedAt,
		&p.ID, &p.Name, &p.Description, &p.Category, &p.Price, &p.Rating, &p.Hearts,
		&p.ImageURL, &p.ImagePublicID, &p.CreatedAt, &p.UpdatedAt)
}

func (r *CartRepository) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	rows, err := r.db.QueryContext(ctx, itemSelect+`
		WHERE ci.user_id = $1
		ORDER BY ci.created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cart := &domain.Cart{UserID: userID, Items: []domain.CartItem{}}
	for rows.Next() {
		var item domain.CartItem
		if err := scanItem(rows, &item); err != nil {
			return nil, err
		}
		cart.Items = append(cart.Items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return cart, nil
}

// ProductsByID returns the current rows for ids, keyed by product id. Ids
// with no product are absent from the map.
func (r *CartRepository) ProductsByID(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, description, category, price, rating, hearts,
			image_url, image_public_id, created_at, updated_at
		FROM products
		WHERE id = ANY($1::uuid[])
	`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	products := make(map[string]domain.Product, len(ids))
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.Price, &p.Rating, &p.Hearts,
			&p.ImageURL, &p.ImagePublicID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		products[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (r *CartRepository) getItem(ctx context.Context, q queryer, userID, itemID string) (*domain.CartItem, error) {
	var item domain.CartItem
	err := scanItem(q.QueryRowContext(ctx, itemSelect+`
		WHERE ci.id = $1 AND ci.user_id = $2
	`, itemID, userID), &item)
	if err == sql.ErrNoRows {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// AddItem applies delta to the user's line for productID. A line that would
// drop below one is removed; a new line needs a positive delta.
func (r *CartRepository) AddItem(ctx context.Context, userID, productID string, delta int) (*domain.CartItem, Outcome, error) {
	if uuid.Validate(productID) != nil {
		return nil, 0, ErrProductNotFound
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists); err != nil {
		return nil, 0, err
	}
	if !exists {
		return nil, 0, ErrProductNotFound
	}

	var itemID string
	var quantity int
	err = tx.QueryRowContext(ctx, `
		SELECT id, quantity FROM cart_items
		WHERE user_id = $1 AND product_id = $2
		FOR UPDATE
	`, userID, productID).Scan(&itemID, &quantity)

	var outcome Outcome
	switch {
	case err == sql.ErrNoRows:
		if delta < 1 {
			return nil, 0, ErrInvalidQuantity
		}
		// A concurrent add for the same product may have inserted the row
		// after our lookup; fold into it instead of failing.
		err = tx.QueryRowContext(ctx, `
			INSERT INTO cart_items (id, user_id, product_id, quantity)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id, product_id)
			DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity, updated_at = NOW()
			RETURNING id
		`, uuid.New().String(), userID, productID, delta).Scan(&itemID)
		outcome = OutcomeCreated
	case err != nil:
		return nil, 0, err
	case quantity+delta < 1:
		_, err = tx.ExecContext(ctx, `DELETE FROM cart_items WHERE id = $1`, itemID)
		outcome = OutcomeRemoved
	default:
		_, err = tx.ExecContext(ctx, `
			UPDATE cart_items SET quantity = quantity + $2, updated_at = NOW()
			WHERE id = $1
		`, itemID, delta)
		outcome = OutcomeUpdated
	}
	if err != nil {
		return nil, 0, fmt.Errorf("apply cart delta: %w", err)
	}

	if outcome == OutcomeRemoved {
		if err := tx.Commit(); err != nil {
			return nil, 0, err
		}
		return &domain.CartItem{ID: itemID, UserID: userID, ProductID: productID, Quantity: 0}, outcome, nil
	}

	item, err := r.getItem(ctx, tx, userID, itemID)
	if err != nil {
		return nil, 0, err
	}
	if err := tx.Commit(); err != nil {
		return nil, 0, err
	}
	return item, outcome, nil
}

// SetQuantity overwrites a line's quantity, removing it when quantity < 1.
func (r *CartRepository) SetQuantity(ctx context.Context, userID, itemID string, quantity int) (*domain.CartItem, Outcome, error) {
	if uuid.Validate(itemID) != nil {
		return nil, 0, ErrItemNotFound
	}

	if quantity < 1 {
		if err := r.RemoveItem(ctx, userID, itemID); err != nil {
			return nil, 0, err
		}
		return &domain.CartItem{ID: itemID, UserID: userID, Quantity: 0}, OutcomeRemoved, nil
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE cart_items SET quantity = $3, updated_at = NOW()
		WHERE id = $1 AND user_id = $2
	`, itemID, userID, quantity)
	if err != nil {
		return nil, 0, err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, 0, err
	}
	if rowsAffected == 0 {
		return nil, 0, ErrItemNotFound
	}

	item, err := r.getItem(ctx, r.db, userID, itemID)
	if err != nil {
		return nil, 0, err
	}
	return item, OutcomeUpdated, nil
}

func (r *CartRepository) RemoveItem(ctx context.Context, userID, itemID string) error {
	if uuid.Validate(itemID) != nil {
		return ErrItemNotFound
	}

	result, err := r.db.ExecContext(ctx, `
		DELETE FROM cart_items WHERE id = $1 AND user_id = $2
	`, itemID, userID)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *CartRepository) ClearCart(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID)
	return err
}
