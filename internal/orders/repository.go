package orders

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/joao-fontenele/bitelynk/internal/domain"
)

const orderColumns = `id, user_id, email, first_name, last_name, phone,
	address, city, state, zip, country,
	payment_method, COALESCE(payment_intent_id, ''), COALESCE(transaction_ref, ''),
	payment_status, order_status, subtotal, vat, delivery_fee, total,
	expected_delivery_date, delivered_at, cancelled_at, delivery_notes,
	version, created_at, updated_at`

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner, o *domain.Order) error {
	return s.Scan(&o.ID, &o.UserID, &o.Email, &o.FirstName, &o.LastName, &o.Phone,
		&o.Address, &o.City, &o.State, &o.Zip, &o.Country,
		&o.PaymentMethod, &o.PaymentIntentID, &o.TransactionRef,
		&o.PaymentStatus, &o.OrderStatus, &o.Subtotal, &o.VAT, &o.DeliveryFee, &o.Total,
		&o.ExpectedDeliveryDate, &o.DeliveredAt, &o.CancelledAt, &o.DeliveryNotes,
		&o.Version, &o.CreatedAt, &o.UpdatedAt)
}

// Create inserts the order and its line items in one transaction.
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	order.ID = uuid.New().String()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO orders (id, user_id, email, first_name, last_name, phone,
			address, city, state, zip, country,
			payment_method, transaction_ref, payment_status, order_status,
			subtotal, vat, delivery_fee, total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING version, created_at, updated_at
	`, order.ID, order.UserID, order.Email, order.FirstName, order.LastName, order.Phone,
		order.Address, order.City, order.State, order.Zip, order.Country,
		order.PaymentMethod, nullIfEmpty(order.TransactionRef), order.PaymentStatus, order.OrderStatus,
		order.Subtotal, order.VAT, order.DeliveryFee, order.Total,
	).Scan(&order.Version, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.ID = uuid.New().String()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, position, name, price, image_url, image_public_id, quantity)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, item.ID, order.ID, i, item.Name, item.Price, item.ImageURL, item.ImagePublicID, item.Quantity)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	return tx.Commit()
}

// Delete removes an order whose payment could not be started.
func (r *OrderRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	return err
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	if uuid.Validate(id) != nil {
		return nil, nil
	}
	return r.getOne(ctx, `id = $1`, id)
}

func (r *OrderRepository) GetByReference(ctx context.Context, reference string) (*domain.Order, error) {
	return r.getOne(ctx, `transaction_ref = $1`, reference)
}

func (r *OrderRepository) getOne(ctx context.Context, where string, arg any) (*domain.Order, error) {
	order := &domain.Order{}
	err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where, arg), order)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	orders := []domain.Order{*order}
	if err := r.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	return r.query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
}

type Filter struct {
	Page          int
	Limit         int
	OrderStatus   domain.OrderStatus
	PaymentStatus domain.PaymentStatus
	Search        string
}

func (f Filter) where() (string, []any) {
	var conds []string
	var args []any

	if f.OrderStatus != "" {
		args = append(args, f.OrderStatus)
		conds = append(conds, fmt.Sprintf("order_status = $%d", len(args)))
	}
	if f.PaymentStatus != "" {
		args = append(args, f.PaymentStatus)
		conds = append(conds, fmt.Sprintf("payment_status = $%d", len(args)))
	}
	if f.Search != "" {
		args = append(args, "%"+escapeLike(f.Search)+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(first_name ILIKE $%d OR last_name ILIKE $%d OR email ILIKE $%d)", n, n, n))
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List returns one page of orders matching f, newest first, together with
// the total number of matches. A non-positive Limit returns every match.
func (r *OrderRepository) List(ctx context.Context, f Filter) ([]domain.Order, int, error) {
	where, args := f.where()

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + orderColumns + ` FROM orders` + where + ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit, (max(f.Page, 1)-1)*f.Limit)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	orders, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (r *OrderRepository) query(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orders := []domain.Order{}
	for rows.Next() {
		var order domain.Order
		if err := scanOrder(rows, &order); err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// attachItems loads the line items of every order in a single query.
func (r *OrderRepository) attachItems(ctx context.Context, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}

	index := make(map[string]int, len(orders))
	ids := make([]string, len(orders))
	for i := range orders {
		orders[i].Items = []domain.OrderItem{}
		index[orders[i].ID] = i
		ids[i] = orders[i].ID
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id, id, name, price, image_url, image_public_id, quantity
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`, pq.Array(ids))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var orderID string
		var item domain.OrderItem
		if err := rows.Scan(&orderID, &item.ID, &item.Name, &item.Price, &item.ImageURL, &item.ImagePublicID, &item.Quantity); err != nil {
			return err
		}
		o := &orders[index[orderID]]
		o.Items = append(o.Items, item)
	}

	return rows.Err()
}

// MarkPaid confirms the order behind reference. It reports whether this call
// performed the transition; an order already paid is returned unchanged.
func (r *OrderRepository) MarkPaid(ctx context.Context, reference, paymentIntentID string) (*domain.Order, bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = 'paid', order_status = 'confirmed', payment_intent_id = $2,
			version = version + 1, updated_at = NOW()
		WHERE transaction_ref = $1 AND payment_status <> 'paid'
	`, reference, paymentIntentID)
	if err != nil {
		return nil, false, err
	}
	return r.afterTransition(ctx, reference, result)
}

// MarkPaymentFailed cancels an order whose payment is still pending.
func (r *OrderRepository) MarkPaymentFailed(ctx context.Context, reference string, at time.Time) (*domain.Order, bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = 'failed', order_status = 'cancelled', cancelled_at = $2,
			version = version + 1, updated_at = NOW()
		WHERE transaction_ref = $1 AND payment_status = 'pending'
	`, reference, at)
	if err != nil {
		return nil, false, err
	}
	return r.afterTransition(ctx, reference, result)
}

func (r *OrderRepository) afterTransition(ctx context.Context, reference string, result sql.Result) (*domain.Order, bool, error) {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	order, err := r.GetByReference(ctx, reference)
	if err != nil {
		return nil, false, err
	}
	return order, rowsAffected > 0 && order != nil, nil
}

// UpdateStatus sets the order status, stamping delivered_at or cancelled_at
// when the order reaches those states.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus, at time.Time) (*domain.Order, error) {
	return r.Update(ctx, id, Patch{OrderStatus: &status}, at)
}

// Patch is a partial admin update. Nil fields are left untouched.
type Patch struct {
	OrderStatus          *domain.OrderStatus   `json:"orderStatus"`
	PaymentStatus        *domain.PaymentStatus `json:"paymentStatus"`
	DeliveryNotes        *string               `json:"deliveryNotes"`
	ExpectedDeliveryDate *time.Time            `json:"expectedDeliveryDate"`
}

func (p Patch) Empty() bool {
	return p.OrderStatus == nil && p.PaymentStatus == nil && p.DeliveryNotes == nil && p.ExpectedDeliveryDate == nil
}

func (r *OrderRepository) Update(ctx context.Context, id string, p Patch, at time.Time) (*domain.Order, error) {
	if uuid.Validate(id) != nil {
		return nil, nil
	}

	var orderStatus, paymentStatus *string
	if p.OrderStatus != nil {
		s := string(*p.OrderStatus)
		orderStatus = &s
	}
	if p.PaymentStatus != nil {
		s := string(*p.PaymentStatus)
		paymentStatus = &s
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET order_status = COALESCE($2, order_status),
			payment_status = COALESCE($3, payment_status),
			delivery_notes = COALESCE($4, delivery_notes),
			expected_delivery_date = COALESCE($5, expected_delivery_date),
			delivered_at = CASE WHEN $2 = 'delivered' THEN $6 ELSE delivered_at END,
			cancelled_at = CASE WHEN $2 = 'cancelled' THEN $6 ELSE cancelled_at END,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1
	`, id, orderStatus, paymentStatus, p.DeliveryNotes, p.ExpectedDeliveryDate, at)
	if err != nil {
		return nil, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rowsAffected == 0 {
		return nil, nil
	}

	return r.GetByID(ctx, id)
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
