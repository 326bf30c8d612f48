package order

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = errors.New("order not found")
)

// PaymentOutcome is what the repo applied for a gateway result. Applied is
// false when the order was already in a terminal payment state, so callers
// know to skip side effects.
type PaymentOutcome struct {
	Order   *Order
	Applied bool
}

type Repository interface {
	Create(ctx context.Context, o *Order, lines []Line) error
	SetIntentRef(ctx context.Context, orderID, intentRef string) error
	Delete(ctx context.Context, orderID string) error
	GetByID(ctx context.Context, id string) (*Order, error)
	GetLines(ctx context.Context, orderID string) ([]Line, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]Order, error)
	List(ctx context.Context, statusFilter string, limit, offset int) ([]Order, error)
	MarkPayment(ctx context.Context, intentRef, outcome string) (PaymentOutcome, error)
	UpdateStatus(ctx context.Context, id, status string, h StatusHistory) (*Order, string, error)
	History(ctx context.Context, orderID string) ([]StatusHistory, error)
}

type PGRepo struct{ db *pgxpool.Pool }

func NewPGRepo(db *pgxpool.Pool) *PGRepo { return &PGRepo{db: db} }

const orderCols = `
    id, order_number, user_id, status, total_amount::text, shipping_cost::text,
    COALESCE(shipping_method,''), COALESCE(payment_method,''),
    COALESCE(payment_intent_id,''), payment_status,
    COALESCE(billing_first_name,''), COALESCE(billing_last_name,''),
    COALESCE(billing_email,''), COALESCE(billing_phone,''),
    COALESCE(billing_address,''), COALESCE(billing_city,''),
    COALESCE(billing_postcode,''), COALESCE(billing_country,''),
    COALESCE(shipping_first_name,''), COALESCE(shipping_last_name,''),
    COALESCE(shipping_address,''), COALESCE(shipping_city,''),
    COALESCE(shipping_postcode,''), COALESCE(shipping_country,''),
    created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.UserID, &o.Status, &o.TotalAmount, &o.ShippingCost,
		&o.ShippingMethod, &o.PaymentMethod,
		&o.PaymentIntentID, &o.PaymentStatus,
		&o.Billing.FirstName, &o.Billing.LastName,
		&o.Billing.Email, &o.Billing.Phone,
		&o.Billing.Address, &o.Billing.City,
		&o.Billing.Postcode, &o.Billing.Country,
		&o.Shipping.FirstName, &o.Shipping.LastName,
		&o.Shipping.Address, &o.Shipping.City,
		&o.Shipping.Postcode, &o.Shipping.Country,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// Create persists the order and its lines as one atomic unit: either all
// rows are durable or none are.
func (r *PGRepo) Create(ctx context.Context, o *Order, lines []Line) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
    INSERT INTO orders (
      id, order_number, user_id, status, total_amount, shipping_cost,
      shipping_method, payment_method, payment_status,
      billing_first_name, billing_last_name, billing_email, billing_phone,
      billing_address, billing_city, billing_postcode, billing_country,
      shipping_first_name, shipping_last_name,
      shipping_address, shipping_city, shipping_postcode, shipping_country,
      created_at, updated_at
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)
  `, o.ID, o.OrderNumber, o.UserID, o.Status, o.TotalAmount, o.ShippingCost,
		o.ShippingMethod, o.PaymentMethod, o.PaymentStatus,
		o.Billing.FirstName, o.Billing.LastName, o.Billing.Email, o.Billing.Phone,
		o.Billing.Address, o.Billing.City, o.Billing.Postcode, o.Billing.Country,
		o.Shipping.FirstName, o.Shipping.LastName,
		o.Shipping.Address, o.Shipping.City, o.Shipping.Postcode, o.Shipping.Country,
		o.CreatedAt, o.UpdatedAt,
	); err != nil {
		return err
	}

	for _, l := range lines {
		if _, err := tx.Exec(ctx, `
      INSERT INTO order_items (id, order_id, product_id, variant_id, product_name, unit_price, quantity, subtotal)
      VALUES ($1,$2,$3,NULLIF($4,''),$5,$6,$7,$8)
    `, l.ID, o.ID, l.ProductID, l.VariantID, l.ProductName, l.UnitPrice, l.Quantity, l.Subtotal); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *PGRepo) SetIntentRef(ctx context.Context, orderID, intentRef string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := r.db.Exec(ctx, `
    UPDATE orders SET payment_intent_id = $2, updated_at = NOW() WHERE id = $1
  `, orderID, intentRef)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes an order and its lines. Used only to compensate when the
// gateway refuses the intent after the order row was committed.
func (r *PGRepo) Delete(ctx context.Context, orderID string) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM order_items WHERE order_id = $1`, orderID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM orders WHERE id = $1`, orderID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PGRepo) GetByID(ctx context.Context, id string) (*Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	o, err := scanOrder(r.db.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return o, nil
}

func (r *PGRepo) GetLines(ctx context.Context, orderID string) ([]Line, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.db.Query(ctx, `
    SELECT id, order_id, product_id, COALESCE(variant_id::text,''), product_name,
           unit_price::text, quantity, subtotal::text
    FROM order_items WHERE order_id = $1
  `, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.VariantID, &l.ProductName, &l.UnitPrice, &l.Quantity, &l.Subtotal); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *PGRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.Query(ctx, `
    SELECT `+orderCols+` FROM orders WHERE user_id=$1
    ORDER BY created_at DESC LIMIT $2 OFFSET $3
  `, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

func (r *PGRepo) List(ctx context.Context, statusFilter string, limit, offset int) ([]Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.Query(ctx, `
    SELECT `+orderCols+` FROM orders
    WHERE ($1 = '' OR status = $1)
    ORDER BY created_at DESC LIMIT $2 OFFSET $3
  `, statusFilter, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

func collectOrders(rows pgx.Rows) ([]Order, error) {
	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// MarkPayment applies a gateway outcome under a row lock so concurrent
// webhook and confirm calls serialize on the order. The pending->succeeded
// transition happens at most once; a failed event never overwrites a
// succeeded payment_status.
func (r *PGRepo) MarkPayment(ctx context.Context, intentRef, outcome string) (PaymentOutcome, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return PaymentOutcome{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := scanOrder(tx.QueryRow(ctx, `
    SELECT `+orderCols+` FROM orders WHERE payment_intent_id=$1 FOR UPDATE
  `, intentRef))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PaymentOutcome{}, ErrNotFound
		}
		return PaymentOutcome{}, err
	}

	switch outcome {
	case PaymentSucceeded:
		if o.PaymentStatus == PaymentSucceeded {
			// already reconciled: no-op success, caller skips side effects
			return PaymentOutcome{Order: o, Applied: false}, tx.Commit(ctx)
		}
		prev := o.Status
		o.PaymentStatus = PaymentSucceeded
		o.Status = StatusProcessing
		if _, err := tx.Exec(ctx, `
      UPDATE orders SET payment_status=$2, status=$3, updated_at=NOW() WHERE id=$1
    `, o.ID, o.PaymentStatus, o.Status); err != nil {
			return PaymentOutcome{}, err
		}
		if err := appendHistory(ctx, tx, StatusHistory{
			OrderID:       o.ID,
			Status:        o.Status,
			ChangedByType: "system",
			Notes:         "Status changed from " + prev + " to " + o.Status,
		}); err != nil {
			return PaymentOutcome{}, err
		}
		return PaymentOutcome{Order: o, Applied: true}, tx.Commit(ctx)
	case PaymentFailed:
		if o.PaymentStatus == PaymentSucceeded || o.PaymentStatus == PaymentFailed {
			return PaymentOutcome{Order: o, Applied: false}, tx.Commit(ctx)
		}
		o.PaymentStatus = PaymentFailed
		if _, err := tx.Exec(ctx, `
      UPDATE orders SET payment_status=$2, updated_at=NOW() WHERE id=$1
    `, o.ID, o.PaymentStatus); err != nil {
			return PaymentOutcome{}, err
		}
		return PaymentOutcome{Order: o, Applied: true}, tx.Commit(ctx)
	default:
		return PaymentOutcome{}, errors.New("unknown payment outcome: " + outcome)
	}
}

// UpdateStatus sets the order status and appends one history row in the
// same transaction, returning the updated order and the previous status.
// Same-status calls are a no-op: current row returned, nothing appended.
func (r *PGRepo) UpdateStatus(ctx context.Context, id, status string, h StatusHistory) (*Order, string, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", ErrNotFound
		}
		return nil, "", err
	}
	if o.Status == status {
		return o, o.Status, tx.Commit(ctx)
	}

	prev := o.Status
	o.Status = status
	if _, err := tx.Exec(ctx, `
    UPDATE orders SET status=$2, updated_at=NOW() WHERE id=$1
  `, id, status); err != nil {
		return nil, "", err
	}
	h.OrderID = id
	h.Status = status
	if h.Notes == "" {
		h.Notes = "Status changed from " + prev + " to " + status
	}
	if err := appendHistory(ctx, tx, h); err != nil {
		return nil, "", err
	}
	return o, prev, tx.Commit(ctx)
}

func appendHistory(ctx context.Context, tx pgx.Tx, h StatusHistory) error {
	_, err := tx.Exec(ctx, `
    INSERT INTO order_status_history (id, order_id, status, changed_by, changed_by_type, notes, created_at)
    VALUES (gen_random_uuid(), $1, $2, NULLIF($3,''), NULLIF($4,''), NULLIF($5,''), NOW())
  `, h.OrderID, h.Status, h.ChangedBy, h.ChangedByType, h.Notes)
	return err
}

func (r *PGRepo) History(ctx context.Context, orderID string) ([]StatusHistory, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.db.Query(ctx, `
    SELECT id, order_id, status, COALESCE(changed_by::text,''), COALESCE(changed_by_type,''),
           COALESCE(notes,''), created_at
    FROM order_status_history WHERE order_id=$1 ORDER BY created_at
  `, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatusHistory
	for rows.Next() {
		var h StatusHistory
		if err := rows.Scan(&h.ID, &h.OrderID, &h.Status, &h.ChangedBy, &h.ChangedByType, &h.Notes, &h.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
