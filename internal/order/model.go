package order

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"
)

// Order statuses. The admin path may set any of them from any other; the
// reconciler itself only ever moves pending -> processing.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusShipped    = "shipped"
	StatusDelivered  = "delivered"
	StatusCancelled  = "cancelled"
)

// Payment statuses. succeeded and failed are terminal; succeeded wins if
// both events arrive.
const (
	PaymentPending   = "pending"
	PaymentSucceeded = "succeeded"
	PaymentFailed    = "failed"
	PaymentCanceled  = "canceled"
)

func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// Address is the billing/shipping snapshot copied onto the order at
// creation; it is never re-derived from the user profile afterwards.
type Address struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Address   string `json:"address"`
	City      string `json:"city"`
	Postcode  string `json:"postcode"`
	Country   string `json:"country"`
}

type Order struct {
	ID          string `json:"id"`
	OrderNumber string `json:"order_number"`
	UserID      string `json:"user_id"`
	Status      string `json:"status"`
	// NUMERIC -> string
	TotalAmount    string `json:"total_amount"`
	ShippingCost   string `json:"shipping_cost"`
	ShippingMethod string `json:"shipping_method,omitempty"`
	PaymentMethod  string `json:"payment_method,omitempty"`

	PaymentIntentID string `json:"payment_intent_id,omitempty"`
	PaymentStatus   string `json:"payment_status"`

	Billing  Address `json:"billing"`
	Shipping Address `json:"shipping"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Line is an immutable snapshot of what was bought: name and price are
// copied from the product so later catalog edits never alter the order.
type Line struct {
	ID          string `json:"id"`
	OrderID     string `json:"order_id"`
	ProductID   string `json:"product_id"`
	VariantID   string `json:"variant_id,omitempty"`
	ProductName string `json:"product_name"`
	UnitPrice   string `json:"unit_price"`
	Quantity    int    `json:"quantity"`
	Subtotal    string `json:"subtotal"`
}

// StatusHistory is append-only; one row per transition, never mutated.
type StatusHistory struct {
	ID            string    `json:"id"`
	OrderID       string    `json:"order_id"`
	Status        string    `json:"status"`
	ChangedBy     string    `json:"changed_by,omitempty"`
	ChangedByType string    `json:"changed_by_type,omitempty"` // 'admin' | 'system'
	Notes         string    `json:"notes,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewOrderNumber returns a human-readable unique reference like
// ORD-20250901-3FA4B1C2.
func NewOrderNumber(now time.Time) string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return "ORD-" + now.Format("20060102") + "-" + strings.ToUpper(hex.EncodeToString(b))
}
