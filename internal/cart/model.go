package cart

import "time"

// Item is one cart row: unique per (user, product, variant).
type Item struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ProductID string    `json:"product_id"`
	VariantID string    `json:"variant_id,omitempty"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SnapshotRow is a cart row joined with the live product/variant pricing
// fields, read once at checkout.
type SnapshotRow struct {
	ProductID       string
	VariantID       string
	ProductName     string
	BasePrice       string // NUMERIC -> string
	VariantModifier string // NUMERIC -> string, empty when no variant
	Quantity        int
}
