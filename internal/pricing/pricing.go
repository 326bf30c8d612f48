// Package pricing computes line prices and order subtotals from a cart
// snapshot. It is a pure function of its inputs: prices are captured here
// once and frozen onto the order, so later catalog changes never touch
// historical totals.
package pricing

import (
	"errors"

	"github.com/shopspring/decimal"
)

var ErrInvalidLine = errors.New("invalid cart line")

// SnapshotLine is one cart row joined with the product (and optional
// variant) data it referenced at checkout time.
type SnapshotLine struct {
	ProductID   string
	VariantID   string // empty when no variant selected
	ProductName string
	// BasePrice and VariantModifier are NUMERIC -> string, same as the
	// product rows they come from.
	BasePrice       string
	VariantModifier string
	Quantity        int
}

// PricedLine carries the resolved unit price and subtotal for one line.
type PricedLine struct {
	ProductID   string
	VariantID   string
	ProductName string
	UnitPrice   decimal.Decimal
	Quantity    int
	Subtotal    decimal.Decimal
}

type Quote struct {
	Lines    []PricedLine
	Subtotal decimal.Decimal
}

// Price resolves each line's effective unit price (base + variant modifier)
// and sums the order subtotal. Shipping is added by the caller.
func Price(lines []SnapshotLine) (Quote, error) {
	q := Quote{Subtotal: decimal.Zero}
	for _, l := range lines {
		if l.ProductID == "" || l.ProductName == "" {
			return Quote{}, ErrInvalidLine
		}
		if l.Quantity < 1 {
			return Quote{}, ErrInvalidLine
		}
		unit, err := decimal.NewFromString(l.BasePrice)
		if err != nil {
			return Quote{}, ErrInvalidLine
		}
		if l.VariantID != "" && l.VariantModifier != "" {
			mod, err := decimal.NewFromString(l.VariantModifier)
			if err != nil {
				return Quote{}, ErrInvalidLine
			}
			unit = unit.Add(mod)
		}
		sub := unit.Mul(decimal.NewFromInt(int64(l.Quantity)))
		q.Lines = append(q.Lines, PricedLine{
			ProductID:   l.ProductID,
			VariantID:   l.VariantID,
			ProductName: l.ProductName,
			UnitPrice:   unit,
			Quantity:    l.Quantity,
			Subtotal:    sub,
		})
		q.Subtotal = q.Subtotal.Add(sub)
	}
	return q, nil
}
