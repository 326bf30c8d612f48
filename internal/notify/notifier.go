// Package notify defines the outbound notification surface. Rendering and
// delivery live elsewhere; everything here is best-effort and callers must
// log-and-continue on error.
package notify

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bedsmarket/orders-api/internal/order"
)

type Notifier interface {
	SendOrderConfirmation(ctx context.Context, o *order.Order) error
	SendAdminNewOrder(ctx context.Context, o *order.Order) error
	SendStatusUpdate(ctx context.Context, o *order.Order, previousStatus, newStatus string) error
}

// LogNotifier records every notification instead of delivering it. Used
// when no mail backend is wired in.
type LogNotifier struct {
	AdminEmail string
}

func (n *LogNotifier) SendOrderConfirmation(ctx context.Context, o *order.Order) error {
	n.event(o).Str("to", o.Billing.Email).Msg("order confirmation")
	return nil
}

func (n *LogNotifier) SendAdminNewOrder(ctx context.Context, o *order.Order) error {
	if n.AdminEmail == "" {
		log.Warn().Str("order_number", o.OrderNumber).Msg("admin email not configured, skipping new-order notice")
		return nil
	}
	n.event(o).Str("to", n.AdminEmail).Msg("admin new-order notice")
	return nil
}

func (n *LogNotifier) SendStatusUpdate(ctx context.Context, o *order.Order, previousStatus, newStatus string) error {
	n.event(o).Str("to", o.Billing.Email).
		Str("from_status", previousStatus).Str("to_status", newStatus).
		Msg("status update")
	return nil
}

func (n *LogNotifier) event(o *order.Order) *zerolog.Event {
	return log.Info().Str("order_number", o.OrderNumber)
}
