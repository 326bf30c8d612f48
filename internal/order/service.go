package order

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/bedsmarket/orders-api/internal/cart"
	"github.com/bedsmarket/orders-api/internal/payment"
	"github.com/bedsmarket/orders-api/internal/pricing"
)

var (
	ErrEmptyCart              = errors.New("cart is empty")
	ErrUnsupportedDestination = errors.New("delivery not available for this postcode")
	ErrValidation             = errors.New("invalid request")
	ErrDuplicateRequest       = errors.New("duplicate checkout request")
	ErrPaymentNotSucceeded    = errors.New("payment not yet succeeded")
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Notifier is what the service needs from the mail side. All sends are
// best-effort: errors are logged here, never returned.
type Notifier interface {
	SendOrderConfirmation(ctx context.Context, o *Order) error
	SendAdminNewOrder(ctx context.Context, o *Order) error
	SendStatusUpdate(ctx context.Context, o *Order, previousStatus, newStatus string) error
}

// EventPublisher mirrors events.Publisher without importing it.
type EventPublisher interface {
	Publish(ctx context.Context, o *Order, verb string) error
}

// Service owns the order lifecycle: checkout, payment reconciliation and
// admin status transitions. One instance per process.
type Service struct {
	Orders   Repository
	Carts    cart.Repository
	Gateway  payment.Gateway
	Notifier Notifier
	Events   EventPublisher
	Idem     *redis.Client // optional checkout idempotency guard

	Currency         string
	PostcodePrefixes []string
}

// ValidPostcode reports whether the postcode starts with an allowed prefix.
// Case-insensitive, internal whitespace stripped.
func ValidPostcode(prefixes []string, postcode string) bool {
	pc := strings.ToUpper(strings.ReplaceAll(postcode, " ", ""))
	for _, p := range prefixes {
		if strings.HasPrefix(pc, strings.ToUpper(p)) {
			return true
		}
	}
	return false
}

func (s *Service) validateCheckout(req *CheckoutRequest) error {
	switch {
	case strings.TrimSpace(req.BillingFirstName) == "",
		strings.TrimSpace(req.BillingLastName) == "",
		strings.TrimSpace(req.BillingEmail) == "",
		strings.TrimSpace(req.BillingAddress) == "",
		strings.TrimSpace(req.BillingCity) == "",
		strings.TrimSpace(req.BillingPostcode) == "",
		strings.TrimSpace(req.BillingCountry) == "":
		return fmt.Errorf("%w: missing billing fields", ErrValidation)
	}
	if req.PaymentMethod != "card" {
		return fmt.Errorf("%w: payment_method must be card", ErrValidation)
	}
	if req.ShippingCost != "" {
		c, err := decimal.NewFromString(req.ShippingCost)
		if err != nil || c.IsNegative() {
			return fmt.Errorf("%w: bad shipping_cost", ErrValidation)
		}
	}
	return nil
}

// checkIdemKey reserves the key for 24h; a second checkout with the same
// key is rejected. No redis configured means no guard.
func (s *Service) checkIdemKey(ctx context.Context, key string) error {
	if s.Idem == nil || key == "" {
		return nil
	}
	ok, err := s.Idem.SetNX(ctx, "idempotent-key:"+key, "exists", 24*time.Hour).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrDuplicateRequest
	}
	return nil
}

// Checkout snapshots the user's cart into an immutable order, creates the
// payment intent and stores its reference. The order+lines insert is one
// atomic unit; the gateway call happens outside any transaction and the
// order row is deleted if the gateway refuses, so no order is ever left
// payable but intentless.
func (s *Service) Checkout(ctx context.Context, userID string, req *CheckoutRequest) (*CheckoutResult, error) {
	if err := s.validateCheckout(req); err != nil {
		return nil, err
	}
	if !ValidPostcode(s.PostcodePrefixes, req.BillingPostcode) {
		return nil, ErrUnsupportedDestination
	}
	if err := s.checkIdemKey(ctx, req.IdempotencyKey); err != nil {
		return nil, err
	}

	snapshot, err := s.Carts.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(snapshot) == 0 {
		return nil, ErrEmptyCart
	}

	lines := make([]pricing.SnapshotLine, 0, len(snapshot))
	for _, row := range snapshot {
		lines = append(lines, pricing.SnapshotLine{
			ProductID:       row.ProductID,
			VariantID:       row.VariantID,
			ProductName:     row.ProductName,
			BasePrice:       row.BasePrice,
			VariantModifier: row.VariantModifier,
			Quantity:        row.Quantity,
		})
	}
	quote, err := pricing.Price(lines)
	if err != nil {
		return nil, err
	}

	shipping := decimal.Zero
	if req.ShippingCost != "" {
		shipping, _ = decimal.NewFromString(req.ShippingCost)
	}
	total := quote.Subtotal.Add(shipping)

	billing := Address{
		FirstName: req.BillingFirstName,
		LastName:  req.BillingLastName,
		Email:     req.BillingEmail,
		Phone:     req.BillingPhone,
		Address:   req.BillingAddress,
		City:      req.BillingCity,
		Postcode:  req.BillingPostcode,
		Country:   req.BillingCountry,
	}
	shippingAddr := Address{
		FirstName: fallback(req.ShippingFirstName, billing.FirstName),
		LastName:  fallback(req.ShippingLastName, billing.LastName),
		Address:   fallback(req.ShippingAddress, billing.Address),
		City:      fallback(req.ShippingCity, billing.City),
		Postcode:  fallback(req.ShippingPostcode, billing.Postcode),
		Country:   fallback(req.ShippingCountry, billing.Country),
	}

	now := time.Now()
	o := &Order{
		ID:             uuid.NewString(),
		OrderNumber:    NewOrderNumber(now),
		UserID:         userID,
		Status:         StatusPending,
		TotalAmount:    total.StringFixed(2),
		ShippingCost:   shipping.StringFixed(2),
		ShippingMethod: req.ShippingMethod,
		PaymentMethod:  req.PaymentMethod,
		PaymentStatus:  PaymentPending,
		Billing:        billing,
		Shipping:       shippingAddr,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	orderLines := make([]Line, 0, len(quote.Lines))
	for _, pl := range quote.Lines {
		orderLines = append(orderLines, Line{
			ID:          uuid.NewString(),
			OrderID:     o.ID,
			ProductID:   pl.ProductID,
			VariantID:   pl.VariantID,
			ProductName: pl.ProductName,
			UnitPrice:   pl.UnitPrice.StringFixed(2),
			Quantity:    pl.Quantity,
			Subtotal:    pl.Subtotal.StringFixed(2),
		})
	}

	if err := s.Orders.Create(ctx, o, orderLines); err != nil {
		return nil, err
	}

	intent, err := s.Gateway.CreateIntent(ctx, total.Shift(2).IntPart(), s.Currency, map[string]string{
		"order_id":     o.ID,
		"order_number": o.OrderNumber,
		"user_id":      userID,
	})
	if err != nil {
		// compensate: don't leave a payable order with no intent
		if delErr := s.Orders.Delete(ctx, o.ID); delErr != nil {
			logger.Error().Err(delErr).Str("order_id", o.ID).Msg("rollback after intent failure")
		}
		return nil, err
	}
	if err := s.Orders.SetIntentRef(ctx, o.ID, intent.ID); err != nil {
		if delErr := s.Orders.Delete(ctx, o.ID); delErr != nil {
			logger.Error().Err(delErr).Str("order_id", o.ID).Msg("rollback after intent-ref store failure")
		}
		return nil, err
	}
	o.PaymentIntentID = intent.ID

	logger.Info().Str("order_number", o.OrderNumber).Str("total", o.TotalAmount).Msg("order created")
	return &CheckoutResult{Order: o, Lines: orderLines, ClientSecret: intent.ClientSecret}, nil
}

func fallback(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// ConfirmPayment is the client-driven path: re-fetch the intent from the
// gateway and, if it succeeded, funnel into the same transition the
// webhook uses.
func (s *Service) ConfirmPayment(ctx context.Context, userID, orderID string) (*Order, error) {
	o, err := s.Orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, ErrNotFound
	}
	if o.PaymentIntentID == "" {
		return nil, fmt.Errorf("%w: no payment intent on order", ErrValidation)
	}

	intent, err := s.Gateway.RetrieveIntent(ctx, o.PaymentIntentID)
	if err != nil {
		return nil, err
	}
	if intent.Status != payment.IntentSucceeded {
		return nil, fmt.Errorf("%w: status %s", ErrPaymentNotSucceeded, intent.Status)
	}
	return s.MarkPaymentOutcome(ctx, o.PaymentIntentID, PaymentSucceeded)
}

// ResendEmails re-dispatches the order emails. A still-pending payment is
// re-checked against the gateway first, so an order whose webhook was
// missed gets promoted through the usual transition instead of getting
// emails for an unpaid order.
func (s *Service) ResendEmails(ctx context.Context, userID, orderID string) (*Order, error) {
	o, err := s.Orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, ErrNotFound
	}

	if o.PaymentStatus == PaymentPending && o.PaymentIntentID != "" {
		intent, err := s.Gateway.RetrieveIntent(ctx, o.PaymentIntentID)
		if err != nil {
			return nil, err
		}
		if intent.Status == payment.IntentSucceeded {
			return s.MarkPaymentOutcome(ctx, o.PaymentIntentID, PaymentSucceeded)
		}
	}
	if o.PaymentStatus != PaymentSucceeded {
		return nil, fmt.Errorf("%w: payment_status %s", ErrPaymentNotSucceeded, o.PaymentStatus)
	}

	// already reconciled: the transition would be a no-op, dispatch directly
	if s.Notifier != nil {
		if err := s.Notifier.SendOrderConfirmation(ctx, o); err != nil {
			logger.Error().Err(err).Str("order_number", o.OrderNumber).Msg("confirmation resend failed")
		}
		if err := s.Notifier.SendAdminNewOrder(ctx, o); err != nil {
			logger.Error().Err(err).Str("order_number", o.OrderNumber).Msg("admin notice resend failed")
		}
	}
	return o, nil
}

// HandleGatewayEvent reacts to a verified webhook event. Unknown event
// types and unknown intent refs are acknowledged without side effects so
// the gateway does not retry them.
func (s *Service) HandleGatewayEvent(ctx context.Context, ev *payment.Event) error {
	var outcome string
	switch ev.Type {
	case payment.EventIntentSucceeded:
		outcome = PaymentSucceeded
	case payment.EventIntentFailed:
		outcome = PaymentFailed
	default:
		logger.Info().Str("type", ev.Type).Msg("unhandled gateway event type")
		return nil
	}

	if _, err := s.MarkPaymentOutcome(ctx, ev.IntentID, outcome); err != nil {
		if errors.Is(err, ErrNotFound) {
			logger.Info().Str("intent_id", ev.IntentID).Msg("webhook for unknown intent, ignoring")
			return nil
		}
		return err
	}
	return nil
}

// MarkPaymentOutcome is the single transition function every trigger
// funnels through. The repo serializes on the order row; the side-effect
// bundle (clear cart, confirmation, admin notice, event publish) runs only
// when the transition was actually pending->succeeded.
func (s *Service) MarkPaymentOutcome(ctx context.Context, intentRef, outcome string) (*Order, error) {
	res, err := s.Orders.MarkPayment(ctx, intentRef, outcome)
	if err != nil {
		return nil, err
	}
	o := res.Order

	if !res.Applied {
		return o, nil
	}
	switch outcome {
	case PaymentSucceeded:
		logger.Info().Str("order_number", o.OrderNumber).Msg("payment succeeded")
		s.runPostPaymentHooks(ctx, o)
	case PaymentFailed:
		logger.Info().Str("order_number", o.OrderNumber).Msg("payment failed")
	}
	return o, nil
}

// runPostPaymentHooks executes the succeeded side effects after the
// transition committed. Each hook is fault-isolated: a failure is logged
// and the rest still run.
func (s *Service) runPostPaymentHooks(ctx context.Context, o *Order) {
	if err := s.Carts.Clear(ctx, o.UserID); err != nil {
		logger.Error().Err(err).Str("user_id", o.UserID).Msg("cart clear failed")
	}
	if s.Notifier != nil {
		if err := s.Notifier.SendOrderConfirmation(ctx, o); err != nil {
			logger.Error().Err(err).Str("order_number", o.OrderNumber).Msg("confirmation send failed")
		}
		if err := s.Notifier.SendAdminNewOrder(ctx, o); err != nil {
			logger.Error().Err(err).Str("order_number", o.OrderNumber).Msg("admin notice send failed")
		}
	}
	if s.Events != nil {
		if err := s.Events.Publish(ctx, o, "paid"); err != nil {
			logger.Error().Err(err).Str("order_number", o.OrderNumber).Msg("event publish failed")
		}
	}
}

// UpdateStatus applies an admin transition. Any enum value is reachable
// from any other; same-status calls return the current order with no
// history row and no notification.
func (s *Service) UpdateStatus(ctx context.Context, orderID, newStatus, actorID string) (*Order, error) {
	if !ValidStatus(newStatus) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, newStatus)
	}

	o, prev, err := s.Orders.UpdateStatus(ctx, orderID, newStatus, StatusHistory{
		ChangedBy:     actorID,
		ChangedByType: "admin",
	})
	if err != nil {
		return nil, err
	}
	if prev == o.Status {
		return o, nil
	}

	logger.Info().Str("order_number", o.OrderNumber).
		Str("from", prev).Str("to", o.Status).Str("by", actorID).
		Msg("order status updated")

	if s.Notifier != nil {
		if err := s.Notifier.SendStatusUpdate(ctx, o, prev, o.Status); err != nil {
			logger.Error().Err(err).Str("order_number", o.OrderNumber).Msg("status update send failed")
		}
	}
	if s.Events != nil {
		if err := s.Events.Publish(ctx, o, "updated"); err != nil {
			logger.Error().Err(err).Str("order_number", o.OrderNumber).Msg("event publish failed")
		}
	}
	return o, nil
}

// Get returns an order with its lines, scoped to the owning user.
func (s *Service) Get(ctx context.Context, userID, orderID string) (*Order, []Line, error) {
	o, err := s.Orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if o.UserID != userID {
		return nil, nil, ErrNotFound
	}
	lines, err := s.Orders.GetLines(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return o, lines, nil
}

func (s *Service) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Order, error) {
	return s.Orders.ListByUser(ctx, userID, limit, offset)
}

// AdminGet returns an order with lines and its status history.
func (s *Service) AdminGet(ctx context.Context, orderID string) (*Order, []Line, []StatusHistory, error) {
	o, err := s.Orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, nil, nil, err
	}
	lines, err := s.Orders.GetLines(ctx, orderID)
	if err != nil {
		return nil, nil, nil, err
	}
	history, err := s.Orders.History(ctx, orderID)
	if err != nil {
		return nil, nil, nil, err
	}
	return o, lines, history, nil
}

func (s *Service) AdminList(ctx context.Context, statusFilter string, limit, offset int) ([]Order, error) {
	if statusFilter != "" && !ValidStatus(statusFilter) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, statusFilter)
	}
	return s.Orders.List(ctx, statusFilter, limit, offset)
}
