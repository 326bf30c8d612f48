package order

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bedsmarket/orders-api/internal/cart"
	"github.com/bedsmarket/orders-api/internal/payment"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

//
// ---------- STUBS & FAKES ----------
//

// stubRepo implements Repository in memory.
type stubRepo struct {
	orders  map[string]*Order
	lines   map[string][]Line
	history map[string][]StatusHistory

	createErr error
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		orders:  map[string]*Order{},
		lines:   map[string][]Line{},
		history: map[string][]StatusHistory{},
	}
}

func (s *stubRepo) Create(ctx context.Context, o *Order, lines []Line) error {
	if s.createErr != nil {
		return s.createErr
	}
	cp := *o
	s.orders[o.ID] = &cp
	s.lines[o.ID] = append([]Line(nil), lines...)
	return nil
}

func (s *stubRepo) SetIntentRef(ctx context.Context, orderID, intentRef string) error {
	o, ok := s.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	o.PaymentIntentID = intentRef
	return nil
}

func (s *stubRepo) Delete(ctx context.Context, orderID string) error {
	delete(s.orders, orderID)
	delete(s.lines, orderID)
	return nil
}

func (s *stubRepo) GetByID(ctx context.Context, id string) (*Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *stubRepo) GetLines(ctx context.Context, orderID string) ([]Line, error) {
	return s.lines[orderID], nil
}

func (s *stubRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Order, error) {
	var out []Order
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *stubRepo) List(ctx context.Context, statusFilter string, limit, offset int) ([]Order, error) {
	var out []Order
	for _, o := range s.orders {
		if statusFilter == "" || o.Status == statusFilter {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *stubRepo) MarkPayment(ctx context.Context, intentRef, outcome string) (PaymentOutcome, error) {
	var target *Order
	for _, o := range s.orders {
		if o.PaymentIntentID == intentRef {
			target = o
			break
		}
	}
	if target == nil {
		return PaymentOutcome{}, ErrNotFound
	}
	switch outcome {
	case PaymentSucceeded:
		if target.PaymentStatus == PaymentSucceeded {
			cp := *target
			return PaymentOutcome{Order: &cp, Applied: false}, nil
		}
		prev := target.Status
		target.PaymentStatus = PaymentSucceeded
		target.Status = StatusProcessing
		s.history[target.ID] = append(s.history[target.ID], StatusHistory{
			OrderID: target.ID, Status: target.Status, ChangedByType: "system",
			Notes: "Status changed from " + prev + " to " + target.Status,
		})
		cp := *target
		return PaymentOutcome{Order: &cp, Applied: true}, nil
	case PaymentFailed:
		if target.PaymentStatus == PaymentSucceeded || target.PaymentStatus == PaymentFailed {
			cp := *target
			return PaymentOutcome{Order: &cp, Applied: false}, nil
		}
		target.PaymentStatus = PaymentFailed
		cp := *target
		return PaymentOutcome{Order: &cp, Applied: true}, nil
	}
	return PaymentOutcome{}, fmt.Errorf("unknown outcome %q", outcome)
}

func (s *stubRepo) UpdateStatus(ctx context.Context, id, status string, h StatusHistory) (*Order, string, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, "", ErrNotFound
	}
	if o.Status == status {
		cp := *o
		return &cp, o.Status, nil
	}
	prev := o.Status
	o.Status = status
	h.OrderID = id
	h.Status = status
	if h.Notes == "" {
		h.Notes = "Status changed from " + prev + " to " + status
	}
	s.history[id] = append(s.history[id], h)
	cp := *o
	return &cp, prev, nil
}

func (s *stubRepo) History(ctx context.Context, orderID string) ([]StatusHistory, error) {
	return s.history[orderID], nil
}

// stubCarts implements cart.Repository in memory.
type stubCarts struct {
	rows    map[string][]cart.SnapshotRow
	cleared int
}

func (s *stubCarts) Snapshot(ctx context.Context, userID string) ([]cart.SnapshotRow, error) {
	return s.rows[userID], nil
}

func (s *stubCarts) Upsert(ctx context.Context, userID, productID, variantID string, quantity int) error {
	return nil
}

func (s *stubCarts) Clear(ctx context.Context, userID string) error {
	s.cleared++
	delete(s.rows, userID)
	return nil
}

// fakeGateway implements payment.Gateway.
type fakeGateway struct {
	createErr      error
	retrieveStatus string
	created        int
	lastAmount     int64
	lastCurrency   string
	lastMetadata   map[string]string
}

func (g *fakeGateway) CreateIntent(ctx context.Context, amountMinor int64, currency string, metadata map[string]string) (*payment.Intent, error) {
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.created++
	g.lastAmount = amountMinor
	g.lastCurrency = currency
	g.lastMetadata = metadata
	return &payment.Intent{ID: "pi_" + uuid.NewString()[:8], ClientSecret: "cs_test"}, nil
}

func (g *fakeGateway) RetrieveIntent(ctx context.Context, id string) (*payment.Intent, error) {
	status := g.retrieveStatus
	if status == "" {
		status = payment.IntentSucceeded
	}
	return &payment.Intent{ID: id, Status: status}, nil
}

// fakeNotifier counts dispatches per kind.
type fakeNotifier struct {
	confirmations int
	adminNotices  int
	statusUpdates int
	fail          bool
}

func (n *fakeNotifier) SendOrderConfirmation(ctx context.Context, o *Order) error {
	n.confirmations++
	if n.fail {
		return errors.New("smtp down")
	}
	return nil
}

func (n *fakeNotifier) SendAdminNewOrder(ctx context.Context, o *Order) error {
	n.adminNotices++
	if n.fail {
		return errors.New("smtp down")
	}
	return nil
}

func (n *fakeNotifier) SendStatusUpdate(ctx context.Context, o *Order, prev, next string) error {
	n.statusUpdates++
	if n.fail {
		return errors.New("smtp down")
	}
	return nil
}

func newTestService(repo *stubRepo, carts *stubCarts, gw *fakeGateway, n *fakeNotifier) *Service {
	return &Service{
		Orders:   repo,
		Carts:    carts,
		Gateway:  gw,
		Notifier: n,
		Currency: "gbp",
		PostcodePrefixes: []string{
			"MK40", "MK41", "MK42", "MK43", "MK44", "MK45",
			"LU1", "LU2", "LU3", "LU4", "LU5", "LU6", "LU7",
			"SG15", "SG16", "SG17", "SG18", "SG19",
		},
	}
}

func validCheckout() *CheckoutRequest {
	return &CheckoutRequest{
		BillingFirstName: "Ana",
		BillingLastName:  "García",
		BillingEmail:     "ana@example.com",
		BillingAddress:   "1 High St",
		BillingCity:      "Bedford",
		BillingPostcode:  "MK40 1AA",
		BillingCountry:   "GB",
		ShippingCost:     "3.00",
		PaymentMethod:    "card",
	}
}

func seedCart(userID string) *stubCarts {
	return &stubCarts{rows: map[string][]cart.SnapshotRow{
		userID: {
			{ProductID: uuid.NewString(), ProductName: "Producto A", BasePrice: "10.00", Quantity: 2},
			{ProductID: uuid.NewString(), VariantID: uuid.NewString(), ProductName: "Producto B", BasePrice: "10.00", VariantModifier: "2.00", Quantity: 1},
		},
	}}
}

//
// ---------- TESTS ----------
//

func TestCheckout_TotalsAndSnapshot(t *testing.T) {
	t.Parallel()

	uid := uuid.NewString()
	repo := newStubRepo()
	carts := seedCart(uid)
	gw := &fakeGateway{}
	svc := newTestService(repo, carts, gw, &fakeNotifier{})

	res, err := svc.Checkout(context.Background(), uid, validCheckout())
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	// A: 10.00x2 + B: 12.00x1 + envío 3.00 = 25.00
	if res.Order.TotalAmount != "25.00" {
		t.Fatalf("total=%s, esperaba 25.00", res.Order.TotalAmount)
	}
	if res.Order.ShippingCost != "3.00" {
		t.Fatalf("shipping=%s", res.Order.ShippingCost)
	}
	if res.Order.Status != StatusPending || res.Order.PaymentStatus != PaymentPending {
		t.Fatalf("estado inicial: %s/%s", res.Order.Status, res.Order.PaymentStatus)
	}
	if res.ClientSecret != "cs_test" {
		t.Fatalf("client_secret=%q", res.ClientSecret)
	}
	if res.Order.PaymentIntentID == "" {
		t.Fatalf("no se guardó la referencia del intent")
	}
	if res.Order.CreatedAt.IsZero() || res.Order.UpdatedAt.IsZero() {
		t.Fatalf("timestamps sin asignar: created=%v updated=%v", res.Order.CreatedAt, res.Order.UpdatedAt)
	}
	if len(res.Lines) != 2 {
		t.Fatalf("lines=%d", len(res.Lines))
	}
	// 25.00 in minor units, in configured currency, tagged with order refs
	if gw.lastAmount != 2500 || gw.lastCurrency != "gbp" {
		t.Fatalf("intent amount=%d currency=%s", gw.lastAmount, gw.lastCurrency)
	}
	if gw.lastMetadata["order_number"] != res.Order.OrderNumber || gw.lastMetadata["user_id"] != uid {
		t.Fatalf("metadata=%v", gw.lastMetadata)
	}

	// snapshot frozen: the cart row is gone after a later price change,
	// stored line prices must not move
	if res.Lines[1].UnitPrice != "12.00" || res.Lines[1].Subtotal != "12.00" {
		t.Fatalf("line B: unit=%s subtotal=%s", res.Lines[1].UnitPrice, res.Lines[1].Subtotal)
	}
}

func TestCheckout_ShippingFallsBackToBilling(t *testing.T) {
	t.Parallel()

	uid := uuid.NewString()
	svc := newTestService(newStubRepo(), seedCart(uid), &fakeGateway{}, &fakeNotifier{})

	res, err := svc.Checkout(context.Background(), uid, validCheckout())
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if res.Order.Shipping.Address != "1 High St" || res.Order.Shipping.Postcode != "MK40 1AA" {
		t.Fatalf("shipping no heredó billing: %+v", res.Order.Shipping)
	}
}

func TestCheckout_EmptyCart(t *testing.T) {
	t.Parallel()

	uid := uuid.NewString()
	svc := newTestService(newStubRepo(), &stubCarts{rows: map[string][]cart.SnapshotRow{}}, &fakeGateway{}, &fakeNotifier{})

	if _, err := svc.Checkout(context.Background(), uid, validCheckout()); !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("err=%v, esperaba ErrEmptyCart", err)
	}
}

func TestCheckout_UnsupportedPostcode(t *testing.T) {
	t.Parallel()

	uid := uuid.NewString()
	repo := newStubRepo()
	svc := newTestService(repo, seedCart(uid), &fakeGateway{}, &fakeNotifier{})

	req := validCheckout()
	req.BillingPostcode = "SG20 9ZZ" // fuera del área
	if _, err := svc.Checkout(context.Background(), uid, req); !errors.Is(err, ErrUnsupportedDestination) {
		t.Fatalf("err=%v, esperaba ErrUnsupportedDestination", err)
	}
	if len(repo.orders) != 0 {
		t.Fatalf("no debía crearse ninguna orden")
	}
}

func TestCheckout_PostcodeNormalization(t *testing.T) {
	t.Parallel()

	prefixes := []string{"MK40", "LU1"}
	cases := map[string]bool{
		"mk40 1aa": true,
		" lu1 2bb": true,
		"MK401AA":  true,
		"SG20":     false,
		"LU10":     true, // prefix match, same as the source behavior
		"":         false,
	}
	for pc, want := range cases {
		if got := ValidPostcode(prefixes, pc); got != want {
			t.Fatalf("postcode %q: got=%v want=%v", pc, got, want)
		}
	}
}

func TestCheckout_GatewayFailureRollsBack(t *testing.T) {
	t.Parallel()

	uid := uuid.NewString()
	repo := newStubRepo()
	gw := &fakeGateway{createErr: &payment.GatewayError{Err: errors.New("api down")}}
	svc := newTestService(repo, seedCart(uid), gw, &fakeNotifier{})

	_, err := svc.Checkout(context.Background(), uid, validCheckout())
	var gwErr *payment.GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("err=%v, esperaba GatewayError", err)
	}
	if len(repo.orders) != 0 {
		t.Fatalf("la orden debía eliminarse tras fallar el intent")
	}
}

func TestCheckout_Validation(t *testing.T) {
	t.Parallel()

	uid := uuid.NewString()
	svc := newTestService(newStubRepo(), seedCart(uid), &fakeGateway{}, &fakeNotifier{})

	bad := []func(*CheckoutRequest){
		func(r *CheckoutRequest) { r.BillingFirstName = "" },
		func(r *CheckoutRequest) { r.BillingEmail = "" },
		func(r *CheckoutRequest) { r.PaymentMethod = "paypal" },
		func(r *CheckoutRequest) { r.ShippingCost = "-1.00" },
		func(r *CheckoutRequest) { r.ShippingCost = "abc" },
	}
	for i, mutate := range bad {
		req := validCheckout()
		mutate(req)
		if _, err := svc.Checkout(context.Background(), uid, req); !errors.Is(err, ErrValidation) {
			t.Fatalf("case %d: err=%v, esperaba ErrValidation", i, err)
		}
	}
}

func markPaid(t *testing.T, svc *Service, uid string) *Order {
	t.Helper()
	res, err := svc.Checkout(context.Background(), uid, validCheckout())
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	o, err := svc.MarkPaymentOutcome(context.Background(), res.Order.PaymentIntentID, PaymentSucceeded)
	if err != nil {
		t.Fatalf("MarkPaymentOutcome: %v", err)
	}
	return o
}

func TestMarkPaymentOutcome_Succeeded(t *testing.T) {
	t.Parallel()

	uid := uuid.NewString()
	repo := newStubRepo()
	carts := seedCart(uid)
	n := &fakeNotifier{}
	svc := newTestService(repo, carts, &fakeGateway{}, n)

	o := markPaid(t, svc, uid)

	if o.PaymentStatus != PaymentSucceeded || o.Status != StatusProcessing {
		t.Fatalf("estado=%s/%s", o.Status, o.PaymentStatus)
	}
	if carts.cleared != 1 {
		t.Fatalf("cart clears=%d, esperaba 1", carts.cleared)
	}
	if n.confirmations != 1 || n.adminNotices != 1 {
		t.Fatalf("notificaciones=%d/%d, esperaba 1/1", n.confirmations, n.adminNotices)
	}
	if h := repo.history[o.ID]; len(h) != 1 || h[0].ChangedByType != "system" {
		t.Fatalf("history=%+v", h)
	}
}

func TestMarkPaymentOutcome_Idempotent(t *testing.T) {
	t.Parallel()

	uid := uuid.NewString()
	repo := newStubRepo()
	carts := seedCart(uid)
	n := &fakeNotifier{}
	svc := newTestService(repo, carts, &fakeGateway{}, n)

	o := markPaid(t, svc, uid)

	// segunda entrega del mismo evento: no-op success
	again, err := svc.MarkPaymentOutcome(context.Background(), o.PaymentIntentID, PaymentSucceeded)
	if err != nil {
		t.Fatalf("segunda llamada: %v", err)
	}
	if again.PaymentStatus != PaymentSucceeded {
		t.Fatalf("payment_status=%s", again.PaymentStatus)
	}
	if n.confirmations != 1 || n.adminNotices != 1 {
		t.Fatalf("notificaciones duplicadas: %d/%d", n.confirmations, n.adminNotices)
	}
	if carts.cleared != 1 {
		t.Fatalf("cart clears=%d, esperaba 1", carts.cleared)
	}
	if h := repo.history[o.ID]; len(h) != 1 {
		t.Fatalf("history rows=%d, esperaba 1", len(h))
	}
}

func TestMarkPaymentOutcome_FailedNeverOverwritesSucceeded(t *testing.T) {
	t.Parallel()

	uid := uuid.NewString()
	repo := newStubRepo()
	svc := newTestService(repo, seedCart(uid), &fakeGateway{}, &fakeNotifier{})

	o := markPaid(t, svc, uid)

	after, err := svc.MarkPaymentOutcome(context.Background(), o.PaymentIntentID, PaymentFailed)
	if err != nil {
		t.Fatalf("failed tras succeeded: %v", err)
	}
	if after.PaymentStatus != PaymentSucceeded {
		t.Fatalf("payment_status=%s, succeeded es terminal", after.PaymentStatus)
	}
}

func TestMarkPaymentOutcome_FailedTouchesOnlyPaymentStatus(t *testing.T) {
	t.Parallel()

	uid := uuid.NewString()
	repo := newStubRepo()
	carts := seedCart(uid)
	n := &fakeNotifier{}
	svc := newTestService(repo, carts, &fakeGateway{}, n)

	res, err := svc.Checkout(context.Background(), uid, validCheckout())
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	o, err := svc.MarkPaymentOutcome(context.Background(), res.Order.PaymentIntentID, PaymentFailed)
	if err != nil {
		t.Fatalf("MarkPaymentOutcome: %v", err)
	}
	if o.PaymentStatus != PaymentFailed {
		t.Fatalf("payment_status=%s", o.PaymentStatus)
	}
	if o.Status != StatusPending {
		t.Fatalf("status=%s, no debía cambiar", o.Status)
	}
	if carts.cleared != 0 || n.confirmations != 0 {
		t.Fatalf("side effects tras fallo: clears=%d confirms=%d", carts.cleared, n.confirmations)
	}
}

func TestMarkPaymentOutcome_NotifierFailureDoesNotPropagate(t *testing.T) {
	t.Parallel()

	uid := uuid.NewString()
	svc := newTestService(newStubRepo(), seedCart(uid), &fakeGateway{}, &fakeNotifier{fail: true})

	o := markPaid(t, svc, uid)
	if o.PaymentStatus != PaymentSucceeded {
		t.Fatalf("payment_status=%s", o.PaymentStatus)
	}
}

func TestHandleGatewayEvent_UnknownIntentIsNoop(t *testing.T) {
	t.Parallel()

	svc := newTestService(newStubRepo(), &stubCarts{rows: map[string][]cart.SnapshotRow{}}, &fakeGateway{}, &fakeNotifier{})

	err := svc.HandleGatewayEvent(context.Background(), &payment.Event{
		Type:     payment.EventIntentSucceeded,
		IntentID: "pi_desconocido",
	})
	if err != nil {
		t.Fatalf("err=%v, esperaba no-op", err)
	}
}

func TestHandleGatewayEvent_UnhandledType(t *testing.T) {
	t.Parallel()

	svc := newTestService(newStubRepo(), &stubCarts{rows: map[string][]cart.SnapshotRow{}}, &fakeGateway{}, &fakeNotifier{})

	if err := svc.HandleGatewayEvent(context.Background(), &payment.Event{Type: "charge.refunded"}); err != nil {
		t.Fatalf("err=%v, tipos desconocidos se ignoran", err)
	}
}

func TestConfirmPayment_FunnelsThroughSameTransition(t *testing.T) {
	t.Parallel()

	uid := uuid.NewString()
	repo := newStubRepo()
	carts := seedCart(uid)
	n := &fakeNotifier{}
	gw := &fakeGateway{retrieveStatus: payment.IntentSucceeded}
	svc := newTestService(repo, carts, gw, n)

	res, err := svc.Checkout(context.Background(), uid, validCheckout())
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	o, err := svc.ConfirmPayment(context.Background(), uid, res.Order.ID)
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if o.PaymentStatus != PaymentSucceeded || o.Status != StatusProcessing {
		t.Fatalf("estado=%s/%s", o.Status, o.PaymentStatus)
	}

	// el webhook llega después: no duplica side effects
	if err := svc.HandleGatewayEvent(context.Background(), &payment.Event{
		Type:     payment.EventIntentSucceeded,
		IntentID: res.Order.PaymentIntentID,
	}); err != nil {
		t.Fatalf("webhook tras confirm: %v", err)
	}
	if n.confirmations != 1 || carts.cleared != 1 {
		t.Fatalf("side effects duplicados: confirms=%d clears=%d", n.confirmations, carts.cleared)
	}
}

func TestConfirmPayment_NotYetSucceeded(t *testing.T) {
	t.Parallel()

	uid := uuid.NewString()
	gw := &fakeGateway{retrieveStatus: "requires_payment_method"}
	svc := newTestService(newStubRepo(), seedCart(uid), gw, &fakeNotifier{})

	res, err := svc.Checkout(context.Background(), uid, validCheckout())
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if _, err := svc.ConfirmPayment(context.Background(), uid, res.Order.ID); !errors.Is(err, ErrPaymentNotSucceeded) {
		t.Fatalf("err=%v, esperaba ErrPaymentNotSucceeded", err)
	}
}

func TestConfirmPayment_WrongUser(t *testing.T) {
	t.Parallel()

	uid := uuid.NewString()
	svc := newTestService(newStubRepo(), seedCart(uid), &fakeGateway{}, &fakeNotifier{})

	res, err := svc.Checkout(context.Background(), uid, validCheckout())
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if _, err := svc.ConfirmPayment(context.Background(), uuid.NewString(), res.Order.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, esperaba ErrNotFound", err)
	}
}

func TestResendEmails_AlreadySucceededRedispatches(t *testing.T) {
	t.Parallel()

	uid := uuid.NewString()
	repo := newStubRepo()
	carts := seedCart(uid)
	n := &fakeNotifier{}
	svc := newTestService(repo, carts, &fakeGateway{}, n)

	o := markPaid(t, svc, uid)

	again, err := svc.ResendEmails(context.Background(), uid, o.ID)
	if err != nil {
		t.Fatalf("ResendEmails: %v", err)
	}
	if again.PaymentStatus != PaymentSucceeded {
		t.Fatalf("payment_status=%s", again.PaymentStatus)
	}
	// los correos se reenvían, pero la transición no se repite
	if n.confirmations != 2 || n.adminNotices != 2 {
		t.Fatalf("reenvíos=%d/%d, esperaba 2/2", n.confirmations, n.adminNotices)
	}
	if carts.cleared != 1 {
		t.Fatalf("cart clears=%d, esperaba 1", carts.cleared)
	}
	if h := repo.history[o.ID]; len(h) != 1 {
		t.Fatalf("history rows=%d, esperaba 1", len(h))
	}
}

func TestResendEmails_PendingPromotedViaGateway(t *testing.T) {
	t.Parallel()

	uid := uuid.NewString()
	repo := newStubRepo()
	carts := seedCart(uid)
	n := &fakeNotifier{}
	gw := &fakeGateway{retrieveStatus: payment.IntentSucceeded}
	svc := newTestService(repo, carts, gw, n)

	res, err := svc.Checkout(context.Background(), uid, validCheckout())
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	// webhook perdido: el reenvío re-consulta el intent y promueve la orden
	o, err := svc.ResendEmails(context.Background(), uid, res.Order.ID)
	if err != nil {
		t.Fatalf("ResendEmails: %v", err)
	}
	if o.PaymentStatus != PaymentSucceeded || o.Status != StatusProcessing {
		t.Fatalf("estado=%s/%s", o.Status, o.PaymentStatus)
	}
	if n.confirmations != 1 || carts.cleared != 1 {
		t.Fatalf("side effects: confirms=%d clears=%d", n.confirmations, carts.cleared)
	}
}

func TestResendEmails_PaymentStillPending(t *testing.T) {
	t.Parallel()

	uid := uuid.NewString()
	gw := &fakeGateway{retrieveStatus: "requires_payment_method"}
	svc := newTestService(newStubRepo(), seedCart(uid), gw, &fakeNotifier{})

	res, err := svc.Checkout(context.Background(), uid, validCheckout())
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if _, err := svc.ResendEmails(context.Background(), uid, res.Order.ID); !errors.Is(err, ErrPaymentNotSucceeded) {
		t.Fatalf("err=%v, esperaba ErrPaymentNotSucceeded", err)
	}
}

func TestResendEmails_WrongUser(t *testing.T) {
	t.Parallel()

	uid := uuid.NewString()
	svc := newTestService(newStubRepo(), seedCart(uid), &fakeGateway{}, &fakeNotifier{})

	o := markPaid(t, svc, uid)
	if _, err := svc.ResendEmails(context.Background(), uuid.NewString(), o.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, esperaba ErrNotFound", err)
	}
}

func TestUpdateStatus_AppendsHistoryAndNotifies(t *testing.T) {
	t.Parallel()

	uid := uuid.NewString()
	repo := newStubRepo()
	n := &fakeNotifier{}
	svc := newTestService(repo, seedCart(uid), &fakeGateway{}, n)

	o := markPaid(t, svc, uid)

	updated, err := svc.UpdateStatus(context.Background(), o.ID, StatusShipped, "admin-1")
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if updated.Status != StatusShipped {
		t.Fatalf("status=%s", updated.Status)
	}
	if n.statusUpdates != 1 {
		t.Fatalf("statusUpdates=%d", n.statusUpdates)
	}
	h := repo.history[o.ID]
	if len(h) != 2 { // processing (system) + shipped (admin)
		t.Fatalf("history rows=%d, esperaba 2", len(h))
	}
	last := h[len(h)-1]
	if last.ChangedBy != "admin-1" || last.ChangedByType != "admin" {
		t.Fatalf("history=%+v", last)
	}
	if last.Notes != "Status changed from processing to shipped" {
		t.Fatalf("notes=%q", last.Notes)
	}
}

func TestUpdateStatus_SameStatusIsNoop(t *testing.T) {
	t.Parallel()

	uid := uuid.NewString()
	repo := newStubRepo()
	n := &fakeNotifier{}
	svc := newTestService(repo, seedCart(uid), &fakeGateway{}, n)

	o := markPaid(t, svc, uid)
	before := len(repo.history[o.ID])

	updated, err := svc.UpdateStatus(context.Background(), o.ID, StatusProcessing, "admin-1")
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if updated.Status != StatusProcessing {
		t.Fatalf("status=%s", updated.Status)
	}
	if got := len(repo.history[o.ID]); got != before {
		t.Fatalf("history creció de %d a %d en un no-op", before, got)
	}
	if n.statusUpdates != 0 {
		t.Fatalf("statusUpdates=%d en un no-op", n.statusUpdates)
	}
}

func TestUpdateStatus_FreeFormTransitions(t *testing.T) {
	t.Parallel()

	uid := uuid.NewString()
	repo := newStubRepo()
	svc := newTestService(repo, seedCart(uid), &fakeGateway{}, &fakeNotifier{})

	o := markPaid(t, svc, uid)

	// delivered -> pending is odd but allowed; the history row records it
	for _, st := range []string{StatusDelivered, StatusPending, StatusCancelled} {
		if _, err := svc.UpdateStatus(context.Background(), o.ID, st, "admin-1"); err != nil {
			t.Fatalf("UpdateStatus(%s): %v", st, err)
		}
	}
	if got := len(repo.history[o.ID]); got != 4 {
		t.Fatalf("history rows=%d, esperaba 4", got)
	}
}

func TestUpdateStatus_InvalidStatus(t *testing.T) {
	t.Parallel()

	uid := uuid.NewString()
	svc := newTestService(newStubRepo(), seedCart(uid), &fakeGateway{}, &fakeNotifier{})

	o := markPaid(t, svc, uid)
	if _, err := svc.UpdateStatus(context.Background(), o.ID, "wtf", "admin-1"); !errors.Is(err, ErrValidation) {
		t.Fatalf("err=%v, esperaba ErrValidation", err)
	}
}

func TestGet_ScopedToOwner(t *testing.T) {
	t.Parallel()

	uid := uuid.NewString()
	svc := newTestService(newStubRepo(), seedCart(uid), &fakeGateway{}, &fakeNotifier{})

	res, err := svc.Checkout(context.Background(), uid, validCheckout())
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	o, lines, err := svc.Get(context.Background(), uid, res.Order.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if o.ID != res.Order.ID || len(lines) != 2 {
		t.Fatalf("o=%s lines=%d", o.ID, len(lines))
	}
	if _, _, err := svc.Get(context.Background(), uuid.NewString(), res.Order.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, esperaba ErrNotFound para otro usuario", err)
	}
}
