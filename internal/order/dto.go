package order

// CheckoutRequest is the order-creation payload. Shipping fields fall back
// to their billing counterparts when blank.
type CheckoutRequest struct {
	BillingFirstName string `json:"billing_first_name"`
	BillingLastName  string `json:"billing_last_name"`
	BillingEmail     string `json:"billing_email"`
	BillingPhone     string `json:"billing_phone"`
	BillingAddress   string `json:"billing_address"`
	BillingCity      string `json:"billing_city"`
	BillingPostcode  string `json:"billing_postcode"`
	BillingCountry   string `json:"billing_country"`

	ShippingFirstName string `json:"shipping_first_name"`
	ShippingLastName  string `json:"shipping_last_name"`
	ShippingAddress   string `json:"shipping_address"`
	ShippingCity      string `json:"shipping_city"`
	ShippingPostcode  string `json:"shipping_postcode"`
	ShippingCountry   string `json:"shipping_country"`

	ShippingMethod string `json:"shipping_method"`
	ShippingCost   string `json:"shipping_cost"`
	PaymentMethod  string `json:"payment_method"` // only "card"

	IdempotencyKey string `json:"-"`
}

// CheckoutResult is returned to the client so it can complete the payment.
type CheckoutResult struct {
	Order        *Order `json:"order"`
	Lines        []Line `json:"items"`
	ClientSecret string `json:"client_secret"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}
