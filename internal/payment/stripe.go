package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// StripeClient implements Gateway against the provider's REST API.
type StripeClient struct {
	HTTP      *http.Client
	BaseURL   string
	SecretKey string
}

func NewStripeClient(baseURL, secretKey string) *StripeClient {
	return &StripeClient{
		HTTP:      &http.Client{Timeout: 5 * time.Second},
		BaseURL:   strings.TrimRight(baseURL, "/"),
		SecretKey: secretKey,
	}
}

func (c *StripeClient) CreateIntent(ctx context.Context, amountMinor int64, currency string, metadata map[string]string) (*Intent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amountMinor, 10))
	form.Set("currency", currency)
	form.Set("automatic_payment_methods[enabled]", "true")
	for k, v := range metadata {
		form.Set("metadata["+k+"]", v)
	}

	req, _ := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/v1/payment_intents", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)

	return c.do(req)
}

func (c *StripeClient) RetrieveIntent(ctx context.Context, id string) (*Intent, error) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet,
		c.BaseURL+"/v1/payment_intents/"+url.PathEscape(id), nil)
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)

	return c.do(req)
}

func (c *StripeClient) do(req *http.Request) (*Intent, error) {
	res, err := c.HTTP.Do(req)
	if err != nil {
		return nil, &GatewayError{Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, &GatewayError{Err: fmt.Errorf("%s: %s", res.Status, strings.TrimSpace(string(body)))}
	}
	var in Intent
	if err := json.NewDecoder(res.Body).Decode(&in); err != nil {
		return nil, &GatewayError{Err: err}
	}
	return &in, nil
}
