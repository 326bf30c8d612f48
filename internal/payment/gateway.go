// Package payment holds the gateway adapter: intent creation/retrieval and
// webhook event verification against the external payment provider.
package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrBadSignature = errors.New("webhook signature verification failed")
)

// Intent statuses as reported by the gateway.
const (
	IntentSucceeded = "succeeded"
)

// Webhook event types the reconciler reacts to.
const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
)

type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret,omitempty"`
	Status       string `json:"status,omitempty"`
}

// Event is a parsed webhook delivery. IntentID/IntentStatus come from the
// embedded intent object.
type Event struct {
	Type         string
	IntentID     string
	IntentStatus string
}

// GatewayError wraps any failure talking to the external provider so
// callers can map it to a 502 without inspecting transport details.
type GatewayError struct{ Err error }

func (e *GatewayError) Error() string { return "payment gateway: " + e.Err.Error() }
func (e *GatewayError) Unwrap() error { return e.Err }

// Gateway is the injected adapter; one instance per process, passed
// explicitly to whoever needs it.
type Gateway interface {
	CreateIntent(ctx context.Context, amountMinor int64, currency string, metadata map[string]string) (*Intent, error)
	RetrieveIntent(ctx context.Context, id string) (*Intent, error)
}

// signatureTolerance bounds how old a signed webhook timestamp may be.
const signatureTolerance = 5 * time.Minute

// VerifyAndParseEvent checks the signature header against the raw body and
// decodes the event. With an empty secret the payload is parsed without
// verification; the caller is expected to have logged a warning at startup.
// Header format: "t=<unix>,v1=<hex>", signed payload "<t>.<body>".
func VerifyAndParseEvent(payload []byte, sigHeader, secret string) (*Event, error) {
	if secret != "" {
		if err := verifySignature(payload, sigHeader, secret, time.Now()); err != nil {
			return nil, err
		}
	}
	return parseEvent(payload)
}

func verifySignature(payload []byte, sigHeader, secret string, now time.Time) error {
	var ts string
	var sigs []string
	for _, part := range strings.Split(sigHeader, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return ErrBadSignature
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	if d := now.Sub(time.Unix(unix, 0)); d > signatureTolerance || d < -signatureTolerance {
		return ErrBadSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	for _, s := range sigs {
		if hmac.Equal([]byte(expected), []byte(s)) {
			return nil
		}
	}
	return ErrBadSignature
}

func parseEvent(payload []byte) (*Event, error) {
	var raw struct {
		Type string `json:"type"`
		Data struct {
			Object Intent `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}
	if raw.Type == "" {
		return nil, errors.New("invalid webhook payload: missing type")
	}
	return &Event{
		Type:         raw.Type,
		IntentID:     raw.Data.Object.ID,
		IntentStatus: raw.Data.Object.Status,
	}, nil
}
