package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/safar/go-shop-api/internal/config"
	"github.com/safar/go-shop-api/internal/models"
	"github.com/shopspring/decimal"
)

// StripeProvider integrates the card-intent flow: initiation returns a client
// secret, webhooks arrive HMAC-SHA256 signed.
type StripeProvider struct {
	cfg    config.StripeConfig
	client *http.Client
}

func NewStripeProvider(cfg config.StripeConfig) *StripeProvider {
	return &StripeProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *StripeProvider) Name() string {
	return models.ProviderStripe
}

type stripeIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
	LatestCharge string `json:"latest_charge"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	Error        *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *StripeProvider) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	body := map[string]interface{}{
		"amount":   req.Amount.Mul(decimal.NewFromInt(100)).IntPart(),
		"currency": req.Currency,
		"metadata": req.Metadata,
	}

	var intent stripeIntent
	if err := p.do(ctx, http.MethodPost, "/v1/payment_intents", body, &intent); err != nil {
		return nil, err
	}
	if intent.Error != nil {
		return nil, &DeclineError{Provider: p.Name(), Reason: intent.Error.Message}
	}

	return &InitiateResult{
		ExternalPaymentID: intent.ID,
		ClientSecret:      intent.ClientSecret,
	}, nil
}

func (p *StripeProvider) Verify(ctx context.Context, externalPaymentID string) (*VerifyResult, error) {
	var intent stripeIntent
	if err := p.do(ctx, http.MethodGet, "/v1/payment_intents/"+externalPaymentID, nil, &intent); err != nil {
		return nil, err
	}

	amount := decimal.NewFromInt(intent.Amount).Div(decimal.NewFromInt(100))
	return &VerifyResult{
		Verified: intent.Status == "succeeded",
		Status:   intent.Status,
		TxnID:    intent.LatestCharge,
		Amount:   amount,
	}, nil
}

func (p *StripeProvider) Refund(ctx context.Context, externalTxnID string, amount *decimal.Decimal) (*RefundResult, error) {
	body := map[string]interface{}{
		"charge": externalTxnID,
	}
	if amount != nil {
		body["amount"] = amount.Mul(decimal.NewFromInt(100)).IntPart()
	}

	var refund struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := p.do(ctx, http.MethodPost, "/v1/refunds", body, &refund); err != nil {
		return nil, err
	}
	if refund.Error != nil {
		return nil, &DeclineError{Provider: p.Name(), Reason: refund.Error.Message}
	}

	return &RefundResult{RefundID: refund.ID}, nil
}

// ConstructEvent verifies the signature header against the raw payload before
// any JSON parsing. The comparison is constant-time.
func (p *StripeProvider) ConstructEvent(payload []byte, sigHeader string) (*Event, error) {
	if sigHeader == "" {
		return nil, ErrInvalidSignature
	}

	expected := ComputeSignature(payload, p.cfg.WebhookSecret)
	provided, err := hex.DecodeString(sigHeader)
	if err != nil {
		return nil, ErrInvalidSignature
	}
	if !hmac.Equal(expected, provided) {
		return nil, ErrInvalidSignature
	}

	var raw struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			PaymentIntent string `json:"payment_intent"`
			Charge        string `json:"charge"`
			Amount        int64  `json:"amount"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("parse webhook payload: %w", err)
	}

	var kind EventKind
	switch raw.Type {
	case "payment_intent.succeeded":
		kind = EventSucceeded
	case "payment_intent.payment_failed":
		kind = EventFailed
	case "payment_intent.canceled":
		kind = EventCanceled
	default:
		return nil, fmt.Errorf("unhandled event type %q", raw.Type)
	}

	return &Event{
		ID:         raw.ID,
		Kind:       kind,
		Provider:   p.Name(),
		ExternalID: raw.Data.PaymentIntent,
		TxnID:      raw.Data.Charge,
		Amount:     decimal.NewFromInt(raw.Data.Amount).Div(decimal.NewFromInt(100)),
	}, nil
}

// ComputeSignature is exported for webhook tests; production signatures come
// from the provider.
func ComputeSignature(payload []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return mac.Sum(nil)
}

func (p *StripeProvider) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody *bytes.Buffer = bytes.NewBuffer(nil)
	if body != nil {
		if err := json.NewEncoder(reqBody).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, reqBody)
	if err != nil {
		return &TransportError{Provider: p.Name(), Op: path, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.SecretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return &TransportError{Provider: p.Name(), Op: path, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPaymentRequired:
		return &DeclineError{Provider: p.Name(), Reason: resp.Status}
	case resp.StatusCode >= 400:
		return &TransportError{Provider: p.Name(), Op: path,
			Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{Provider: p.Name(), Op: path,
			Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
