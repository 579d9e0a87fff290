package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/safar/go-shop-api/internal/config"
	"github.com/safar/go-shop-api/internal/models"
	"github.com/shopspring/decimal"
)

// PayPalProvider integrates the redirect-based checkout flow. Its API requires
// a bearer token obtained via client credentials; the token is cached and
// refreshed before the declared expiry so a settlement never runs into a token
// dying mid-operation. PayPal notifications are not HMAC-signed here, so the
// provider does not implement WebhookVerifier; reconciliation uses Verify.
type PayPalProvider struct {
	cfg    config.PayPalConfig
	client *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewPayPalProvider(cfg config.PayPalConfig) *PayPalProvider {
	return &PayPalProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *PayPalProvider) Name() string {
	return models.ProviderPayPal
}

func (p *PayPalProvider) accessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && time.Now().Before(p.tokenExpiry.Add(-p.cfg.TokenRefreshMargin)) {
		return p.token, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.BaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", &TransportError{Provider: p.Name(), Op: "token", Err: err}
	}
	req.SetBasicAuth(p.cfg.ClientID, p.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", &TransportError{Provider: p.Name(), Op: "token", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &TransportError{Provider: p.Name(), Op: "token",
			Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", &TransportError{Provider: p.Name(), Op: "token",
			Err: fmt.Errorf("decode response: %w", err)}
	}

	p.token = body.AccessToken
	p.tokenExpiry = time.Now().Add(time.Duration(body.ExpiresIn) * time.Second)
	return p.token, nil
}

type paypalOrder struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Links  []struct {
		Rel  string `json:"rel"`
		Href string `json:"href"`
	} `json:"links"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
				Amount struct {
					Value string `json:"value"`
				} `json:"amount"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

func (p *PayPalProvider) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	body := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{{
			"reference_id": fmt.Sprintf("order-%d", req.OrderID),
			"amount": map[string]string{
				"currency_code": req.Currency,
				"value":         req.Amount.StringFixed(2),
			},
		}},
	}

	var order paypalOrder
	if err := p.do(ctx, http.MethodPost, "/v2/checkout/orders", body, &order); err != nil {
		return nil, err
	}

	result := &InitiateResult{ExternalPaymentID: order.ID}
	for _, link := range order.Links {
		if link.Rel == "approve" {
			result.RedirectURL = link.Href
		}
	}
	if result.RedirectURL == "" {
		return nil, &DeclineError{Provider: p.Name(), Reason: "no approval link in response"}
	}
	return result, nil
}

func (p *PayPalProvider) Verify(ctx context.Context, externalPaymentID string) (*VerifyResult, error) {
	var order paypalOrder
	if err := p.do(ctx, http.MethodGet, "/v2/checkout/orders/"+externalPaymentID, nil, &order); err != nil {
		return nil, err
	}

	result := &VerifyResult{
		Verified: order.Status == "COMPLETED",
		Status:   order.Status,
	}
	for _, unit := range order.PurchaseUnits {
		for _, capture := range unit.Payments.Captures {
			result.TxnID = capture.ID
			if amount, err := decimal.NewFromString(capture.Amount.Value); err == nil {
				result.Amount = amount
			}
		}
	}
	return result, nil
}

func (p *PayPalProvider) Refund(ctx context.Context, externalTxnID string, amount *decimal.Decimal) (*RefundResult, error) {
	body := map[string]interface{}{}
	if amount != nil {
		body["amount"] = map[string]string{"value": amount.StringFixed(2), "currency_code": "USD"}
	}

	var refund struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := p.do(ctx, http.MethodPost, "/v2/payments/captures/"+externalTxnID+"/refund", body, &refund); err != nil {
		return nil, err
	}
	if refund.Status != "COMPLETED" && refund.Status != "PENDING" {
		return nil, &DeclineError{Provider: p.Name(), Reason: "refund status " + refund.Status}
	}

	return &RefundResult{RefundID: refund.ID}, nil
}

func (p *PayPalProvider) do(ctx context.Context, method, path string, body, out interface{}) error {
	token, err := p.accessToken(ctx)
	if err != nil {
		return err
	}

	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		if err := json.NewEncoder(reqBody).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, reqBody)
	if err != nil {
		return &TransportError{Provider: p.Name(), Op: path, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return &TransportError{Provider: p.Name(), Op: path, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
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
