package api

import (
	"bytes"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/safar/go-shop-api/internal/config"
	"github.com/safar/go-shop-api/internal/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// The webhook ingress must reject before any settlement logic runs, so these
// handlers are exercised without a database: reaching settlement would panic.
func newWebhookTestHandler() *Handler {
	cfg := &config.Config{
		Providers: config.ProvidersConfig{
			Stripe: config.StripeConfig{WebhookSecret: "whsec_test"},
		},
	}
	return &Handler{
		cfg:      cfg,
		registry: payment.NewRegistry(cfg.Providers),
		log:      zap.NewNop(),
	}
}

func postWebhook(h *Handler, provider string, body []byte, sig string) *httptest.ResponseRecorder {
	router := NewRouter(h)
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/"+provider, bytes.NewReader(body))
	if sig != "" {
		req.Header.Set(SignatureHeader, sig)
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func TestWebhookMissingSignatureHeader(t *testing.T) {
	h := newWebhookTestHandler()

	resp := postWebhook(h, "stripe", []byte(`{}`), "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, resp.Body.String(), "missing signature header")
}

func TestWebhookTamperedBodyRejected(t *testing.T) {
	h := newWebhookTestHandler()

	original := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"payment_intent":"pi_1"}}`)
	sig := hex.EncodeToString(payment.ComputeSignature(original, "whsec_test"))

	tampered := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"payment_intent":"pi_2"}}`)
	resp := postWebhook(h, "stripe", tampered, sig)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, resp.Body.String(), "invalid webhook signature")
}

func TestWebhookUnknownProvider(t *testing.T) {
	h := newWebhookTestHandler()

	resp := postWebhook(h, "venmo", []byte(`{}`), "deadbeef")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestWebhookUnsignedProviderRejected(t *testing.T) {
	h := newWebhookTestHandler()

	resp := postWebhook(h, "paypal", []byte(`{}`), "deadbeef")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, resp.Body.String(), "does not deliver signed webhooks")
}

func TestWebhookVerifiedButUnusablePayloadAcked(t *testing.T) {
	h := newWebhookTestHandler()

	payloadBytes := []byte(`{"id":"evt_1","type":"charge.dispute.created"}`)
	sig := hex.EncodeToString(payment.ComputeSignature(payloadBytes, "whsec_test"))

	resp := postWebhook(h, "stripe", payloadBytes, sig)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "ignored")
}
