package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/safar/go-shop-api/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPayPalTestServer(t *testing.T, tokenFetches *int32, expiresIn int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/oauth2/token":
			atomic.AddInt32(tokenFetches, 1)
			user, pass, ok := r.BasicAuth()
			require.True(t, ok)
			assert.Equal(t, "client", user)
			assert.Equal(t, "secret", pass)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": "tok_abc", "expires_in": expiresIn,
			})
		case "/v2/checkout/orders/ord_1":
			assert.Equal(t, "Bearer tok_abc", r.Header.Get("Authorization"))
			json.NewEncoder(w).Encode(map[string]interface{}{
				"id": "ord_1", "status": "COMPLETED",
				"purchase_units": []map[string]interface{}{{
					"payments": map[string]interface{}{
						"captures": []map[string]interface{}{{
							"id": "cap_1", "status": "COMPLETED",
							"amount": map[string]string{"value": "42.00"},
						}},
					},
				}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
}

func newTestPayPal(baseURL string) *PayPalProvider {
	return NewPayPalProvider(config.PayPalConfig{
		BaseURL:            baseURL,
		ClientID:           "client",
		ClientSecret:       "secret",
		TokenRefreshMargin: 5 * time.Minute,
	})
}

func TestPayPalTokenCached(t *testing.T) {
	var fetches int32
	server := newPayPalTestServer(t, &fetches, 3600)
	defer server.Close()

	p := newTestPayPal(server.URL)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := p.Verify(ctx, "ord_1")
		require.NoError(t, err)
		assert.True(t, result.Verified)
		assert.Equal(t, "cap_1", result.TxnID)
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(&fetches), "token should be fetched once and cached")
}

func TestPayPalTokenRefreshedBeforeExpiry(t *testing.T) {
	var fetches int32
	// Expiry shorter than the refresh margin: every call refetches.
	server := newPayPalTestServer(t, &fetches, 60)
	defer server.Close()

	p := newTestPayPal(server.URL)
	ctx := context.Background()

	_, err := p.Verify(ctx, "ord_1")
	require.NoError(t, err)
	_, err = p.Verify(ctx, "ord_1")
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&fetches))
}

func TestPayPalTokenFailureIsTransport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := newTestPayPal(server.URL).Verify(context.Background(), "ord_1")
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, "token", transportErr.Op)
}

func TestPayPalNotAWebhookVerifier(t *testing.T) {
	var p Provider = newTestPayPal("")
	_, ok := p.(WebhookVerifier)
	assert.False(t, ok, "paypal notifications are unsigned; verification is poll-based")
}
