package payment

import (
	"fmt"
	"strings"
	"sync"

	"github.com/safar/go-shop-api/internal/config"
	"github.com/safar/go-shop-api/internal/database"
	"github.com/safar/go-shop-api/internal/models"
)

// Registry resolves a provider name to a cached Provider instance. Instances
// are built lazily on first use and live for the process lifetime.
type Registry struct {
	cfg config.ProvidersConfig

	mu        sync.Mutex
	providers map[string]Provider
}

func NewRegistry(cfg config.ProvidersConfig) *Registry {
	return &Registry{
		cfg:       cfg,
		providers: make(map[string]Provider),
	}
}

// Resolve matches the name case-insensitively against the closed set of
// supported providers.
func (r *Registry) Resolve(name string) (Provider, error) {
	key := strings.ToLower(strings.TrimSpace(name))

	r.mu.Lock()
	defer r.mu.Unlock()

	if provider, ok := r.providers[key]; ok {
		return provider, nil
	}

	var provider Provider
	switch key {
	case models.ProviderStripe:
		provider = NewStripeProvider(r.cfg.Stripe)
	case models.ProviderPayPal:
		provider = NewPayPalProvider(r.cfg.PayPal)
	default:
		return nil, fmt.Errorf("%w: %q (supported: %s, %s)",
			database.ErrUnsupportedProvider, name, models.ProviderStripe, models.ProviderPayPal)
	}

	r.providers[key] = provider
	return provider, nil
}

// Reset clears the cache. Tests use it to swap provider construction state
// between cases; production code never calls it.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = make(map[string]Provider)
}
