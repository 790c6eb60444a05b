package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront-payments/internal/domain"
)

func TestNewDependenciesMemoryDriver(t *testing.T) {
	cfg := DefaultConfig()

	deps, err := NewDependencies(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(deps.Close)

	require.NotNil(t, deps.Orders)
	require.NotNil(t, deps.Builder)
	require.NotNil(t, deps.Reconciler)
	require.NotNil(t, deps.OutboxWorker)
	require.NotNil(t, deps.ReviewWorker)
	require.NotNil(t, deps.ClaimSweeper)
	require.Nil(t, deps.Store)
	require.Nil(t, deps.KafkaProducer)

	// Демо-данные засеяны: каталог и купоны отвечают.
	line, err := deps.Inventory.GetLine("mattress-cloud", "queen")
	require.NoError(t, err)
	require.Equal(t, int64(89900), line.PriceMinor)

	coupon, err := deps.Coupons.GetByCode("SLEEP10")
	require.NoError(t, err)
	require.Equal(t, domain.CouponPercentage, coupon.Type)
}

func TestNewDependenciesWithoutDemoData(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SeedDemoData = false

	deps, err := NewDependencies(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(deps.Close)

	_, err = deps.Inventory.GetLine("mattress-cloud", "queen")
	require.ErrorIs(t, err, domain.ErrInventoryNotFound)
}

func TestNewDependenciesGatewayRegistry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Stripe.BaseURL = "http://stripe.local"
	cfg.Stripe.APIKey = "sk_test"
	cfg.Stripe.WebhookSecret = "whsec_test"

	deps, err := NewDependencies(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(deps.Close)

	require.Equal(t, []string{"stripe"}, deps.Gateways.Names())

	_, err = deps.Gateways.Resolve("mercadopago")
	require.ErrorIs(t, err, domain.ErrGatewayNotConfigured)
}
