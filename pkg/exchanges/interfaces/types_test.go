package interfaces

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMarketValid(t *testing.T) {
	assert.True(t, MarketSpot.Valid())
	assert.True(t, MarketSwap.Valid())
	assert.False(t, Market("margin").Valid())
	assert.False(t, Market("").Valid())
}

func TestOrderRequestValidate(t *testing.T) {
	valid := OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     SideBuy,
		Type:     OrderTypeMarket,
		Quantity: decimal.NewFromInt(1),
	}
	assert.NoError(t, valid.Validate())

	limit := valid
	limit.Type = OrderTypeLimit
	limit.Price = decimal.RequireFromString("50000")
	assert.NoError(t, limit.Validate())

	cases := []struct {
		name   string
		mutate func(*OrderRequest)
	}{
		{"empty symbol", func(r *OrderRequest) { r.Symbol = "" }},
		{"bad side", func(r *OrderRequest) { r.Side = "HOLD" }},
		{"bad type", func(r *OrderRequest) { r.Type = "STOP" }},
		{"zero quantity", func(r *OrderRequest) { r.Quantity = decimal.Zero }},
		{"negative quantity", func(r *OrderRequest) { r.Quantity = decimal.NewFromInt(-1) }},
		{"limit without price", func(r *OrderRequest) { r.Type = OrderTypeLimit }},
		{"limit with negative price", func(r *OrderRequest) {
			r.Type = OrderTypeLimit
			r.Price = decimal.NewFromInt(-5)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := valid
			tc.mutate(&req)
			err := req.Validate()
			assert.True(t, errors.Is(err, ErrInvalidOrder), "expected ErrInvalidOrder, got %v", err)
		})
	}
}

func TestNewExchangeOptionsDefaults(t *testing.T) {
	options := NewExchangeOptions()
	assert.Equal(t, MarketSpot, options.Market)
	assert.Positive(t, options.RecvWindow)
	assert.Positive(t, options.HTTPTimeout)
	assert.Positive(t, options.MaxRequestsPerSecond)
	assert.Positive(t, options.WSHeartbeatInterval)
}
