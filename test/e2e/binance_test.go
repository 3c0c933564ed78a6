package e2e

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/veiloq/binance-connector/pkg/exchanges/binance"
	"github.com/veiloq/binance-connector/pkg/exchanges/interfaces"
)

// TestBinanceConnector_E2E exercises the connector against the live
// exchange. Public endpoints run without credentials; authenticated
// sections are skipped unless credentials are present.
//
// To run:
// BINANCE_API_KEY=your_api_key BINANCE_API_SECRET=your_api_secret go test -v ./test/e2e
func TestBinanceConnector_E2E(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}

	apiKey := os.Getenv("BINANCE_API_KEY")
	apiSecret := os.Getenv("BINANCE_API_SECRET")

	options := interfaces.NewExchangeOptions()
	options.Market = interfaces.MarketSpot
	options.APIKey = apiKey
	options.APISecret = apiSecret
	options.LogLevel = "debug"

	connector, err := binance.New(options)
	require.NoError(t, err, "failed to create connector")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	t.Run("HistoryKlines", func(t *testing.T) {
		klines, err := connector.HistoryKlines(ctx, "BTCUSDT", "1m",
			time.Now().Add(-1*time.Hour), time.Now())
		require.NoError(t, err, "failed to get klines")
		require.NotEmpty(t, klines, "no klines returned")
		for i := 1; i < len(klines); i++ {
			require.True(t, klines[i].OpenTime.After(klines[i-1].OpenTime),
				"klines out of order")
		}
	})

	t.Run("HistoryKlinesPaginated", func(t *testing.T) {
		// Two days of minute candles forces multiple pages.
		start := time.Now().Add(-48 * time.Hour)
		klines, err := connector.HistoryKlines(ctx, "BTCUSDT", "1m", start, time.Now())
		require.NoError(t, err, "failed to get paginated klines")
		require.Greater(t, len(klines), 1000, "expected more than one page of klines")
	})

	t.Run("ExchangeInfo", func(t *testing.T) {
		info, err := connector.ExchangeInfo(ctx)
		require.NoError(t, err, "failed to get exchange info")
		require.NotEmpty(t, info.Symbols)
	})

	t.Run("Ticker24h", func(t *testing.T) {
		tickers, err := connector.Ticker24h(ctx, "BTCUSDT")
		require.NoError(t, err, "failed to get ticker")
		require.Len(t, tickers, 1)
		require.Equal(t, "BTCUSDT", tickers[0].Symbol)
		require.True(t, tickers[0].LastPrice.Sign() > 0)
	})

	t.Run("MarketStream", func(t *testing.T) {
		mgr, err := connector.NewStream(ctx, interfaces.ScopeMarket)
		require.NoError(t, err, "failed to open market stream")
		defer mgr.Close()

		require.NoError(t, mgr.Subscribe([]string{"BTCUSDT"}, "aggTrade"))

		select {
		case ev := <-mgr.Events():
			require.Equal(t, "aggTrade", ev.Type)
			require.Equal(t, "BTCUSDT", ev.Symbol)
		case <-time.After(30 * time.Second):
			t.Fatal("no stream event within 30s")
		}
	})

	if apiKey == "" || apiSecret == "" {
		t.Log("no credentials configured, skipping authenticated sections")
		return
	}

	t.Run("Balances", func(t *testing.T) {
		_, err := connector.Balances(ctx)
		require.NoError(t, err, "failed to get balances")
	})

	t.Run("UserDataStream", func(t *testing.T) {
		mgr, err := connector.NewStream(ctx, interfaces.ScopeUserData)
		require.NoError(t, err, "failed to open user data stream")
		require.NoError(t, mgr.Close())
	})
}
