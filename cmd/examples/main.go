package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/veiloq/binance-connector/pkg/exchanges/binance"
	"github.com/veiloq/binance-connector/pkg/exchanges/interfaces"
	"github.com/veiloq/binance-connector/pkg/logging"
)

func main() {
	logger := logging.NewZapLogger(
		logging.WithDevelopmentMode(),
		logging.WithLevel(logging.DEBUG),
	)

	options := interfaces.NewExchangeOptions()
	options.Market = interfaces.MarketSpot
	options.LogLevel = "debug"

	// API credentials (optional for public endpoints)
	options.APIKey = os.Getenv("BINANCE_API_KEY")
	options.APISecret = os.Getenv("BINANCE_API_SECRET")

	connector, err := binance.New(options)
	if err != nil {
		logger.Error("failed to create connector", logging.Error(err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Fetch an hour of minute candles; pagination is handled internally.
	logger.Info("fetching historical klines")
	klines, err := connector.HistoryKlines(ctx, "BTCUSDT", "1m",
		time.Now().Add(-1*time.Hour), time.Now())
	if err != nil {
		logger.Error("failed to get klines", logging.Error(err))
		os.Exit(1)
	}

	for _, k := range klines {
		logger.Info("historical kline",
			logging.String("open_time", k.OpenTime.Format(time.RFC3339)),
			logging.String("open", k.Open.String()),
			logging.String("close", k.Close.String()),
			logging.String("volume", k.Volume.String()),
		)
	}

	logger.Info("fetching current ticker")
	tickers, err := connector.Ticker24h(ctx, "BTCUSDT")
	if err != nil {
		logger.Error("failed to get ticker", logging.Error(err))
		os.Exit(1)
	}
	logger.Info("current ticker",
		logging.String("symbol", tickers[0].Symbol),
		logging.String("last_price", tickers[0].LastPrice.String()),
		logging.String("24h_volume", tickers[0].Volume24h.String()),
	)

	// Subscribe to real-time aggregated trades.
	logger.Info("opening market stream")
	mgr, err := connector.NewStream(ctx, interfaces.ScopeMarket)
	if err != nil {
		logger.Error("failed to open stream", logging.Error(err))
		os.Exit(1)
	}
	defer mgr.Close()

	if err := mgr.Subscribe([]string{"BTCUSDT", "ETHUSDT"}, "aggTrade"); err != nil {
		logger.Error("failed to subscribe", logging.Error(err))
		os.Exit(1)
	}

	go func() {
		for ev := range mgr.Events() {
			logger.Info("stream event",
				logging.String("type", ev.Type),
				logging.String("symbol", ev.Symbol),
				logging.Int("bytes", len(ev.Data)),
			)
		}
	}()

	// Order placement needs credentials; skipped when none are configured.
	if options.APIKey != "" {
		logger.Info("placing limit order")
		ack, err := connector.NewOrder(ctx, interfaces.OrderRequest{
			Symbol:   "BTCUSDT",
			Side:     interfaces.SideBuy,
			Type:     interfaces.OrderTypeLimit,
			Quantity: decimal.RequireFromString("0.001"),
			Price:    decimal.RequireFromString("10000.00"),
		})
		if err != nil {
			logger.Error("failed to place order", logging.Error(err))
		} else {
			logger.Info("order placed",
				logging.Int64("order_id", ack.OrderID),
				logging.String("status", ack.Status),
			)
			if err := connector.CancelOrder(ctx, "BTCUSDT", ack.OrderID); err != nil {
				logger.Error("failed to cancel order", logging.Error(err))
			}
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("running... press Ctrl+C to exit")
	<-sigChan

	logger.Info("shutting down")
}
