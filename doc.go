// Package binanceconnector provides connectivity to the Binance spot and
// USD-M futures markets: a signed REST pipeline, transparent kline history
// pagination, order placement with strict no-resend semantics, and
// self-healing WebSocket subscription management.
//
// Core Features:
//
//   - One connector per market (spot or swap) with the venue's endpoints
//     resolved at construction
//   - Market data operations (klines, tickers, exchange info)
//   - Trading and account operations over signed requests
//   - WebSocket streams with automatic reconnection and resubscription
//   - Request-weight rate limiting matching the venue's budget
//
// The entry point is binance.New, which builds a Connector from
// interfaces.ExchangeOptions. Construction is purely local; network I/O
// starts with the first operation.
//
// # Standard Errors
//
// The interfaces package defines the error taxonomy shared by every
// operation, so callers branch with errors.Is and errors.As:
//
//   - ErrInvalidMarket: the options name a market other than spot or swap
//
//   - ErrInvalidCredentials: an authenticated operation was attempted
//     without an API key and secret
//
//   - ErrInvalidSymbol, ErrInvalidInterval, ErrInvalidTimeRange,
//     ErrInvalidOrder: local validation failures, detected before any
//     network I/O
//
//   - *ExchangeError: a business rejection from the venue, carrying its
//     numeric code and message; never retried
//
//   - *TransportError: a network or HTTP failure that survived the retry
//     policy
//
//   - ErrRateLimited: throttling responses exhausted the retry budget
//
//   - ErrAmbiguousOrder: an order send failed after the request may have
//     reached the venue; the order is never resent and the caller must
//     reconcile before re-placing
//
//   - ErrStreamClosed: a stream operation on a closed manager
//
//   - ErrMarketOnlySwap: a futures-only operation on a spot connector
//
// # Examples
//
// Fetching history:
//
//	options := interfaces.NewExchangeOptions()
//	options.Market = interfaces.MarketSpot
//	connector, err := binance.New(options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	klines, err := connector.HistoryKlines(ctx, "BTCUSDT", "1m",
//	    time.Now().Add(-24*time.Hour), time.Now())
//	if err != nil {
//	    switch {
//	    case errors.Is(err, interfaces.ErrInvalidInterval):
//	        log.Fatal("unsupported interval")
//	    case errors.Is(err, interfaces.ErrRateLimited):
//	        log.Fatal("throttled by the venue")
//	    default:
//	        log.Fatal(err)
//	    }
//	}
//	fmt.Printf("retrieved %d candles\n", len(klines))
//
// Streaming:
//
//	mgr, err := connector.NewStream(ctx, interfaces.ScopeMarket)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Close()
//
//	if err := mgr.Subscribe([]string{"BTCUSDT"}, "aggTrade"); err != nil {
//	    log.Fatal(err)
//	}
//	for ev := range mgr.Events() {
//	    fmt.Printf("%s %s: %s\n", ev.Type, ev.Symbol, ev.Data)
//	}
//
// The manager reconnects on its own after connection loss and resends the
// tracked subscription set before reporting Active again; a reconnect shows
// up only as a gap in the event sequence.
//
// Trading:
//
//	ack, err := connector.NewOrder(ctx, interfaces.OrderRequest{
//	    Symbol:   "BTCUSDT",
//	    Side:     interfaces.SideBuy,
//	    Type:     interfaces.OrderTypeLimit,
//	    Quantity: decimal.RequireFromString("0.001"),
//	    Price:    decimal.RequireFromString("50000"),
//	})
//	if errors.Is(err, interfaces.ErrAmbiguousOrder) {
//	    // The venue may or may not have the order; look it up by the
//	    // client order id embedded in the error before re-placing.
//	}
package binanceconnector
