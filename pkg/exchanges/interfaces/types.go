package interfaces

import (
	"time"

	"github.com/shopspring/decimal"
)

// Market selects the Binance trading venue a connector talks to. The venue
// determines both the REST and WebSocket endpoints and which operations are
// available (positions and futures balances exist only on Swap).
type Market string

const (
	// MarketSpot is the spot trading venue (api.binance.com).
	MarketSpot Market = "spot"

	// MarketSwap is the USD-M perpetual futures venue (fapi.binance.com).
	MarketSwap Market = "swap"
)

// Valid reports whether the market is one of the supported venues.
func (m Market) Valid() bool {
	return m == MarketSpot || m == MarketSwap
}

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType is the execution type of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// TimeInForce controls how long a limit order stays active.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
)

// StreamScope selects which WebSocket endpoint a stream manager binds to.
type StreamScope string

const (
	// ScopeMarket is the public market-data stream.
	ScopeMarket StreamScope = "market"

	// ScopeUserData is the authenticated user-data stream, addressed by a
	// listen key obtained over REST.
	ScopeUserData StreamScope = "userdata"
)

// Kline is a single OHLCV candle as returned by the klines endpoints.
// Sequences produced by the connector are strictly ordered by OpenTime
// with no duplicates.
type Kline struct {
	// OpenTime marks the beginning of the candle interval.
	OpenTime time.Time

	// CloseTime marks the end of the candle interval.
	CloseTime time.Time

	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// OrderRequest describes a new order to be placed. Quantity must be
// positive; Price and TimeInForce are required for limit orders and
// ignored for market orders.
type OrderRequest struct {
	// Symbol is the trading pair in exchange format (e.g. "BTCUSDT").
	Symbol string

	Side Side
	Type OrderType

	Quantity decimal.Decimal

	// Price is required when Type is OrderTypeLimit.
	Price decimal.Decimal

	// TimeInForce defaults to GTC for limit orders when empty.
	TimeInForce TimeInForce

	// ClientOrderID is an optional caller-supplied idempotency key.
	// A random one is generated when empty.
	ClientOrderID string
}

// Validate checks the request before it is signed and sent. It returns
// ErrInvalidOrder (wrapped with detail) so callers can test with errors.Is.
func (r OrderRequest) Validate() error {
	if r.Symbol == "" {
		return wrapInvalidOrder("symbol is required")
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return wrapInvalidOrder("side must be BUY or SELL")
	}
	switch r.Type {
	case OrderTypeMarket:
	case OrderTypeLimit:
		if r.Price.Sign() <= 0 {
			return wrapInvalidOrder("limit orders require a positive price")
		}
	default:
		return wrapInvalidOrder("unsupported order type")
	}
	if r.Quantity.Sign() <= 0 {
		return wrapInvalidOrder("quantity must be positive")
	}
	return nil
}

// OrderAck is the terminal result of placing an order. It is returned to
// the caller and not retained by the connector.
type OrderAck struct {
	OrderID       int64
	ClientOrderID string
	Symbol        string

	// Status is the exchange order status (NEW, PARTIALLY_FILLED, FILLED,
	// CANCELED, REJECTED, EXPIRED).
	Status string

	FilledQuantity decimal.Decimal
	AveragePrice   decimal.Decimal

	TransactTime time.Time
}

// Ticker is a 24-hour rolling statistics snapshot for one symbol.
type Ticker struct {
	Symbol             string
	LastPrice          decimal.Decimal
	PriceChangePercent decimal.Decimal
	Volume24h          decimal.Decimal
	CloseTime          time.Time
}

// SymbolPrice is the latest traded price for one symbol.
type SymbolPrice struct {
	Symbol string
	Price  decimal.Decimal
}

// SymbolInfo is the subset of exchange metadata the connector exposes.
type SymbolInfo struct {
	Symbol     string
	BaseAsset  string
	QuoteAsset string
	Status     string
}

// ExchangeInfo is the venue-wide instrument listing.
type ExchangeInfo struct {
	ServerTime time.Time
	Symbols    []SymbolInfo
}

// Balance is a single asset balance from the account snapshot.
type Balance struct {
	Asset  string
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// Position is an open futures position. Only available on MarketSwap.
type Position struct {
	Symbol           string
	PositionAmt      decimal.Decimal
	EntryPrice       decimal.Decimal
	UnrealizedProfit decimal.Decimal
}

// ExchangeOptions configures a connector instance. Credentials are read
// once at construction and are immutable for the connector's lifetime.
type ExchangeOptions struct {
	// APIKey authenticates requests via the X-MBX-APIKEY header.
	// Optional for public market-data endpoints.
	APIKey string

	// APISecret signs authenticated requests. Required together with APIKey
	// for trading and account operations.
	APISecret string

	// Market selects the trading venue and is required.
	Market Market

	// RESTBaseURL and WSBaseURL override the venue defaults. Intended for
	// tests and regional endpoints; leave empty for production.
	RESTBaseURL string
	WSBaseURL   string

	// RecvWindow is the maximum accepted age of a signed request's
	// timestamp, in exchange terms. Defaults to 5 seconds.
	RecvWindow time.Duration

	// HTTPTimeout bounds every REST call. Defaults to 15 seconds.
	HTTPTimeout time.Duration

	// MaxRequestsPerSecond caps the outbound REST request rate.
	MaxRequestsPerSecond int

	// MaxRetries bounds the retry budget for retryable REST failures.
	MaxRetries uint

	// WSReconnectInterval is the initial backoff delay between stream
	// reconnect attempts; the delay grows exponentially up to a bounded cap.
	WSReconnectInterval time.Duration

	// WSHeartbeatInterval is the ping cadence on stream connections. A pong
	// missed for three intervals marks the connection degraded.
	WSHeartbeatInterval time.Duration

	// LogLevel controls connector logging ("debug", "info", "warn", "error").
	LogLevel string
}

// NewExchangeOptions returns options with production defaults. Market and
// credentials still have to be filled in by the caller.
func NewExchangeOptions() *ExchangeOptions {
	return &ExchangeOptions{
		Market:               MarketSpot,
		RecvWindow:           5 * time.Second,
		HTTPTimeout:          15 * time.Second,
		MaxRequestsPerSecond: 10,
		MaxRetries:           3,
		WSReconnectInterval:  5 * time.Second,
		WSHeartbeatInterval:  20 * time.Second,
		LogLevel:             "info",
	}
}
