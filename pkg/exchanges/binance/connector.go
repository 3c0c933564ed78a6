// Package binance implements the exchange connector for Binance spot and
// USD-M futures ("swap") markets: signed REST calls, paginated kline
// history, order placement, account queries and WebSocket stream
// management.
package binance

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/veiloq/binance-connector/pkg/common"
	"github.com/veiloq/binance-connector/pkg/exchanges/interfaces"
	"github.com/veiloq/binance-connector/pkg/logging"
	"github.com/veiloq/binance-connector/pkg/ratelimit"
)

// Venue endpoints, resolved once per connector from the selected market.
const (
	spotRESTBase = "https://api.binance.com"
	spotWSBase   = "wss://stream.binance.com:9443/ws"
	swapRESTBase = "https://fapi.binance.com"
	swapWSBase   = "wss://fstream.binance.com/ws"
)

// Connector is the Binance exchange client facade. It owns the credentials,
// the resolved endpoint set and the REST transport. A single Connector is
// safe to share across goroutines for REST operations; each stream manager
// it creates owns exactly one connection.
type Connector struct {
	options  *interfaces.ExchangeOptions
	restBase string
	wsBase   string

	http   common.HTTPClient
	signer *signer
	clock  clock.Clock
	logger logging.Logger
}

// New creates a connector for the configured market. Construction is purely
// local: credentials are validated for shape, endpoints are resolved, and
// no network I/O happens until the first operation.
//
// Example:
//
//	options := interfaces.NewExchangeOptions()
//	options.APIKey = os.Getenv("BINANCE_API_KEY")
//	options.APISecret = os.Getenv("BINANCE_API_SECRET")
//	options.Market = interfaces.MarketSwap
//	connector, err := binance.New(options)
func New(options *interfaces.ExchangeOptions) (*Connector, error) {
	if options == nil {
		options = interfaces.NewExchangeOptions()
	}
	if !options.Market.Valid() {
		return nil, fmt.Errorf("%w: %q", interfaces.ErrInvalidMarket, options.Market)
	}
	applyDefaults(options)

	restBase, wsBase := resolveEndpoints(options)

	logger := logging.NewZapLogger(
		logging.WithLevel(logging.ParseLevel(options.LogLevel)),
	).WithFields(logging.String("exchange", "binance"), logging.String("market", string(options.Market)))

	clk := clock.New()

	httpClient := common.NewHTTPClient(&common.ClientConfig{
		BaseURL: restBase,
		APIKey:  options.APIKey,
		Timeout: options.HTTPTimeout,
		RateLimit: ratelimit.Rate{
			Limit:    options.MaxRequestsPerSecond,
			Interval: time.Second,
		},
		MaxRetries:        options.MaxRetries,
		RetryDelay:        time.Second,
		RateLimitStatuses: []int{429, 418},
		RateLimitCodes:    []int{-1003},
		Logger:            logger,
	})

	return &Connector{
		options:  options,
		restBase: restBase,
		wsBase:   wsBase,
		http:     httpClient,
		signer:   newSigner(options.APISecret, clk, options.RecvWindow),
		clock:    clk,
		logger:   logger,
	}, nil
}

func applyDefaults(options *interfaces.ExchangeOptions) {
	defaults := interfaces.NewExchangeOptions()
	if options.RecvWindow <= 0 {
		options.RecvWindow = defaults.RecvWindow
	}
	if options.HTTPTimeout <= 0 {
		options.HTTPTimeout = defaults.HTTPTimeout
	}
	if options.MaxRequestsPerSecond <= 0 {
		options.MaxRequestsPerSecond = defaults.MaxRequestsPerSecond
	}
	if options.MaxRetries == 0 {
		options.MaxRetries = defaults.MaxRetries
	}
	if options.WSReconnectInterval <= 0 {
		options.WSReconnectInterval = defaults.WSReconnectInterval
	}
	if options.WSHeartbeatInterval <= 0 {
		options.WSHeartbeatInterval = defaults.WSHeartbeatInterval
	}
}

func resolveEndpoints(options *interfaces.ExchangeOptions) (rest, ws string) {
	switch options.Market {
	case interfaces.MarketSwap:
		rest, ws = swapRESTBase, swapWSBase
	default:
		rest, ws = spotRESTBase, spotWSBase
	}
	if options.RESTBaseURL != "" {
		rest = options.RESTBaseURL
	}
	if options.WSBaseURL != "" {
		ws = options.WSBaseURL
	}
	return rest, ws
}

// path picks the REST path for the connector's market, mirroring the
// spot/futures path pairs of the exchange API.
func (c *Connector) path(spot, swap string) string {
	if c.options.Market == interfaces.MarketSwap {
		return swap
	}
	return spot
}

// requireAuth guards operations that need a signed request.
func (c *Connector) requireAuth() error {
	if c.options.APIKey == "" || c.options.APISecret == "" {
		return interfaces.ErrInvalidCredentials
	}
	return nil
}

// requireSwap guards futures-only operations.
func (c *Connector) requireSwap() error {
	if c.options.Market != interfaces.MarketSwap {
		return interfaces.ErrMarketOnlySwap
	}
	return nil
}

// Market returns the venue this connector is bound to.
func (c *Connector) Market() interfaces.Market {
	return c.options.Market
}
