package interfaces

import (
	"errors"
	"fmt"
)

// Error taxonomy. Construction failures (ErrInvalidMarket,
// ErrInvalidCredentials) are fatal and never retried. Per-call validation
// failures (ErrInvalidSymbol, ErrInvalidInterval, ErrInvalidTimeRange,
// ErrInvalidOrder) are detected before any network I/O. Transport-level
// failures are retried within policy and then surfaced as *TransportError;
// business rejections arrive as *ExchangeError and are never retried.
var (
	// ErrInvalidMarket is returned when a connector is constructed with a
	// market other than spot or swap.
	ErrInvalidMarket = errors.New("invalid market selector")

	// ErrInvalidCredentials is returned when an authenticated operation is
	// attempted without a configured API key and secret.
	ErrInvalidCredentials = errors.New("missing or invalid API credentials")

	// ErrInvalidSymbol is returned for an empty or malformed trading pair.
	ErrInvalidSymbol = errors.New("invalid trading pair symbol")

	// ErrInvalidInterval is returned for an unsupported kline interval.
	ErrInvalidInterval = errors.New("invalid kline interval")

	// ErrInvalidTimeRange is returned when the end of a requested range
	// precedes its start.
	ErrInvalidTimeRange = errors.New("invalid time range")

	// ErrInvalidOrder is returned when an order request fails local
	// validation before signing.
	ErrInvalidOrder = errors.New("invalid order request")

	// ErrRateLimited is returned after the retry budget for rate-limit
	// responses has been exhausted.
	ErrRateLimited = errors.New("exchange rate limit exceeded")

	// ErrAmbiguousOrder is returned when an order send fails after the
	// request may already have reached the exchange. The order's fate is
	// unknown; the connector never resends it.
	ErrAmbiguousOrder = errors.New("order outcome ambiguous")

	// ErrInvalidChannel is returned for an empty or malformed stream
	// channel name.
	ErrInvalidChannel = errors.New("invalid stream channel")

	// ErrInvalidScope is returned when a stream is requested for an
	// unknown scope.
	ErrInvalidScope = errors.New("invalid stream scope")

	// ErrStreamClosed is returned from stream operations after the manager
	// has been closed by the caller.
	ErrStreamClosed = errors.New("stream manager closed")

	// ErrMarketOnlySwap is returned when a futures-only operation is called
	// on a spot connector.
	ErrMarketOnlySwap = errors.New("operation available only on swap market")
)

// ExchangeError is a business-level rejection from the exchange, carrying
// the venue's numeric error code and message verbatim. It is surfaced to
// the caller without retry.
type ExchangeError struct {
	Code    int
	Message string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange rejected request: code=%d msg=%q", e.Code, e.Message)
}

// TransportError is a network or HTTP-level failure that survived the retry
// policy. It wraps the last underlying error.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func wrapInvalidOrder(detail string) error {
	return fmt.Errorf("%w: %s", ErrInvalidOrder, detail)
}
