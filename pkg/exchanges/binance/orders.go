package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/veiloq/binance-connector/pkg/common"
	"github.com/veiloq/binance-connector/pkg/exchanges/interfaces"
	"github.com/veiloq/binance-connector/pkg/logging"
)

// NewOrder places an order and returns the exchange acknowledgment.
//
// The request is validated locally, signed with a fresh timestamp and sent
// exactly once: order placement is never retried, because a retry after an
// ambiguous failure could double-fill. If the transport fails in a way that
// leaves the order's fate unknown (e.g. a timeout after the request may
// have reached the exchange), the returned error wraps ErrAmbiguousOrder
// and the caller must reconcile via order lookup before re-placing.
func (c *Connector) NewOrder(ctx context.Context, req interfaces.OrderRequest) (*interfaces.OrderAck, error) {
	if err := c.requireAuth(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	clientID := req.ClientOrderID
	if clientID == "" {
		clientID = uuid.NewString()
	}

	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("type", string(req.Type))
	params.Set("quantity", req.Quantity.String())
	params.Set("newClientOrderId", clientID)
	params.Set("newOrderRespType", "RESULT")
	if req.Type == interfaces.OrderTypeLimit {
		params.Set("price", req.Price.String())
		tif := req.TimeInForce
		if tif == "" {
			tif = interfaces.TimeInForceGTC
		}
		params.Set("timeInForce", string(tif))
	}

	body, err := c.http.Call(ctx, common.Request{
		Method:  http.MethodPost,
		Path:    c.path("/api/v3/order", "/fapi/v1/order"),
		Params:  params,
		Sign:    c.signer.sign,
		Weight:  1,
		NoRetry: true,
	})
	if err != nil {
		var te *interfaces.TransportError
		if errors.As(err, &te) {
			// The request may have been written before the failure; the
			// order might be live on the exchange.
			return nil, fmt.Errorf("%w (client order id %s): %v", interfaces.ErrAmbiguousOrder, clientID, err)
		}
		return nil, err
	}

	ack, err := parseOrderAck(body)
	if err != nil {
		return nil, fmt.Errorf("decoding order ack: %w", err)
	}

	c.logger.Info("order placed",
		logging.String("symbol", ack.Symbol),
		logging.Int64("order_id", ack.OrderID),
		logging.String("status", ack.Status),
	)
	return ack, nil
}

// CancelOrder cancels a single open order by exchange order id. Unlike
// placement, cancels are retried within the normal policy: a repeated
// cancel of an already-cancelled order is rejected by the exchange, not
// duplicated.
func (c *Connector) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	if err := c.requireAuth(); err != nil {
		return err
	}
	if symbol == "" {
		return fmt.Errorf("%w: empty symbol", interfaces.ErrInvalidSymbol)
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))

	_, err := c.http.Call(ctx, common.Request{
		Method: http.MethodDelete,
		Path:   c.path("/api/v3/order", "/fapi/v1/order"),
		Params: params,
		Sign:   c.signer.sign,
		Weight: 1,
	})
	return err
}

// CancelAllOrders cancels every open order on the symbol.
func (c *Connector) CancelAllOrders(ctx context.Context, symbol string) error {
	if err := c.requireAuth(); err != nil {
		return err
	}
	if symbol == "" {
		return fmt.Errorf("%w: empty symbol", interfaces.ErrInvalidSymbol)
	}

	params := url.Values{}
	params.Set("symbol", symbol)

	_, err := c.http.Call(ctx, common.Request{
		Method: http.MethodDelete,
		Path:   c.path("/api/v3/openOrders", "/fapi/v1/allOpenOrders"),
		Params: params,
		Sign:   c.signer.sign,
		Weight: 1,
	})
	return err
}

// parseOrderAck maps the order-status payload of either venue onto
// OrderAck. Spot reports cummulativeQuoteQty and transactTime; futures
// reports avgPrice, cumQuote and updateTime.
func parseOrderAck(data []byte) (*interfaces.OrderAck, error) {
	var raw struct {
		OrderID       int64  `json:"orderId"`
		ClientOrderID string `json:"clientOrderId"`
		Symbol        string `json:"symbol"`
		Status        string `json:"status"`
		ExecutedQty   string `json:"executedQty"`
		CumQuoteSpot  string `json:"cummulativeQuoteQty"`
		CumQuoteFut   string `json:"cumQuote"`
		AvgPrice      string `json:"avgPrice"`
		TransactTime  int64  `json:"transactTime"`
		UpdateTime    int64  `json:"updateTime"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	filled, err := parseOptionalDecimal(raw.ExecutedQty)
	if err != nil {
		return nil, fmt.Errorf("executedQty: %w", err)
	}

	avg := decimal.Zero
	switch {
	case raw.AvgPrice != "":
		if avg, err = decimal.NewFromString(raw.AvgPrice); err != nil {
			return nil, fmt.Errorf("avgPrice: %w", err)
		}
	case filled.Sign() > 0:
		quote := raw.CumQuoteSpot
		if quote == "" {
			quote = raw.CumQuoteFut
		}
		cum, err := parseOptionalDecimal(quote)
		if err != nil {
			return nil, fmt.Errorf("cumulative quote: %w", err)
		}
		if cum.Sign() > 0 {
			avg = cum.Div(filled)
		}
	}

	ts := raw.TransactTime
	if ts == 0 {
		ts = raw.UpdateTime
	}

	return &interfaces.OrderAck{
		OrderID:        raw.OrderID,
		ClientOrderID:  raw.ClientOrderID,
		Symbol:         raw.Symbol,
		Status:         raw.Status,
		FilledQuantity: filled,
		AveragePrice:   avg,
		TransactTime:   time.UnixMilli(ts).UTC(),
	}, nil
}

func parseOptionalDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
