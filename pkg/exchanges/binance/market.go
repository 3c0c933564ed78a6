package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"github.com/veiloq/binance-connector/pkg/common"
	"github.com/veiloq/binance-connector/pkg/exchanges/interfaces"
)

// ExchangeInfo fetches the venue's instrument listing.
func (c *Connector) ExchangeInfo(ctx context.Context) (*interfaces.ExchangeInfo, error) {
	body, err := c.http.Call(ctx, common.Request{
		Method: http.MethodGet,
		Path:   c.path("/api/v3/exchangeInfo", "/fapi/v1/exchangeInfo"),
		Weight: 10,
	})
	if err != nil {
		return nil, err
	}

	var raw struct {
		ServerTime int64 `json:"serverTime"`
		Symbols    []struct {
			Symbol     string `json:"symbol"`
			BaseAsset  string `json:"baseAsset"`
			QuoteAsset string `json:"quoteAsset"`
			Status     string `json:"status"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decoding exchange info: %w", err)
	}

	info := &interfaces.ExchangeInfo{
		ServerTime: time.UnixMilli(raw.ServerTime).UTC(),
		Symbols:    make([]interfaces.SymbolInfo, 0, len(raw.Symbols)),
	}
	for _, s := range raw.Symbols {
		info.Symbols = append(info.Symbols, interfaces.SymbolInfo{
			Symbol:     s.Symbol,
			BaseAsset:  s.BaseAsset,
			QuoteAsset: s.QuoteAsset,
			Status:     s.Status,
		})
	}
	return info, nil
}

// TickerPrice returns the latest traded price for one symbol, or for every
// symbol when symbol is empty.
func (c *Connector) TickerPrice(ctx context.Context, symbol string) ([]interfaces.SymbolPrice, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}

	body, err := c.http.Call(ctx, common.Request{
		Method: http.MethodGet,
		Path:   c.path("/api/v3/ticker/price", "/fapi/v1/ticker/price"),
		Params: params,
		Weight: 2,
	})
	if err != nil {
		return nil, err
	}

	type rawPrice struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}

	// One symbol yields an object, all symbols an array.
	var rows []rawPrice
	if symbol != "" {
		var one rawPrice
		if err := json.Unmarshal(body, &one); err != nil {
			return nil, fmt.Errorf("decoding ticker price: %w", err)
		}
		rows = []rawPrice{one}
	} else if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decoding ticker prices: %w", err)
	}

	out := make([]interfaces.SymbolPrice, 0, len(rows))
	for _, r := range rows {
		p, err := decimal.NewFromString(r.Price)
		if err != nil {
			return nil, fmt.Errorf("price for %s: %w", r.Symbol, err)
		}
		out = append(out, interfaces.SymbolPrice{Symbol: r.Symbol, Price: p})
	}
	return out, nil
}

// Ticker24h returns 24-hour rolling statistics for one symbol, or for every
// symbol when symbol is empty.
func (c *Connector) Ticker24h(ctx context.Context, symbol string) ([]interfaces.Ticker, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}

	body, err := c.http.Call(ctx, common.Request{
		Method: http.MethodGet,
		Path:   c.path("/api/v3/ticker/24hr", "/fapi/v1/ticker/24hr"),
		Params: params,
		// The all-symbols form is dramatically heavier.
		Weight: tickerWeight(symbol),
	})
	if err != nil {
		return nil, err
	}

	type rawTicker struct {
		Symbol             string `json:"symbol"`
		LastPrice          string `json:"lastPrice"`
		PriceChangePercent string `json:"priceChangePercent"`
		Volume             string `json:"volume"`
		CloseTime          int64  `json:"closeTime"`
	}

	var rows []rawTicker
	if symbol != "" {
		var one rawTicker
		if err := json.Unmarshal(body, &one); err != nil {
			return nil, fmt.Errorf("decoding ticker: %w", err)
		}
		rows = []rawTicker{one}
	} else if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decoding tickers: %w", err)
	}

	out := make([]interfaces.Ticker, 0, len(rows))
	for _, r := range rows {
		last, err := parseOptionalDecimal(r.LastPrice)
		if err != nil {
			return nil, fmt.Errorf("last price for %s: %w", r.Symbol, err)
		}
		pct, err := parseOptionalDecimal(r.PriceChangePercent)
		if err != nil {
			return nil, fmt.Errorf("price change for %s: %w", r.Symbol, err)
		}
		vol, err := parseOptionalDecimal(r.Volume)
		if err != nil {
			return nil, fmt.Errorf("volume for %s: %w", r.Symbol, err)
		}
		out = append(out, interfaces.Ticker{
			Symbol:             r.Symbol,
			LastPrice:          last,
			PriceChangePercent: pct,
			Volume24h:          vol,
			CloseTime:          time.UnixMilli(r.CloseTime).UTC(),
		})
	}
	return out, nil
}

func tickerWeight(symbol string) int {
	if symbol == "" {
		return 40
	}
	return 1
}
