package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/veiloq/binance-connector/pkg/common"
	"github.com/veiloq/binance-connector/pkg/exchanges/interfaces"
)

// Balances returns the account's asset balances. On spot this is the
// account snapshot's balance list; on swap it is the futures wallet.
func (c *Connector) Balances(ctx context.Context) ([]interfaces.Balance, error) {
	if err := c.requireAuth(); err != nil {
		return nil, err
	}

	if c.options.Market == interfaces.MarketSwap {
		return c.swapBalances(ctx)
	}
	return c.spotBalances(ctx)
}

func (c *Connector) spotBalances(ctx context.Context) ([]interfaces.Balance, error) {
	body, err := c.http.Call(ctx, common.Request{
		Method: http.MethodGet,
		Path:   "/api/v3/account",
		Sign:   c.signer.sign,
		Weight: 20,
	})
	if err != nil {
		return nil, err
	}

	var raw struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decoding account: %w", err)
	}

	out := make([]interfaces.Balance, 0, len(raw.Balances))
	for _, b := range raw.Balances {
		free, err := parseOptionalDecimal(b.Free)
		if err != nil {
			return nil, fmt.Errorf("free balance for %s: %w", b.Asset, err)
		}
		locked, err := parseOptionalDecimal(b.Locked)
		if err != nil {
			return nil, fmt.Errorf("locked balance for %s: %w", b.Asset, err)
		}
		if free.IsZero() && locked.IsZero() {
			continue
		}
		out = append(out, interfaces.Balance{Asset: b.Asset, Free: free, Locked: locked})
	}
	return out, nil
}

func (c *Connector) swapBalances(ctx context.Context) ([]interfaces.Balance, error) {
	body, err := c.http.Call(ctx, common.Request{
		Method: http.MethodGet,
		Path:   "/fapi/v2/balance",
		Sign:   c.signer.sign,
		Weight: 5,
	})
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Asset            string `json:"asset"`
		AvailableBalance string `json:"availableBalance"`
		Balance          string `json:"balance"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decoding balances: %w", err)
	}

	out := make([]interfaces.Balance, 0, len(raw))
	for _, b := range raw {
		available, err := parseOptionalDecimal(b.AvailableBalance)
		if err != nil {
			return nil, fmt.Errorf("available balance for %s: %w", b.Asset, err)
		}
		total, err := parseOptionalDecimal(b.Balance)
		if err != nil {
			return nil, fmt.Errorf("balance for %s: %w", b.Asset, err)
		}
		if total.IsZero() {
			continue
		}
		out = append(out, interfaces.Balance{
			Asset:  b.Asset,
			Free:   available,
			Locked: total.Sub(available),
		})
	}
	return out, nil
}

// Positions returns open futures positions. Available only on the swap
// market; spot connectors get ErrMarketOnlySwap.
func (c *Connector) Positions(ctx context.Context) ([]interfaces.Position, error) {
	if err := c.requireAuth(); err != nil {
		return nil, err
	}
	if err := c.requireSwap(); err != nil {
		return nil, err
	}

	body, err := c.http.Call(ctx, common.Request{
		Method: http.MethodGet,
		Path:   "/fapi/v2/positionRisk",
		Sign:   c.signer.sign,
		Weight: 5,
	})
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Symbol           string `json:"symbol"`
		PositionAmt      string `json:"positionAmt"`
		EntryPrice       string `json:"entryPrice"`
		UnrealizedProfit string `json:"unRealizedProfit"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decoding positions: %w", err)
	}

	out := make([]interfaces.Position, 0, len(raw))
	for _, p := range raw {
		amt, err := parseOptionalDecimal(p.PositionAmt)
		if err != nil {
			return nil, fmt.Errorf("position amount for %s: %w", p.Symbol, err)
		}
		if amt.IsZero() {
			continue
		}
		entry, err := parseOptionalDecimal(p.EntryPrice)
		if err != nil {
			return nil, fmt.Errorf("entry price for %s: %w", p.Symbol, err)
		}
		pnl, err := parseOptionalDecimal(p.UnrealizedProfit)
		if err != nil {
			return nil, fmt.Errorf("unrealized profit for %s: %w", p.Symbol, err)
		}
		out = append(out, interfaces.Position{
			Symbol:           p.Symbol,
			PositionAmt:      amt,
			EntryPrice:       entry,
			UnrealizedProfit: pnl,
		})
	}
	return out, nil
}
