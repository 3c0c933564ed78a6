package binance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/veiloq/binance-connector/pkg/common"
	"github.com/veiloq/binance-connector/pkg/exchanges/interfaces"
	"github.com/veiloq/binance-connector/pkg/logging"
)

// klinePageLimit is the maximum number of records the exchange returns per
// klines call.
const klinePageLimit = 1000

// supportedIntervals is the set of kline granularities the exchange
// accepts.
var supportedIntervals = map[string]struct{}{
	"1m": {}, "3m": {}, "5m": {}, "15m": {}, "30m": {},
	"1h": {}, "2h": {}, "4h": {}, "6h": {}, "8h": {}, "12h": {},
	"1d": {}, "3d": {}, "1w": {}, "1M": {},
}

// HistoryKlines fetches the full candle history for [start, end], walking
// the exchange's pagination transparently: each page advances the start
// cursor to just past the last returned candle's open time, until a short
// page arrives or the cursor passes end. A zero end means "up to now"; in
// that case a trailing candle whose interval has not closed yet is dropped.
//
// The result is strictly ordered by open time with no duplicates and no
// gaps beyond what the exchange itself has.
func (c *Connector) HistoryKlines(ctx context.Context, symbol, interval string, start, end time.Time) ([]interfaces.Kline, error) {
	if symbol == "" {
		return nil, fmt.Errorf("%w: empty symbol", interfaces.ErrInvalidSymbol)
	}
	if _, ok := supportedIntervals[interval]; !ok {
		return nil, fmt.Errorf("%w: %q", interfaces.ErrInvalidInterval, interval)
	}
	if start.IsZero() {
		return nil, fmt.Errorf("%w: start time is required", interfaces.ErrInvalidTimeRange)
	}
	hasEnd := !end.IsZero()
	if hasEnd && end.Before(start) {
		return nil, fmt.Errorf("%w: end %s before start %s", interfaces.ErrInvalidTimeRange, end, start)
	}

	var (
		cursor = start.UnixMilli()
		endMs  int64
		out    []interfaces.Kline
	)
	if hasEnd {
		endMs = end.UnixMilli()
	}
	now := c.clock.Now()

	for {
		params := url.Values{}
		params.Set("symbol", symbol)
		params.Set("interval", interval)
		params.Set("startTime", strconv.FormatInt(cursor, 10))
		if hasEnd {
			params.Set("endTime", strconv.FormatInt(endMs, 10))
		}
		params.Set("limit", strconv.Itoa(klinePageLimit))

		body, err := c.http.Call(ctx, common.Request{
			Method: http.MethodGet,
			Path:   c.path("/api/v3/klines", "/fapi/v1/klines"),
			Params: params,
			Weight: 2,
		})
		if err != nil {
			return nil, err
		}

		page, err := parseKlines(body)
		if err != nil {
			return nil, fmt.Errorf("decoding klines page: %w", err)
		}
		if len(page) == 0 {
			break
		}

		for _, k := range page {
			// Overlapping pages can repeat the boundary candle.
			if len(out) > 0 && !k.OpenTime.After(out[len(out)-1].OpenTime) {
				continue
			}
			if hasEnd && k.OpenTime.UnixMilli() > endMs {
				continue
			}
			out = append(out, k)
		}

		if len(page) < klinePageLimit {
			break
		}
		cursor = page[len(page)-1].OpenTime.UnixMilli() + 1
		if hasEnd && cursor > endMs {
			break
		}
	}

	// An open-ended lookup includes the candle still forming; it has no
	// final close yet, so it is not part of the history.
	if !hasEnd && len(out) > 0 && out[len(out)-1].CloseTime.After(now) {
		out = out[:len(out)-1]
	}

	c.logger.Debug("history klines fetched",
		logging.String("symbol", symbol),
		logging.String("interval", interval),
		logging.Int("count", len(out)),
	)
	return out, nil
}

// parseKlines decodes the exchange's positional kline rows:
// [openTime, open, high, low, close, volume, closeTime, ...].
func parseKlines(data []byte) ([]interfaces.Kline, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var rows [][]interface{}
	if err := dec.Decode(&rows); err != nil {
		return nil, err
	}

	klines := make([]interfaces.Kline, 0, len(rows))
	for i, row := range rows {
		if len(row) < 7 {
			return nil, fmt.Errorf("kline row %d has %d fields, want at least 7", i, len(row))
		}
		openMs, err := fieldInt64(row[0])
		if err != nil {
			return nil, fmt.Errorf("kline row %d open time: %w", i, err)
		}
		closeMs, err := fieldInt64(row[6])
		if err != nil {
			return nil, fmt.Errorf("kline row %d close time: %w", i, err)
		}

		k := interfaces.Kline{
			OpenTime:  time.UnixMilli(openMs).UTC(),
			CloseTime: time.UnixMilli(closeMs).UTC(),
		}
		for j, dst := range []*decimal.Decimal{&k.Open, &k.High, &k.Low, &k.Close, &k.Volume} {
			v, err := fieldDecimal(row[1+j])
			if err != nil {
				return nil, fmt.Errorf("kline row %d field %d: %w", i, 1+j, err)
			}
			*dst = v
		}
		klines = append(klines, k)
	}
	return klines, nil
}

func fieldInt64(v interface{}) (int64, error) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, fmt.Errorf("expected number, got %T", v)
	}
	return n.Int64()
}

func fieldDecimal(v interface{}) (decimal.Decimal, error) {
	switch t := v.(type) {
	case string:
		return decimal.NewFromString(t)
	case json.Number:
		return decimal.NewFromString(t.String())
	default:
		return decimal.Decimal{}, fmt.Errorf("expected decimal string, got %T", v)
	}
}
