package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/veiloq/binance-connector/pkg/common"
	"github.com/veiloq/binance-connector/pkg/logging"
)

// listenKeyKeepAlive is how often an active listen key must be refreshed;
// the exchange expires keys after 60 minutes without a keepalive.
const listenKeyKeepAlive = 30 * time.Minute

// Listen-key endpoints authenticate with the API key header alone; they
// are not signed.

func (c *Connector) createListenKey(ctx context.Context) (string, error) {
	body, err := c.http.Call(ctx, common.Request{
		Method: http.MethodPost,
		Path:   c.path("/api/v3/userDataStream", "/fapi/v1/listenKey"),
		Weight: 1,
	})
	if err != nil {
		return "", err
	}

	var raw struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", fmt.Errorf("decoding listen key: %w", err)
	}
	if raw.ListenKey == "" {
		return "", fmt.Errorf("exchange returned empty listen key")
	}
	return raw.ListenKey, nil
}

func (c *Connector) keepAliveListenKey(ctx context.Context, key string) error {
	params := url.Values{}
	params.Set("listenKey", key)

	_, err := c.http.Call(ctx, common.Request{
		Method: http.MethodPut,
		Path:   c.path("/api/v3/userDataStream", "/fapi/v1/listenKey"),
		Params: params,
		Weight: 1,
	})
	return err
}

func (c *Connector) closeListenKey(ctx context.Context, key string) error {
	params := url.Values{}
	params.Set("listenKey", key)

	_, err := c.http.Call(ctx, common.Request{
		Method: http.MethodDelete,
		Path:   c.path("/api/v3/userDataStream", "/fapi/v1/listenKey"),
		Params: params,
		Weight: 1,
	})
	return err
}

// maintainListenKey refreshes the key for as long as the stream manager is
// alive, then releases it.
func (c *Connector) maintainListenKey(done <-chan struct{}, key string) {
	ticker := c.clock.Ticker(listenKeyKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.options.HTTPTimeout)
			err := c.keepAliveListenKey(ctx, key)
			cancel()
			if err != nil {
				c.logger.Warn("listen key keepalive failed", logging.Error(err))
			}
		case <-done:
			ctx, cancel := context.WithTimeout(context.Background(), c.options.HTTPTimeout)
			if err := c.closeListenKey(ctx, key); err != nil {
				c.logger.Warn("listen key close failed", logging.Error(err))
			}
			cancel()
			return
		}
	}
}
