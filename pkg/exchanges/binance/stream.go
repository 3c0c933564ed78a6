package binance

import (
	"context"
	"fmt"

	"github.com/veiloq/binance-connector/pkg/exchanges/interfaces"
	"github.com/veiloq/binance-connector/pkg/stream"
)

// NewStream creates and connects a stream manager for the given scope.
//
// ScopeMarket binds to the public market-data endpoint; subscriptions are
// added with Subscribe afterwards. ScopeUserData obtains a listen key over
// REST, binds to the key-addressed endpoint and keeps the key alive in the
// background for as long as the manager lives; no explicit subscriptions
// are needed there.
//
// Each call returns an independent manager owning one connection. Closing
// the manager releases the connection (and, for user-data streams, the
// listen key).
func (c *Connector) NewStream(ctx context.Context, scope interfaces.StreamScope) (*stream.Manager, error) {
	switch scope {
	case interfaces.ScopeMarket:
		return c.marketStream(ctx)
	case interfaces.ScopeUserData:
		return c.userDataStream(ctx)
	default:
		return nil, fmt.Errorf("%w: %q", interfaces.ErrInvalidScope, scope)
	}
}

func (c *Connector) marketStream(ctx context.Context) (*stream.Manager, error) {
	mgr, err := stream.NewManager(c.streamConfig(c.wsBase))
	if err != nil {
		return nil, err
	}
	if err := mgr.Connect(ctx); err != nil {
		mgr.Close()
		return nil, err
	}
	return mgr, nil
}

func (c *Connector) userDataStream(ctx context.Context) (*stream.Manager, error) {
	if err := c.requireAuth(); err != nil {
		return nil, err
	}

	key, err := c.createListenKey(ctx)
	if err != nil {
		return nil, err
	}

	mgr, err := stream.NewManager(c.streamConfig(c.wsBase + "/" + key))
	if err != nil {
		return nil, err
	}
	if err := mgr.Connect(ctx); err != nil {
		mgr.Close()
		return nil, err
	}

	go c.maintainListenKey(mgr.Done(), key)
	return mgr, nil
}

func (c *Connector) streamConfig(url string) stream.Config {
	return stream.Config{
		URL:               url,
		HeartbeatInterval: c.options.WSHeartbeatInterval,
		ReconnectInterval: c.options.WSReconnectInterval,
		Clock:             c.clock,
		Logger:            c.logger,
	}
}
