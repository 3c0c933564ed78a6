package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veiloq/binance-connector/pkg/exchanges/interfaces"
)

func newTestManager(t *testing.T, url string) *Manager {
	t.Helper()

	mgr, err := NewManager(Config{
		URL:               url,
		HeartbeatInterval: 50 * time.Millisecond,
		ReconnectInterval: 10 * time.Millisecond,
		ConnectRetries:    2,
	})
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })
	return mgr
}

func TestNewManagerRequiresURL(t *testing.T) {
	_, err := NewManager(Config{})
	assert.ErrorIs(t, err, interfaces.ErrInvalidScope)
}

func TestConnectAndSubscribe(t *testing.T) {
	server := NewMockServer()
	defer server.Close()

	mgr := newTestManager(t, server.URL())
	require.NoError(t, mgr.Connect(context.Background()))
	assert.Equal(t, Active, mgr.State())

	require.NoError(t, mgr.Subscribe([]string{"BTCUSDT", "ETHUSDT"}, "aggTrade"))

	require.Eventually(t, func() bool {
		subs := mgr.Subscriptions()
		return subs["btcusdt@aggTrade"] == SubActive && subs["ethusdt@aggTrade"] == SubActive
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, Active, mgr.State())

	streams := server.SubscribedStreams(0)
	assert.ElementsMatch(t, []string{"btcusdt@aggTrade", "ethusdt@aggTrade"}, streams)
}

func TestSubscribeIsIdempotent(t *testing.T) {
	server := NewMockServer()
	defer server.Close()

	mgr := newTestManager(t, server.URL())
	require.NoError(t, mgr.Connect(context.Background()))

	require.NoError(t, mgr.Subscribe([]string{"BTCUSDT"}, "trade"))
	require.Eventually(t, func() bool {
		return mgr.Subscriptions()["btcusdt@trade"] == SubActive
	}, 2*time.Second, 10*time.Millisecond)

	frames := len(server.Frames())
	require.NoError(t, mgr.Subscribe([]string{"BTCUSDT"}, "trade"))

	// No second control frame goes out for an already-tracked pair.
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, server.Frames(), frames)
}

func TestSubscribeValidation(t *testing.T) {
	server := NewMockServer()
	defer server.Close()

	mgr := newTestManager(t, server.URL())

	assert.ErrorIs(t, mgr.Subscribe(nil, "trade"), interfaces.ErrInvalidSymbol)
	assert.ErrorIs(t, mgr.Subscribe([]string{""}, "trade"), interfaces.ErrInvalidSymbol)
	assert.ErrorIs(t, mgr.Subscribe([]string{"BTC USDT"}, "trade"), interfaces.ErrInvalidSymbol)
	assert.ErrorIs(t, mgr.Subscribe([]string{"BTCUSDT"}, ""), interfaces.ErrInvalidChannel)
	assert.ErrorIs(t, mgr.Subscribe([]string{"BTCUSDT"}, "agg@trade"), interfaces.ErrInvalidChannel)
}

func TestSubscribeBeforeConnectIsDeferred(t *testing.T) {
	server := NewMockServer()
	defer server.Close()

	mgr := newTestManager(t, server.URL())

	// Recorded while disconnected, sent on connect.
	require.NoError(t, mgr.Subscribe([]string{"BTCUSDT"}, "kline_1m"))
	assert.Equal(t, SubPending, mgr.Subscriptions()["btcusdt@kline_1m"])

	require.NoError(t, mgr.Connect(context.Background()))
	require.Eventually(t, func() bool {
		return mgr.Subscriptions()["btcusdt@kline_1m"] == SubActive
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUnsubscribeRemovesTracking(t *testing.T) {
	server := NewMockServer()
	defer server.Close()

	mgr := newTestManager(t, server.URL())
	require.NoError(t, mgr.Connect(context.Background()))
	require.NoError(t, mgr.Subscribe([]string{"BTCUSDT", "ETHUSDT"}, "trade"))

	require.NoError(t, mgr.Unsubscribe([]string{"ETHUSDT"}, "trade"))

	subs := mgr.Subscriptions()
	assert.Contains(t, subs, "btcusdt@trade")
	assert.NotContains(t, subs, "ethusdt@trade")

	// One SUBSCRIBE plus one UNSUBSCRIBE frame.
	require.Eventually(t, func() bool {
		return len(server.Frames()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "UNSUBSCRIBE", server.Frames()[1].Method)

	// Unknown pairs are ignored without a frame.
	require.NoError(t, mgr.Unsubscribe([]string{"XRPUSDT"}, "trade"))
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, server.Frames(), 2)
}

func TestEventDelivery(t *testing.T) {
	server := NewMockServer()
	defer server.Close()

	mgr := newTestManager(t, server.URL())
	require.NoError(t, mgr.Connect(context.Background()))
	require.NoError(t, mgr.Subscribe([]string{"BTCUSDT"}, "aggTrade"))

	payload := []byte(`{"e":"aggTrade","s":"BTCUSDT","p":"50000.00","q":"0.5"}`)
	server.Broadcast(payload)

	select {
	case ev := <-mgr.Events():
		assert.Equal(t, "aggTrade", ev.Type)
		assert.Equal(t, "BTCUSDT", ev.Symbol)
		assert.JSONEq(t, string(payload), string(ev.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
}

func TestReconnectResubscribesTrackedSet(t *testing.T) {
	server := NewMockServer()
	defer server.Close()

	mgr := newTestManager(t, server.URL())
	require.NoError(t, mgr.Connect(context.Background()))
	require.NoError(t, mgr.Subscribe([]string{"BTCUSDT", "ETHUSDT"}, "aggTrade"))

	require.Eventually(t, func() bool {
		return mgr.State() == Active
	}, 2*time.Second, 10*time.Millisecond)

	framesBefore := len(server.Frames())
	server.DropConnections()

	// The manager reconnects on its own and resends both subscriptions
	// before reporting Active again.
	require.Eventually(t, func() bool {
		return server.ConnectionCount() == 1 && mgr.State() == Active
	}, 5*time.Second, 10*time.Millisecond)

	resent := server.SubscribedStreams(framesBefore)
	assert.ElementsMatch(t, []string{"btcusdt@aggTrade", "ethusdt@aggTrade"}, resent)

	subs := mgr.Subscriptions()
	assert.Equal(t, SubActive, subs["btcusdt@aggTrade"])
	assert.Equal(t, SubActive, subs["ethusdt@aggTrade"])
}

func TestSubscribeRejectedByServer(t *testing.T) {
	server := NewMockServer()
	defer server.Close()
	server.SetRejectSubscribe(true)

	mgr := newTestManager(t, server.URL())
	require.NoError(t, mgr.Connect(context.Background()))
	require.NoError(t, mgr.Subscribe([]string{"BTCUSDT"}, "aggTrade"))

	require.Eventually(t, func() bool {
		return mgr.Subscriptions()["btcusdt@aggTrade"] == SubFailed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConnectFailsWhenRejected(t *testing.T) {
	server := NewMockServer()
	defer server.Close()
	server.SetRejectConnection(true)

	mgr := newTestManager(t, server.URL())
	err := mgr.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, Disconnected, mgr.State())
}

func TestCloseIsTerminal(t *testing.T) {
	server := NewMockServer()
	defer server.Close()

	mgr := newTestManager(t, server.URL())
	require.NoError(t, mgr.Connect(context.Background()))

	require.NoError(t, mgr.Close())
	assert.Equal(t, Disconnected, mgr.State())

	select {
	case <-mgr.Done():
	default:
		t.Fatal("Done not closed after Close")
	}

	assert.ErrorIs(t, mgr.Subscribe([]string{"BTCUSDT"}, "trade"), interfaces.ErrStreamClosed)
	assert.ErrorIs(t, mgr.Unsubscribe([]string{"BTCUSDT"}, "trade"), interfaces.ErrStreamClosed)
	assert.ErrorIs(t, mgr.Connect(context.Background()), interfaces.ErrStreamClosed)

	// The event channel closes once the read loop drains.
	require.Eventually(t, func() bool {
		select {
		case _, open := <-mgr.Events():
			return !open
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	// Close twice is a no-op.
	require.NoError(t, mgr.Close())
}

func TestCloseWithEventsInFlight(t *testing.T) {
	server := NewMockServer()
	defer server.Close()

	mgr := newTestManager(t, server.URL())
	require.NoError(t, mgr.Connect(context.Background()))
	require.NoError(t, mgr.Subscribe([]string{"BTCUSDT"}, "aggTrade"))
	require.Eventually(t, func() bool {
		return mgr.State() == Active
	}, 2*time.Second, 10*time.Millisecond)

	// Keep deliveries in flight while the manager shuts down.
	stop := make(chan struct{})
	go func() {
		payload := []byte(`{"e":"aggTrade","s":"BTCUSDT","p":"50000"}`)
		for {
			select {
			case <-stop:
				return
			default:
				server.Broadcast(payload)
			}
		}
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, mgr.Close())
	close(stop)

	// The event channel drains and closes without a send-on-closed panic.
	require.Eventually(t, func() bool {
		for {
			select {
			case _, open := <-mgr.Events():
				if !open {
					return true
				}
			default:
				return false
			}
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDeliverAfterCloseIsNoOp(t *testing.T) {
	server := NewMockServer()
	defer server.Close()

	mgr := newTestManager(t, server.URL())
	require.NoError(t, mgr.Connect(context.Background()))
	require.NoError(t, mgr.Close())

	// Wait until teardown has fully run and the event channel is closed.
	require.Eventually(t, func() bool {
		select {
		case _, open := <-mgr.Events():
			return !open
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	assert.NotPanics(t, func() {
		mgr.deliver(Event{Type: "aggTrade", Symbol: "BTCUSDT"})
	})
}

func TestConsumerStallClosesManager(t *testing.T) {
	server := NewMockServer()
	defer server.Close()

	mgr, err := NewManager(Config{
		URL:               server.URL(),
		HeartbeatInterval: 50 * time.Millisecond,
		ReconnectInterval: 10 * time.Millisecond,
		ConnectRetries:    2,
		EventBuffer:       1,
		StallTimeout:      50 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })

	require.NoError(t, mgr.Connect(context.Background()))
	require.NoError(t, mgr.Subscribe([]string{"BTCUSDT"}, "aggTrade"))
	require.Eventually(t, func() bool {
		return mgr.State() == Active
	}, 2*time.Second, 10*time.Millisecond)

	// Nobody consumes: the buffer fills, the next delivery stalls past
	// StallTimeout and the manager shuts itself down instead of buffering
	// without limit.
	payload := []byte(`{"e":"aggTrade","s":"BTCUSDT","p":"50000"}`)
	for i := 0; i < 5; i++ {
		server.Broadcast(payload)
	}

	require.Eventually(t, func() bool {
		select {
		case <-mgr.Done():
			return mgr.State() == Disconnected
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, mgr.Subscribe([]string{"ETHUSDT"}, "aggTrade"), interfaces.ErrStreamClosed)
}

func TestConnectDuringReconnectKeepsSingleConnection(t *testing.T) {
	server := NewMockServer()
	defer server.Close()

	mgr := newTestManager(t, server.URL())
	require.NoError(t, mgr.Connect(context.Background()))
	require.NoError(t, mgr.Subscribe([]string{"BTCUSDT"}, "aggTrade"))
	require.Eventually(t, func() bool {
		return mgr.State() == Active
	}, 2*time.Second, 10*time.Millisecond)

	server.DropConnections()

	// Hammer Connect while the background reconnect is in flight; the
	// racing dials must not stack a second live connection.
	for i := 0; i < 20; i++ {
		require.NoError(t, mgr.Connect(context.Background()))
		time.Sleep(2 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return mgr.State() == Active && server.ConnectionCount() == 1
	}, 5*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, server.ConnectionCount())
	assert.Equal(t, SubActive, mgr.Subscriptions()["btcusdt@aggTrade"])
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "active", Active.String())
	assert.Equal(t, "degraded", Degraded.String())
}
