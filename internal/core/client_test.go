package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/require"

	"vpnconnect/internal/api"
	"vpnconnect/internal/connection"
	"vpnconnect/internal/model"
)

type fakeNodeAPI struct {
	mu        sync.Mutex
	status    api.ConnectionStatusResponse
	statusErr error
	stats     api.StatisticsResponse
	connects  []api.ConnectRequest
	statsHits int
}

func (f *fakeNodeAPI) setStatus(s string) {
	f.mu.Lock()
	f.status = api.ConnectionStatusResponse{Status: s, SessionID: "sess-1"}
	f.mu.Unlock()
}

func (f *fakeNodeAPI) Connect(_ context.Context, req api.ConnectRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, req)
	return nil
}

func (f *fakeNodeAPI) Disconnect(context.Context) error { return nil }

func (f *fakeNodeAPI) ConnectionStatus(context.Context) (api.ConnectionStatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.statusErr
}

func (f *fakeNodeAPI) Statistics(context.Context) (api.StatisticsResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statsHits++
	return f.stats, nil
}

func (f *fakeNodeAPI) CurrentIdentity(context.Context) (model.Identity, error) {
	return model.Identity{Address: "0xme"}, nil
}

func (f *fakeNodeAPI) Balance(context.Context, string) (float64, error) { return 3, nil }

func (f *fakeNodeAPI) ExchangeRate(context.Context) (float64, error) { return 0.2, nil }

// tick force-feeds one tick and waits until the poll it triggered finished,
// which the next accepted tick proves.
func tick(t *testing.T, tk *ticker.Force) {
	t.Helper()
	for i := 0; i < 2; i++ {
		select {
		case tk.Force <- time.Now():
		case <-time.After(2 * time.Second):
			t.Fatal("poll loop did not accept tick")
		}
	}
}

func TestClient_StatusCallbacksFireOnChange(t *testing.T) {
	t.Parallel()

	nodeAPI := &fakeNodeAPI{}
	nodeAPI.setStatus("NotConnected")
	tk := ticker.NewForce(time.Hour)
	c := NewClient(nodeAPI, tk, time.Second)

	var mu sync.Mutex
	var got []string
	cancel := c.SubscribeStatus(func(s string) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	})
	c.Start()
	defer c.Stop()

	tick(t, tk)
	nodeAPI.setStatus("Connecting")
	tick(t, tk)
	cancel()
	nodeAPI.setStatus("Connected")
	tick(t, tk)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"NotConnected", "Connecting"}, got)
	require.Equal(t, "sess-1", c.SessionID())
}

func TestClient_StatisticsOnlyWhileConnected(t *testing.T) {
	t.Parallel()

	nodeAPI := &fakeNodeAPI{stats: api.StatisticsResponse{BytesReceived: 10, BytesSent: 4, DurationSec: 30, TokensSpent: 0.5}}
	nodeAPI.setStatus("Connecting")
	tk := ticker.NewForce(time.Hour)
	c := NewClient(nodeAPI, tk, time.Second)

	statsCh := make(chan connection.RawStatistics, 4)
	c.SubscribeStatistics(func(s connection.RawStatistics) { statsCh <- s })
	c.Start()
	defer c.Stop()

	tick(t, tk)
	require.Len(t, statsCh, 0)

	nodeAPI.setStatus("Connected")
	tick(t, tk)
	select {
	case s := <-statsCh:
		require.Equal(t, connection.RawStatistics{
			Duration:      30 * time.Second,
			BytesReceived: 10,
			BytesSent:     4,
			TokensSpent:   0.5,
		}, s)
	case <-time.After(2 * time.Second):
		t.Fatal("no statistics delivered")
	}
}

func TestClient_StatusErrorSkipsPoll(t *testing.T) {
	t.Parallel()

	nodeAPI := &fakeNodeAPI{statusErr: errors.New("connection refused")}
	tk := ticker.NewForce(time.Hour)
	c := NewClient(nodeAPI, tk, time.Second)
	called := false
	c.SubscribeStatus(func(string) { called = true })
	c.Start()

	tick(t, tk)
	c.Stop()
	c.Stop()
	require.False(t, called)
	require.Equal(t, 0, nodeAPI.statsHits)
}

func TestClient_ConnectMapsRequest(t *testing.T) {
	t.Parallel()

	nodeAPI := &fakeNodeAPI{}
	c := NewClient(nodeAPI, ticker.NewForce(time.Hour), 0)

	err := c.Connect(context.Background(), connection.ConnectRequest{
		IdentityAddress: "0xme",
		ProviderID:      "0xa",
		ServiceType:     "wireguard",
		DNS:             "auto",
	})
	require.NoError(t, err)
	require.Equal(t, []api.ConnectRequest{{
		ConsumerID:     "0xme",
		ProviderID:     "0xa",
		ServiceType:    "wireguard",
		ConnectOptions: api.ConnectOptions{DNS: "auto"},
	}}, nodeAPI.connects)

	rate, err := c.ExchangeRate(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0.2, rate)
}
