package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"vpnconnect/internal/api"
	"vpnconnect/internal/connection"
	"vpnconnect/internal/model"
	"vpnconnect/internal/notify"
	"vpnconnect/internal/proposal"
	"vpnconnect/internal/store"
)

type staticSource struct {
	records []model.NodeRecord
	err     error
}

func (s staticSource) Proposals(context.Context, model.ProposalRequest) ([]model.NodeRecord, error) {
	return s.records, s.err
}

type fakeConnections struct {
	events *notify.Server

	mu          sync.Mutex
	connected   []string
	disconnects int
	stopErr     error
	connectDone chan struct{}
}

func newFakeConnections() *fakeConnections {
	return &fakeConnections{events: notify.NewServer(), connectDone: make(chan struct{}, 4)}
}

func (f *fakeConnections) ConnectTo(_ context.Context, p model.Proposal) error {
	f.mu.Lock()
	f.connected = append(f.connected, p.ProviderID)
	f.mu.Unlock()
	f.connectDone <- struct{}{}
	return nil
}

func (f *fakeConnections) StopConnecting(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopErr
}

func (f *fakeConnections) Disconnect(context.Context) error {
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()
	return nil
}

func (f *fakeConnections) DisconnectFromPush(context.Context) error { return nil }

func (f *fakeConnections) State() model.ConnectionState { return model.StateConnected }

func (f *fakeConnections) Statistic() model.ConnectionStatistic {
	return model.ConnectionStatistic{BytesReceived: 7}
}

func (f *fakeConnections) Proposal() (model.Proposal, bool) {
	return model.NewProposal(model.NodeRecord{ProviderID: "0xa", ServiceType: "wireguard"}), true
}

func (f *fakeConnections) Identity() fn.Option[model.Identity] {
	return fn.Some(model.Identity{Address: "0xme"})
}

func (f *fakeConnections) Balance(_ context.Context, address string) (float64, error) {
	if address != "0xme" {
		return 0, errors.New("unknown identity")
	}
	return 4.2, nil
}

func (f *fakeConnections) Subscribe() (*notify.Client, error) { return f.events.Subscribe() }

type testEnv struct {
	srv   *httptest.Server
	conns *fakeConnections
	store *store.Store
}

func newTestEnv(t *testing.T, source proposal.Source) *testEnv {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "vpnconnect.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	svc := proposal.NewService(proposal.NewRepository(source, nil), st, proposal.ServiceConfig{})
	conns := newFakeConnections()
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "vpnconnect_test_total", Help: "test"}))

	s := New(Config{Connections: conns, Proposals: svc, Settings: st, Gatherer: reg})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		s.Close()
		conns.events.Stop()
	})
	return &testEnv{srv: srv, conns: conns, store: st}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func decode[T any](t *testing.T, res *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(res.Body).Decode(&v))
	return v
}

var testRecords = []model.NodeRecord{
	{ProviderID: "0xa", ServiceType: "wireguard", Country: "DE", PricePerByte: 1, Quality: 2.5, Residential: true},
	{ProviderID: "0xb", ServiceType: "wireguard", Country: "US", PricePerByte: 5, Quality: 0.5},
	{ProviderID: "0xc", ServiceType: "wireguard", Country: "de", PricePerByte: 9, Quality: 1.5},
}

func TestProposals_FiltersCachedSnapshot(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, staticSource{records: testRecords})

	res := env.do(t, http.MethodGet, "/proposals", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	all := decode[api.ProposalsView](t, res)
	require.Len(t, all.Proposals, 3)
	require.False(t, all.LoadedAt.IsZero())

	res = env.do(t, http.MethodGet, "/proposals?country=DE&quality=medium", nil)
	filtered := decode[api.ProposalsView](t, res)
	ids := make([]string, 0, len(filtered.Proposals))
	for _, p := range filtered.Proposals {
		ids = append(ids, p.ProviderID)
	}
	require.Equal(t, []string{"0xa", "0xc"}, ids)

	res = env.do(t, http.MethodGet, "/proposals?price=cheap", nil)
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestProposals_UpstreamFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, staticSource{err: errors.New("core down")})
	res := env.do(t, http.MethodGet, "/proposals", nil)
	require.Equal(t, http.StatusBadGateway, res.StatusCode)
	body := decode[map[string]string](t, res)
	require.Contains(t, body["error"], "core down")
}

func TestFavourites_Lifecycle(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, staticSource{records: testRecords})

	res := env.do(t, http.MethodPost, "/favourites", api.ProposalRef{ProviderID: "0xa"})
	require.Equal(t, http.StatusNotFound, res.StatusCode, "lookup needs a loaded snapshot")

	env.do(t, http.MethodGet, "/proposals", nil)
	res = env.do(t, http.MethodPost, "/favourites", api.ProposalRef{ProviderID: "0xa", ServiceType: "wireguard"})
	require.Equal(t, http.StatusCreated, res.StatusCode)

	res = env.do(t, http.MethodGet, "/favourites", nil)
	favs := decode[api.FavouritesView](t, res)
	require.Len(t, favs.Favourites, 1)
	require.True(t, favs.Favourites[0].IsAvailable)

	res = env.do(t, http.MethodGet, "/favourites/0xawireguard", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)

	res = env.do(t, http.MethodDelete, "/favourites/0xawireguard", nil)
	require.Equal(t, http.StatusNoContent, res.StatusCode)
	res = env.do(t, http.MethodDelete, "/favourites/0xawireguard", nil)
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestConnection_ConnectIsAsync(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, staticSource{records: testRecords})
	env.do(t, http.MethodGet, "/proposals", nil)

	res := env.do(t, http.MethodPost, "/connection", api.ProposalRef{ProviderID: "0xb"})
	require.Equal(t, http.StatusAccepted, res.StatusCode)
	select {
	case <-env.conns.connectDone:
	case <-time.After(2 * time.Second):
		t.Fatal("connect not started")
	}
	env.conns.mu.Lock()
	require.Equal(t, []string{"0xb"}, env.conns.connected)
	env.conns.mu.Unlock()

	res = env.do(t, http.MethodPost, "/connection", api.ProposalRef{ProviderID: "0xzz"})
	require.Equal(t, http.StatusNotFound, res.StatusCode)

	res = env.do(t, http.MethodGet, "/connection", nil)
	view := decode[api.ConnectionView](t, res)
	require.Equal(t, model.StateConnected, view.State)
	require.Equal(t, "0xa", view.Proposal.ProviderID)
	require.Equal(t, "0xme", view.Identity.Address)
	require.Equal(t, uint64(7), view.Statistic.BytesReceived)
}

func TestConnection_Transitions(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, staticSource{})
	res := env.do(t, http.MethodDelete, "/connection", nil)
	require.Equal(t, http.StatusNoContent, res.StatusCode)
	env.conns.mu.Lock()
	require.Equal(t, 1, env.conns.disconnects)
	env.conns.stopErr = errors.New("core busy")
	env.conns.mu.Unlock()

	res = env.do(t, http.MethodPost, "/connection/stop", nil)
	require.Equal(t, http.StatusBadGateway, res.StatusCode)

	res = env.do(t, http.MethodPost, "/connection/push-disconnect", nil)
	require.Equal(t, http.StatusNoContent, res.StatusCode)
}

func TestBalanceAndDNS(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, staticSource{})

	res := env.do(t, http.MethodGet, "/balance", nil)
	require.Equal(t, api.BalanceView{Address: "0xme", Balance: 4.2}, decode[api.BalanceView](t, res))

	res = env.do(t, http.MethodGet, "/settings/dns", nil)
	require.Equal(t, "auto", decode[api.DNSSetting](t, res).DNS)

	res = env.do(t, http.MethodPut, "/settings/dns", api.DNSSetting{DNS: " 1.1.1.1 "})
	require.Equal(t, http.StatusNoContent, res.StatusCode)
	res = env.do(t, http.MethodGet, "/settings/dns", nil)
	require.Equal(t, "1.1.1.1", decode[api.DNSSetting](t, res).DNS)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, staticSource{})
	res := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var buf bytes.Buffer
	_, err := buf.ReadFrom(res.Body)
	require.NoError(t, err)
	require.Contains(t, buf.String(), "vpnconnect_test_total")
}

func TestEvents_StreamsOrchestratorEvents(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, staticSource{})
	env.conns.events.Publish(connection.StateChanged{State: model.StateConnecting})

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() api.Event {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var ev api.Event
		require.NoError(t, conn.ReadJSON(&ev))
		return ev
	}

	require.Equal(t, api.Event{Type: api.EventState, State: model.StateConnecting}, read())

	env.conns.events.Publish(connection.ConnectionFailed{AttemptID: "a1", ProviderID: "0xa", Err: errors.New("timeout")})
	require.Equal(t, api.Event{Type: api.EventConnectionFailed, AttemptID: "a1", ProviderID: "0xa", Error: "timeout"}, read())

	env.conns.events.Publish(connection.StatisticsUpdated{Statistic: model.ConnectionStatistic{TokensSpent: 1}})
	ev := read()
	require.Equal(t, api.EventStatistics, ev.Type)
	require.Equal(t, 1.0, ev.Statistic.TokensSpent)
}
