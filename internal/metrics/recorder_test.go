package metrics

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"vpnconnect/internal/model"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			for _, l := range m.GetLabel() {
				key += "|" + l.GetValue()
			}
			switch {
			case m.GetCounter() != nil:
				out[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[key] = m.GetGauge().GetValue()
			}
		}
	}
	return out
}

func TestRecorder_Collectors(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	r := NewRecorder(reg, RecorderConfig{})

	r.ConnectAttempt()
	r.ConnectAttempt()
	r.ConnectFailed(true)
	r.ConnectFailed(false)
	r.ConnectFailed(false)
	r.ObserveState(model.StateConnecting)
	r.ObserveState(model.StateConnected)
	r.ObserveStatistic("s1", "0xa", model.ConnectionStatistic{
		Duration:      time.Minute,
		BytesReceived: 100,
		BytesSent:     40,
		TokensSpent:   2,
		CurrencySpent: 5,
	})

	got := gather(t, reg)
	require.Equal(t, 2.0, got["vpnconnect_connection_attempts_total"])
	require.Equal(t, 1.0, got["vpnconnect_connection_failures_total|suppressed"])
	require.Equal(t, 2.0, got["vpnconnect_connection_failures_total|reported"])
	require.Equal(t, 1.0, got["vpnconnect_connection_state|CONNECTED"])
	require.Equal(t, 0.0, got["vpnconnect_connection_state|CONNECTING"])
	require.Equal(t, 100.0, got["vpnconnect_session_bytes|received"])
	require.Equal(t, 5.0, got["vpnconnect_session_currency_spent"])
	require.Equal(t, 60.0, got["vpnconnect_session_duration_seconds"])
}

func TestRecorder_AppendsThrottledSamples(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "usage.csv")
	r := NewRecorder(nil, RecorderConfig{UsagePath: path, SampleInterval: 10 * time.Second})
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	stat := model.ConnectionStatistic{Duration: time.Second, TokensSpent: 1}
	r.ObserveStatistic("s1", "0xa", stat)
	now = now.Add(5 * time.Second)
	r.ObserveStatistic("s1", "0xa", stat)
	now = now.Add(5 * time.Second)
	r.ObserveStatistic("s1", "0xa", stat)
	r.ObserveStatistic("s2", "0xb", stat)
	r.ObserveStatistic("", "0xb", stat)

	items, err := ReadCSV(path)
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Equal(t, "s2", items[2].SessionID)
	require.Equal(t, "0xb", items[2].ProviderID)
}
