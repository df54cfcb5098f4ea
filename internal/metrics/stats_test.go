package metrics

import (
	"testing"
	"time"

	"vpnconnect/internal/model"
)

func TestSummarize_UsesLastSamplePerSession(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	items := []model.UsageSample{
		{Timestamp: now.Add(-20 * time.Second), SessionID: "a", Duration: 5 * time.Second, BytesReceived: 100, TokensSpent: 1},
		{Timestamp: now.Add(-10 * time.Second), SessionID: "a", Duration: 10 * time.Second, BytesReceived: 500_000, BytesSent: 750_000, TokensSpent: 2, CurrencySpent: 4},
		{Timestamp: now.Add(-5 * time.Second), SessionID: "b", Duration: 30 * time.Second, BytesReceived: 10, TokensSpent: 1, CurrencySpent: 2},
		{Timestamp: now.Add(-2 * time.Hour), SessionID: "old", Duration: time.Hour, TokensSpent: 100},
	}
	s := Summarize(items, now.Add(-1*time.Minute))
	if s.Count != 3 || s.Sessions != 2 {
		t.Fatalf("count=%d sessions=%d", s.Count, s.Sessions)
	}
	if s.TotalReceived != 500_010 || s.TotalSent != 750_000 {
		t.Fatalf("received=%d sent=%d", s.TotalReceived, s.TotalSent)
	}
	if s.TotalTokens != 3 || s.TotalCurrency != 6 {
		t.Fatalf("tokens=%.2f currency=%.2f", s.TotalTokens, s.TotalCurrency)
	}
	if s.AvgSessionSec != 20 || s.P95SessionSec != 30 {
		t.Fatalf("avg=%.2f p95=%.2f", s.AvgSessionSec, s.P95SessionSec)
	}
	if !s.From.Equal(items[0].Timestamp) || !s.To.Equal(items[2].Timestamp) {
		t.Fatalf("from=%v to=%v", s.From, s.To)
	}
}

func TestSummarize_Empty(t *testing.T) {
	t.Parallel()

	if s := Summarize(nil, time.Time{}); s.Count != 0 || s.Sessions != 0 {
		t.Fatalf("summary=%+v", s)
	}
}

func TestPercentile_Edges(t *testing.T) {
	t.Parallel()

	values := []float64{1, 2, 3, 4}
	if got := percentile(values, 0); got != 1 {
		t.Fatalf("p0=%v", got)
	}
	if got := percentile(values, 1); got != 4 {
		t.Fatalf("p100=%v", got)
	}
	if got := percentile(values, 0.5); got != 2 {
		t.Fatalf("p50=%v", got)
	}
}
