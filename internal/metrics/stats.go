package metrics

import (
	"math"
	"sort"
	"time"

	"vpnconnect/internal/model"
)

// Summary is a usage snapshot over a time window. Counters are cumulative per
// session, so totals take the last sample of each session.
type Summary struct {
	Count             int
	Sessions          int
	From              time.Time
	To                time.Time
	TotalReceived     uint64
	TotalSent         uint64
	TotalTokens       float64
	TotalCurrency     float64
	AvgSessionSec     float64
	P95SessionSec     float64
	AvgThroughputMbps float64
}

// Summarize computes a summary for items at or after since.
func Summarize(items []model.UsageSample, since time.Time) Summary {
	filtered := make([]model.UsageSample, 0, len(items))
	for _, s := range items {
		if s.Timestamp.After(since) || s.Timestamp.Equal(since) {
			filtered = append(filtered, s)
		}
	}

	if len(filtered) == 0 {
		return Summary{Count: 0}
	}

	last := make(map[string]model.UsageSample)
	from := filtered[0].Timestamp
	to := filtered[0].Timestamp
	for _, s := range filtered {
		if prev, ok := last[s.SessionID]; !ok || !s.Timestamp.Before(prev.Timestamp) {
			last[s.SessionID] = s
		}
		if s.Timestamp.Before(from) {
			from = s.Timestamp
		}
		if s.Timestamp.After(to) {
			to = s.Timestamp
		}
	}

	out := Summary{
		Count:    len(filtered),
		Sessions: len(last),
		From:     from,
		To:       to,
	}
	durations := make([]float64, 0, len(last))
	var sumDuration, sumThroughput float64
	for _, s := range last {
		out.TotalReceived += s.BytesReceived
		out.TotalSent += s.BytesSent
		out.TotalTokens += s.TokensSpent
		out.TotalCurrency += s.CurrencySpent

		sec := s.Duration.Seconds()
		durations = append(durations, sec)
		sumDuration += sec
		if sec > 0 {
			sumThroughput += float64(s.BytesReceived+s.BytesSent) * 8 / sec / 1e6
		}
	}

	sort.Float64s(durations)
	n := float64(len(last))
	out.AvgSessionSec = sumDuration / n
	out.P95SessionSec = percentile(durations, 0.95)
	out.AvgThroughputMbps = sumThroughput / n
	return out
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return values[0]
	}
	if p >= 1 {
		return values[len(values)-1]
	}
	idx := int(math.Ceil(p*float64(len(values)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(values) {
		idx = len(values) - 1
	}
	return values[idx]
}
