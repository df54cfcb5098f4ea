package metrics

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"vpnconnect/internal/model"
)

// Recorder exports connection activity as Prometheus metrics and, when a
// usage path is set, appends statistics samples to a CSV file.
type Recorder struct {
	attempts      prometheus.Counter
	failures      *prometheus.CounterVec
	state         *prometheus.GaugeVec
	bytes         *prometheus.GaugeVec
	tokens        prometheus.Gauge
	currency      prometheus.Gauge
	sessionLength prometheus.Gauge

	usagePath      string
	sampleInterval time.Duration
	now            func() time.Time

	mu         sync.Mutex
	lastSample map[string]time.Time
}

// RecorderConfig configures NewRecorder. A zero SampleInterval writes every sample.
type RecorderConfig struct {
	UsagePath      string
	SampleInterval time.Duration
}

// NewRecorder creates the collectors and registers them with reg.
func NewRecorder(reg prometheus.Registerer, cfg RecorderConfig) *Recorder {
	r := &Recorder{
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vpnconnect",
			Subsystem: "connection",
			Name:      "attempts_total",
			Help:      "Total connect attempts.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vpnconnect",
			Subsystem: "connection",
			Name:      "failures_total",
			Help:      "Connect failures split by whether they were reported to the user.",
		}, []string{"outcome"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "vpnconnect",
			Subsystem: "connection",
			Name:      "state",
			Help:      "1 for the current connection state, 0 otherwise.",
		}, []string{"state"}),
		bytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "vpnconnect",
			Subsystem: "session",
			Name:      "bytes",
			Help:      "Bytes transferred in the current session.",
		}, []string{"direction"}),
		tokens: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vpnconnect",
			Subsystem: "session",
			Name:      "tokens_spent",
			Help:      "Tokens spent in the current session.",
		}),
		currency: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vpnconnect",
			Subsystem: "session",
			Name:      "currency_spent",
			Help:      "Tokens spent in the current session converted at the session exchange rate.",
		}),
		sessionLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vpnconnect",
			Subsystem: "session",
			Name:      "duration_seconds",
			Help:      "Duration of the current session.",
		}),
		usagePath:      cfg.UsagePath,
		sampleInterval: cfg.SampleInterval,
		now:            time.Now,
		lastSample:     make(map[string]time.Time),
	}
	if reg != nil {
		reg.MustRegister(
			r.attempts,
			r.failures,
			r.state,
			r.bytes,
			r.tokens,
			r.currency,
			r.sessionLength,
		)
	}
	return r
}

// ConnectAttempt counts a connect attempt.
func (r *Recorder) ConnectAttempt() {
	r.attempts.Inc()
}

// ConnectFailed counts a failure as suppressed or reported.
func (r *Recorder) ConnectFailed(suppressed bool) {
	outcome := "reported"
	if suppressed {
		outcome = "suppressed"
	}
	r.failures.WithLabelValues(outcome).Inc()
}

// ObserveState marks state as the current one.
func (r *Recorder) ObserveState(state model.ConnectionState) {
	for _, s := range []model.ConnectionState{
		model.StateNotConnected,
		model.StateConnecting,
		model.StateConnected,
		model.StateDisconnecting,
	} {
		v := 0.0
		if s == state {
			v = 1
		}
		r.state.WithLabelValues(string(s)).Set(v)
	}
}

// ObserveStatistic updates the session gauges and appends a usage sample.
func (r *Recorder) ObserveStatistic(sessionID, providerID string, s model.ConnectionStatistic) {
	r.bytes.WithLabelValues("received").Set(float64(s.BytesReceived))
	r.bytes.WithLabelValues("sent").Set(float64(s.BytesSent))
	r.tokens.Set(s.TokensSpent)
	r.currency.Set(s.CurrencySpent)
	r.sessionLength.Set(s.Duration.Seconds())

	if r.usagePath == "" || sessionID == "" {
		return
	}
	now := r.now().UTC()
	r.mu.Lock()
	last, seen := r.lastSample[sessionID]
	if seen && now.Sub(last) < r.sampleInterval {
		r.mu.Unlock()
		return
	}
	r.lastSample[sessionID] = now
	r.mu.Unlock()

	sample := model.UsageSample{
		Timestamp:     now,
		SessionID:     sessionID,
		ProviderID:    providerID,
		Duration:      s.Duration,
		BytesReceived: s.BytesReceived,
		BytesSent:     s.BytesSent,
		TokensSpent:   s.TokensSpent,
		CurrencySpent: s.CurrencySpent,
	}
	if err := AppendCSV(r.usagePath, []model.UsageSample{sample}); err != nil {
		log.Printf("usage sample write failed path=%s: %v", r.usagePath, err)
	}
}
