package connection

import (
	"context"
	"time"

	"vpnconnect/internal/model"
	"vpnconnect/internal/node"
)

// Notification is a foreground presentation payload shown while connected.
type Notification struct {
	Title string
	Body  string
}

// Host is the process side of the core service: it owns the node process,
// remembers the active proposal and presents the connection in the foreground.
// The core node does not clear these on its own.
type Host interface {
	node.Starter
	ManualDisconnect()
	SetActiveProposal(p *model.Proposal)
	SetDeferredNode(d *node.Deferred)
	StartForeground(stats, connected Notification)
	StopForeground()
}

// ConnectRequest is sent to the core node to open a connection.
type ConnectRequest struct {
	IdentityAddress string
	ProviderID      string
	ServiceType     string
	DNS             string
}

// RawStatistics are the core node's usage counters.
type RawStatistics struct {
	Duration      time.Duration
	BytesReceived uint64
	BytesSent     uint64
	TokensSpent   float64
}

// Core is the node side of the core service. Subscriptions return a cancel func;
// callbacks run on the core's delivery goroutine.
type Core interface {
	Connect(ctx context.Context, req ConnectRequest) error
	Disconnect(ctx context.Context) error
	Status(ctx context.Context) (string, error)
	Identity(ctx context.Context) (model.Identity, error)
	SubscribeStatistics(fn func(RawStatistics)) (cancel func())
	SubscribeStatus(fn func(state string)) (cancel func())
}

// Wallet answers balance and pricing queries.
type Wallet interface {
	Balance(ctx context.Context, identityAddress string) (float64, error)
	ExchangeRate(ctx context.Context) (float64, error)
}

// Settings exposes persisted user settings.
type Settings interface {
	SavedDNS() (string, bool, error)
}

// Recorder observes connection activity, e.g. for metrics.
type Recorder interface {
	ConnectAttempt()
	ConnectFailed(suppressed bool)
	ObserveState(state model.ConnectionState)
	ObserveStatistic(sessionID, providerID string, s model.ConnectionStatistic)
}

type noopRecorder struct{}

func (noopRecorder) ConnectAttempt()                                            {}
func (noopRecorder) ConnectFailed(bool)                                         {}
func (noopRecorder) ObserveState(model.ConnectionState)                         {}
func (noopRecorder) ObserveStatistic(string, string, model.ConnectionStatistic) {}

// StateChanged is published whenever the connection state changes. New
// subscribers receive the latest one.
type StateChanged struct {
	State model.ConnectionState
}

// StickyKey implements notify.Sticky.
func (StateChanged) StickyKey() string { return "state" }

// StatisticsUpdated carries the latest usage snapshot. New subscribers
// receive the latest one.
type StatisticsUpdated struct {
	Statistic model.ConnectionStatistic
}

// StickyKey implements notify.Sticky.
func (StatisticsUpdated) StickyKey() string { return "statistics" }

// ConnectionFailed is published once per surfaced connect failure.
type ConnectionFailed struct {
	AttemptID  string
	ProviderID string
	Err        error
}

// ManualDisconnect is published when a teardown starts.
type ManualDisconnect struct{}

// PushDisconnect is published after a teardown triggered from outside the UI.
type PushDisconnect struct{}
