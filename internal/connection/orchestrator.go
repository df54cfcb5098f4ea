// Package connection drives the VPN connection lifecycle: core node bootstrap,
// identity load, connect, exchange rate fetch, statistics streaming and
// teardown. State changes come from the core node's status callbacks; the
// orchestrator is the only writer of the published state.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"

	"vpnconnect/internal/model"
	"vpnconnect/internal/node"
	"vpnconnect/internal/notify"
)

// DefaultDNSOption is used when the user never saved a DNS setting.
const DefaultDNSOption = "auto"

var (
	// ErrNotInitialized is returned by operations that need a loaded identity.
	ErrNotInitialized = errors.New("connection orchestrator not initialized")

	// ErrConnectStopped is returned by ConnectTo when StopConnecting won the
	// race against the connect request. It is never published as a failure.
	ErrConnectStopped = errors.New("connect stopped by user")
)

// Config holds timeouts and presentation settings.
type Config struct {
	BootstrapTimeout      time.Duration
	ConnectTimeout        time.Duration
	DisconnectTimeout     time.Duration
	RequestTimeout        time.Duration
	StatsNotification     Notification
	ConnectedNotification Notification
}

// Deps are the orchestrator's collaborators. Recorder may be nil.
type Deps struct {
	Host     Host
	Core     Core
	Wallet   Wallet
	Settings Settings
	Node     *node.Deferred
	Recorder Recorder
}

// Orchestrator is the connection state machine for one session.
type Orchestrator struct {
	cfg      Config
	host     Host
	core     Core
	wallet   Wallet
	settings Settings
	node     *node.Deferred
	rec      Recorder
	events   *notify.Server

	initMu      sync.Mutex
	listening   bool
	unsubscribe []func()

	// transition serializes ConnectTo and the disconnect operations.
	transition sync.Mutex

	// callbackMu keeps callback handling single-writer.
	callbackMu sync.Mutex

	// hostMu orders arming the host after a connect against releasing it.
	hostMu sync.Mutex

	mu           sync.RWMutex
	state        model.ConnectionState
	statistic    model.ConnectionStatistic
	proposal     *model.Proposal
	identity     fn.Option[model.Identity]
	exchangeRate fn.Option[float64]
	// stopped is set by StopConnecting and consumed by the next ConnectTo
	// outcome, failed or successful. A stop that lands while ConnectTo waits
	// for the transition lock therefore still cancels that attempt.
	stopped   bool
	attemptID string
}

// New creates an orchestrator in the NOTCONNECTED state.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.BootstrapTimeout <= 0 {
		cfg.BootstrapTimeout = 60 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 45 * time.Second
	}
	if cfg.DisconnectTimeout <= 0 {
		cfg.DisconnectTimeout = 15 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.StatsNotification.Title == "" {
		cfg.StatsNotification = Notification{Title: "VPN statistics"}
	}
	if cfg.ConnectedNotification.Title == "" {
		cfg.ConnectedNotification = Notification{Title: "Connected to VPN"}
	}
	rec := deps.Recorder
	if rec == nil {
		rec = noopRecorder{}
	}
	handle := deps.Node
	if handle == nil {
		handle = node.NewDeferred()
	}

	o := &Orchestrator{
		cfg:          cfg,
		host:         deps.Host,
		core:         deps.Core,
		wallet:       deps.Wallet,
		settings:     deps.Settings,
		node:         handle,
		rec:          rec,
		events:       notify.NewServer(),
		state:        model.StateNotConnected,
		identity:     fn.None[model.Identity](),
		exchangeRate: fn.None[float64](),
	}
	o.events.Publish(StateChanged{State: model.StateNotConnected})
	return o
}

// Initialize starts the core node unless it is already started or starting,
// registers the status and statistics callbacks and loads the identity.
// Repeated calls do not restart the node or re-register callbacks.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	o.initMu.Lock()
	defer o.initMu.Unlock()

	bctx, cancel := context.WithTimeout(ctx, o.cfg.BootstrapTimeout)
	defer cancel()
	if !o.node.StartedOrStarting() {
		log.Printf("starting core node")
		if err := o.node.Start(bctx, o.host); err != nil {
			return fmt.Errorf("start core node: %w", err)
		}
	} else if err := o.node.Await(bctx); err != nil {
		return fmt.Errorf("await core node: %w", err)
	}

	if !o.listening {
		o.unsubscribe = append(o.unsubscribe,
			o.core.SubscribeStatistics(o.onStatistics),
			o.core.SubscribeStatus(o.onStatus),
		)
		o.listening = true
	}

	return o.loadIdentity(ctx)
}

// InitializeAndConnect initializes the session and connects to p.
func (o *Orchestrator) InitializeAndConnect(ctx context.Context, p model.Proposal) error {
	if err := o.Initialize(ctx); err != nil {
		return err
	}
	return o.ConnectTo(ctx, p)
}

func (o *Orchestrator) loadIdentity(ctx context.Context) error {
	o.mu.RLock()
	loaded := o.identity.IsSome()
	o.mu.RUnlock()
	if loaded {
		return nil
	}

	rctx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()
	id, err := o.core.Identity(rctx)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}

	o.mu.Lock()
	o.identity = fn.Some(id)
	o.mu.Unlock()
	log.Printf("identity loaded address=%s status=%s", id.Address, id.RegistrationStatus)
	return nil
}

// ConnectTo connects to p, tearing down an existing connection first. The
// exchange rate is fetched once the connect request succeeds. A failure is
// published as ConnectionFailed unless the connection already reached
// CONNECTED or the user stopped the attempt; the error is returned either way.
func (o *Orchestrator) ConnectTo(ctx context.Context, p model.Proposal) error {
	o.transition.Lock()
	defer o.transition.Unlock()

	attemptID := uuid.NewString()
	o.mu.Lock()
	o.attemptID = attemptID
	o.mu.Unlock()

	o.rec.ConnectAttempt()
	log.Printf("connect attempt=%s provider=%s service=%s", attemptID, p.ProviderID, p.ServiceType)

	err := o.connectSequence(ctx, p)
	if err == nil && o.consumeStop() {
		err = ErrConnectStopped
	}
	if err != nil {
		o.handleConnectError(attemptID, p, err)
		return err
	}
	return nil
}

func (o *Orchestrator) connectSequence(ctx context.Context, p model.Proposal) error {
	if err := o.disconnectIfConnected(ctx); err != nil {
		return err
	}
	if o.isStopped() {
		return ErrConnectStopped
	}

	o.mu.Lock()
	o.proposal = &p
	o.mu.Unlock()

	if err := o.connect(ctx, p); err != nil {
		return err
	}
	return o.loadExchangeRate(ctx)
}

func (o *Orchestrator) isStopped() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.stopped
}

// consumeStop reports and clears the stop flag.
func (o *Orchestrator) consumeStop() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	stopped := o.stopped
	o.stopped = false
	return stopped
}

func (o *Orchestrator) connect(ctx context.Context, p model.Proposal) error {
	o.mu.RLock()
	identity := o.identity.UnwrapOr(model.Identity{})
	o.mu.RUnlock()

	req := ConnectRequest{
		IdentityAddress: identity.Address,
		ProviderID:      p.ProviderID,
		ServiceType:     p.ServiceType,
		DNS:             o.dnsOption(),
	}

	cctx, cancel := context.WithTimeout(ctx, o.cfg.ConnectTimeout)
	defer cancel()
	if err := o.core.Connect(cctx, req); err != nil {
		return fmt.Errorf("connect to %s: %w", p.ProviderID, err)
	}

	if !o.armHost(p) {
		o.mu.Lock()
		o.proposal = nil
		o.mu.Unlock()
		// The stop's teardown may have reached the core before this
		// connect did.
		dctx, cancel := context.WithTimeout(context.Background(), o.cfg.DisconnectTimeout)
		defer cancel()
		if err := o.core.Disconnect(dctx); err != nil {
			log.Printf("disconnect after stopped connect provider=%s: %v", p.ProviderID, err)
		}
		return ErrConnectStopped
	}
	return nil
}

// armHost hands the connection to the host unless a stop already arrived.
func (o *Orchestrator) armHost(p model.Proposal) bool {
	o.hostMu.Lock()
	defer o.hostMu.Unlock()
	if o.isStopped() {
		return false
	}
	o.host.SetActiveProposal(&p)
	o.host.SetDeferredNode(o.node)
	o.host.StartForeground(o.cfg.StatsNotification, o.cfg.ConnectedNotification)
	return true
}

func (o *Orchestrator) releaseHost() {
	o.hostMu.Lock()
	defer o.hostMu.Unlock()
	o.host.SetActiveProposal(nil)
	o.host.SetDeferredNode(nil)
	o.host.StopForeground()
}

func (o *Orchestrator) loadExchangeRate(ctx context.Context) error {
	rctx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()
	rate, err := o.wallet.ExchangeRate(rctx)
	if err != nil {
		return fmt.Errorf("exchange rate: %w", err)
	}
	o.mu.Lock()
	o.exchangeRate = fn.Some(rate)
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) dnsOption() string {
	if o.settings == nil {
		return DefaultDNSOption
	}
	dns, ok, err := o.settings.SavedDNS()
	if err != nil {
		log.Printf("read saved dns failed, using %s: %v", DefaultDNSOption, err)
		return DefaultDNSOption
	}
	if !ok {
		return DefaultDNSOption
	}
	return dns
}

func (o *Orchestrator) handleConnectError(attemptID string, p model.Proposal, err error) {
	o.mu.Lock()
	stopped := o.stopped
	o.stopped = false
	state := o.state
	o.mu.Unlock()

	suppressed := stopped || state == model.StateConnected || errors.Is(err, ErrConnectStopped)
	o.rec.ConnectFailed(suppressed)
	log.Printf("connect failed attempt=%s provider=%s stopped=%t state=%s: %v", attemptID, p.ProviderID, stopped, state, err)
	if suppressed {
		return
	}
	o.events.Publish(ConnectionFailed{AttemptID: attemptID, ProviderID: p.ProviderID, Err: err})
}

// StopConnecting cancels the failure report of an in-flight connect and
// disconnects. It does not wait for the in-flight ConnectTo.
func (o *Orchestrator) StopConnecting(ctx context.Context) error {
	o.mu.Lock()
	o.stopped = true
	o.mu.Unlock()
	log.Printf("connect stopped by user")
	return o.disconnectNode(ctx)
}

// Disconnect tears down the connection if it is CONNECTED.
func (o *Orchestrator) Disconnect(ctx context.Context) error {
	o.transition.Lock()
	defer o.transition.Unlock()
	return o.disconnectIfConnected(ctx)
}

// DisconnectFromPush is Disconnect for externally triggered drops; it
// additionally publishes PushDisconnect.
func (o *Orchestrator) DisconnectFromPush(ctx context.Context) error {
	o.transition.Lock()
	defer o.transition.Unlock()
	if err := o.disconnectIfConnected(ctx); err != nil {
		log.Printf("push disconnect failed: %v", err)
		return err
	}
	o.events.Publish(PushDisconnect{})
	return nil
}

func (o *Orchestrator) disconnectIfConnected(ctx context.Context) error {
	if o.State() != model.StateConnected {
		return nil
	}
	return o.disconnectNode(ctx)
}

// disconnectNode always releases the host's references, even when the core
// node rejects the disconnect.
func (o *Orchestrator) disconnectNode(ctx context.Context) error {
	o.mu.Lock()
	o.proposal = nil
	o.mu.Unlock()

	o.host.ManualDisconnect()
	o.events.Publish(ManualDisconnect{})

	dctx, cancel := context.WithTimeout(ctx, o.cfg.DisconnectTimeout)
	defer cancel()
	err := o.core.Disconnect(dctx)

	o.releaseHost()

	if err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}

// ManualDisconnect forwards a manual disconnect to the host.
func (o *Orchestrator) ManualDisconnect() {
	o.host.ManualDisconnect()
}

// UpdateCurrentStatus queries the core node and publishes its state.
func (o *Orchestrator) UpdateCurrentStatus(ctx context.Context) (model.ConnectionState, error) {
	rctx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()
	raw, err := o.core.Status(rctx)
	if err != nil {
		return "", fmt.Errorf("connection status: %w", err)
	}
	state, err := model.ParseConnectionState(raw)
	if err != nil {
		return "", err
	}
	o.setState(state)
	return state, nil
}

// Balance returns the balance of the session identity, or of address when
// the identity is not loaded yet.
func (o *Orchestrator) Balance(ctx context.Context, address string) (float64, error) {
	o.mu.RLock()
	if id, err := o.identity.UnwrapOrErr(ErrNotInitialized); err == nil {
		address = id.Address
	}
	o.mu.RUnlock()
	if address == "" {
		return 0, ErrNotInitialized
	}
	rctx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()
	return o.wallet.Balance(rctx, address)
}

func (o *Orchestrator) onStatistics(raw RawStatistics) {
	defer o.recoverCallback("statistics")
	o.callbackMu.Lock()
	defer o.callbackMu.Unlock()

	o.mu.RLock()
	rate := o.exchangeRate.UnwrapOr(0)
	attemptID := o.attemptID
	providerID := ""
	if o.proposal != nil {
		providerID = o.proposal.ProviderID
	}
	o.mu.RUnlock()

	stat := model.ConnectionStatistic{
		Duration:      raw.Duration,
		BytesReceived: raw.BytesReceived,
		BytesSent:     raw.BytesSent,
		TokensSpent:   raw.TokensSpent,
		CurrencySpent: raw.TokensSpent * rate,
	}

	o.mu.Lock()
	o.statistic = stat
	o.mu.Unlock()

	o.events.Publish(StatisticsUpdated{Statistic: stat})
	o.rec.ObserveStatistic(attemptID, providerID, stat)
}

func (o *Orchestrator) onStatus(raw string) {
	defer o.recoverCallback("status")
	o.callbackMu.Lock()
	defer o.callbackMu.Unlock()

	state, err := model.ParseConnectionState(raw)
	if err != nil {
		log.Printf("ignoring status callback: %v", err)
		return
	}
	if state == model.StateNotConnected {
		o.releaseHost()
	}
	o.setState(state)
}

func (o *Orchestrator) recoverCallback(name string) {
	if r := recover(); r != nil {
		log.Printf("%s callback failed: %v", name, r)
	}
}

func (o *Orchestrator) setState(state model.ConnectionState) {
	o.mu.Lock()
	changed := o.state != state
	o.state = state
	o.mu.Unlock()
	if !changed {
		return
	}
	log.Printf("connection state=%s", state)
	o.rec.ObserveState(state)
	o.events.Publish(StateChanged{State: state})
}

// State returns the current connection state.
func (o *Orchestrator) State() model.ConnectionState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Statistic returns the latest usage snapshot.
func (o *Orchestrator) Statistic() model.ConnectionStatistic {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.statistic
}

// Proposal returns the active proposal, if any.
func (o *Orchestrator) Proposal() (model.Proposal, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.proposal == nil {
		return model.Proposal{}, false
	}
	return *o.proposal, true
}

// Identity returns the session identity once loaded.
func (o *Orchestrator) Identity() fn.Option[model.Identity] {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.identity
}

// Subscribe returns a client receiving the orchestrator's events.
func (o *Orchestrator) Subscribe() (*notify.Client, error) {
	return o.events.Subscribe()
}

// Close drops the core callbacks and ends all subscriptions.
func (o *Orchestrator) Close() {
	o.initMu.Lock()
	for _, cancel := range o.unsubscribe {
		cancel()
	}
	o.unsubscribe = nil
	o.listening = false
	o.initMu.Unlock()
	o.events.Stop()
}
