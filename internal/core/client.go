package core

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/ticker"

	"vpnconnect/internal/api"
	"vpnconnect/internal/connection"
	"vpnconnect/internal/model"
)

// NodeAPI is the subset of the core node HTTP API the client needs.
type NodeAPI interface {
	Connect(ctx context.Context, req api.ConnectRequest) error
	Disconnect(ctx context.Context) error
	ConnectionStatus(ctx context.Context) (api.ConnectionStatusResponse, error)
	Statistics(ctx context.Context) (api.StatisticsResponse, error)
	CurrentIdentity(ctx context.Context) (model.Identity, error)
	Balance(ctx context.Context, identityAddress string) (float64, error)
	ExchangeRate(ctx context.Context) (float64, error)
}

// Client implements connection.Core and connection.Wallet on top of the core
// node API. Status and statistics are polled on every tick; status callbacks
// fire when the status changes and statistics callbacks fire while connected.
// All callbacks run on the polling goroutine.
type Client struct {
	api            NodeAPI
	ticker         ticker.Ticker
	requestTimeout time.Duration

	mu         sync.Mutex
	nextID     uint64
	statusSubs map[uint64]func(string)
	statsSubs  map[uint64]func(connection.RawStatistics)
	lastStatus string
	sessionID  string

	started bool
	stopped bool
	quit    chan struct{}
	wg      sync.WaitGroup
}

// NewClient returns a client polling on t. Call Start to begin polling.
func NewClient(nodeAPI NodeAPI, t ticker.Ticker, requestTimeout time.Duration) *Client {
	if requestTimeout <= 0 {
		requestTimeout = 10 * time.Second
	}
	return &Client{
		api:            nodeAPI,
		ticker:         t,
		requestTimeout: requestTimeout,
		statusSubs:     make(map[uint64]func(string)),
		statsSubs:      make(map[uint64]func(connection.RawStatistics)),
		quit:           make(chan struct{}),
	}
}

// Start begins polling. It is a no-op when already started; a stopped client
// cannot be restarted.
func (c *Client) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.stopped {
		return
	}
	c.started = true
	c.ticker.Resume()
	c.wg.Add(1)
	go c.pollLoop()
}

// Stop ends polling and waits for in-flight callbacks.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.started || c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()

	close(c.quit)
	c.ticker.Stop()
	c.wg.Wait()
}

func (c *Client) pollLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ticker.Ticks():
			c.poll()
		case <-c.quit:
			return
		}
	}
}

func (c *Client) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout)
	defer cancel()

	status, err := c.api.ConnectionStatus(ctx)
	if err != nil {
		log.Printf("poll connection status failed: %v", err)
		return
	}

	c.mu.Lock()
	changed := status.Status != c.lastStatus
	c.lastStatus = status.Status
	c.sessionID = status.SessionID
	statusSubs := make([]func(string), 0, len(c.statusSubs))
	for _, fn := range c.statusSubs {
		statusSubs = append(statusSubs, fn)
	}
	c.mu.Unlock()

	if changed {
		for _, fn := range statusSubs {
			fn(status.Status)
		}
	}

	state, err := model.ParseConnectionState(status.Status)
	if err != nil || state != model.StateConnected {
		return
	}

	stats, err := c.api.Statistics(ctx)
	if err != nil {
		log.Printf("poll statistics failed: %v", err)
		return
	}
	raw := connection.RawStatistics{
		Duration:      time.Duration(stats.DurationSec) * time.Second,
		BytesReceived: stats.BytesReceived,
		BytesSent:     stats.BytesSent,
		TokensSpent:   stats.TokensSpent,
	}

	c.mu.Lock()
	statsSubs := make([]func(connection.RawStatistics), 0, len(c.statsSubs))
	for _, fn := range c.statsSubs {
		statsSubs = append(statsSubs, fn)
	}
	c.mu.Unlock()
	for _, fn := range statsSubs {
		fn(raw)
	}
}

// SubscribeStatus registers fn for status changes.
func (c *Client) SubscribeStatus(fn func(string)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.statusSubs[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.statusSubs, id)
		c.mu.Unlock()
	}
}

// SubscribeStatistics registers fn for statistics while connected.
func (c *Client) SubscribeStatistics(fn func(connection.RawStatistics)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.statsSubs[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.statsSubs, id)
		c.mu.Unlock()
	}
}

// SessionID returns the session reported by the last poll.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) Connect(ctx context.Context, req connection.ConnectRequest) error {
	return c.api.Connect(ctx, api.ConnectRequest{
		ConsumerID:     req.IdentityAddress,
		ProviderID:     req.ProviderID,
		ServiceType:    req.ServiceType,
		ConnectOptions: api.ConnectOptions{DNS: req.DNS},
	})
}

func (c *Client) Disconnect(ctx context.Context) error {
	return c.api.Disconnect(ctx)
}

func (c *Client) Status(ctx context.Context) (string, error) {
	res, err := c.api.ConnectionStatus(ctx)
	if err != nil {
		return "", err
	}
	return res.Status, nil
}

func (c *Client) Identity(ctx context.Context) (model.Identity, error) {
	return c.api.CurrentIdentity(ctx)
}

func (c *Client) Balance(ctx context.Context, identityAddress string) (float64, error) {
	return c.api.Balance(ctx, identityAddress)
}

func (c *Client) ExchangeRate(ctx context.Context) (float64, error) {
	return c.api.ExchangeRate(ctx)
}
