// Package agent wires the client daemon together: store, core node adapter,
// proposal service, connection orchestrator, metrics and the controller API.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/lightningnetwork/lnd/ticker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"vpnconnect/internal/api"
	"vpnconnect/internal/config"
	"vpnconnect/internal/connection"
	"vpnconnect/internal/controller"
	"vpnconnect/internal/core"
	"vpnconnect/internal/execx"
	"vpnconnect/internal/metrics"
	"vpnconnect/internal/model"
	"vpnconnect/internal/node"
	"vpnconnect/internal/proposal"
	"vpnconnect/internal/store"
	"vpnconnect/internal/stunutil"
)

const (
	stunTimeout        = 5 * time.Second
	usageSampleEvery   = 10 * time.Second
	initializeRetry    = 5 * time.Second
	shutdownDisconnect = 15 * time.Second
)

// App holds the wired components of one client process.
type App struct {
	Config       config.Config
	Store        *store.Store
	API          *api.Client
	Host         *core.Host
	Core         *core.Client
	Node         *node.Deferred
	Proposals    *proposal.Service
	Orchestrator *connection.Orchestrator
	Registry     *prometheus.Registry
}

// NewApp builds the components for cfg. The core poller is not started.
func NewApp(cfg config.Config) (*App, error) {
	if cfg.Client == nil {
		cfg.Client = &config.ClientConfig{}
	}
	config.ApplyDefaults(&cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Client.DataDir, 0o700); err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Client.StorePath())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	apiClient := api.NewClient(cfg.Core.Address)
	host := core.NewHost(core.HostConfig{
		Binary: cfg.Core.NodeBinary,
		Args:   cfg.Core.NodeArgs,
	}, execx.NewOSRunner(nil, nil), apiClient)
	coreClient := core.NewClient(apiClient, ticker.New(cfg.Core.PollInterval()), cfg.Core.RequestTimeout())
	handle := node.NewDeferred()

	var resolveNAT proposal.NATResolver
	if cfg.Client.NATCompatibility == stunutil.CompatibilityAuto && len(cfg.Client.STUNServers) > 0 {
		resolveNAT = stunutil.Resolver(cfg.Client.STUNServers, stunTimeout)
	}
	proposals := proposal.NewService(proposal.NewRepository(apiClient, handle), st, proposal.ServiceConfig{
		ServiceType:      cfg.Client.ServiceType,
		NATCompatibility: cfg.Client.NATCompatibility,
		ResolveNAT:       resolveNAT,
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewRecorder(reg, metrics.RecorderConfig{
		UsagePath:      cfg.Client.UsagePath,
		SampleInterval: usageSampleEvery,
	})

	orch := connection.New(connection.Config{
		BootstrapTimeout:  cfg.Core.BootstrapTimeout(),
		ConnectTimeout:    cfg.Core.ConnectTimeout(),
		DisconnectTimeout: cfg.Core.DisconnectTimeout(),
		RequestTimeout:    cfg.Core.RequestTimeout(),
	}, connection.Deps{
		Host:     host,
		Core:     coreClient,
		Wallet:   coreClient,
		Settings: st,
		Node:     handle,
		Recorder: recorder,
	})

	return &App{
		Config:       cfg,
		Store:        st,
		API:          apiClient,
		Host:         host,
		Core:         coreClient,
		Node:         handle,
		Proposals:    proposals,
		Orchestrator: orch,
		Registry:     reg,
	}, nil
}

// Close releases every component, stopping a node process this app launched.
func (a *App) Close() error {
	a.Orchestrator.Close()
	a.Core.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownDisconnect)
	defer cancel()
	hostErr := a.Host.Close(ctx)
	return errors.Join(hostErr, a.Store.Close())
}

// Run serves the controller API until ctx ends or the core node becomes
// unreachable.
func Run(ctx context.Context, cfg config.Config) error {
	app, err := NewApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()
	cfg = app.Config

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	app.Core.Start()
	srv := controller.New(controller.Config{
		Listen:      cfg.Client.Listen,
		Connections: app.Orchestrator,
		Proposals:   app.Proposals,
		Settings:    app.Store,
		Gatherer:    app.Registry,
		DefaultDNS:  config.DefaultDNSOption,
	})
	defer srv.Close()

	errCh := make(chan error, 2)
	go func() {
		errCh <- srv.ListenAndServe(ctx)
	}()
	go func() {
		if err := initialize(ctx, app.Orchestrator, initializeRetry); err != nil {
			errCh <- err
			return
		}
		if cfg.Core.HealthCheckInterval() <= 0 {
			return
		}
		errCh <- monitorCore(ctx, app.API, ticker.New(cfg.Core.HealthCheckInterval()),
			cfg.Core.RequestTimeout(), cfg.Core.HealthCheckFailures)
	}()

	select {
	case <-ctx.Done():
		disconnectOnExit(app.Orchestrator)
		return ctx.Err()
	case err := <-errCh:
		disconnectOnExit(app.Orchestrator)
		return err
	}
}

// initialize retries until the orchestrator is initialized or ctx ends.
func initialize(ctx context.Context, orch *connection.Orchestrator, every time.Duration) error {
	for {
		err := orch.Initialize(ctx)
		if err == nil {
			return nil
		}
		log.Printf("initialize failed, retrying in %s: %v", every, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(every):
		}
	}
}

// disconnectOnExit tears down a connection or an attempt still in progress.
func disconnectOnExit(orch *connection.Orchestrator) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownDisconnect)
	defer cancel()
	teardown := orch.Disconnect
	if orch.State() == model.StateConnecting {
		teardown = orch.StopConnecting
	}
	if err := teardown(ctx); err != nil {
		log.Printf("disconnect on exit failed: %v", err)
	}
}
