package agent

import (
	"context"
	"fmt"
	"log"

	"vpnconnect/internal/config"
	"vpnconnect/internal/connection"
	"vpnconnect/internal/model"
)

// SessionOptions selects the node for RunSession.
type SessionOptions struct {
	ProviderID  string
	ServiceType string
	// OnState is called for every state change, if set.
	OnState func(model.ConnectionState)
	// OnStatistic is called for every statistics update, if set.
	OnStatistic func(model.ConnectionStatistic)
}

// RunSession connects to one provider in-process and keeps the connection
// until ctx ends, then disconnects. A surfaced connect failure ends the
// session with that error.
func RunSession(ctx context.Context, cfg config.Config, opts SessionOptions) error {
	app, err := NewApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()
	if opts.ServiceType == "" {
		opts.ServiceType = app.Config.Client.ServiceType
	}

	app.Core.Start()
	if err := app.Orchestrator.Initialize(ctx); err != nil {
		return err
	}
	if _, err := app.Proposals.AllProposals(ctx); err != nil {
		return err
	}
	p, ok := app.Proposals.Lookup(opts.ProviderID, opts.ServiceType)
	if !ok {
		return fmt.Errorf("provider %s does not offer %s", opts.ProviderID, opts.ServiceType)
	}

	sub, err := app.Orchestrator.Subscribe()
	if err != nil {
		return err
	}
	defer sub.Cancel()

	go func() {
		if err := app.Orchestrator.ConnectTo(ctx, p); err != nil {
			log.Printf("session connect failed: %v", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			disconnectOnExit(app.Orchestrator)
			return nil
		case <-sub.Quit():
			return nil
		case raw := <-sub.Updates():
			switch ev := raw.(type) {
			case connection.StateChanged:
				if opts.OnState != nil {
					opts.OnState(ev.State)
				}
			case connection.StatisticsUpdated:
				if opts.OnStatistic != nil {
					opts.OnStatistic(ev.Statistic)
				}
			case connection.ConnectionFailed:
				return fmt.Errorf("connect to %s failed: %w", ev.ProviderID, ev.Err)
			}
		}
	}
}
