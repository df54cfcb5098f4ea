package agent

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/lightningnetwork/lnd/ticker"

	"vpnconnect/internal/core"
)

// ErrCoreUnreachable is returned by Run when the core node stopped answering
// its health check.
var ErrCoreUnreachable = errors.New("core node health check failed")

// checkCoreHealth calls the core node's healthcheck once within timeout.
func checkCoreHealth(ctx context.Context, checker core.HealthChecker, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := checker.Healthcheck(ctx)
	return err == nil
}

// monitorCore checks the core node on every tick and returns
// ErrCoreUnreachable after maxFailures consecutive failures.
func monitorCore(ctx context.Context, checker core.HealthChecker, t ticker.Ticker, timeout time.Duration, maxFailures int) error {
	t.Resume()
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.Ticks():
			if checkCoreHealth(ctx, checker, timeout) {
				if failures > 0 {
					log.Printf("core node healthy again after %d failed checks", failures)
				}
				failures = 0
				continue
			}
			failures++
			log.Printf("core node health check failed (%d/%d)", failures, maxFailures)
			if failures >= maxFailures {
				return ErrCoreUnreachable
			}
		}
	}
}
