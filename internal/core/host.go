// Package core adapts the core node's HTTP API to the connection
// orchestrator. Host owns the node process and the foreground presentation;
// Client issues requests and turns polled state into callbacks.
package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"vpnconnect/internal/api"
	"vpnconnect/internal/connection"
	"vpnconnect/internal/execx"
	"vpnconnect/internal/model"
	"vpnconnect/internal/node"
)

// ErrNodeExited is returned when the node process exits before it is healthy.
var ErrNodeExited = errors.New("core node exited during startup")

// HealthChecker reports whether the core node answers requests.
type HealthChecker interface {
	Healthcheck(ctx context.Context) (api.HealthcheckResponse, error)
}

// HostConfig configures the node process. An empty Binary means the node is
// managed elsewhere and StartNode only waits for it to become healthy.
type HostConfig struct {
	Binary       string
	Args         []string
	PollInterval time.Duration
}

// Host implements connection.Host.
type Host struct {
	cfg    HostConfig
	runner execx.Runner
	health HealthChecker

	mu                sync.Mutex
	proc              execx.Process
	active            *model.Proposal
	deferred          *node.Deferred
	foreground        bool
	notifications     [2]connection.Notification
	manualDisconnects int
}

// NewHost returns a host. runner may be nil when cfg.Binary is empty.
func NewHost(cfg HostConfig, runner execx.Runner, health HealthChecker) *Host {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	return &Host{cfg: cfg, runner: runner, health: health}
}

// StartNode launches the node binary if configured, then blocks until the
// node answers its healthcheck or ctx ends. A process still running from an
// earlier start is reused. A process launched here is stopped again when it
// never becomes healthy.
func (h *Host) StartNode(ctx context.Context) error {
	var (
		exited   <-chan struct{}
		launched execx.Process
	)
	if h.cfg.Binary != "" {
		proc, fresh, err := h.ensureProcess()
		if err != nil {
			return err
		}
		exited = proc.Done()
		if fresh {
			launched = proc
		}
	}

	err := h.awaitHealthy(ctx, exited)
	if err != nil && launched != nil {
		h.discard(launched)
	}
	return err
}

func (h *Host) ensureProcess() (execx.Process, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.proc != nil {
		select {
		case <-h.proc.Done():
		default:
			log.Printf("core node already running pid=%d", h.proc.Pid())
			return h.proc, false, nil
		}
	}

	if version, err := h.runner.Output(h.cfg.Binary, "version"); err == nil {
		log.Printf("core node binary=%s version=%s", h.cfg.Binary, version)
	}
	proc, err := h.runner.Start(h.cfg.Binary, h.cfg.Args...)
	if err != nil {
		return nil, false, fmt.Errorf("start %s: %w", h.cfg.Binary, err)
	}
	log.Printf("core node started pid=%d", proc.Pid())
	h.proc = proc
	return proc, true, nil
}

func (h *Host) awaitHealthy(ctx context.Context, exited <-chan struct{}) error {
	for {
		res, err := h.health.Healthcheck(ctx)
		if err == nil {
			log.Printf("core node healthy version=%s uptime=%s", res.Version, res.Uptime)
			return nil
		}
		select {
		case <-exited:
			return ErrNodeExited
		case <-ctx.Done():
			return fmt.Errorf("core node not healthy: %w (last error: %v)", ctx.Err(), err)
		case <-time.After(h.cfg.PollInterval):
		}
	}
}

// discard stops proc and forgets it if it is still the tracked process.
func (h *Host) discard(proc execx.Process) {
	h.mu.Lock()
	if h.proc == proc {
		h.proc = nil
	}
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := proc.Stop(ctx); err != nil {
		log.Printf("stop unhealthy core node pid=%d: %v", proc.Pid(), err)
	}
}

// ManualDisconnect records a user-requested teardown.
func (h *Host) ManualDisconnect() {
	h.mu.Lock()
	h.manualDisconnects++
	h.mu.Unlock()
}

// SetActiveProposal remembers the proposal the node is connected to.
func (h *Host) SetActiveProposal(p *model.Proposal) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p == nil {
		h.active = nil
		return
	}
	cp := *p
	h.active = &cp
}

// SetDeferredNode keeps a reference to the node handle while connected.
func (h *Host) SetDeferredNode(d *node.Deferred) {
	h.mu.Lock()
	h.deferred = d
	h.mu.Unlock()
}

// StartForeground presents the connection until StopForeground.
func (h *Host) StartForeground(stats, connected connection.Notification) {
	h.mu.Lock()
	h.foreground = true
	h.notifications = [2]connection.Notification{stats, connected}
	h.mu.Unlock()
	log.Printf("foreground started title=%q", connected.Title)
}

// StopForeground ends the foreground presentation.
func (h *Host) StopForeground() {
	h.mu.Lock()
	was := h.foreground
	h.foreground = false
	h.mu.Unlock()
	if was {
		log.Printf("foreground stopped")
	}
}

// ActiveProposal returns the proposal set by the orchestrator, if any.
func (h *Host) ActiveProposal() (model.Proposal, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active == nil {
		return model.Proposal{}, false
	}
	return *h.active, true
}

// Foreground reports whether the connection is presented and with which
// connected notification.
func (h *Host) Foreground() (connection.Notification, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.notifications[1], h.foreground
}

// HoldsNode reports whether a node handle reference is kept.
func (h *Host) HoldsNode() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.deferred != nil
}

// ManualDisconnects returns how many teardowns were requested.
func (h *Host) ManualDisconnects() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.manualDisconnects
}

// Close stops the node process if this host started it.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	proc := h.proc
	h.proc = nil
	h.mu.Unlock()
	if proc == nil {
		return nil
	}
	log.Printf("stopping core node pid=%d", proc.Pid())
	return proc.Stop(ctx)
}
