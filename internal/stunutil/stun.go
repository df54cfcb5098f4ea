package stunutil

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/pion/stun/v3"
	"golang.org/x/sync/errgroup"
)

const (
	NATTypeUnknown          = "unknown"
	NATTypeSymmetric        = "symmetric"
	NATTypeConeOrRestricted = "cone_or_restricted"
)

// NAT compatibility values understood by the core node's proposal query.
const (
	CompatibilityAuto      = "auto"
	CompatibilityPRCone    = "prcone"
	CompatibilitySymmetric = "symmetric"
)

var errNoServers = errors.New("no STUN servers provided")

type bindingFunc func(ctx context.Context, server string) (string, error)

// Probe sends a binding request to every server in parallel and classifies
// the NAT from the mapped addresses. The returned address is the one seen by
// the first server that answered, in list order.
func Probe(ctx context.Context, servers []string, timeout time.Duration) (string, string, error) {
	return probeAll(ctx, servers, timeout, bind)
}

func probeAll(ctx context.Context, servers []string, timeout time.Duration, do bindingFunc) (string, string, error) {
	if len(servers) == 0 {
		return "", NATTypeUnknown, errNoServers
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	mapped := make([]string, len(servers))
	failures := make([]error, len(servers))
	var g errgroup.Group
	for i, server := range servers {
		i, server := i, server
		g.Go(func() error {
			addr, err := do(ctx, server)
			if err != nil {
				failures[i] = fmt.Errorf("stun %s: %w", server, err)
				return nil
			}
			mapped[i] = addr
			return nil
		})
	}
	_ = g.Wait()

	addrs := make([]string, 0, len(servers))
	for _, addr := range mapped {
		if addr != "" {
			addrs = append(addrs, addr)
		}
	}
	if len(addrs) == 0 {
		return "", NATTypeUnknown, errors.Join(failures...)
	}
	return addrs[0], Classify(addrs), nil
}

// Classify infers NAT type by comparing mapped addresses from multiple servers.
func Classify(addrs []string) string {
	if len(addrs) < 2 {
		return NATTypeUnknown
	}
	for _, addr := range addrs[1:] {
		if addr != addrs[0] {
			return NATTypeSymmetric
		}
	}
	return NATTypeConeOrRestricted
}

// Compatibility maps a detected NAT type to the proposal filter value.
// Cone variants cannot be told apart with plain binding requests, so they
// map to the strictest cone type.
func Compatibility(natType string) string {
	switch natType {
	case NATTypeSymmetric:
		return CompatibilitySymmetric
	case NATTypeConeOrRestricted:
		return CompatibilityPRCone
	default:
		return CompatibilityAuto
	}
}

// Resolver returns a function that probes servers and reports the NAT
// compatibility of this host.
func Resolver(servers []string, timeout time.Duration) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		addr, natType, err := Probe(ctx, servers, timeout)
		if err != nil {
			return CompatibilityAuto, err
		}
		log.Printf("stun probe public_addr=%s nat_type=%s", addr, natType)
		return Compatibility(natType), nil
	}
}

func serverURI(server string) (*stun.URI, error) {
	s := strings.TrimSpace(server)
	if s == "" {
		return nil, errors.New("empty STUN server")
	}
	if !strings.HasPrefix(s, "stun:") {
		s = "stun:" + s
	}
	return stun.ParseURI(s)
}

func bind(ctx context.Context, server string) (string, error) {
	uri, err := serverURI(server)
	if err != nil {
		return "", err
	}
	client, err := stun.DialURI(uri, &stun.DialConfig{})
	if err != nil {
		return "", err
	}
	defer client.Close()

	type reply struct {
		addr string
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		err := client.Do(stun.MustBuild(stun.TransactionID, stun.BindingRequest), func(ev stun.Event) {
			if ev.Error != nil {
				done <- reply{err: ev.Error}
				return
			}
			var xor stun.XORMappedAddress
			if err := xor.GetFrom(ev.Message); err != nil {
				done <- reply{err: err}
				return
			}
			done <- reply{addr: xor.String()}
		})
		if err != nil {
			select {
			case done <- reply{err: err}:
			default:
			}
		}
	}()

	select {
	case r := <-done:
		return r.addr, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
