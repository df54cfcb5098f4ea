package proposal

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"vpnconnect/internal/model"
	"vpnconnect/internal/node"
)

// fetchTimeout bounds a shared upstream fetch, which does not inherit any
// caller's cancellation.
const fetchTimeout = 60 * time.Second

// Source fetches raw proposal records from the core node.
type Source interface {
	Proposals(ctx context.Context, req model.ProposalRequest) ([]model.NodeRecord, error)
}

// Repository fetches node records once the core node is up.
// Identical concurrent requests share one upstream call.
type Repository struct {
	source Source
	node   *node.Deferred
	group  singleflight.Group
}

// NewRepository creates a repository. A nil handle skips the node wait.
func NewRepository(source Source, handle *node.Deferred) *Repository {
	return &Repository{source: source, node: handle}
}

// Proposals returns the records matching req. Errors are not retried.
func (r *Repository) Proposals(ctx context.Context, req model.ProposalRequest) ([]model.NodeRecord, error) {
	if r.node != nil {
		if err := r.node.Await(ctx); err != nil {
			return nil, fmt.Errorf("await core node: %w", err)
		}
	}

	key := fmt.Sprintf("%s|%s|%t", req.ServiceType, req.NATCompatibility, req.Refresh)
	ch := r.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		return r.source.Proposals(fctx, req)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch proposals: %w", ctx.Err())
	}
	if res.Err != nil {
		return nil, fmt.Errorf("fetch proposals: %w", res.Err)
	}

	shared := res.Val.([]model.NodeRecord)
	records := make([]model.NodeRecord, len(shared))
	copy(records, shared)
	return records, nil
}
