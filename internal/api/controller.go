package api

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"vpnconnect/internal/model"
)

// Wire types of the local controller API.

// ProposalsView is a filtered proposal listing.
type ProposalsView struct {
	Proposals []model.Proposal `json:"proposals"`
	LoadedAt  time.Time        `json:"loaded_at"`
}

// FavouritesView lists favourites with their availability.
type FavouritesView struct {
	Favourites []model.Proposal `json:"favourites"`
}

// ProposalRef names a proposal in the cached snapshot.
type ProposalRef struct {
	ProviderID  string `json:"provider_id"`
	ServiceType string `json:"service_type,omitempty"`
}

// ConnectionView is the orchestrator's current state.
type ConnectionView struct {
	State     model.ConnectionState     `json:"state"`
	Proposal  *model.Proposal           `json:"proposal,omitempty"`
	Statistic model.ConnectionStatistic `json:"statistic"`
	Identity  *model.Identity           `json:"identity,omitempty"`
}

// DNSSetting is the saved DNS option.
type DNSSetting struct {
	DNS string `json:"dns"`
}

// BalanceView is an identity balance.
type BalanceView struct {
	Address string  `json:"address,omitempty"`
	Balance float64 `json:"balance"`
}

// Event is one message on the /events stream.
type Event struct {
	Type       string                     `json:"type"`
	State      model.ConnectionState      `json:"state,omitempty"`
	Statistic  *model.ConnectionStatistic `json:"statistic,omitempty"`
	AttemptID  string                     `json:"attempt_id,omitempty"`
	ProviderID string                     `json:"provider_id,omitempty"`
	Error      string                     `json:"error,omitempty"`
}

// Event types.
const (
	EventState            = "state"
	EventStatistics       = "statistics"
	EventConnectionFailed = "connection_failed"
	EventManualDisconnect = "manual_disconnect"
	EventPushDisconnect   = "push_disconnect"
)

// ControllerClient talks to a running vpnconnect daemon.
type ControllerClient struct {
	c *Client
}

// NewControllerClient returns a client for the daemon at baseURL.
func NewControllerClient(baseURL string) *ControllerClient {
	return &ControllerClient{c: NewClient(baseURL)}
}

// Proposals lists proposals; query carries type, price, quality, country and refresh.
func (cc *ControllerClient) Proposals(ctx context.Context, query url.Values) (ProposalsView, error) {
	var resp ProposalsView
	path := "/proposals"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	err := cc.c.getJSON(ctx, path, &resp)
	return resp, err
}

func (cc *ControllerClient) Favourites(ctx context.Context) ([]model.Proposal, error) {
	var resp FavouritesView
	if err := cc.c.getJSON(ctx, "/favourites", &resp); err != nil {
		return nil, err
	}
	return resp.Favourites, nil
}

func (cc *ControllerClient) AddFavourite(ctx context.Context, ref ProposalRef) (model.Proposal, error) {
	var resp model.Proposal
	err := cc.c.doJSON(ctx, http.MethodPost, "/favourites", ref, &resp)
	return resp, err
}

func (cc *ControllerClient) RemoveFavourite(ctx context.Context, key string) error {
	return cc.c.doJSON(ctx, http.MethodDelete, "/favourites/"+url.PathEscape(key), nil, nil)
}

func (cc *ControllerClient) Connection(ctx context.Context) (ConnectionView, error) {
	var resp ConnectionView
	err := cc.c.getJSON(ctx, "/connection", &resp)
	return resp, err
}

// Connect starts a connect attempt; progress is reported on /events.
func (cc *ControllerClient) Connect(ctx context.Context, ref ProposalRef) error {
	return cc.c.doJSON(ctx, http.MethodPost, "/connection", ref, nil)
}

func (cc *ControllerClient) StopConnecting(ctx context.Context) error {
	return cc.c.doJSON(ctx, http.MethodPost, "/connection/stop", nil, nil)
}

func (cc *ControllerClient) Disconnect(ctx context.Context) error {
	return cc.c.doJSON(ctx, http.MethodDelete, "/connection", nil, nil)
}

func (cc *ControllerClient) DNS(ctx context.Context) (string, error) {
	var resp DNSSetting
	err := cc.c.getJSON(ctx, "/settings/dns", &resp)
	return resp.DNS, err
}

func (cc *ControllerClient) SetDNS(ctx context.Context, dns string) error {
	return cc.c.doJSON(ctx, http.MethodPut, "/settings/dns", DNSSetting{DNS: dns}, nil)
}

func (cc *ControllerClient) Balance(ctx context.Context) (BalanceView, error) {
	var resp BalanceView
	err := cc.c.getJSON(ctx, "/balance", &resp)
	return resp, err
}
