package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"vpnconnect/internal/model"
)

// Client is a thin HTTP client for the core node API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the given base URL (e.g. http://host:port).
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: NormalizeBaseURL(baseURL),
		http: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// NormalizeBaseURL prefixes a bare host:port with http://.
func NormalizeBaseURL(addr string) string {
	addr = strings.TrimRight(addr, "/")
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	return "http://" + addr
}

// Healthcheck reports whether the core node is up.
func (c *Client) Healthcheck(ctx context.Context) (HealthcheckResponse, error) {
	var resp HealthcheckResponse
	if err := c.getJSON(ctx, "/healthcheck", &resp); err != nil {
		return resp, err
	}
	return resp, nil
}

// Proposals fetches proposals matching the request and converts them to node records.
func (c *Client) Proposals(ctx context.Context, req model.ProposalRequest) ([]model.NodeRecord, error) {
	q := url.Values{}
	if req.ServiceType != "" {
		q.Set("service_type", req.ServiceType)
	}
	if req.NATCompatibility != "" {
		q.Set("nat_compatibility", req.NATCompatibility)
	}
	q.Set("refresh", strconv.FormatBool(req.Refresh))

	var resp ProposalsResponse
	if err := c.getJSON(ctx, "/proposals?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	records := make([]model.NodeRecord, 0, len(resp.Proposals))
	for _, p := range resp.Proposals {
		records = append(records, p.Record())
	}
	return records, nil
}

// Record converts the wire representation into a NodeRecord.
func (p ProposalDTO) Record() model.NodeRecord {
	return model.NodeRecord{
		ProviderID:   p.ProviderID,
		ServiceType:  p.ServiceType,
		Country:      p.Location.Country,
		PricePerByte: p.Price.PricePerByte,
		Quality:      p.Quality.Quality,
		Residential:  strings.EqualFold(p.Location.IPType, "residential"),
	}
}

// CurrentIdentity returns the unlocked consumer identity.
func (c *Client) CurrentIdentity(ctx context.Context) (model.Identity, error) {
	var resp IdentityResponse
	if err := c.getJSON(ctx, "/identities/current", &resp); err != nil {
		return model.Identity{}, err
	}
	return model.Identity{
		Address:            resp.ID,
		ChannelAddress:     resp.ChannelAddress,
		RegistrationStatus: resp.RegistrationStatus,
	}, nil
}

// Connect asks the core node to establish a connection.
func (c *Client) Connect(ctx context.Context, req ConnectRequest) error {
	return c.doJSON(ctx, http.MethodPut, "/connection", req, nil)
}

// Disconnect tears down the current connection.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodDelete, "/connection", nil, nil)
}

// ConnectionStatus returns the core node's connection state string.
func (c *Client) ConnectionStatus(ctx context.Context) (ConnectionStatusResponse, error) {
	var resp ConnectionStatusResponse
	if err := c.getJSON(ctx, "/connection", &resp); err != nil {
		return resp, err
	}
	return resp, nil
}

// Statistics returns usage counters of the current connection.
func (c *Client) Statistics(ctx context.Context) (StatisticsResponse, error) {
	var resp StatisticsResponse
	if err := c.getJSON(ctx, "/connection/statistics", &resp); err != nil {
		return resp, err
	}
	return resp, nil
}

// Balance returns the token balance of an identity.
func (c *Client) Balance(ctx context.Context, identityAddress string) (float64, error) {
	if identityAddress == "" {
		return 0, fmt.Errorf("identity address required")
	}
	var resp BalanceResponse
	endpoint := "/identities/" + url.PathEscape(identityAddress) + "/balance"
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return 0, err
	}
	return resp.Balance, nil
}

// ExchangeRate returns the USD value of one token.
func (c *Client) ExchangeRate(ctx context.Context) (float64, error) {
	var resp ExchangeRateResponse
	if err := c.getJSON(ctx, "/exchange/myst/usd", &resp); err != nil {
		return 0, err
	}
	return resp.Amount, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(res.Body)
		msg := strings.TrimSpace(string(body))
		if msg != "" {
			return fmt.Errorf("%s %s failed: %s: %s", method, path, res.Status, msg)
		}
		return fmt.Errorf("%s %s failed: %s", method, path, res.Status)
	}

	if out == nil || res.StatusCode == http.StatusNoContent {
		return nil
	}

	decoder := json.NewDecoder(res.Body)
	return decoder.Decode(out)
}
