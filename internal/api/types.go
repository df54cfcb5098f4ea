package api

// ProposalDTO is a single proposal as returned by the core node.
type ProposalDTO struct {
	ProviderID  string      `json:"provider_id"`
	ServiceType string      `json:"service_type"`
	Location    LocationDTO `json:"location"`
	Price       PriceDTO    `json:"price"`
	Quality     QualityDTO  `json:"quality"`
}

// LocationDTO carries the exit's country and IP classification.
type LocationDTO struct {
	Country string `json:"country"`
	IPType  string `json:"ip_type"`
}

// PriceDTO is the per-byte price in tokens.
type PriceDTO struct {
	Currency     string  `json:"currency"`
	PricePerByte float64 `json:"per_byte"`
}

// QualityDTO is the monitoring quality score (0..3).
type QualityDTO struct {
	Quality float64 `json:"quality"`
}

// ProposalsResponse lists proposals.
type ProposalsResponse struct {
	Proposals []ProposalDTO `json:"proposals"`
}

// IdentityResponse describes the current consumer identity.
type IdentityResponse struct {
	ID                 string `json:"id"`
	ChannelAddress     string `json:"channel_address"`
	RegistrationStatus string `json:"registration_status"`
}

// ConnectOptions are per-connection options.
type ConnectOptions struct {
	DNS string `json:"dns"`
}

// ConnectRequest asks the core node to connect to a provider.
type ConnectRequest struct {
	ConsumerID     string         `json:"consumer_id"`
	ProviderID     string         `json:"provider_id"`
	ServiceType    string         `json:"service_type"`
	ConnectOptions ConnectOptions `json:"connect_options"`
}

// ConnectionStatusResponse is the core node's connection state.
type ConnectionStatusResponse struct {
	Status     string `json:"status"`
	SessionID  string `json:"session_id"`
	ProviderID string `json:"provider_id"`
}

// StatisticsResponse carries raw usage counters of the current connection.
type StatisticsResponse struct {
	BytesSent     uint64  `json:"bytes_sent"`
	BytesReceived uint64  `json:"bytes_received"`
	DurationSec   int64   `json:"duration"`
	TokensSpent   float64 `json:"tokens_spent"`
}

// BalanceResponse is an identity balance in tokens.
type BalanceResponse struct {
	Balance float64 `json:"balance"`
}

// ExchangeRateResponse is the fiat value of one token.
type ExchangeRateResponse struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// HealthcheckResponse is returned by a running core node.
type HealthcheckResponse struct {
	Uptime  string `json:"uptime"`
	Version string `json:"version"`
}
