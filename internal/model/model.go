package model

import (
	"fmt"
	"strings"
	"time"
)

// NodeRecord is a raw exit node as discovered from the core node.
type NodeRecord struct {
	ProviderID   string  `json:"provider_id"`
	ServiceType  string  `json:"service_type"`
	Country      string  `json:"country"`
	PricePerByte float64 `json:"price_per_byte"`
	Quality      float64 `json:"quality"`
	Residential  bool    `json:"residential"`
}

// Key identifies a record by provider and service type.
func (r NodeRecord) Key() string {
	return r.ProviderID + r.ServiceType
}

// Proposal is the ranked, filterable view of one NodeRecord.
type Proposal struct {
	NodeRecord
	PriceLevel  PriceLevel `json:"price_level"`
	IsAvailable bool       `json:"is_available"`
}

// NewProposal wraps a record. Price level is assigned by ranking.
func NewProposal(r NodeRecord) Proposal {
	return Proposal{NodeRecord: r, PriceLevel: PriceLevelLow, IsAvailable: true}
}

// NodeType reports whether the exit runs on a residential connection.
func (p Proposal) NodeType() NodeType {
	if p.Residential {
		return NodeTypeResidential
	}
	return NodeTypeNonResidential
}

// QualityLevel buckets the raw quality score.
func (p Proposal) QualityLevel() QualityLevel {
	return QualityFromScore(p.Quality)
}

// PriceLevel is a price tier relative to the current discovery snapshot.
type PriceLevel string

const (
	PriceLevelFree   PriceLevel = "FREE"
	PriceLevelLow    PriceLevel = "LOW"
	PriceLevelMedium PriceLevel = "MEDIUM"
	PriceLevelHigh   PriceLevel = "HIGH"
)

// ParsePriceLevel accepts any casing.
func ParsePriceLevel(s string) (PriceLevel, error) {
	switch PriceLevel(strings.ToUpper(strings.TrimSpace(s))) {
	case PriceLevelFree:
		return PriceLevelFree, nil
	case PriceLevelLow:
		return PriceLevelLow, nil
	case PriceLevelMedium:
		return PriceLevelMedium, nil
	case PriceLevelHigh:
		return PriceLevelHigh, nil
	}
	return "", fmt.Errorf("unknown price level %q", s)
}

// NodeType filters by connection type.
type NodeType string

const (
	NodeTypeAll            NodeType = "ALL"
	NodeTypeResidential    NodeType = "RESIDENTIAL"
	NodeTypeNonResidential NodeType = "NON_RESIDENTIAL"
)

// ParseNodeType accepts any casing and "-" in place of "_".
func ParseNodeType(s string) (NodeType, error) {
	norm := strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "-", "_")
	switch NodeType(norm) {
	case NodeTypeAll:
		return NodeTypeAll, nil
	case NodeTypeResidential:
		return NodeTypeResidential, nil
	case NodeTypeNonResidential:
		return NodeTypeNonResidential, nil
	}
	return "", fmt.Errorf("unknown node type %q", s)
}

// QualityLevel is a coarse bucket of the node quality score.
type QualityLevel string

const (
	QualityUnknown QualityLevel = "UNKNOWN"
	QualityLow     QualityLevel = "LOW"
	QualityMedium  QualityLevel = "MEDIUM"
	QualityHigh    QualityLevel = "HIGH"
)

// QualityFromScore maps the core's 0..3 quality score onto a level.
func QualityFromScore(score float64) QualityLevel {
	switch {
	case score >= 2:
		return QualityHigh
	case score >= 1:
		return QualityMedium
	case score > 0:
		return QualityLow
	}
	return QualityUnknown
}

// ParseQualityLevel accepts any casing. UNKNOWN is not a valid filter value.
func ParseQualityLevel(s string) (QualityLevel, error) {
	switch QualityLevel(strings.ToUpper(strings.TrimSpace(s))) {
	case QualityLow:
		return QualityLow, nil
	case QualityMedium:
		return QualityMedium, nil
	case QualityHigh:
		return QualityHigh, nil
	}
	return "", fmt.Errorf("unknown quality level %q", s)
}

// Filter is the user's proposal filter. The zero value is replaced by NoFilter.
type Filter struct {
	Type    NodeType     `json:"type"`
	Price   PriceLevel   `json:"price"`
	Quality QualityLevel `json:"quality"`
}

// NoFilter matches every proposal.
func NoFilter() Filter {
	return Filter{Type: NodeTypeAll, Price: PriceLevelHigh, Quality: QualityLow}
}

// ProposalRequest asks the core node for its current proposals.
type ProposalRequest struct {
	Refresh          bool
	ServiceType      string
	NATCompatibility string
}

// FavouriteEntry is a persisted favourite, keyed by provider ID + service type.
type FavouriteEntry struct {
	NodeRecord
	AddedAt time.Time `json:"added_at"`
}

// ConnectionState is the lifecycle state of the VPN connection.
type ConnectionState string

const (
	StateNotConnected  ConnectionState = "NOTCONNECTED"
	StateConnecting    ConnectionState = "CONNECTING"
	StateConnected     ConnectionState = "CONNECTED"
	StateDisconnecting ConnectionState = "DISCONNECTING"
)

// ParseConnectionState maps the core node's state string, e.g. "NotConnected" or
// "notconnected", onto a ConnectionState.
func ParseConnectionState(s string) (ConnectionState, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer("_", "", "-", "", " ", "").Replace(norm)
	switch ConnectionState(norm) {
	case StateNotConnected:
		return StateNotConnected, nil
	case StateConnecting:
		return StateConnecting, nil
	case StateConnected:
		return StateConnected, nil
	case StateDisconnecting:
		return StateDisconnecting, nil
	}
	return "", fmt.Errorf("unknown connection state %q", s)
}

// ConnectionStatistic is a live usage snapshot of the current connection.
type ConnectionStatistic struct {
	Duration      time.Duration `json:"duration"`
	BytesReceived uint64        `json:"bytes_received"`
	BytesSent     uint64        `json:"bytes_sent"`
	TokensSpent   float64       `json:"tokens_spent"`
	CurrencySpent float64       `json:"currency_spent"`
}

// Identity is the consumer wallet identity used for a session.
type Identity struct {
	Address            string `json:"address"`
	ChannelAddress     string `json:"channel_address"`
	RegistrationStatus string `json:"registration_status"`
}

// UsageSample is one persisted statistics sample.
type UsageSample struct {
	Timestamp     time.Time
	SessionID     string
	ProviderID    string
	Duration      time.Duration
	BytesReceived uint64
	BytesSent     uint64
	TokensSpent   float64
	CurrencySpent float64
}
