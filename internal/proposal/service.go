package proposal

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"vpnconnect/internal/model"
	"vpnconnect/internal/store"
)

// FavouritesStore persists favourite nodes.
type FavouritesStore interface {
	Favourites() ([]model.FavouriteEntry, error)
	AddToFavourite(entry model.FavouriteEntry) error
	DeleteFromFavourite(key string) error
	GetByID(id string) (model.FavouriteEntry, error)
}

// NATResolver turns the "auto" NAT compatibility into a concrete NAT type.
type NATResolver func(ctx context.Context) (string, error)

// ServiceConfig selects what the service asks the core node for.
type ServiceConfig struct {
	ServiceType      string
	NATCompatibility string
	ResolveNAT       NATResolver
}

// Service ranks proposals, caches the latest snapshot and manages favourites.
type Service struct {
	repo       *Repository
	favourites FavouritesStore
	cfg        ServiceConfig

	mu       sync.RWMutex
	cache    []model.Proposal
	loadedAt time.Time
	natType  string
}

// NewService wires a service over repo and favourites.
func NewService(repo *Repository, favourites FavouritesStore, cfg ServiceConfig) *Service {
	if cfg.ServiceType == "" {
		cfg.ServiceType = "wireguard"
	}
	if cfg.NATCompatibility == "" {
		cfg.NATCompatibility = "auto"
	}
	return &Service{repo: repo, favourites: favourites, cfg: cfg}
}

// Request builds the discovery request, resolving "auto" NAT compatibility
// when a resolver is configured. A failed resolve falls back to "auto".
func (s *Service) Request(ctx context.Context) model.ProposalRequest {
	req := model.ProposalRequest{
		Refresh:          true,
		ServiceType:      s.cfg.ServiceType,
		NATCompatibility: s.cfg.NATCompatibility,
	}
	if req.NATCompatibility != "auto" || s.cfg.ResolveNAT == nil {
		return req
	}

	s.mu.RLock()
	cached := s.natType
	s.mu.RUnlock()
	if cached != "" {
		req.NATCompatibility = cached
		return req
	}

	natType, err := s.cfg.ResolveNAT(ctx)
	if err != nil {
		log.Printf("nat compatibility resolve failed, using auto: %v", err)
		return req
	}
	if natType != "" {
		s.mu.Lock()
		s.natType = natType
		s.mu.Unlock()
		req.NATCompatibility = natType
	}
	return req
}

// AllProposals fetches and ranks a fresh snapshot and caches it.
func (s *Service) AllProposals(ctx context.Context) ([]model.Proposal, error) {
	records, err := s.repo.Proposals(ctx, s.Request(ctx))
	if err != nil {
		return nil, err
	}
	ranked := Rank(records)

	s.mu.Lock()
	s.cache = ranked
	s.loadedAt = time.Now().UTC()
	s.mu.Unlock()

	log.Printf("proposals loaded count=%d", len(ranked))
	return cloneProposals(ranked), nil
}

// Cached returns the last ranked snapshot and when it was loaded.
func (s *Service) Cached() ([]model.Proposal, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneProposals(s.cache), s.loadedAt
}

// FilterCached applies f and the country filter to the cached snapshot.
func (s *Service) FilterCached(f model.Filter, country string) []model.Proposal {
	cached, _ := s.Cached()
	return ByCountry(Filter(cached, f), country)
}

// Lookup finds a proposal in the cached snapshot.
func (s *Service) Lookup(providerID, serviceType string) (model.Proposal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.cache {
		if p.ProviderID == providerID && (serviceType == "" || p.ServiceType == serviceType) {
			return p, true
		}
	}
	return model.Proposal{}, false
}

// Favourites loads the persisted favourites, ranks them as their own snapshot
// and marks those missing from available as unavailable.
func (s *Service) Favourites(available []model.Proposal) ([]model.Proposal, error) {
	entries, err := s.favourites.Favourites()
	if err != nil {
		return nil, err
	}
	records := make([]model.NodeRecord, 0, len(entries))
	for _, e := range entries {
		records = append(records, e.NodeRecord)
	}
	return Reconcile(available, Rank(records)), nil
}

// AddToFavourite persists p.
func (s *Service) AddToFavourite(p model.Proposal) error {
	return s.favourites.AddToFavourite(model.FavouriteEntry{NodeRecord: p.NodeRecord})
}

// DeleteFromFavourite removes p by its provider+service key.
func (s *Service) DeleteFromFavourite(p model.Proposal) error {
	return s.favourites.DeleteFromFavourite(p.ProviderID + p.ServiceType)
}

// IsFavourite looks up a favourite by key.
func (s *Service) IsFavourite(id string) (model.FavouriteEntry, bool, error) {
	entry, err := s.favourites.GetByID(id)
	if errors.Is(err, store.ErrNotFound) {
		return model.FavouriteEntry{}, false, nil
	}
	if err != nil {
		return model.FavouriteEntry{}, false, err
	}
	return entry, true, nil
}

func cloneProposals(in []model.Proposal) []model.Proposal {
	if in == nil {
		return nil
	}
	out := make([]model.Proposal, len(in))
	copy(out, in)
	return out
}
