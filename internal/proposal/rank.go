// Package proposal discovers exit node proposals from the core node, ranks
// them into relative price tiers and applies user filters and favourites.
package proposal

import (
	"sort"
	"strings"

	"vpnconnect/internal/model"
)

// Band cut-offs as a fraction of the snapshot size. Comparison is inclusive,
// so ties at a boundary land in the cheaper band.
const (
	lowBandCut    = 0.33
	mediumBandCut = 0.66
)

// AllCountries disables the country filter.
const AllCountries = "ALL_COUNTRY"

// Rank converts records into proposals and assigns each a price level by its
// rank in the snapshot sorted by price. Output order matches input order.
func Rank(records []model.NodeRecord) []model.Proposal {
	out := make([]model.Proposal, len(records))
	for i, r := range records {
		out[i] = model.NewProposal(r)
	}

	order := make([]int, len(records))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return records[order[a]].PricePerByte < records[order[b]].PricePerByte
	})

	n := float64(len(records))
	for rank, idx := range order {
		out[idx].PriceLevel = levelForRank(rank, n)
	}
	return out
}

func levelForRank(rank int, n float64) model.PriceLevel {
	r := float64(rank)
	switch {
	case r <= n*lowBandCut:
		return model.PriceLevelLow
	case r <= n*mediumBandCut:
		return model.PriceLevelMedium
	default:
		return model.PriceLevelHigh
	}
}

// Filter keeps proposals matching the type, price and quality predicates, in that order.
func Filter(proposals []model.Proposal, f model.Filter) []model.Proposal {
	f = normalizeFilter(f)
	out := make([]model.Proposal, 0, len(proposals))
	for _, p := range proposals {
		if !matchesType(p, f.Type) {
			continue
		}
		if !matchesPrice(p, f.Price) {
			continue
		}
		if !matchesQuality(p, f.Quality) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// ByCountry keeps proposals located in country. Empty or AllCountries keeps everything.
func ByCountry(proposals []model.Proposal, country string) []model.Proposal {
	country = strings.TrimSpace(country)
	if country == "" || country == AllCountries {
		return proposals
	}
	out := make([]model.Proposal, 0, len(proposals))
	for _, p := range proposals {
		if strings.EqualFold(p.Country, country) {
			out = append(out, p)
		}
	}
	return out
}

// Reconcile marks favourites missing from available as unavailable and
// returns the favourites. Nothing is removed.
func Reconcile(available, favourites []model.Proposal) []model.Proposal {
	present := make(map[string]struct{}, len(available))
	for _, p := range available {
		present[p.ProviderID] = struct{}{}
	}
	for i := range favourites {
		if _, ok := present[favourites[i].ProviderID]; !ok {
			favourites[i].IsAvailable = false
		}
	}
	return favourites
}

func normalizeFilter(f model.Filter) model.Filter {
	if f.Type == "" {
		f.Type = model.NodeTypeAll
	}
	if f.Price == "" {
		f.Price = model.PriceLevelHigh
	}
	if f.Quality == "" {
		f.Quality = model.QualityLow
	}
	return f
}

func matchesType(p model.Proposal, want model.NodeType) bool {
	if want == model.NodeTypeAll {
		return true
	}
	return p.NodeType() == want
}

// Requesting HIGH means no upper bound; FREE proposals pass any price filter.
func matchesPrice(p model.Proposal, want model.PriceLevel) bool {
	if want == model.PriceLevelHigh || p.PriceLevel == model.PriceLevelFree {
		return true
	}
	return p.PriceLevel == want
}

// Quality is "at least": LOW admits everything.
func matchesQuality(p model.Proposal, want model.QualityLevel) bool {
	got := p.QualityLevel()
	switch want {
	case model.QualityMedium:
		return got == model.QualityMedium || got == model.QualityHigh
	case model.QualityHigh:
		return got == model.QualityHigh
	default:
		return true
	}
}
