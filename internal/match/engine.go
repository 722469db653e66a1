// Package match evaluates client criteria against a corpus snapshot. It is
// pure: no clocks, no I/O, no stored state. Callers feed it the criteria,
// the snapshot, and the agent's existing matches keyed by property_key, and
// it hands back what changed.
package match

import (
	"fmt"

	"github.com/mkre153/dealfinder-pro-sub000/internal/domain"
)

const (
	baseScore = 50
	minScore  = 0
	maxScore  = 100
)

// Candidate is a property that passed the filter and scored at or above the
// criteria's minimum, and is not yet in the agent's match set.
type Candidate struct {
	Key      string
	Score    int
	Reasons  []string
	Property domain.Property
}

// PriceDrop reports a strictly lower list price for an already-matched
// property. OldPrice is the price captured on the stored match.
type PriceDrop struct {
	MatchID  string
	Key      string
	OldPrice int64
	NewPrice int64
	Property domain.Property
}

// Result is the outcome of one evaluation pass. Slices preserve snapshot
// iteration order.
type Result struct {
	NewMatches []Candidate
	PriceDrops []PriceDrop
}

// Evaluate runs one full pass: validate criteria, filter and score every
// snapshot property, then split passing candidates into new matches and
// price drops against the existing match set. Returns ErrInvalidCriteria
// (as a *ValidationError) without emitting anything when the criteria are
// unusable.
func Evaluate(c domain.Criteria, snap *domain.Snapshot, existing map[string]domain.Match) (*Result, error) {
	if problems := c.Problems(); len(problems) > 0 {
		return nil, &ValidationError{Fields: problems}
	}

	res := &Result{}
	seen := make(map[string]struct{})
	for _, p := range snap.Properties {
		if !Filter(c, p) {
			continue
		}
		score, reasons := Score(c, p)
		if score < c.MinScore {
			continue
		}
		key := PropertyKey(p.Street, p.Zip)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		m, known := existing[key]
		if !known {
			res.NewMatches = append(res.NewMatches, Candidate{
				Key:      key,
				Score:    score,
				Reasons:  reasons,
				Property: p,
			})
			continue
		}
		if p.ListPrice != nil && *p.ListPrice < m.CapturedPrice {
			res.PriceDrops = append(res.PriceDrops, PriceDrop{
				MatchID:  m.ID,
				Key:      key,
				OldPrice: m.CapturedPrice,
				NewPrice: *p.ListPrice,
				Property: p,
			})
		}
	}
	return res, nil
}

// Filter reports whether a property is a candidate for the given criteria.
// Absent property fields fail any check the criteria switch on, except the
// bed/bath minima and price bounds when those criteria are unset.
func Filter(c domain.Criteria, p domain.Property) bool {
	if p.Status != domain.PropertyActive {
		return false
	}
	if !containsNormalized(c.Locations, p.Zip) {
		return false
	}
	if c.PriceMin != nil || c.PriceMax != nil {
		if p.ListPrice == nil {
			return false
		}
		if c.PriceMin != nil && *p.ListPrice < *c.PriceMin {
			return false
		}
		if c.PriceMax != nil && *p.ListPrice > *c.PriceMax {
			return false
		}
	}
	if c.BedroomsMin != nil {
		if p.Bedrooms == nil || *p.Bedrooms < *c.BedroomsMin {
			return false
		}
	}
	if c.BathroomsMin != nil {
		if p.Bathrooms == nil || *p.Bathrooms < *c.BathroomsMin {
			return false
		}
	}
	if len(c.PropertyTypes) > 0 && !containsNormalized(c.PropertyTypes, p.PropertyType) {
		return false
	}
	if len(c.DealQuality) > 0 && !containsNormalized(c.DealQuality, p.DealQuality) {
		return false
	}
	return true
}

// Score computes the 0-100 deal score and the ordered reasons list. An
// upstream opportunity_score replaces the base and suppresses the location,
// price, size, and days-on-market factors; ownership bonuses always stack.
// Reasons name only the factors that contributed positively.
func Score(c domain.Criteria, p domain.Property) (int, []string) {
	var (
		score   int
		reasons []string
	)

	if p.OpportunityScore != nil {
		score = *p.OpportunityScore
		reasons = append(reasons, fmt.Sprintf("opportunity score %d", *p.OpportunityScore))
	} else {
		score = baseScore
		if p.Zip != "" && containsNormalized(c.Locations, p.Zip) {
			score += 30
			reasons = append(reasons, "exact postal match "+p.Zip)
		}

		delta, reason := priceFit(c, p)
		score += delta
		if reason != "" {
			reasons = append(reasons, reason)
		}

		delta, reason = sizeFit(c, p)
		score += delta
		if reason != "" {
			reasons = append(reasons, reason)
		}

		if p.DaysOnMarket != nil {
			switch dom := *p.DaysOnMarket; {
			case dom >= 60:
				score += 5
				reasons = append(reasons, "on market 60+ days")
			case dom >= 30:
				score += 3
				reasons = append(reasons, "on market 30+ days")
			}
		}
	}

	if o := p.Ownership; o != nil {
		if o.AbsenteeOwner {
			score += 10
			reasons = append(reasons, "absentee owner")
		}
		if o.InvestorOwned {
			score += 5
			reasons = append(reasons, "investor owned")
		}
		if o.FlipHistory {
			score += 5
			reasons = append(reasons, "flip history")
		}
		if o.MotivatedSeller {
			score += 5
			reasons = append(reasons, "motivated seller")
		}
	}

	if score < minScore {
		score = minScore
	}
	if score > maxScore {
		score = maxScore
	}
	return score, reasons
}

// priceFit grades list price against the budget window. No window or no
// price means no adjustment.
func priceFit(c domain.Criteria, p domain.Property) (int, string) {
	if (c.PriceMin == nil && c.PriceMax == nil) || p.ListPrice == nil {
		return 0, ""
	}
	price := *p.ListPrice
	if c.PriceMin != nil && price <= *c.PriceMin {
		return 20, "under budget"
	}
	if c.PriceMax == nil || price <= *c.PriceMax {
		return 10, "within budget"
	}
	// Over budget: a ≤10% overshoot is tolerated, beyond that penalized.
	if price-*c.PriceMax <= *c.PriceMax/10 {
		return 0, ""
	}
	return -20, ""
}

// sizeFit grades bed/bath counts against the criteria minima. The surplus is
// the smallest margin over any set minimum, so a listing must beat every
// minimum by two to earn the full bump.
func sizeFit(c domain.Criteria, p domain.Property) (int, string) {
	if c.BedroomsMin == nil && c.BathroomsMin == nil {
		return 0, ""
	}
	surplus := -1.0
	take := func(s float64) {
		if surplus < 0 || s < surplus {
			surplus = s
		}
	}
	if c.BedroomsMin != nil {
		if p.Bedrooms == nil || *p.Bedrooms < *c.BedroomsMin {
			return -10, ""
		}
		take(float64(*p.Bedrooms - *c.BedroomsMin))
	}
	if c.BathroomsMin != nil {
		if p.Bathrooms == nil || *p.Bathrooms < *c.BathroomsMin {
			return -10, ""
		}
		take(*p.Bathrooms - *c.BathroomsMin)
	}
	switch {
	case surplus >= 2:
		return 10, "well above size minimums"
	case surplus >= 1:
		return 5, "above size minimums"
	default:
		return 0, ""
	}
}

// containsNormalized does a whitespace-and-punctuation-insensitive membership
// test so "92128", " 92128 " and "Single Family" / "single family" line up
// between criteria and feed data.
func containsNormalized(list []string, v string) bool {
	if v == "" {
		return false
	}
	nv := Normalize(v)
	for _, item := range list {
		if Normalize(item) == nv {
			return true
		}
	}
	return false
}
