package enrich

import (
	"time"

	"github.com/mkre153/dealfinder-pro-sub000/internal/domain"
	"github.com/mkre153/dealfinder-pro-sub000/internal/match"
)

// MergeReport summarizes one merge pass.
type MergeReport struct {
	FeedRecords int `json:"feed_records"`
	Enriched    int `json:"enriched"`
	Unmatched   int `json:"unmatched"`
}

// Merge produces a new snapshot from the current one plus a parsed feed.
// Properties are matched by property key. The feed owns the ownership
// block outright; every other field keeps the snapshot's value and takes
// the feed's only to fill a gap. Feed rows with no corpus counterpart are
// counted and dropped: the corpus decides which properties exist.
//
// Merge is pure. Running it twice with the same inputs yields an identical
// snapshot.
func Merge(snap *domain.Snapshot, feed *Feed, generatedAt time.Time) (*domain.Snapshot, *MergeReport) {
	report := &MergeReport{FeedRecords: len(feed.Records)}

	props := make([]domain.Property, len(snap.Properties))
	copy(props, snap.Properties)

	index := make(map[string]int, len(props))
	for i, p := range props {
		key := match.PropertyKey(p.Street, p.Zip)
		if _, dup := index[key]; !dup {
			index[key] = i
		}
	}

	for _, rec := range feed.Records {
		i, ok := index[match.PropertyKey(rec.Street, rec.Zip)]
		if !ok {
			report.Unmatched++
			continue
		}
		enrichProperty(&props[i], rec)
		report.Enriched++
	}

	return &domain.Snapshot{GeneratedAt: generatedAt, Properties: props}, report
}

func enrichProperty(p *domain.Property, rec FeedRecord) {
	p.Ownership = signalsFor(rec, p.DaysOnMarket)

	if p.City == "" {
		p.City = rec.City
	}
	if p.State == "" {
		p.State = rec.State
	}
	if p.PropertyType == "" {
		p.PropertyType = rec.PropertyType
	}
	if p.ListPrice == nil {
		p.ListPrice = rec.Price
	}
	if p.SquareFeet == nil {
		p.SquareFeet = rec.SquareFeet
	}
	if p.PricePerSqft == nil {
		p.PricePerSqft = rec.PricePerSqft
	}
	if p.Bedrooms == nil {
		p.Bedrooms = rec.Bedrooms
	}
	if p.Bathrooms == nil {
		p.Bathrooms = rec.Bathrooms
	}
	if p.LotSize == nil {
		p.LotSize = rec.LotSize
	}
	if p.YearBuilt == nil {
		p.YearBuilt = rec.YearBuilt
	}
	if p.Units == nil {
		p.Units = rec.Units
	}
	if p.DaysOnMarket == nil {
		p.DaysOnMarket = rec.DaysOnMarket
	}
	// Street, zip, status, price history and analyzer outputs stay
	// snapshot-owned.
}
