package match

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkre153/dealfinder-pro-sub000/internal/domain"
)

func i64(v int64) *int64 { return &v }

func iptr(v int) *int { return &v }

func f64(v float64) *float64 { return &v }

// firstMatchCriteria mirrors a typical buy-box: one zip, a price window,
// 3bd/2ba minimums, default score floor.
func firstMatchCriteria() domain.Criteria {
	return domain.Criteria{
		ID:           "crit-1",
		Locations:    []string{"92128"},
		PriceMin:     i64(600000),
		PriceMax:     i64(1200000),
		BedroomsMin:  iptr(3),
		BathroomsMin: f64(2),
		MinScore:     70,
	}
}

func activeListing() domain.Property {
	return domain.Property{
		Street:       "123 Main St",
		City:         "San Diego",
		State:        "CA",
		Zip:          "92128",
		ListPrice:    i64(900000),
		Bedrooms:     iptr(3),
		Bathrooms:    f64(2),
		DaysOnMarket: iptr(10),
		Status:       domain.PropertyActive,
	}
}

func snapshotOf(props ...domain.Property) *domain.Snapshot {
	return &domain.Snapshot{
		GeneratedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Properties:  props,
	}
}

func TestPropertyKey(t *testing.T) {
	tests := []struct {
		name   string
		street string
		zip    string
		want   string
	}{
		{"plain", "123 Main St", "92128", "123 MAIN ST|92128"},
		{"punctuation and case", "123  Main St.", "92128", "123 MAIN ST|92128"},
		{"extra whitespace", "  123\tMain   St ", " 92128 ", "123 MAIN ST|92128"},
		{"unit marker", "45-B Ocean Ave #2", "02116", "45B OCEAN AVE 2|02116"},
		{"empty street", "", "92128", "|92128"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PropertyKey(tt.street, tt.zip))
		})
	}
}

func TestScoreFirstMatch(t *testing.T) {
	score, reasons := Score(firstMatchCriteria(), activeListing())

	// 50 base + 30 postal + 10 within budget, size meets, dom under 30.
	assert.Equal(t, 90, score)
	assert.Equal(t, []string{"exact postal match 92128", "within budget"}, reasons)
}

func TestScoreEnrichmentBonusesClamp(t *testing.T) {
	p := activeListing()
	p.DaysOnMarket = iptr(65)
	p.Ownership = &domain.Ownership{
		AbsenteeOwner:   true,
		InvestorOwned:   true,
		MotivatedSeller: true,
	}

	score, reasons := Score(firstMatchCriteria(), p)

	// 50+30+10+0+5+10+5+5 = 115, clamped to the ceiling.
	assert.Equal(t, 100, score)
	assert.Contains(t, reasons, "on market 60+ days")
	assert.Contains(t, reasons, "absentee owner")
	assert.Contains(t, reasons, "investor owned")
	assert.Contains(t, reasons, "motivated seller")
}

func TestScoreOpportunityOverride(t *testing.T) {
	p := activeListing()
	p.OpportunityScore = iptr(40)
	p.Ownership = &domain.Ownership{AbsenteeOwner: true}

	score, reasons := Score(firstMatchCriteria(), p)

	// Upstream score replaces the base; only ownership bonuses stack on top.
	assert.Equal(t, 50, score)
	assert.Equal(t, []string{"opportunity score 40", "absentee owner"}, reasons)
}

func TestScoreNeverLeavesRange(t *testing.T) {
	over := activeListing()
	over.ListPrice = i64(2000000) // far over budget, -20
	over.Zip = "99999"            // no postal bonus
	over.Bedrooms = iptr(1)       // below minimum, -10

	score, _ := Score(firstMatchCriteria(), over)
	assert.GreaterOrEqual(t, score, 0)
	assert.LessOrEqual(t, score, 100)

	low := domain.Property{OpportunityScore: iptr(5), Status: domain.PropertyActive}
	score, _ = Score(firstMatchCriteria(), low)
	assert.Equal(t, 5, score)
}

func TestScoreSizeSurplus(t *testing.T) {
	c := firstMatchCriteria()

	big := activeListing()
	big.Bedrooms = iptr(5)
	big.Bathrooms = f64(4)
	score, reasons := Score(c, big)
	assert.Equal(t, 100, score) // 50+30+10+10 = 100
	assert.Contains(t, reasons, "well above size minimums")

	// Bath surplus of 1 caps the bump even with bedrooms +2.
	mid := activeListing()
	mid.Bedrooms = iptr(5)
	mid.Bathrooms = f64(3)
	score, reasons = Score(c, mid)
	assert.Equal(t, 95, score)
	assert.Contains(t, reasons, "above size minimums")
}

func TestScorePriceLadder(t *testing.T) {
	c := firstMatchCriteria()

	tests := []struct {
		name  string
		price int64
		want  int
	}{
		{"at minimum is under budget", 600000, 100}, // 50+30+20
		{"within window", 900000, 90},
		{"ten percent over tolerated", 1320000, 80},  // 50+30+0
		{"beyond ten percent penalized", 1320001, 60}, // 50+30-20
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := activeListing()
			p.ListPrice = i64(tt.price)
			score, _ := Score(c, p)
			assert.Equal(t, tt.want, score)
		})
	}
}

func TestFilter(t *testing.T) {
	c := firstMatchCriteria()

	tests := []struct {
		name   string
		mutate func(*domain.Property)
		want   bool
	}{
		{"baseline candidate", func(p *domain.Property) {}, true},
		{"pending listing", func(p *domain.Property) { p.Status = domain.PropertyPending }, false},
		{"sold listing", func(p *domain.Property) { p.Status = domain.PropertySold }, false},
		{"wrong zip", func(p *domain.Property) { p.Zip = "92129" }, false},
		{"missing zip", func(p *domain.Property) { p.Zip = "" }, false},
		{"exactly at price_min", func(p *domain.Property) { p.ListPrice = i64(600000) }, true},
		{"exactly at price_max", func(p *domain.Property) { p.ListPrice = i64(1200000) }, true},
		{"below price_min", func(p *domain.Property) { p.ListPrice = i64(599999) }, false},
		{"above price_max", func(p *domain.Property) { p.ListPrice = i64(1200001) }, false},
		{"missing price with window set", func(p *domain.Property) { p.ListPrice = nil }, false},
		{"too few bedrooms", func(p *domain.Property) { p.Bedrooms = iptr(2) }, false},
		{"missing bedrooms with minimum set", func(p *domain.Property) { p.Bedrooms = nil }, false},
		{"too few bathrooms", func(p *domain.Property) { p.Bathrooms = f64(1.5) }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := activeListing()
			tt.mutate(&p)
			assert.Equal(t, tt.want, Filter(c, p))
		})
	}
}

func TestFilterOptionalCriteria(t *testing.T) {
	// Only a location: price, beds and baths may all be absent.
	c := domain.Criteria{Locations: []string{"92128"}}
	p := domain.Property{Street: "9 Elm", Zip: "92128", Status: domain.PropertyActive}
	assert.True(t, Filter(c, p))

	c.PropertyTypes = []string{"Single Family"}
	assert.False(t, Filter(c, p), "type filter set but property has none")

	p.PropertyType = "single family"
	assert.True(t, Filter(c, p), "type comparison is case-insensitive")

	c.DealQuality = []string{domain.DealHot}
	p.DealQuality = "hot"
	assert.True(t, Filter(c, p))
}

func TestEvaluateFirstMatch(t *testing.T) {
	res, err := Evaluate(firstMatchCriteria(), snapshotOf(activeListing()), nil)
	require.NoError(t, err)

	require.Len(t, res.NewMatches, 1)
	assert.Empty(t, res.PriceDrops)

	got := res.NewMatches[0]
	assert.Equal(t, "123 MAIN ST|92128", got.Key)
	assert.Equal(t, 90, got.Score)
	assert.Equal(t, []string{"exact postal match 92128", "within budget"}, got.Reasons)
	assert.Equal(t, int64(900000), *got.Property.ListPrice)
}

func TestEvaluateDuplicateSuppression(t *testing.T) {
	existing := map[string]domain.Match{
		"123 MAIN ST|92128": {ID: "m-1", PropertyKey: "123 MAIN ST|92128", CapturedPrice: 900000},
	}

	res, err := Evaluate(firstMatchCriteria(), snapshotOf(activeListing()), existing)
	require.NoError(t, err)
	assert.Empty(t, res.NewMatches)
	assert.Empty(t, res.PriceDrops)
}

func TestEvaluatePriceDrop(t *testing.T) {
	existing := map[string]domain.Match{
		"123 MAIN ST|92128": {ID: "m-1", PropertyKey: "123 MAIN ST|92128", CapturedPrice: 900000},
	}

	dropped := activeListing()
	dropped.ListPrice = i64(850000)

	res, err := Evaluate(firstMatchCriteria(), snapshotOf(dropped), existing)
	require.NoError(t, err)
	assert.Empty(t, res.NewMatches)
	require.Len(t, res.PriceDrops, 1)

	drop := res.PriceDrops[0]
	assert.Equal(t, "m-1", drop.MatchID)
	assert.Equal(t, int64(900000), drop.OldPrice)
	assert.Equal(t, int64(850000), drop.NewPrice)
}

func TestEvaluatePriceDropRequiresStrictDecrease(t *testing.T) {
	existing := map[string]domain.Match{
		"123 MAIN ST|92128": {ID: "m-1", PropertyKey: "123 MAIN ST|92128", CapturedPrice: 900000},
	}

	equal := activeListing()
	res, err := Evaluate(firstMatchCriteria(), snapshotOf(equal), existing)
	require.NoError(t, err)
	assert.Empty(t, res.PriceDrops, "equal price is not a drop")

	penny := activeListing()
	penny.ListPrice = i64(899999)
	res, err = Evaluate(firstMatchCriteria(), snapshotOf(penny), existing)
	require.NoError(t, err)
	require.Len(t, res.PriceDrops, 1)
	assert.Equal(t, int64(899999), res.PriceDrops[0].NewPrice)
}

func TestEvaluateInvalidCriteria(t *testing.T) {
	c := firstMatchCriteria()
	c.Locations = nil

	res, err := Evaluate(c, snapshotOf(activeListing()), nil)
	require.Error(t, err)
	assert.Nil(t, res, "no partial emission on invalid criteria")
	assert.True(t, errors.Is(err, ErrInvalidCriteria))

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Fields, 1)
	assert.Equal(t, "locations", verr.Fields[0].Field)
}

func TestEvaluateMinScoreZeroAdmitsAllFiltered(t *testing.T) {
	c := domain.Criteria{Locations: []string{"92128"}, MinScore: 0}

	weak := domain.Property{Street: "9 Elm", Zip: "92128", Status: domain.PropertyActive}
	res, err := Evaluate(c, snapshotOf(weak), nil)
	require.NoError(t, err)
	assert.Len(t, res.NewMatches, 1)
}

func TestEvaluateSkipsBelowMinScore(t *testing.T) {
	c := domain.Criteria{Locations: []string{"92128"}, MinScore: 90}

	// 50 + 30 postal = 80, under the floor.
	weak := domain.Property{Street: "9 Elm", Zip: "92128", Status: domain.PropertyActive}
	res, err := Evaluate(c, snapshotOf(weak), nil)
	require.NoError(t, err)
	assert.Empty(t, res.NewMatches)
}

func TestEvaluateDedupsWithinSnapshot(t *testing.T) {
	a := activeListing()
	b := activeListing()
	b.Street = "123  MAIN ST." // same key after normalization

	res, err := Evaluate(firstMatchCriteria(), snapshotOf(a, b), nil)
	require.NoError(t, err)
	assert.Len(t, res.NewMatches, 1)
}

func TestEvaluatePreservesSnapshotOrder(t *testing.T) {
	first := activeListing()
	second := activeListing()
	second.Street = "456 Oak Ave"
	third := activeListing()
	third.Street = "789 Pine Rd"

	res, err := Evaluate(firstMatchCriteria(), snapshotOf(first, second, third), nil)
	require.NoError(t, err)
	require.Len(t, res.NewMatches, 3)
	assert.Equal(t, "123 MAIN ST|92128", res.NewMatches[0].Key)
	assert.Equal(t, "456 OAK AVE|92128", res.NewMatches[1].Key)
	assert.Equal(t, "789 PINE RD|92128", res.NewMatches[2].Key)
}
