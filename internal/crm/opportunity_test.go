package crm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkre153/dealfinder-pro-sub000/internal/config"
	"github.com/mkre153/dealfinder-pro-sub000/internal/domain"
)

func i64(v int64) *int64 { return &v }

func iptr(v int) *int { return &v }

func f64(v float64) *float64 { return &v }

func newMatchEvent() domain.OutboxEvent {
	return domain.OutboxEvent{
		ID:        1,
		AgentID:   "agent-1",
		MatchID:   "match-1",
		EventType: domain.EventNewMatch,
		Payload: domain.EventPayload{
			Property: domain.Property{
				Street:         "123 Main St",
				City:           "San Diego",
				State:          "CA",
				Zip:            "92128",
				ListPrice:      i64(900000),
				DaysOnMarket:   iptr(12),
				DealQuality:    "GOOD",
				MLSID:          "SD-4417",
				PricePerSqft:   f64(512.5),
				BelowMarketPct: f64(8.2),
				EstProfit:      i64(65000),
				EstimatedARV:   i64(1010000),
			},
			Score:   90,
			Reasons: []string{"postal code 92128 match", "within budget"},
		},
	}
}

func TestNewMapperRejectsUnknownField(t *testing.T) {
	_, err := NewMapper(map[string]string{"deal_scoer": "customDealScore"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deal_scoer")
}

func TestNewMapperRejectsDuplicateExternalKey(t *testing.T) {
	_, err := NewMapper(map[string]string{
		"deal_score": "customField",
		"list_price": "customField",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "customField")
}

func TestNewMapperRejectsEmptyExternalKey(t *testing.T) {
	_, err := NewMapper(map[string]string{"deal_score": ""})
	require.Error(t, err)
}

func TestMapperRoundTrip(t *testing.T) {
	m, err := NewMapper(config.DefaultFieldMapping())
	require.NoError(t, err)

	ext, ok := m.ExternalKey("deal_score")
	require.True(t, ok)
	assert.Equal(t, "customDealScore", ext)

	name, ok := m.InternalName("customDealScore")
	require.True(t, ok)
	assert.Equal(t, "deal_score", name)

	_, ok = m.ExternalKey("nonexistent")
	assert.False(t, ok)
}

func TestFromEventNewMatch(t *testing.T) {
	m, err := NewMapper(config.DefaultFieldMapping())
	require.NoError(t, err)
	tr := NewTransformer(m, "pipe-1", "stage-new")

	opp := tr.FromEvent(newMatchEvent())

	assert.Equal(t, "123 Main St, San Diego, CA 92128 (score 90)", opp.Name)
	assert.Equal(t, int64(900000), opp.Value)
	assert.Equal(t, "pipe-1", opp.PipelineID)
	assert.Equal(t, "stage-new", opp.StageID)
	assert.Contains(t, opp.Note, "postal code 92128 match; within budget")
	assert.Contains(t, opp.Note, "Score: 90")

	assert.Equal(t, 90, opp.CustomFields["customDealScore"])
	assert.Equal(t, int64(900000), opp.CustomFields["customListPrice"])
	assert.Equal(t, "SD-4417", opp.CustomFields["customMlsId"])
	assert.Equal(t, 512.5, opp.CustomFields["customPricePerSqft"])
	assert.Equal(t, 8.2, opp.CustomFields["customBelowMarketPct"])
	assert.Equal(t, 12, opp.CustomFields["customDaysOnMarket"])
	assert.Equal(t, "GOOD", opp.CustomFields["customDealQuality"])
	assert.Equal(t, int64(65000), opp.CustomFields["customEstProfit"])
	assert.Equal(t, int64(1010000), opp.CustomFields["customEstimatedArv"])
	assert.Equal(t, "123 Main St, San Diego, CA 92128", opp.CustomFields["customPropertyAddress"])
}

func TestFromEventPriceDrop(t *testing.T) {
	m, err := NewMapper(config.DefaultFieldMapping())
	require.NoError(t, err)
	tr := NewTransformer(m, "pipe-1", "stage-new")

	ev := newMatchEvent()
	ev.EventType = domain.EventPriceDrop
	ev.Payload.OldPrice = i64(900000)
	ev.Payload.NewPrice = i64(850000)

	opp := tr.FromEvent(ev)

	assert.Contains(t, opp.Name, "Price drop: ")
	assert.Contains(t, opp.Note, "Price dropped from $900000 to $850000")
}

func TestFromEventSkipsAbsentFields(t *testing.T) {
	m, err := NewMapper(config.DefaultFieldMapping())
	require.NoError(t, err)
	tr := NewTransformer(m, "pipe-1", "stage-new")

	ev := domain.OutboxEvent{
		EventType: domain.EventNewMatch,
		Payload: domain.EventPayload{
			Property: domain.Property{Street: "9 Bare Rd", Zip: "02116"},
			Score:    70,
		},
	}

	opp := tr.FromEvent(ev)

	assert.Equal(t, int64(0), opp.Value)
	assert.Equal(t, 70, opp.CustomFields["customDealScore"])
	assert.NotContains(t, opp.CustomFields, "customListPrice")
	assert.NotContains(t, opp.CustomFields, "customMlsId")
	assert.NotContains(t, opp.CustomFields, "customDaysOnMarket")
}

func TestFromEventPartialMapping(t *testing.T) {
	m, err := NewMapper(map[string]string{"deal_score": "cf_score"})
	require.NoError(t, err)
	tr := NewTransformer(m, "p", "s")

	opp := tr.FromEvent(newMatchEvent())

	assert.Equal(t, 90, opp.CustomFields["cf_score"])
	assert.Len(t, opp.CustomFields, 1, "unmapped fields are not delivered")
}
