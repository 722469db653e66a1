package crm

import (
	"fmt"
	"strings"

	"github.com/mkre153/dealfinder-pro-sub000/internal/domain"
)

// Opportunity is the deal record shape the external CRM accepts.
// CustomFields is keyed by the deployment's external field keys.
type Opportunity struct {
	Name         string         `json:"name"`
	Value        int64          `json:"value"`
	PipelineID   string         `json:"pipeline_id"`
	StageID      string         `json:"stage_id"`
	Note         string         `json:"note"`
	CustomFields map[string]any `json:"custom_fields,omitempty"`
}

// Transformer converts outbox events into opportunities using the configured
// pipeline routing and field mapping.
type Transformer struct {
	mapper     *Mapper
	pipelineID string
	stageID    string
}

// NewTransformer builds a Transformer. The mapper must already be validated.
func NewTransformer(mapper *Mapper, pipelineID, stageID string) *Transformer {
	return &Transformer{
		mapper:     mapper,
		pipelineID: pipelineID,
		stageID:    stageID,
	}
}

// FromEvent builds the opportunity record for one outbox event. The payload
// carries the property snapshot captured at match time, so the transform
// never consults live state.
func (t *Transformer) FromEvent(ev domain.OutboxEvent) Opportunity {
	p := ev.Payload.Property

	name := fmt.Sprintf("%s (score %d)", p.Address(), ev.Payload.Score)
	if ev.EventType == domain.EventPriceDrop {
		name = "Price drop: " + name
	}

	var value int64
	if p.ListPrice != nil {
		value = *p.ListPrice
	}

	return Opportunity{
		Name:         name,
		Value:        value,
		PipelineID:   t.pipelineID,
		StageID:      t.stageID,
		Note:         buildNote(ev),
		CustomFields: t.customFields(ev),
	}
}

// buildNote renders the human-readable note: the ordered reason list, the
// score, and for price drops the old and new prices.
func buildNote(ev domain.OutboxEvent) string {
	var b strings.Builder

	if len(ev.Payload.Reasons) > 0 {
		b.WriteString("Matched: ")
		b.WriteString(strings.Join(ev.Payload.Reasons, "; "))
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Score: %d", ev.Payload.Score)

	if ev.EventType == domain.EventPriceDrop && ev.Payload.OldPrice != nil && ev.Payload.NewPrice != nil {
		fmt.Fprintf(&b, "\nPrice dropped from $%d to $%d", *ev.Payload.OldPrice, *ev.Payload.NewPrice)
	}

	return b.String()
}

// customFields collects every mapped internal field that has a value on the
// captured property. Absent values and unmapped fields are skipped; the CRM
// treats missing custom fields as unset.
func (t *Transformer) customFields(ev domain.OutboxEvent) map[string]any {
	p := ev.Payload.Property
	fields := make(map[string]any)

	set := func(name string, value any) {
		if key, ok := t.mapper.ExternalKey(name); ok {
			fields[key] = value
		}
	}

	set("deal_score", ev.Payload.Score)
	if addr := p.Address(); addr != "" {
		set("property_address", addr)
	}
	if p.ListPrice != nil {
		set("list_price", *p.ListPrice)
	}
	if p.EstProfit != nil {
		set("est_profit", *p.EstProfit)
	}
	if p.MLSID != "" {
		set("mls_id", p.MLSID)
	}
	if p.PricePerSqft != nil {
		set("price_per_sqft", *p.PricePerSqft)
	}
	if p.BelowMarketPct != nil {
		set("below_market_pct", *p.BelowMarketPct)
	}
	if p.DaysOnMarket != nil {
		set("days_on_market", *p.DaysOnMarket)
	}
	if p.DealQuality != "" {
		set("deal_quality", p.DealQuality)
	}
	if p.EstimatedARV != nil {
		set("estimated_arv", *p.EstimatedARV)
	}

	if len(fields) == 0 {
		return nil
	}
	return fields
}
