package domain

import (
	"strconv"
	"strings"
)

// PropertyStatus enumerates listing states carried by the corpus.
type PropertyStatus string

const (
	PropertyActive  PropertyStatus = "active"
	PropertyPending PropertyStatus = "pending"
	PropertySold    PropertyStatus = "sold"
)

// Ownership is the enrichment block attached to a property by the
// owner-intelligence feed. Signal booleans are precomputed at merge time.
type Ownership struct {
	OwnerName       string   `json:"owner_name,omitempty"`
	MailingStreet   string   `json:"mailing_street,omitempty"`
	MailingCity     string   `json:"mailing_city,omitempty"`
	MailingState    string   `json:"mailing_state,omitempty"`
	MailingZip      string   `json:"mailing_zip,omitempty"`
	PreviousOwners  []string `json:"previous_owners,omitempty"`
	AbsenteeOwner   bool     `json:"absentee_owner,omitempty"`
	InvestorOwned   bool     `json:"investor_owned,omitempty"`
	FlipHistory     bool     `json:"flip_history,omitempty"`
	MotivatedSeller bool     `json:"motivated_seller,omitempty"`
}

// Property is one corpus record. Every field is optional; the upstream feed
// decides what it can provide, and absence is never an error. Prices are
// whole dollars.
type Property struct {
	Street           string         `json:"street,omitempty"`
	City             string         `json:"city,omitempty"`
	State            string         `json:"state,omitempty"`
	Zip              string         `json:"zip,omitempty"`
	ListPrice        *int64         `json:"list_price,omitempty"`
	Bedrooms         *int           `json:"bedrooms,omitempty"`
	Bathrooms        *float64       `json:"bathrooms,omitempty"`
	SquareFeet       *int           `json:"square_feet,omitempty"`
	LotSize          *int           `json:"lot_size,omitempty"`
	YearBuilt        *int           `json:"year_built,omitempty"`
	DaysOnMarket     *int           `json:"days_on_market,omitempty"`
	PropertyType     string         `json:"property_type,omitempty"`
	Status           PropertyStatus `json:"status,omitempty"`
	DealQuality      string         `json:"deal_quality,omitempty"`
	OpportunityScore *int           `json:"opportunity_score,omitempty"`
	MLSID            string         `json:"mls_id,omitempty"`
	PricePerSqft     *float64       `json:"price_per_sqft,omitempty"`
	BelowMarketPct   *float64       `json:"below_market_pct,omitempty"`
	EstProfit        *int64         `json:"est_profit,omitempty"`
	EstimatedARV     *int64         `json:"estimated_arv,omitempty"`
	Units            *int           `json:"units,omitempty"`
	Ownership        *Ownership     `json:"ownership,omitempty"`
}

// Address renders a single-line human address, skipping absent parts.
func (p Property) Address() string {
	var b strings.Builder
	if p.Street != "" {
		b.WriteString(p.Street)
	}
	if p.City != "" {
		if b.Len() > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.City)
	}
	if p.State != "" {
		if b.Len() > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.State)
	}
	if p.Zip != "" {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(p.Zip)
	}
	return b.String()
}

// PriceLabel formats the list price for display, "n/a" when absent.
func (p Property) PriceLabel() string {
	if p.ListPrice == nil {
		return "n/a"
	}
	return "$" + formatThousands(*p.ListPrice)
}

func formatThousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	var b strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
