package domain

// Deal-quality tags assigned by the upstream deal analyzer.
const (
	DealHot  = "HOT"
	DealGood = "GOOD"
	DealFair = "FAIR"
	DealPass = "PASS"
)

// DefaultMinScore is applied when criteria omit min_score.
const DefaultMinScore = 70

// Criteria is the immutable filter and scoring configuration owned by an
// agent. Reconfiguring an agent writes a new Criteria row; rows are never
// mutated in place.
type Criteria struct {
	ID             string   `json:"id" db:"id"`
	Locations      []string `json:"locations" db:"locations"`
	PriceMin       *int64   `json:"price_min,omitempty" db:"price_min"`
	PriceMax       *int64   `json:"price_max,omitempty" db:"price_max"`
	BedroomsMin    *int     `json:"bedrooms_min,omitempty" db:"bedrooms_min"`
	BathroomsMin   *float64 `json:"bathrooms_min,omitempty" db:"bathrooms_min"`
	PropertyTypes  []string `json:"property_types,omitempty" db:"property_types"`
	DealQuality    []string `json:"deal_quality,omitempty" db:"deal_quality"`
	MinScore       int      `json:"min_score" db:"min_score"`
	InvestmentType string   `json:"investment_type,omitempty" db:"investment_type"`
}

// FieldError describes a single invalid criteria field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Problems returns field-level validation failures. An empty slice means the
// criteria are valid. MinScore is expected to be defaulted before validation.
func (c Criteria) Problems() []FieldError {
	var errs []FieldError

	if len(c.Locations) == 0 {
		errs = append(errs, FieldError{Field: "locations", Message: "at least one postal code is required"})
	}
	for _, loc := range c.Locations {
		if !isDigits(loc) {
			errs = append(errs, FieldError{Field: "locations", Message: "postal code must be digits: " + loc})
		}
	}
	if c.PriceMin != nil && *c.PriceMin < 0 {
		errs = append(errs, FieldError{Field: "price_min", Message: "must be non-negative"})
	}
	if c.PriceMax != nil && *c.PriceMax < 0 {
		errs = append(errs, FieldError{Field: "price_max", Message: "must be non-negative"})
	}
	if c.PriceMin != nil && c.PriceMax != nil && *c.PriceMin > *c.PriceMax {
		errs = append(errs, FieldError{Field: "price_min", Message: "must not exceed price_max"})
	}
	if c.BedroomsMin != nil && *c.BedroomsMin < 0 {
		errs = append(errs, FieldError{Field: "bedrooms_min", Message: "must be non-negative"})
	}
	if c.BathroomsMin != nil && *c.BathroomsMin < 0 {
		errs = append(errs, FieldError{Field: "bathrooms_min", Message: "must be non-negative"})
	}
	for _, q := range c.DealQuality {
		if q != DealHot && q != DealGood && q != DealFair {
			errs = append(errs, FieldError{Field: "deal_quality", Message: "must be one of HOT, GOOD, FAIR: " + q})
		}
	}
	if c.MinScore < 0 || c.MinScore > 100 {
		errs = append(errs, FieldError{Field: "min_score", Message: "must be within [0,100]"})
	}

	return errs
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
