// Package crm transforms outbox events into external opportunity records and
// delivers them to the configured CRM with bounded retry.
package crm

import (
	"fmt"
	"sort"
)

// internalFields is the closed set of opportunity fields the transform can
// populate. Config maps each internal name to the external CRM's custom field
// key; the internal names themselves never change.
var internalFields = map[string]bool{
	"deal_score":       true,
	"property_address": true,
	"list_price":       true,
	"est_profit":       true,
	"mls_id":           true,
	"price_per_sqft":   true,
	"below_market_pct": true,
	"days_on_market":   true,
	"deal_quality":     true,
	"estimated_arv":    true,
}

// Mapper resolves internal opportunity field names to external CRM custom
// field keys and back. The mapping is validated once at construction so a
// typo in config.yaml fails the process at startup instead of corrupting
// deliveries at runtime.
type Mapper struct {
	external map[string]string // internal name -> external key
	internal map[string]string // external key -> internal name
}

// NewMapper validates and indexes a field mapping from configuration.
// Every key must be a known internal field name and every external key must
// be unique, otherwise the reverse direction would be ambiguous.
func NewMapper(mapping map[string]string) (*Mapper, error) {
	m := &Mapper{
		external: make(map[string]string, len(mapping)),
		internal: make(map[string]string, len(mapping)),
	}

	// Deterministic validation order so repeated startups report the same
	// first offender.
	names := make([]string, 0, len(mapping))
	for name := range mapping {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ext := mapping[name]
		if !internalFields[name] {
			return nil, fmt.Errorf("crm field mapping: unknown internal field %q", name)
		}
		if ext == "" {
			return nil, fmt.Errorf("crm field mapping: empty external key for %q", name)
		}
		if prev, dup := m.internal[ext]; dup {
			return nil, fmt.Errorf("crm field mapping: external key %q mapped from both %q and %q", ext, prev, name)
		}
		m.external[name] = ext
		m.internal[ext] = name
	}

	return m, nil
}

// ExternalKey returns the CRM custom field key for an internal field name.
// Unmapped fields are simply not delivered.
func (m *Mapper) ExternalKey(name string) (string, bool) {
	ext, ok := m.external[name]
	return ext, ok
}

// InternalName returns the internal field name for an external key. Used when
// reading CRM webhooks or reconciling records back into the service.
func (m *Mapper) InternalName(ext string) (string, bool) {
	name, ok := m.internal[ext]
	return name, ok
}
