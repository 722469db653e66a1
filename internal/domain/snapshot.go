package domain

import (
	"time"
)

// Snapshot is an immutable set of corpus properties plus the moment it was
// generated. Exactly one snapshot is current at any time; consumers must
// treat the Properties slice as read-only.
type Snapshot struct {
	GeneratedAt time.Time  `json:"generated_at"`
	Properties  []Property `json:"properties"`
}
