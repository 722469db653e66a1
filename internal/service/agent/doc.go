// Package agent implements search-agent lifecycle management and the check
// procedure.
//
// The service layer owns all business rules: client resolution, criteria
// validation, the active/paused/cancelled/completed state machine, per-agent
// check locking, and the bookkeeping that keeps match_count and the
// degraded-health flag truthful. It depends on the Repository interface
// defined in this package and should never import from api/.
//
// Repository implementations live in repository/postgres/.
package agent
