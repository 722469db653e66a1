// Package api exposes the HTTP surface: agent CRUD and lifecycle, corpus
// reads and admin operations, the criteria advisor, and health.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mkre153/dealfinder-pro-sub000/internal/advisor"
	"github.com/mkre153/dealfinder-pro-sub000/internal/corpus"
	"github.com/mkre153/dealfinder-pro-sub000/internal/match"
	"github.com/mkre153/dealfinder-pro-sub000/internal/pkg/httputil"
	"github.com/mkre153/dealfinder-pro-sub000/internal/service/agent"
)

// Scanner triggers forced checks across all active agents. Implemented by
// the check scheduler.
type Scanner interface {
	ScanAll(ctx context.Context) (int, error)
}

// CRMStatus reports delivery-pipeline health. Implemented by the CRM sync
// worker.
type CRMStatus interface {
	AuthDegraded() bool
	QueueDepth(ctx context.Context) (int, error)
}

// Adviser runs the conversational criteria extraction.
type Adviser interface {
	Advise(ctx context.Context, message string, history []advisor.Turn) (*advisor.Result, error)
}

// Handlers contains all HTTP handlers.
type Handlers struct {
	agents       *agent.Service
	store        *corpus.Store
	snapshotPath string
	archive      corpus.Archive
	scanner      Scanner
	crm          CRMStatus
	adviser      Adviser
}

// NewHandlers creates a Handlers instance over the core services. Optional
// collaborators are attached through setters.
func NewHandlers(agents *agent.Service, store *corpus.Store, snapshotPath string) *Handlers {
	return &Handlers{
		agents:       agents,
		store:        store,
		snapshotPath: snapshotPath,
	}
}

// SetScanner attaches the check scheduler for /api/properties/scan.
func (h *Handlers) SetScanner(s Scanner) {
	h.scanner = s
}

// SetCRMStatus attaches the CRM worker for /health reporting.
func (h *Handlers) SetCRMStatus(c CRMStatus) {
	h.crm = c
}

// SetAdviser attaches the criteria advisor.
func (h *Handlers) SetAdviser(a Adviser) {
	h.adviser = a
}

// SetArchive attaches snapshot archival for corpus swaps.
func (h *Handlers) SetArchive(a corpus.Archive) {
	h.archive = a
}

// serviceError maps agent-service errors onto the error envelope.
func serviceError(w http.ResponseWriter, err error) {
	var verr *match.ValidationError
	switch {
	case errors.As(err, &verr):
		httputil.ErrorCode(w, http.StatusBadRequest, "invalid_criteria", "invalid criteria", verr.Fields)
	case errors.Is(err, agent.ErrNotFound):
		httputil.ErrorCode(w, http.StatusNotFound, "not_found", "agent not found", nil)
	case errors.Is(err, agent.ErrMatchNotFound):
		httputil.ErrorCode(w, http.StatusNotFound, "not_found", "match not found", nil)
	case errors.Is(err, agent.ErrClientNotFound):
		httputil.ErrorCode(w, http.StatusNotFound, "not_found", "client not found", nil)
	case errors.Is(err, agent.ErrBusy):
		httputil.Conflict(w, "busy", "a check is already running for this agent")
	case errors.Is(err, agent.ErrTerminalState):
		httputil.Conflict(w, "terminal_state", "agent is in a terminal state")
	case errors.Is(err, agent.ErrIllegalTransition):
		httputil.Conflict(w, "illegal_transition", "transition not allowed from the current state")
	case errors.Is(err, agent.ErrInvalidDeliveryStatus):
		httputil.ErrorCode(w, http.StatusBadRequest, "invalid_delivery_status", "unknown delivery status", nil)
	case errors.Is(err, corpus.ErrNoCorpus):
		httputil.Unavailable(w, "no_corpus", "no corpus snapshot loaded")
	default:
		httputil.Error(w, http.StatusInternalServerError, err.Error())
	}
}

// decodeJSONStrict rejects bodies carrying keys the target does not have.
func decodeJSONStrict(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
