package api

import (
	"log"
	"net/http"
	"time"

	"github.com/mkre153/dealfinder-pro-sub000/internal/pkg/httputil"
)

// HealthCheck handles GET /health. Status is "degraded" whenever any of
// the pillars is unhealthy: no corpus loaded, CRM deliveries failing
// authentication, or active agents with failing checks.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	degraded := false

	var corpusTS *time.Time
	if generatedAt, _, ok := h.store.Stats(); ok {
		corpusTS = &generatedAt
	} else {
		degraded = true
	}

	active, degradedAgents, err := h.agents.Counts(r.Context())
	if err != nil {
		log.Printf("[API] Warning: agent health counts failed: %v", err)
		degraded = true
	}
	if degradedAgents > 0 {
		degraded = true
	}

	crmStatus := "disabled"
	queueDepth := 0
	if h.crm != nil {
		crmStatus = "ok"
		if h.crm.AuthDegraded() {
			crmStatus = "auth_failed"
			degraded = true
		}
		if depth, err := h.crm.QueueDepth(r.Context()); err == nil {
			queueDepth = depth
		} else {
			log.Printf("[API] Warning: outbox depth query failed: %v", err)
		}
	}

	status := "ok"
	if degraded {
		status = "degraded"
	}

	httputil.OK(w, map[string]interface{}{
		"status":           status,
		"corpus_timestamp": corpusTS,
		"active_agents":    active,
		"degraded_agents":  degradedAgents,
		"crm":              crmStatus,
		"queue_depth":      queueDepth,
	})
}
