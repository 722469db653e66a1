package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mkre153/dealfinder-pro-sub000/internal/advisor"
	"github.com/mkre153/dealfinder-pro-sub000/internal/domain"
	"github.com/mkre153/dealfinder-pro-sub000/internal/pkg/httputil"
	"github.com/mkre153/dealfinder-pro-sub000/internal/service/agent"
)

// ====== AGENT CRUD ======

// CreateAgent handles POST /api/agents. The body carries the client block,
// the criteria block, and optional notification preferences.
func (h *Handlers) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var input agent.CreateInput
	if !httputil.Decode(w, r, &input) {
		return
	}

	created, err := h.agents.Create(r.Context(), input)
	if err != nil {
		serviceError(w, err)
		return
	}
	httputil.Created(w, created)
}

// ListAgents handles GET /api/agents?status=&limit=&offset=.
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	f := agent.ListFilter{
		Status: r.URL.Query().Get("status"),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}

	agents, total, err := h.agents.List(r.Context(), f)
	if err != nil {
		serviceError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{
		"agents": agents,
		"total":  total,
	})
}

// GetAgent handles GET /api/agents/{agentID}.
func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	a, err := h.agents.Get(r.Context(), chi.URLParam(r, "agentID"))
	if err != nil {
		serviceError(w, err)
		return
	}
	httputil.OK(w, a)
}

// UpdateAgent handles PATCH /api/agents/{agentID}. Only notification
// preferences are mutable; any other key in the body is rejected so a
// caller trying to change criteria learns immediately instead of silently
// keeping the old ones.
func (h *Handlers) UpdateAgent(w http.ResponseWriter, r *http.Request) {
	var u agent.NotifyUpdate
	if err := decodeJSONStrict(r, &u); err != nil {
		httputil.BadRequest(w, "only notification_email, notification_sms and notification_chat can be updated")
		return
	}
	if u.Empty() {
		httputil.BadRequest(w, "no preference fields provided")
		return
	}

	a, err := h.agents.UpdatePrefs(r.Context(), chi.URLParam(r, "agentID"), u)
	if err != nil {
		serviceError(w, err)
		return
	}
	httputil.OK(w, a)
}

// DeleteAgent handles DELETE /api/agents/{agentID}. Agents are cancelled,
// never erased; the response carries the final record.
func (h *Handlers) DeleteAgent(w http.ResponseWriter, r *http.Request) {
	a, err := h.agents.Cancel(r.Context(), chi.URLParam(r, "agentID"))
	if err != nil {
		serviceError(w, err)
		return
	}
	httputil.OK(w, a)
}

// ====== AGENT LIFECYCLE ======

// CheckAgent handles POST /api/agents/{agentID}/check. Runs one forced
// check synchronously and returns its summary.
func (h *Handlers) CheckAgent(w http.ResponseWriter, r *http.Request) {
	summary, err := h.agents.RunCheck(r.Context(), chi.URLParam(r, "agentID"), true)
	if err != nil {
		serviceError(w, err)
		return
	}
	httputil.OK(w, summary)
}

// PauseAgent handles POST /api/agents/{agentID}/pause.
func (h *Handlers) PauseAgent(w http.ResponseWriter, r *http.Request) {
	a, err := h.agents.Pause(r.Context(), chi.URLParam(r, "agentID"))
	if err != nil {
		serviceError(w, err)
		return
	}
	httputil.OK(w, a)
}

// ResumeAgent handles POST /api/agents/{agentID}/resume.
func (h *Handlers) ResumeAgent(w http.ResponseWriter, r *http.Request) {
	a, err := h.agents.Resume(r.Context(), chi.URLParam(r, "agentID"))
	if err != nil {
		serviceError(w, err)
		return
	}
	httputil.OK(w, a)
}

// CompleteAgent handles POST /api/agents/{agentID}/complete. Marks the
// search fulfilled, typically after the client closes on a match.
func (h *Handlers) CompleteAgent(w http.ResponseWriter, r *http.Request) {
	a, err := h.agents.Complete(r.Context(), chi.URLParam(r, "agentID"))
	if err != nil {
		serviceError(w, err)
		return
	}
	httputil.OK(w, a)
}

// ====== MATCHES ======

// ListAgentMatches handles GET /api/agents/{agentID}/matches.
func (h *Handlers) ListAgentMatches(w http.ResponseWriter, r *http.Request) {
	matches, err := h.agents.Matches(r.Context(), chi.URLParam(r, "agentID"))
	if err != nil {
		serviceError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{
		"matches": matches,
		"total":   len(matches),
	})
}

// UpdateMatch handles PATCH /api/matches/{matchID}. The only mutable field
// is the delivery status.
func (h *Handlers) UpdateMatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DeliveryStatus string `json:"delivery_status"`
	}
	if !httputil.Decode(w, r, &body) {
		return
	}

	matchID := chi.URLParam(r, "matchID")
	status := domain.MatchDeliveryStatus(strings.ToLower(strings.TrimSpace(body.DeliveryStatus)))
	if err := h.agents.UpdateMatchDelivery(r.Context(), matchID, status); err != nil {
		serviceError(w, err)
		return
	}
	httputil.OK(w, map[string]string{
		"id":              matchID,
		"delivery_status": string(status),
	})
}

// ====== ADVISOR ======

// AdviseCriteria handles POST /api/agents/advisor. One conversational turn:
// the caller sends a message plus prior history and gets the assistant's
// reply, possibly with extracted search criteria.
func (h *Handlers) AdviseCriteria(w http.ResponseWriter, r *http.Request) {
	if h.adviser == nil {
		httputil.Unavailable(w, "advisor_disabled", "criteria advisor is not configured")
		return
	}

	var body struct {
		Message string         `json:"message"`
		History []advisor.Turn `json:"history"`
	}
	if !httputil.Decode(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Message) == "" {
		httputil.BadRequest(w, "message is required")
		return
	}

	result, err := h.adviser.Advise(r.Context(), body.Message, body.History)
	if err != nil {
		httputil.Error(w, http.StatusInternalServerError, "advisor request failed")
		return
	}
	httputil.OK(w, result)
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
