package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mkre153/dealfinder-pro-sub000/internal/corpus"
	"github.com/mkre153/dealfinder-pro-sub000/internal/domain"
	"github.com/mkre153/dealfinder-pro-sub000/internal/enrich"
	"github.com/mkre153/dealfinder-pro-sub000/internal/pkg/httputil"
)

// ====== PROPERTY READS ======

// ListProperties handles GET /api/properties. Read-only view over the
// current snapshot with simple query filters.
func (h *Handlers) ListProperties(w http.ResponseWriter, r *http.Request) {
	snap, err := h.store.Current()
	if err != nil {
		serviceError(w, err)
		return
	}

	q := r.URL.Query()
	zip := strings.TrimSpace(q.Get("zip"))
	status := strings.ToLower(strings.TrimSpace(q.Get("status")))
	minPrice := queryInt64(r, "min_price")
	maxPrice := queryInt64(r, "max_price")
	limit := queryInt(r, "limit", 100)

	matched := 0
	out := make([]domain.Property, 0, limit)
	for _, p := range snap.Properties {
		if zip != "" && p.Zip != zip {
			continue
		}
		if status != "" && string(p.Status) != status {
			continue
		}
		if minPrice != nil && (p.ListPrice == nil || *p.ListPrice < *minPrice) {
			continue
		}
		if maxPrice != nil && (p.ListPrice == nil || *p.ListPrice > *maxPrice) {
			continue
		}
		matched++
		if len(out) < limit {
			out = append(out, p)
		}
	}

	httputil.OK(w, map[string]interface{}{
		"properties":   out,
		"total":        matched,
		"generated_at": snap.GeneratedAt,
	})
}

// ScanProperties handles POST /api/properties/scan. Queues a forced check
// for every active agent and returns immediately.
func (h *Handlers) ScanProperties(w http.ResponseWriter, r *http.Request) {
	if h.scanner == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "scan is not available")
		return
	}
	if _, err := h.store.Current(); err != nil {
		serviceError(w, err)
		return
	}

	queued, err := h.scanner.ScanAll(r.Context())
	if err != nil {
		httputil.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	httputil.Accepted(w, map[string]interface{}{
		"agents_queued": queued,
	})
}

// ====== CORPUS ADMIN ======

// ReloadCorpus handles POST /api/corpus/reload. Re-reads the snapshot file
// from disk and swaps it in. A file that is not strictly newer than the
// corpus already being served is rejected so an operator cannot roll the
// service back by accident.
func (h *Handlers) ReloadCorpus(w http.ResponseWriter, r *http.Request) {
	loaded, err := corpus.LoadFile(h.snapshotPath)
	if err != nil {
		httputil.Error(w, http.StatusInternalServerError, "loading snapshot: "+err.Error())
		return
	}

	if current, err := h.store.Current(); err == nil && !loaded.GeneratedAt.After(current.GeneratedAt) {
		httputil.Conflict(w, "stale_snapshot", "snapshot file is not newer than the corpus being served")
		return
	}

	if err := h.store.Swap(loaded); err != nil {
		if errors.Is(err, corpus.ErrStaleSnapshot) {
			httputil.Conflict(w, "stale_snapshot", "snapshot file is not newer than the corpus being served")
			return
		}
		httputil.Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Printf("[API] Corpus reloaded: %d properties, generated %s",
		len(loaded.Properties), loaded.GeneratedAt.Format(time.RFC3339))
	httputil.OK(w, map[string]interface{}{
		"properties":   len(loaded.Properties),
		"generated_at": loaded.GeneratedAt,
	})
}

// EnrichCorpus handles POST /api/corpus/enrich. The body is the raw
// owner-intelligence CSV. The merged snapshot is archived and persisted
// before it is published, so a crash mid-request never leaves the disk and
// memory views disagreeing.
func (h *Handlers) EnrichCorpus(w http.ResponseWriter, r *http.Request) {
	snap, err := h.store.Current()
	if err != nil {
		serviceError(w, err)
		return
	}

	feed, err := enrich.ParseFeed(r.Body)
	if err != nil {
		httputil.ErrorCode(w, http.StatusBadRequest, "malformed_feed", err.Error(), nil)
		return
	}

	merged, report := enrich.Merge(snap, feed, time.Now().UTC())

	if h.archive != nil {
		if err := h.archive.Save(r.Context(), snap); err != nil {
			log.Printf("[API] Warning: archiving superseded snapshot failed: %v", err)
		}
	}
	if err := corpus.SaveFile(h.snapshotPath, merged); err != nil {
		httputil.Error(w, http.StatusInternalServerError, "persisting snapshot: "+err.Error())
		return
	}
	if err := h.store.Swap(merged); err != nil {
		httputil.Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Printf("[API] Corpus enriched: %d/%d feed rows merged, %d unmatched, %d skipped",
		report.Enriched, report.FeedRecords, report.Unmatched, len(feed.Skipped))
	httputil.OK(w, map[string]interface{}{
		"merged":  report.Enriched,
		"skipped": len(feed.Skipped),
		"issues":  feed.Skipped,
		"report":  report,
	})
}

// ====== CLIENTS ======

// ListClients handles GET /api/clients.
func (h *Handlers) ListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.agents.Clients(r.Context())
	if err != nil {
		serviceError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{
		"clients": clients,
		"total":   len(clients),
	})
}

func queryInt64(r *http.Request, key string) *int64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return nil
	}
	return &n
}
