package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/david325345/animetoday-docker/models"
	"github.com/david325345/animetoday-docker/services/addon"
	"github.com/david325345/animetoday-docker/services/schedule"
	"github.com/david325345/animetoday-docker/services/scheduler"
)

type addonService interface {
	Manifest() models.Manifest
	Catalog(typ, id string, skip int) models.CatalogResponse
	Meta(typ, id string) (models.MetaResponse, error)
	Streams(ctx context.Context, typ, id, baseURL string) (models.StreamResponse, error)
	Resolve(ctx context.Context, token, baseURL string) (string, models.Outcome)
}

var _ addonService = (*addon.Service)(nil)

type scheduleControl interface {
	RefreshNow(ctx context.Context) error
	Status() []scheduler.TaskStatus
	Store() *schedule.Store
}

var _ scheduleControl = (*schedule.Service)(nil)

type AddonHandler struct {
	Service  addonService
	Schedule scheduleControl
	// DebridConfigured is reported by the health endpoint.
	DebridConfigured bool
}

func NewAddonHandler(s addonService, sched scheduleControl, debridConfigured bool) *AddonHandler {
	return &AddonHandler{Service: s, Schedule: sched, DebridConfigured: debridConfigured}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[addon] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *AddonHandler) Manifest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Service.Manifest())
}

// Catalog serves both /catalog/{type}/{id}.json and the variant with an extra segment such
// as "skip=20".
func (h *AddonHandler) Catalog(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	skip := 0
	if extra := vars["extra"]; extra != "" {
		if values, err := url.ParseQuery(extra); err == nil {
			if n, err := strconv.Atoi(values.Get("skip")); err == nil {
				skip = n
			}
		}
	}
	writeJSON(w, http.StatusOK, h.Service.Catalog(vars["type"], vars["id"], skip))
}

func (h *AddonHandler) Meta(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	resp, err := h.Service.Meta(vars["type"], vars["id"])
	if err != nil {
		// Ids from other addons reach us too; clients expect an empty meta, not an error.
		log.Printf("[addon] meta for %q: %v", vars["id"], err)
		resp = models.MetaResponse{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AddonHandler) Streams(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	resp, err := h.Service.Streams(r.Context(), vars["type"], vars["id"], requestBaseURL(r))
	if err != nil {
		log.Printf("[addon] streams for %q: %v", vars["id"], err)
		resp = models.StreamResponse{Streams: []models.Stream{}}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Resolve redirects to the playable URL of a token, or to a placeholder asset.
func (h *AddonHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(mux.Vars(r)["token"])
	location, outcome := h.Service.Resolve(r.Context(), token, requestBaseURL(r))
	log.Printf("[addon] resolve %s -> %s (%s)", token, outcome.Status, outcome.State)
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, location, http.StatusFound)
}

func (h *AddonHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	if err := h.Schedule.RefreshNow(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	store := h.Schedule.Store()
	writeJSON(w, http.StatusOK, map[string]any{
		"entries":   store.Len(),
		"updatedAt": store.UpdatedAt(),
	})
}

type healthResponse struct {
	Status           string                 `json:"status"`
	Entries          int                    `json:"entries"`
	UpdatedAt        time.Time              `json:"updatedAt"`
	DebridConfigured bool                   `json:"debridConfigured"`
	Tasks            []scheduler.TaskStatus `json:"tasks"`
}

func (h *AddonHandler) Health(w http.ResponseWriter, r *http.Request) {
	store := h.Schedule.Store()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:           "ok",
		Entries:          store.Len(),
		UpdatedAt:        store.UpdatedAt(),
		DebridConfigured: h.DebridConfigured,
		Tasks:            h.Schedule.Status(),
	})
}

// requestBaseURL rebuilds the externally visible origin, honouring reverse proxy headers.
func requestBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
	}
	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return scheme + "://" + host
}
