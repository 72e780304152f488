package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"bulkmsg/internal/domain"
)

type CampaignService interface {
	Create(ctx context.Context, req domain.CreateCampaignRequest) (domain.Campaign, error)
	Start(ctx context.Context, campaignID string) (domain.StartResult, error)
	Get(ctx context.Context, campaignID string) (domain.CampaignView, error)
	List(ctx context.Context, limit int) ([]domain.Campaign, error)
}

type API struct {
	Svc CampaignService
}

func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/api/campaigns", a.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/api/campaigns", a.handleList).Methods(http.MethodGet)
	r.HandleFunc("/api/campaigns/{id}", a.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/api/campaigns/{id}/start", a.handleStart).Methods(http.MethodPost)
}

func (a *API) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	c, err := a.Svc.Create(r.Context(), req)
	if err != nil {
		writeError(w, err, "create campaign failed", "name", req.Name)
		return
	}
	writeJSON(w, http.StatusCreated, domain.CreateCampaignResponse{ID: c.ID, Name: c.Name, Status: c.Status})
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	out, err := a.Svc.List(r.Context(), limit)
	if err != nil {
		writeError(w, err, "list campaigns failed")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		http.Error(w, ErrMissingID, http.StatusBadRequest)
		return
	}
	view, err := a.Svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, err, "get campaign failed", "campaign_id", id)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleStart(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		http.Error(w, ErrMissingID, http.StatusBadRequest)
		return
	}
	res, err := a.Svc.Start(r.Context(), id)
	if err != nil {
		writeError(w, err, "start campaign failed", "campaign_id", id)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeError(w http.ResponseWriter, err error, msg string, attrs ...any) {
	switch {
	case errors.Is(err, domain.ErrMissingFields):
		http.Error(w, ErrMissingFields, http.StatusBadRequest)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, ErrNotFound, http.StatusNotFound)
	case errors.Is(err, domain.ErrCampaignNotDraft):
		http.Error(w, ErrAlreadyStarted, http.StatusConflict)
	default:
		slog.Error(msg, append([]any{"err", err}, attrs...)...)
		http.Error(w, ErrDependency, http.StatusBadGateway)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
