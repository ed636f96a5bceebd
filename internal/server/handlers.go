package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ca-srg/cravings/internal/keyword"
	"github.com/ca-srg/cravings/internal/menu"
	"github.com/ca-srg/cravings/internal/metrics"
	"github.com/ca-srg/cravings/internal/precompute"
)

const (
	maxTopN     = 20
	maxBodySize = 64 << 10
)

type cravingRequest struct {
	Craving string `json:"craving"`
}

type cravingResponse struct {
	Craving string             `json:"craving"`
	Matches []menu.SearchMatch `json:"matches"`
}

type recommendationsResponse struct {
	Recommendations []menu.MenuItemView `json:"recommendations"`
}

type reembedResponse struct {
	Status string `json:"status"`
	RunID  string `json:"run_id"`
}

type matchResponse struct {
	Query string            `json:"query"`
	Item  menu.MenuItemView `json:"item"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleFindCraving(w http.ResponseWriter, r *http.Request) {
	metrics.RecordInvocation(metrics.ModeCraving)

	var req cravingRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Missing craving")
		return
	}
	craving := strings.TrimSpace(req.Craving)
	if craving == "" {
		writeError(w, http.StatusBadRequest, "Missing craving")
		return
	}

	matches, err := s.deps.Searcher.FindCraving(r.Context(), craving)
	if err != nil {
		s.logger.Error().Err(err).Msg("find_craving failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if matches == nil {
		matches = []menu.SearchMatch{}
	}
	writeJSON(w, http.StatusOK, cravingResponse{Craving: craving, Matches: matches})
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	metrics.RecordInvocation(metrics.ModeRecommend)

	userID := strings.TrimSpace(chi.URLParam(r, "user_id"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "Missing user_id")
		return
	}

	topN := s.config.DefaultTopN
	if raw := r.URL.Query().Get("top_n"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "top_n must be a positive integer")
			return
		}
		topN = min(n, maxTopN)
	}

	items, err := s.deps.Recommender.Recommend(r.Context(), userID, topN)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("recommendation failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	views := make([]menu.MenuItemView, 0, len(items))
	for _, item := range items {
		views = append(views, item.View())
	}
	writeJSON(w, http.StatusOK, recommendationsResponse{Recommendations: views})
}

func (s *Server) handleMenuMatch(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "Missing name")
		return
	}

	items, err := s.deps.Menu.ListItems(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("menu unavailable for name match")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	item, ok := keyword.BestMatch(items, name)
	if !ok {
		writeError(w, http.StatusNotFound, "no match")
		return
	}
	writeJSON(w, http.StatusOK, matchResponse{Query: name, Item: item.View()})
}

func (s *Server) handleReembedStart(w http.ResponseWriter, r *http.Request) {
	metrics.RecordInvocation(metrics.ModeReembed)

	runID, err := s.deps.Reembedder.Start(r.Context())
	if errors.Is(err, precompute.ErrAlreadyRunning) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to start re-embed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusAccepted, reembedResponse{Status: "re-embed started", RunID: runID})
}

func (s *Server) handleReembedStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Reembedder.Status())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
