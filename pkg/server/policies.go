package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"

	"github.com/jwpriem/ev-easee/pkg/log"
	"github.com/jwpriem/ev-easee/pkg/storage"
	"github.com/jwpriem/ev-easee/pkg/types"
)

func validMaxPrice(p float64) bool {
	return !math.IsNaN(p) && !math.IsInf(p, 0) && p > 0
}

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	user := s.getUser(r)
	if user.ID == "" {
		writeJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	policies, err := s.storage.ListPolicies(r.Context(), user.ID)
	if err != nil {
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to list policies", slog.Any("error", err))
		writeJSONError(w, "failed to list policies", http.StatusInternalServerError)
		return
	}
	if policies == nil {
		policies = []types.ChargingPolicy{}
	}
	writeJSON(w, policies)
}

func (s *Server) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	user := s.getUser(r)
	if user.ID == "" {
		writeJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		ChargerID string  `json:"chargerID"`
		MaxPrice  float64 `json:"maxPrice"`
		Enabled   bool    `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	if req.ChargerID == "" {
		writeJSONError(w, "chargerID is required", http.StatusBadRequest)
		return
	}
	if !validMaxPrice(req.MaxPrice) {
		writeJSONError(w, "maxPrice must be a positive number", http.StatusBadRequest)
		return
	}

	// the policy is keyed by the charger, which must exist
	if _, err := s.storage.GetCharger(r.Context(), user.ID, req.ChargerID); err != nil {
		if errors.Is(err, storage.ErrChargerNotFound) {
			writeJSONError(w, "charger not found", http.StatusNotFound)
			return
		}
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to get charger", slog.Any("error", err))
		writeJSONError(w, "failed to get charger", http.StatusInternalServerError)
		return
	}

	now := s.now().UTC()
	policy := types.ChargingPolicy{
		ID:        req.ChargerID,
		ChargerID: req.ChargerID,
		MaxPrice:  req.MaxPrice,
		Enabled:   req.Enabled,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing, err := s.storage.GetPolicy(r.Context(), user.ID, req.ChargerID); err == nil {
		// creating again for the same charger replaces the policy but
		// keeps its creation time
		policy.CreatedAt = existing.CreatedAt
	}

	if err := s.storage.SetPolicy(r.Context(), user.ID, policy); err != nil {
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to save policy", slog.Any("error", err))
		writeJSONError(w, "failed to save policy", http.StatusInternalServerError)
		return
	}

	log.Ctx(r.Context()).InfoContext(r.Context(), "saved policy",
		slog.String("policyID", policy.ID),
		slog.Float64("maxPrice", policy.MaxPrice),
		slog.Bool("enabled", policy.Enabled),
	)
	writeJSON(w, policy)
}

func (s *Server) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	user := s.getUser(r)
	if user.ID == "" {
		writeJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	policy, err := s.storage.GetPolicy(r.Context(), user.ID, r.PathValue("id"))
	if err != nil {
		if errors.Is(err, storage.ErrPolicyNotFound) {
			writeJSONError(w, "policy not found", http.StatusNotFound)
			return
		}
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to get policy", slog.Any("error", err))
		writeJSONError(w, "failed to get policy", http.StatusInternalServerError)
		return
	}

	var req struct {
		MaxPrice *float64 `json:"maxPrice"`
		Enabled  *bool    `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	if req.MaxPrice != nil {
		if !validMaxPrice(*req.MaxPrice) {
			writeJSONError(w, "maxPrice must be a positive number", http.StatusBadRequest)
			return
		}
		policy.MaxPrice = *req.MaxPrice
	}
	if req.Enabled != nil {
		policy.Enabled = *req.Enabled
	}
	policy.UpdatedAt = s.now().UTC()

	if err := s.storage.SetPolicy(r.Context(), user.ID, policy); err != nil {
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to save policy", slog.Any("error", err))
		writeJSONError(w, "failed to save policy", http.StatusInternalServerError)
		return
	}
	writeJSON(w, policy)
}

func (s *Server) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	user := s.getUser(r)
	if user.ID == "" {
		writeJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if err := s.storage.DeletePolicy(r.Context(), user.ID, r.PathValue("id")); err != nil {
		if errors.Is(err, storage.ErrPolicyNotFound) {
			writeJSONError(w, "policy not found", http.StatusNotFound)
			return
		}
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to delete policy", slog.Any("error", err))
		writeJSONError(w, "failed to delete policy", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}
