package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/jwpriem/ev-easee/pkg/controller"
	"github.com/jwpriem/ev-easee/pkg/log"
	"github.com/jwpriem/ev-easee/pkg/prices"
	"github.com/jwpriem/ev-easee/pkg/storage"
	"github.com/jwpriem/ev-easee/pkg/types"
)

// handleSchedule projects one or all policies across the known price
// timeline. It never touches the chargers.
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	user := s.getUser(r)
	if user.ID == "" {
		writeJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	interval := 0
	if raw := r.URL.Query().Get("interval"); raw != "" {
		var err error
		interval, err = strconv.Atoi(raw)
		if err != nil || interval <= 0 || interval > 60 || 60%interval != 0 {
			writeJSONError(w, "interval must evenly divide an hour", http.StatusBadRequest)
			return
		}
	}

	info, err := s.priceInfo(r.Context(), user.ID)
	if err != nil {
		if errors.Is(err, errTibberNotConnected) {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to get prices", slog.Any("error", err))
		writeJSONError(w, "failed to get prices", http.StatusBadGateway)
		return
	}

	tl := s.normalized(info)
	if interval > 0 && interval < 60 {
		tl = prices.ExpandToSubIntervals(tl, interval)
	}

	var policies []types.ChargingPolicy
	if policyID := r.URL.Query().Get("policyID"); policyID != "" {
		policy, err := s.storage.GetPolicy(r.Context(), user.ID, policyID)
		if err != nil {
			if errors.Is(err, storage.ErrPolicyNotFound) {
				writeJSONError(w, "policy not found", http.StatusNotFound)
				return
			}
			log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to get policy", slog.Any("error", err))
			writeJSONError(w, "failed to get policy", http.StatusInternalServerError)
			return
		}
		policies = []types.ChargingPolicy{policy}
	} else {
		policies, err = s.storage.ListPolicies(r.Context(), user.ID)
		if err != nil {
			log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to list policies", slog.Any("error", err))
			writeJSONError(w, "failed to list policies", http.StatusInternalServerError)
			return
		}
	}

	schedules := make([]types.Schedule, 0, len(policies))
	for _, policy := range policies {
		name := ""
		if ch, err := s.storage.GetCharger(r.Context(), user.ID, policy.ChargerID); err == nil {
			name = ch.Name
		}
		schedules = append(schedules, controller.Project(tl, policy, name))
	}

	writeJSON(w, schedules)
}
