package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jwpriem/ev-easee/pkg/log"
	"github.com/jwpriem/ev-easee/pkg/storage"
	"github.com/jwpriem/ev-easee/pkg/types"
)

func (s *Server) handleListVehicles(w http.ResponseWriter, r *http.Request) {
	user := s.getUser(r)
	if user.ID == "" {
		writeJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	vehicles, err := s.storage.ListVehicles(r.Context(), user.ID)
	if err != nil {
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to list vehicles", slog.Any("error", err))
		writeJSONError(w, "failed to list vehicles", http.StatusInternalServerError)
		return
	}
	if vehicles == nil {
		vehicles = []types.Vehicle{}
	}
	writeJSON(w, vehicles)
}

// handleConnectVehicle logs into the vehicle vendor cloud and stores every
// vehicle on the account with the encrypted session token. Vehicles are
// read-only, charging is steered through the charger alone.
func (s *Server) handleConnectVehicle(w http.ResponseWriter, r *http.Request) {
	user := s.getUser(r)
	if user.ID == "" {
		writeJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Brand    types.VehicleBrand `json:"brand"`
		Email    string             `json:"email"`
		Password string             `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Brand == "" {
		req.Brand = types.VehicleBrandZeekr
	}
	if req.Email == "" || req.Password == "" {
		writeJSONError(w, "email and password are required", http.StatusBadRequest)
		return
	}

	client, err := s.chargers.Vehicle(req.Brand, "login:"+user.ID)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	token, err := client.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		log.Ctx(r.Context()).WarnContext(r.Context(), "vehicle login failed", slog.Any("error", err))
		writeJSONError(w, "vendor login failed: "+err.Error(), http.StatusUnauthorized)
		return
	}

	vehicles, err := client.Vehicles(r.Context())
	if err != nil {
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to list vendor vehicles", slog.Any("error", err))
		writeJSONError(w, "failed to list vehicles: "+err.Error(), http.StatusBadGateway)
		return
	}
	if len(vehicles) == 0 {
		writeJSONError(w, "no vehicles found on this account", http.StatusNotFound)
		return
	}

	encryptedToken, err := s.encryptToken(r.Context(), token)
	if err != nil {
		writeJSONError(w, "failed to encrypt token", http.StatusInternalServerError)
		return
	}

	now := s.now().UTC()
	saved := make([]types.Vehicle, 0, len(vehicles))
	for _, v := range vehicles {
		v.ID = v.VIN
		v.Brand = req.Brand
		v.EncryptedToken = encryptedToken
		v.CreatedAt = now
		if existing, err := s.storage.GetVehicle(r.Context(), user.ID, v.ID); err == nil {
			v.CreatedAt = existing.CreatedAt
			v.Nickname = existing.Nickname
		}
		if err := s.storage.SetVehicle(r.Context(), user.ID, v); err != nil {
			log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to save vehicle", slog.String("vehicleID", v.ID), slog.Any("error", err))
			writeJSONError(w, "failed to save vehicle", http.StatusInternalServerError)
			return
		}
		saved = append(saved, v)
	}

	log.Ctx(r.Context()).InfoContext(r.Context(), "connected vehicles", slog.Int("count", len(saved)))
	writeJSON(w, saved)
}

func (s *Server) handleVehicleStatus(w http.ResponseWriter, r *http.Request) {
	user := s.getUser(r)
	if user.ID == "" {
		writeJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	v, err := s.storage.GetVehicle(r.Context(), user.ID, r.PathValue("id"))
	if err != nil {
		if errors.Is(err, storage.ErrVehicleNotFound) {
			writeJSONError(w, "vehicle not found", http.StatusNotFound)
			return
		}
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to get vehicle", slog.Any("error", err))
		writeJSONError(w, "failed to get vehicle", http.StatusInternalServerError)
		return
	}

	client, err := s.chargers.Vehicle(v.Brand, v.ID)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	token, err := s.decryptToken(r.Context(), v.EncryptedToken)
	if err != nil || token == "" {
		writeJSONError(w, "missing vehicle token, reconnect the vehicle", http.StatusBadRequest)
		return
	}
	client.SetToken(token)

	status, err := client.Status(r.Context(), v.VIN)
	if err != nil {
		log.Ctx(r.Context()).WarnContext(r.Context(), "failed to fetch vehicle status", slog.String("vehicleID", v.ID), slog.Any("error", err))
		writeJSONError(w, "failed to fetch vehicle status: "+err.Error(), http.StatusBadGateway)
		return
	}

	writeJSON(w, struct {
		Vehicle types.Vehicle       `json:"vehicle"`
		Status  types.VehicleStatus `json:"status"`
	}{Vehicle: v, Status: status})
}

func (s *Server) handleDeleteVehicle(w http.ResponseWriter, r *http.Request) {
	user := s.getUser(r)
	if user.ID == "" {
		writeJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	vehicleID := r.PathValue("id")
	if err := s.storage.DeleteVehicle(r.Context(), user.ID, vehicleID); err != nil {
		if errors.Is(err, storage.ErrVehicleNotFound) {
			writeJSONError(w, "vehicle not found", http.StatusNotFound)
			return
		}
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to delete vehicle", slog.Any("error", err))
		writeJSONError(w, "failed to delete vehicle", http.StatusInternalServerError)
		return
	}
	s.chargers.RemoveVehicle(vehicleID)
	w.WriteHeader(http.StatusOK)
}
