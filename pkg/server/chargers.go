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

func (s *Server) handleListChargers(w http.ResponseWriter, r *http.Request) {
	user := s.getUser(r)
	if user.ID == "" {
		writeJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	chargers, err := s.storage.ListChargers(r.Context(), user.ID)
	if err != nil {
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to list chargers", slog.Any("error", err))
		writeJSONError(w, "failed to list chargers", http.StatusInternalServerError)
		return
	}
	if chargers == nil {
		chargers = []types.Charger{}
	}
	writeJSON(w, chargers)
}

// handleConnectCharger logs into the vendor cloud with the user's account,
// lists the chargers on it and stores each one with its encrypted tokens.
// The account password is never persisted.
func (s *Server) handleConnectCharger(w http.ResponseWriter, r *http.Request) {
	user := s.getUser(r)
	if user.ID == "" {
		writeJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Brand    types.ChargerBrand `json:"brand"`
		Username string             `json:"username"`
		Password string             `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Brand == "" {
		req.Brand = types.ChargerBrandEasee
	}
	if req.Username == "" || req.Password == "" {
		writeJSONError(w, "username and password are required", http.StatusBadRequest)
		return
	}

	// login with a fresh client, the per-charger clients get the tokens
	// once we know the charger IDs
	client, err := s.chargers.Charger(req.Brand, "login:"+user.ID)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	creds, err := client.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		log.Ctx(r.Context()).WarnContext(r.Context(), "charger login failed", slog.Any("error", err))
		writeJSONError(w, "vendor login failed: "+err.Error(), http.StatusUnauthorized)
		return
	}

	vendorChargers, err := client.Chargers(r.Context())
	if err != nil {
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to list vendor chargers", slog.Any("error", err))
		writeJSONError(w, "failed to list chargers: "+err.Error(), http.StatusBadGateway)
		return
	}
	if len(vendorChargers) == 0 {
		writeJSONError(w, "no chargers found on this account", http.StatusNotFound)
		return
	}

	encrypted, err := s.encryptChargerTokens(r.Context(), creds)
	if err != nil {
		writeJSONError(w, "failed to encrypt credentials", http.StatusInternalServerError)
		return
	}

	now := s.now().UTC()
	saved := make([]types.Charger, 0, len(vendorChargers))
	for _, vc := range vendorChargers {
		ch := types.Charger{
			ID:                    vc.ID,
			Brand:                 req.Brand,
			Name:                  vc.Name,
			VendorChargerID:       vc.ID,
			EncryptedAccessToken:  encrypted.access,
			EncryptedRefreshToken: encrypted.refresh,
			CreatedAt:             now,
			UpdatedAt:             now,
		}
		if existing, err := s.storage.GetCharger(r.Context(), user.ID, ch.ID); err == nil {
			ch.CreatedAt = existing.CreatedAt
			if existing.Name != "" {
				ch.Name = existing.Name
			}
		}
		if err := s.storage.SetCharger(r.Context(), user.ID, ch); err != nil {
			log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to save charger", slog.String("chargerID", ch.ID), slog.Any("error", err))
			writeJSONError(w, "failed to save charger", http.StatusInternalServerError)
			return
		}
		saved = append(saved, ch)
	}

	log.Ctx(r.Context()).InfoContext(r.Context(), "connected chargers", slog.Int("count", len(saved)))
	writeJSON(w, saved)
}

func (s *Server) handleChargerStatus(w http.ResponseWriter, r *http.Request) {
	user := s.getUser(r)
	if user.ID == "" {
		writeJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ch, err := s.storage.GetCharger(r.Context(), user.ID, r.PathValue("id"))
	if err != nil {
		if errors.Is(err, storage.ErrChargerNotFound) {
			writeJSONError(w, "charger not found", http.StatusNotFound)
			return
		}
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to get charger", slog.Any("error", err))
		writeJSONError(w, "failed to get charger", http.StatusInternalServerError)
		return
	}

	client, err := s.chargers.Charger(ch.Brand, ch.ID)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	creds, err := s.chargerCredentials(r.Context(), ch)
	if err != nil {
		writeJSONError(w, "missing charger credentials", http.StatusBadRequest)
		return
	}
	client.SetCredentials(creds)

	state, err := client.State(r.Context(), ch.VendorChargerID)
	s.persistRefreshedCredentials(r.Context(), user.ID, ch, client)
	if err != nil {
		log.Ctx(r.Context()).WarnContext(r.Context(), "failed to fetch charger state", slog.String("chargerID", ch.ID), slog.Any("error", err))
		writeJSONError(w, "failed to fetch charger state: "+err.Error(), http.StatusBadGateway)
		return
	}

	writeJSON(w, struct {
		Charger types.Charger      `json:"charger"`
		State   types.ChargerState `json:"state"`
	}{Charger: ch, State: state})
}

func (s *Server) handleDeleteCharger(w http.ResponseWriter, r *http.Request) {
	user := s.getUser(r)
	if user.ID == "" {
		writeJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	chargerID := r.PathValue("id")
	if err := s.storage.DeleteCharger(r.Context(), user.ID, chargerID); err != nil {
		if errors.Is(err, storage.ErrChargerNotFound) {
			writeJSONError(w, "charger not found", http.StatusNotFound)
			return
		}
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to delete charger", slog.Any("error", err))
		writeJSONError(w, "failed to delete charger", http.StatusInternalServerError)
		return
	}
	// drop the cached vendor client so its tokens don't outlive the charger
	s.chargers.RemoveCharger(chargerID)
	w.WriteHeader(http.StatusOK)
}
