package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jwpriem/ev-easee/pkg/automation"
	"github.com/jwpriem/ev-easee/pkg/log"
	"github.com/jwpriem/ev-easee/pkg/storage"
	"github.com/jwpriem/ev-easee/pkg/types"
)

type automationStatusResponse struct {
	Configured   bool      `json:"configured"`
	Active       bool      `json:"active"`
	NamespaceID  string    `json:"namespaceID,omitempty"`
	FunctionName string    `json:"functionName,omitempty"`
	TriggerName  string    `json:"triggerName,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt,omitempty"`
}

// handleAutomationSetup deploys the scheduled apply function to the user's
// DigitalOcean account: a Functions namespace, the function itself and a
// cron trigger. The generated cron API key is returned exactly once, only
// its hash is stored.
func (s *Server) handleAutomationSetup(w http.ResponseWriter, r *http.Request) {
	user := s.getUser(r)
	if user.ID == "" {
		writeJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Token == "" {
		writeJSONError(w, "token is required", http.StatusBadRequest)
		return
	}
	if s.appURL == "" {
		writeJSONError(w, "app-url is not configured", http.StatusInternalServerError)
		return
	}

	if existing, err := s.storage.GetAutomation(r.Context(), user.ID); err == nil && existing.NamespaceID != "" {
		writeJSONError(w, "automation is already configured, delete it first", http.StatusConflict)
		return
	}

	ns, err := s.automation.CreateNamespace(r.Context(), req.Token, automation.PackageName)
	if err != nil {
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to create namespace", slog.Any("error", err))
		writeJSONError(w, err.Error(), http.StatusBadGateway)
		return
	}

	cronKey := uuid.NewString()
	code := automation.FunctionCode(s.appURL, cronKey)
	if err := s.automation.DeployFunction(r.Context(), ns.APIHost, ns.Key, code); err != nil {
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to deploy function", slog.Any("error", err))
		// don't leave a half-configured namespace behind
		if derr := s.automation.DeleteNamespace(r.Context(), req.Token, ns.Namespace); derr != nil {
			log.Ctx(r.Context()).WarnContext(r.Context(), "failed to clean up namespace", slog.Any("error", derr))
		}
		writeJSONError(w, err.Error(), http.StatusBadGateway)
		return
	}

	if _, err := s.automation.CreateTrigger(r.Context(), req.Token, ns.Namespace); err != nil {
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to create trigger", slog.Any("error", err))
		if derr := s.automation.DeleteNamespace(r.Context(), req.Token, ns.Namespace); derr != nil {
			log.Ctx(r.Context()).WarnContext(r.Context(), "failed to clean up namespace", slog.Any("error", derr))
		}
		writeJSONError(w, err.Error(), http.StatusBadGateway)
		return
	}

	encryptedKey, err := s.encryptToken(r.Context(), req.Token)
	if err != nil {
		writeJSONError(w, "failed to encrypt token", http.StatusInternalServerError)
		return
	}

	keyHash := hashCronKey(cronKey)
	settings := types.AutomationSettings{
		CronKeyHash:    keyHash,
		NamespaceID:    ns.Namespace,
		APIHost:        ns.APIHost,
		EncryptedDOKey: encryptedKey,
		FunctionName:   automation.PackageName + "/" + automation.FunctionName,
		TriggerName:    automation.TriggerName,
		Active:         true,
		UpdatedAt:      s.now().UTC(),
	}
	if err := s.storage.SetAutomation(r.Context(), user.ID, settings); err != nil {
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to save automation settings", slog.Any("error", err))
		writeJSONError(w, "failed to save automation settings", http.StatusInternalServerError)
		return
	}
	if err := s.storage.SetCronKey(r.Context(), user.ID, keyHash); err != nil {
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to save cron key", slog.Any("error", err))
		writeJSONError(w, "failed to save cron key", http.StatusInternalServerError)
		return
	}

	log.Ctx(r.Context()).InfoContext(r.Context(), "automation configured",
		slog.String("userID", user.ID),
		slog.String("namespace", ns.Namespace),
	)

	writeJSON(w, struct {
		CronKey  string                   `json:"cronKey"`
		Settings automationStatusResponse `json:"settings"`
	}{
		CronKey:  cronKey,
		Settings: statusFromSettings(settings),
	})
}

// handleAutomationResume re-enables a previously paused trigger.
func (s *Server) handleAutomationResume(w http.ResponseWriter, r *http.Request) {
	user := s.getUser(r)
	if user.ID == "" {
		writeJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	settings, err := s.storage.GetAutomation(r.Context(), user.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNoAutomation) {
			writeJSONError(w, "automation not configured", http.StatusNotFound)
			return
		}
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to get automation settings", slog.Any("error", err))
		writeJSONError(w, "failed to get automation settings", http.StatusInternalServerError)
		return
	}

	token, err := s.decryptToken(r.Context(), settings.EncryptedDOKey)
	if err != nil || token == "" {
		writeJSONError(w, "missing digitalocean token, set up automation again", http.StatusBadRequest)
		return
	}

	if _, err := s.automation.UpdateTrigger(r.Context(), token, settings.NamespaceID, true); err != nil {
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to resume trigger", slog.Any("error", err))
		writeJSONError(w, err.Error(), http.StatusBadGateway)
		return
	}

	settings.Active = true
	settings.UpdatedAt = s.now().UTC()
	if err := s.storage.SetAutomation(r.Context(), user.ID, settings); err != nil {
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to save automation settings", slog.Any("error", err))
		writeJSONError(w, "failed to save automation settings", http.StatusInternalServerError)
		return
	}

	writeJSON(w, statusFromSettings(settings))
}

func (s *Server) handleAutomationStatus(w http.ResponseWriter, r *http.Request) {
	user := s.getUser(r)
	if user.ID == "" {
		writeJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	settings, err := s.storage.GetAutomation(r.Context(), user.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNoAutomation) {
			writeJSON(w, automationStatusResponse{Configured: false})
			return
		}
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to get automation settings", slog.Any("error", err))
		writeJSONError(w, "failed to get automation settings", http.StatusInternalServerError)
		return
	}

	writeJSON(w, statusFromSettings(settings))
}

// handleAutomationDelete tears down the namespace (which removes the
// function and trigger with it) and forgets the cron key.
func (s *Server) handleAutomationDelete(w http.ResponseWriter, r *http.Request) {
	user := s.getUser(r)
	if user.ID == "" {
		writeJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	settings, err := s.storage.GetAutomation(r.Context(), user.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNoAutomation) {
			writeJSONError(w, "automation not configured", http.StatusNotFound)
			return
		}
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to get automation settings", slog.Any("error", err))
		writeJSONError(w, "failed to get automation settings", http.StatusInternalServerError)
		return
	}

	token, err := s.decryptToken(r.Context(), settings.EncryptedDOKey)
	if err == nil && token != "" {
		if err := s.automation.DeleteNamespace(r.Context(), token, settings.NamespaceID); err != nil {
			// still forget our side, the user can clean up the namespace
			// in the DO console
			log.Ctx(r.Context()).WarnContext(r.Context(), "failed to delete namespace", slog.Any("error", err))
		}
	}

	if settings.CronKeyHash != "" {
		if err := s.storage.DeleteCronKey(r.Context(), settings.CronKeyHash); err != nil {
			log.Ctx(r.Context()).WarnContext(r.Context(), "failed to delete cron key", slog.Any("error", err))
		}
	}
	if err := s.storage.DeleteAutomation(r.Context(), user.ID); err != nil {
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to delete automation settings", slog.Any("error", err))
		writeJSONError(w, "failed to delete automation settings", http.StatusInternalServerError)
		return
	}

	log.Ctx(r.Context()).InfoContext(r.Context(), "automation removed", slog.String("userID", user.ID))
	w.WriteHeader(http.StatusOK)
}

func statusFromSettings(settings types.AutomationSettings) automationStatusResponse {
	return automationStatusResponse{
		Configured:   true,
		Active:       settings.Active,
		NamespaceID:  settings.NamespaceID,
		FunctionName: settings.FunctionName,
		TriggerName:  settings.TriggerName,
		UpdatedAt:    settings.UpdatedAt,
	}
}
