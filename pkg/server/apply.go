package server

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jwpriem/ev-easee/pkg/controller"
	"github.com/jwpriem/ev-easee/pkg/log"
	"github.com/jwpriem/ev-easee/pkg/storage"
	"github.com/jwpriem/ev-easee/pkg/types"
)

var (
	errTibberNotConnected = errors.New("tibber is not connected")
	errNoCurrentPrice     = errors.New("could not resolve the current price")
)

type applyResponse struct {
	CurrentPrice float64                `json:"currentPrice"`
	Decisions    []types.DecisionResult `json:"decisions"`
	Message      string                 `json:"message,omitempty"`
}

// handleApply runs an apply-cycle for the logged-in user.
func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	user := s.getUser(r)
	if user.ID == "" {
		writeJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	res, err := s.applyPolicies(r.Context(), user.ID)
	if err != nil {
		s.writeApplyError(w, r.Context(), err)
		return
	}
	writeJSON(w, res)
}

// handleCronApply runs an apply-cycle on behalf of the scheduled function.
// It authenticates with the cron API key instead of a session.
func (s *Server) handleCronApply(w http.ResponseWriter, r *http.Request) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		writeJSONError(w, "missing bearer token", http.StatusUnauthorized)
		return
	}
	key := strings.TrimPrefix(authHeader, "Bearer ")

	userID, err := s.storage.GetUserIDForCronKey(r.Context(), hashCronKey(key))
	if err != nil {
		log.Ctx(r.Context()).WarnContext(r.Context(), "cron key lookup failed", slog.Any("error", err))
		writeJSONError(w, "invalid cron key", http.StatusUnauthorized)
		return
	}

	// the trigger may still fire after automation was paused
	settings, err := s.storage.GetAutomation(r.Context(), userID)
	if err != nil {
		if errors.Is(err, storage.ErrNoAutomation) {
			writeJSONError(w, "automation not configured", http.StatusUnauthorized)
			return
		}
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to get automation settings", slog.Any("error", err))
		writeJSONError(w, "failed to get automation settings", http.StatusInternalServerError)
		return
	}
	if subtle.ConstantTimeCompare([]byte(settings.CronKeyHash), []byte(hashCronKey(key))) != 1 {
		writeJSONError(w, "invalid cron key", http.StatusUnauthorized)
		return
	}

	ctx := log.With(r.Context(), log.Ctx(r.Context()).With(slog.String("cronUserID", userID)))
	res, err := s.applyPolicies(ctx, userID)
	if err != nil {
		s.writeApplyError(w, ctx, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) writeApplyError(w http.ResponseWriter, ctx context.Context, err error) {
	switch {
	case errors.Is(err, errTibberNotConnected):
		writeJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, errNoCurrentPrice):
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
	default:
		log.Ctx(ctx).ErrorContext(ctx, "apply-cycle failed", slog.Any("error", err))
		writeJSONError(w, "failed to apply policies", http.StatusInternalServerError)
	}
}

// applyPolicies runs one apply-cycle: resolve the current price, evaluate
// every enabled policy against its charger's live state and issue at most
// one command per charger. Per-policy failures are folded into the
// decisions so one broken charger never aborts the cycle.
func (s *Server) applyPolicies(ctx context.Context, userID string) (applyResponse, error) {
	info, err := s.priceInfo(ctx, userID)
	if err != nil {
		return applyResponse{}, err
	}

	tl := s.normalized(info)
	current := s.currentPrice(tl)
	if current == nil {
		// there is no sane decision without a price, fail the whole cycle
		log.Ctx(ctx).ErrorContext(ctx, "no price found for the current hour", slog.Int("points", len(tl)))
		return applyResponse{}, errNoCurrentPrice
	}

	policies, err := s.storage.ListPolicies(ctx, userID)
	if err != nil {
		return applyResponse{}, err
	}

	var enabled []types.ChargingPolicy
	for _, p := range policies {
		if p.Enabled {
			enabled = append(enabled, p)
		}
	}
	if len(enabled) == 0 {
		return applyResponse{
			CurrentPrice: current.Total,
			Decisions:    []types.DecisionResult{},
			Message:      "no enabled policies",
		}, nil
	}

	decisions := make([]types.DecisionResult, 0, len(enabled))
	for _, policy := range enabled {
		decisions = append(decisions, s.applyPolicy(ctx, userID, policy, *current))
	}

	return applyResponse{
		CurrentPrice: current.Total,
		Decisions:    decisions,
	}, nil
}

func (s *Server) applyPolicy(ctx context.Context, userID string, policy types.ChargingPolicy, current types.PricePoint) types.DecisionResult {
	res := types.DecisionResult{
		PolicyID:     policy.ID,
		ChargerID:    policy.ChargerID,
		CurrentPrice: current.Total,
		MaxPrice:     policy.MaxPrice,
		Outcome:      types.OutcomeError,
	}

	ch, err := s.storage.GetCharger(ctx, userID, policy.ChargerID)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to get charger for policy", slog.String("policyID", policy.ID), slog.Any("error", err))
		res.Message = "charger not found"
		return res
	}
	res.ChargerName = ch.Name

	client, err := s.chargers.Charger(ch.Brand, ch.ID)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get charger client", slog.String("chargerID", ch.ID), slog.Any("error", err))
		res.Message = err.Error()
		return res
	}

	creds, err := s.chargerCredentials(ctx, ch)
	if err != nil {
		// don't bother the vendor API without credentials
		log.Ctx(ctx).ErrorContext(ctx, "failed to decrypt charger credentials", slog.String("chargerID", ch.ID), slog.Any("error", err))
		res.Message = "missing charger credentials"
		return res
	}
	client.SetCredentials(creds)

	state, err := client.State(ctx, ch.VendorChargerID)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to fetch charger state", slog.String("chargerID", ch.ID), slog.Any("error", err))
		res.Message = "failed to fetch charger state: " + err.Error()
		s.persistRefreshedCredentials(ctx, userID, ch, client)
		return res
	}

	res = controller.Execute(ctx, client, ch, policy, current, state)

	// the vendor client may have refreshed its tokens mid-call, persist
	// them regardless of the outcome so the next cycle doesn't start with
	// an expired token
	s.persistRefreshedCredentials(ctx, userID, ch, client)
	return res
}

func (s *Server) persistRefreshedCredentials(ctx context.Context, userID string, ch types.Charger, client interface {
	Credentials() (types.ChargerCredentials, bool)
}) {
	creds, refreshed := client.Credentials()
	if !refreshed {
		return
	}
	encrypted, err := s.encryptChargerTokens(ctx, creds)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to encrypt refreshed credentials", slog.String("chargerID", ch.ID), slog.Any("error", err))
		return
	}
	ch.EncryptedAccessToken = encrypted.access
	ch.EncryptedRefreshToken = encrypted.refresh
	ch.UpdatedAt = s.now().UTC()
	if err := s.storage.SetCharger(ctx, userID, ch); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to persist refreshed credentials", slog.String("chargerID", ch.ID), slog.Any("error", err))
		return
	}
	log.Ctx(ctx).InfoContext(ctx, "persisted refreshed charger credentials", slog.String("chargerID", ch.ID))
}

func hashCronKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
