package server

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jwpriem/ev-easee/pkg/log"
	"github.com/jwpriem/ev-easee/pkg/prices"
	"github.com/jwpriem/ev-easee/pkg/storage"
	"github.com/jwpriem/ev-easee/pkg/types"
)

const (
	oauthStateCookie    = "tibber_oauth_state"
	oauthVerifierCookie = "tibber_oauth_verifier"
)

func (s *Server) tibber() (*prices.Tibber, error) {
	provider, err := s.prices.Provider("tibber")
	if err != nil {
		return nil, err
	}
	t, ok := provider.(*prices.Tibber)
	if !ok {
		return nil, errors.New("tibber provider does not support oauth")
	}
	return t, nil
}

func (s *Server) tibberRedirectURI() string {
	return s.appURL + "/api/tibber/callback"
}

func oauthCookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   true,
		Path:     "/api/tibber/",
		SameSite: http.SameSiteLaxMode,
	}
}

// handleTibberAuthorize starts the OAuth flow by redirecting the user to
// the provider's consent page. The state and PKCE verifier ride along in
// short-lived cookies.
func (s *Server) handleTibberAuthorize(w http.ResponseWriter, r *http.Request) {
	user := s.getUser(r)
	if user.ID == "" {
		writeJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	t, err := s.tibber()
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if s.appURL == "" {
		writeJSONError(w, "app-url is not configured", http.StatusInternalServerError)
		return
	}

	st, err := prices.NewOAuthState()
	if err != nil {
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to generate oauth state", slog.Any("error", err))
		writeJSONError(w, "failed to start authorization", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, oauthCookie(oauthStateCookie, st.State, 600))
	http.SetCookie(w, oauthCookie(oauthVerifierCookie, st.CodeVerifier, 600))
	http.Redirect(w, r, t.AuthorizationURL(s.tibberRedirectURI(), st), http.StatusFound)
}

// handleTibberCallback finishes the OAuth flow: it checks the state,
// exchanges the code and stores the encrypted tokens.
func (s *Server) handleTibberCallback(w http.ResponseWriter, r *http.Request) {
	user := s.getUser(r)
	if user.ID == "" {
		writeJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		log.Ctx(r.Context()).WarnContext(r.Context(), "oauth authorization denied", slog.String("error", errParam))
		writeJSONError(w, "authorization denied: "+errParam, http.StatusBadRequest)
		return
	}

	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil {
		writeJSONError(w, "missing oauth state", http.StatusBadRequest)
		return
	}
	verifierCookie, err := r.Cookie(oauthVerifierCookie)
	if err != nil {
		writeJSONError(w, "missing oauth verifier", http.StatusBadRequest)
		return
	}
	if subtle.ConstantTimeCompare([]byte(stateCookie.Value), []byte(r.URL.Query().Get("state"))) != 1 {
		log.Ctx(r.Context()).WarnContext(r.Context(), "oauth state mismatch")
		writeJSONError(w, "oauth state mismatch", http.StatusBadRequest)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		writeJSONError(w, "missing authorization code", http.StatusBadRequest)
		return
	}

	t, err := s.tibber()
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	tokens, err := t.ExchangeCode(r.Context(), code, s.tibberRedirectURI(), verifierCookie.Value)
	if err != nil {
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to exchange oauth code", slog.Any("error", err))
		writeJSONError(w, "failed to exchange authorization code", http.StatusBadGateway)
		return
	}

	encryptedAccess, err := s.encryptToken(r.Context(), tokens.AccessToken)
	if err != nil {
		writeJSONError(w, "failed to encrypt token", http.StatusInternalServerError)
		return
	}
	encryptedRefresh, err := s.encryptToken(r.Context(), tokens.RefreshToken)
	if err != nil {
		writeJSONError(w, "failed to encrypt token", http.StatusInternalServerError)
		return
	}

	now := s.now().UTC()
	conn := types.TibberConnection{
		EncryptedAccessToken:  encryptedAccess,
		EncryptedRefreshToken: encryptedRefresh,
		ExpiresAt:             now.Add(time.Duration(tokens.ExpiresIn) * time.Second),
		UpdatedAt:             now,
	}
	if err := s.storage.SetTibberConnection(r.Context(), user.ID, conn); err != nil {
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to save tibber connection", slog.Any("error", err))
		writeJSONError(w, "failed to save connection", http.StatusInternalServerError)
		return
	}

	// drop the oauth cookies and any stale cached prices
	http.SetCookie(w, oauthCookie(oauthStateCookie, "", -1))
	http.SetCookie(w, oauthCookie(oauthVerifierCookie, "", -1))
	s.priceCache.Invalidate(user.ID)

	log.Ctx(r.Context()).InfoContext(r.Context(), "tibber connected", slog.String("userID", user.ID))
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) handleTibberStatus(w http.ResponseWriter, r *http.Request) {
	user := s.getUser(r)
	if user.ID == "" {
		writeJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.storage.GetTibberConnection(r.Context(), user.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotConnected) {
			writeJSON(w, struct {
				Connected bool `json:"connected"`
			}{Connected: false})
			return
		}
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to get tibber connection", slog.Any("error", err))
		writeJSONError(w, "failed to get connection", http.StatusInternalServerError)
		return
	}

	writeJSON(w, struct {
		Connected bool      `json:"connected"`
		ExpiresAt time.Time `json:"expiresAt"`
		UpdatedAt time.Time `json:"updatedAt"`
	}{Connected: true, ExpiresAt: conn.ExpiresAt, UpdatedAt: conn.UpdatedAt})
}

func (s *Server) handleTibberDisconnect(w http.ResponseWriter, r *http.Request) {
	user := s.getUser(r)
	if user.ID == "" {
		writeJSONError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if err := s.storage.DeleteTibberConnection(r.Context(), user.ID); err != nil {
		log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to delete tibber connection", slog.Any("error", err))
		writeJSONError(w, "failed to disconnect", http.StatusInternalServerError)
		return
	}
	s.priceCache.Invalidate(user.ID)
	w.WriteHeader(http.StatusOK)
}
