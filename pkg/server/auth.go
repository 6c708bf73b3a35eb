package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jwpriem/ev-easee/pkg/log"
	"github.com/jwpriem/ev-easee/pkg/storage"
	"github.com/jwpriem/ev-easee/pkg/types"
)

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("reqPath", r.URL.Path)))

		allowNoLogin := r.URL.Path == "/api/auth/login" || r.URL.Path == "/api/auth/status" || r.URL.Path == "/api/auth/logout"
		// the cron endpoint authenticates with its own bearer key instead
		// of a session cookie
		isCronPath := r.URL.Path == "/api/cron/apply"

		var email string
		var userID string
		// userFound is true if the user is a real user found in the database
		var userFound bool
		// user might be a fake user if this is bypassAuth
		var user types.User
		// handle authentication
		if s.bypassAuth {
			user = types.User{
				ID:    "dev",
				Email: "dev@localhost",
			}
			ctx = context.WithValue(ctx, userContextKey, user)
		} else if !isCronPath {
			var authSuccess bool

			authCookie, err := r.Cookie(authTokenCookie)
			if err != nil && !errors.Is(err, http.ErrNoCookie) {
				log.Ctx(ctx).ErrorContext(ctx, "failed to get auth cookie", slog.Any("error", err))
				writeJSONError(w, "missing auth cookie", http.StatusBadRequest)
				return
			}
			if authCookie != nil {
				emailRet, subjectRet, _, err := s.authenticateToken(ctx, authCookie.Value, "")
				if err != nil {
					log.Ctx(ctx).ErrorContext(ctx, "auth token validation failed", slog.Any("error", err))
					writeJSONError(w, "invalid auth token", http.StatusBadRequest)
					return
				}
				email = emailRet
				userID = subjectRet
				authSuccess = true
			} else if !allowNoLogin {
				log.Ctx(ctx).WarnContext(ctx, "no auth cookie found")
				writeJSONError(w, "missing auth cookie", http.StatusBadRequest)
				return
			}

			if authSuccess {
				user, err = s.storage.GetUser(ctx, userID)
				if err != nil {
					if allowNoLogin && errors.Is(err, storage.ErrUserNotFound) {
						log.Ctx(ctx).InfoContext(ctx, "user not found, will register on login", slog.String("userID", userID), slog.String("email", email))
						// Put a stub user in context so the login handler can create it
						ctx = context.WithValue(ctx, userToRegisterContextKey, types.User{
							ID:    userID,
							Email: email,
						})
					} else {
						log.Ctx(ctx).WarnContext(ctx, "user lookup failed", slog.String("userID", userID), slog.String("email", email), slog.Any("error", err))
						writeJSONError(w, "user lookup failed", http.StatusForbidden)
						return
					}
				} else {
					userFound = true
				}
				ctx = context.WithValue(ctx, userContextKey, user)
			} else if !allowNoLogin {
				log.Ctx(ctx).WarnContext(ctx, "unauthenticated request")
				s.clearCookie(w)
				writeJSONError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}

		if userID != "" {
			ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("authUserID", userID)))
		}

		log.Ctx(ctx).DebugContext(
			ctx,
			"authenticated request",
			slog.String("email", email),
			slog.Bool("userFound", userFound),
		)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	// Parse the token from the JSON body
	var req struct {
		Token  string `json:"token"`
		Client string `json:"client"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// since we failed to read, don't return JSON error
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	email, subject, expires, err := s.authenticateToken(r.Context(), req.Token, req.Client)
	if err != nil {
		log.Ctx(r.Context()).WarnContext(r.Context(), "failed to validate id token", slog.Any("error", err))
		writeJSONError(w, "invalid id token", http.StatusUnauthorized)
		return
	}

	if email == "" {
		log.Ctx(r.Context()).WarnContext(r.Context(), "invalid email in id token")
		writeJSONError(w, "invalid oidc claims", http.StatusUnauthorized)
		return
	}

	// register the user on first login
	if _, err := s.storage.GetUser(r.Context(), subject); err != nil {
		if !errors.Is(err, storage.ErrUserNotFound) {
			log.Ctx(r.Context()).ErrorContext(r.Context(), "user lookup failed", slog.Any("error", err))
			writeJSONError(w, "user lookup failed", http.StatusInternalServerError)
			return
		}
		err = s.storage.CreateUser(r.Context(), types.User{
			ID:        subject,
			Email:     email,
			CreatedAt: s.now().UTC(),
		})
		if err != nil {
			log.Ctx(r.Context()).ErrorContext(r.Context(), "failed to create user", slog.Any("error", err))
			writeJSONError(w, "failed to create user", http.StatusInternalServerError)
			return
		}
		log.Ctx(r.Context()).InfoContext(r.Context(), "registered new user", slog.String("userID", subject), slog.String("email", email))
	}

	log.Ctx(r.Context()).InfoContext(r.Context(), "login token validated successfully", slog.String("email", email), slog.String("subject", subject))

	// Set the cookie
	http.SetCookie(w, &http.Cookie{
		Name:     authTokenCookie,
		Value:    req.Token,
		Expires:  expires,
		HttpOnly: true,
		Secure:   true,
		Path:     "/",
		SameSite: http.SameSiteStrictMode,
	})

	w.WriteHeader(http.StatusOK)
}

func (s *Server) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     authTokenCookie,
		Value:    "",
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   true,
		Path:     "/",
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.clearCookie(w)
	w.WriteHeader(http.StatusOK)
}

type authStatusResponse struct {
	LoggedIn     bool              `json:"loggedIn"`
	Email        string            `json:"email"`
	AuthRequired bool              `json:"authRequired"`
	ClientIDs    map[string]string `json:"clientIDs"`
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	var loggedIn bool
	user := s.getUser(r)
	if user.ID != "" {
		loggedIn = true
	} else if userToRegister, ok := r.Context().Value(userToRegisterContextKey).(types.User); ok {
		user = userToRegister
		loggedIn = true
	}

	writeJSON(w, authStatusResponse{
		LoggedIn:     loggedIn,
		Email:        user.Email,
		AuthRequired: len(s.oidcAudiences) > 0,
		ClientIDs:    s.oidcAudiences,
	})
}

func (s *Server) authenticateToken(ctx context.Context, token string, specificClient string) (string, string, time.Time, error) {
	var errs []error

	for providerName, verifier := range s.oidcVerifiers {
		if specificClient != "" && providerName != specificClient {
			continue
		}
		idToken, err := verifier(ctx, token)
		if err == nil {
			var claims struct {
				Email string `json:"email"`
			}
			err = idToken.Claims(&claims)
			if err == nil {
				return claims.Email, idToken.Subject, idToken.Expiry, nil
			}
		}
		errs = append(errs, fmt.Errorf("%s verifier failed: %v", providerName, err))
	}

	if len(errs) > 1 {
		return "", "", time.Time{}, errors.Join(errs...)
	}
	if len(errs) == 1 {
		return "", "", time.Time{}, errs[0]
	}
	return "", "", time.Time{}, errors.New("no valid audiences configured or token invalid")
}
