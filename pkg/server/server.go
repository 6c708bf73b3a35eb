package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jwpriem/ev-easee/pkg/automation"
	"github.com/jwpriem/ev-easee/pkg/charger"
	"github.com/jwpriem/ev-easee/pkg/log"
	"github.com/jwpriem/ev-easee/pkg/prices"
	"github.com/jwpriem/ev-easee/pkg/storage"
	"github.com/jwpriem/ev-easee/pkg/types"
	"github.com/levenlabs/go-lflag"
)

const authTokenCookie = "auth_token"

type contextKey string

const (
	userContextKey           contextKey = "user"
	userToRegisterContextKey contextKey = "userToRegister"
)

// tokenVerifier is a function that validates a Google or Apple ID Token.
type tokenVerifier func(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)

// Server handles the HTTP API and control logic for the ev-easee system.
// It orchestrates interactions between the price provider, the charger and
// vehicle vendor clouds, and storage.
type Server struct {
	prices     *prices.Map
	chargers   *charger.Map
	storage    storage.Database
	priceCache *prices.Cache
	automation *automation.DigitalOcean

	listenAddr string
	httpServer *http.Server

	// now is replaceable in tests so apply-cycles and schedules resolve
	// against a fixed clock.
	now func() time.Time

	appURL        string
	oidcAudiences map[string]string
	oidcVerifiers map[string]tokenVerifier
	bypassAuth    bool
	encryptionKey string
	release       string
	serverName    string
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(p *prices.Map, c *charger.Map, do *automation.DigitalOcean, s storage.Database) *Server {
	srv := &Server{
		prices:     p,
		chargers:   c,
		storage:    s,
		automation: do,
		priceCache: prices.NewCache(),
		now:        time.Now,
		serverName: "ev-easee",
	}
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	appURL := lflag.String("app-url", "", "public base URL of this deployment (used for OAuth redirects and the cron function)")
	oidcAudiences := map[string]string{}
	lflag.JSON(&oidcAudiences, "oidc-audiences", oidcAudiences, "JSON map of provider (google/apple) to audience/client ID")
	encryptionKey := lflag.RequiredString("credentials-encryption-key", "Key for encrypting credentials")
	release := lflag.String("release", "production", "Release environment (production or staging)")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		srv.appURL = *appURL
		if len(oidcAudiences) > 0 {
			srv.oidcAudiences = make(map[string]string, len(oidcAudiences))
			srv.oidcVerifiers = make(map[string]tokenVerifier, len(oidcAudiences))
			for n, a := range oidcAudiences {
				var issuer string
				switch n {
				case "google":
					issuer = "https://accounts.google.com"
				case "apple":
					issuer = "https://appleid.apple.com"
				default:
					log.Ctx(context.Background()).Error("unsupported oidc audience client", slog.String("client", n))
					os.Exit(1)
				}
				provider, err := oidc.NewProvider(context.Background(), issuer)
				if err != nil {
					log.Ctx(context.Background()).Error("failed to initialize OIDC provider", slog.String("client", n), slog.Any("error", err))
					os.Exit(1)
				}
				srv.oidcVerifiers[n] = provider.Verifier(&oidc.Config{ClientID: a}).Verify
				srv.oidcAudiences[n] = a
			}
		}
		srv.release = *release

		if len(*encryptionKey) != 32 {
			log.Ctx(context.Background()).Error("credentials-encryption-key must be 32 characters")
			os.Exit(1)
		}
		srv.encryptionKey = *encryptionKey

		if len(srv.oidcAudiences) == 0 && srv.release != "production" {
			srv.bypassAuth = true
		}
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /api/auth/login", s.handleLogin)
	apiMux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	apiMux.HandleFunc("GET /api/auth/status", s.handleAuthStatus)

	apiMux.HandleFunc("GET /api/policies", s.handleListPolicies)
	apiMux.HandleFunc("POST /api/policies", s.handleCreatePolicy)
	apiMux.HandleFunc("PATCH /api/policies/{id}", s.handleUpdatePolicy)
	apiMux.HandleFunc("DELETE /api/policies/{id}", s.handleDeletePolicy)
	apiMux.HandleFunc("POST /api/policies/apply", s.handleApply)
	apiMux.HandleFunc("GET /api/policies/schedule", s.handleSchedule)
	apiMux.HandleFunc("POST /api/cron/apply", s.handleCronApply)

	apiMux.HandleFunc("GET /api/prices", s.handlePrices)

	apiMux.HandleFunc("GET /api/chargers", s.handleListChargers)
	apiMux.HandleFunc("POST /api/chargers/connect", s.handleConnectCharger)
	apiMux.HandleFunc("GET /api/chargers/{id}/status", s.handleChargerStatus)
	apiMux.HandleFunc("DELETE /api/chargers/{id}", s.handleDeleteCharger)

	apiMux.HandleFunc("GET /api/vehicles", s.handleListVehicles)
	apiMux.HandleFunc("POST /api/vehicles/connect", s.handleConnectVehicle)
	apiMux.HandleFunc("GET /api/vehicles/{id}/status", s.handleVehicleStatus)
	apiMux.HandleFunc("DELETE /api/vehicles/{id}", s.handleDeleteVehicle)

	apiMux.HandleFunc("GET /api/tibber/authorize", s.handleTibberAuthorize)
	apiMux.HandleFunc("GET /api/tibber/callback", s.handleTibberCallback)
	apiMux.HandleFunc("GET /api/tibber/status", s.handleTibberStatus)
	apiMux.HandleFunc("POST /api/tibber/disconnect", s.handleTibberDisconnect)

	apiMux.HandleFunc("POST /api/automation/setup", s.handleAutomationSetup)
	apiMux.HandleFunc("POST /api/automation/resume", s.handleAutomationResume)
	apiMux.HandleFunc("GET /api/automation/status", s.handleAutomationStatus)
	apiMux.HandleFunc("DELETE /api/automation", s.handleAutomationDelete)

	mux := http.NewServeMux()
	mux.Handle("/api/", s.authMiddleware(apiMux))
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.revisionMiddleware(gziphandler.GzipHandler(s.securityHeadersMiddleware(mux)))
}

func (s *Server) getUser(r *http.Request) types.User {
	if user, ok := r.Context().Value(userContextKey).(types.User); ok {
		return user
	}
	return types.User{}
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// Context canceled, shut down gracefully
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}
