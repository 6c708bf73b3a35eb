package charger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/jwpriem/ev-easee/pkg/common"
	"github.com/jwpriem/ev-easee/pkg/log"
	"github.com/jwpriem/ev-easee/pkg/types"
)

const (
	easeeLoginPath   = "api/accounts/login"
	easeeRefreshPath = "api/accounts/refresh_token"
)

// Easee implements the Client interface against the Easee cloud API. Tokens
// are refreshed transparently on 401 and the refreshed flag is raised so the
// caller knows to re-persist them.
type Easee struct {
	client  *http.Client
	baseURL string

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	refreshed    bool
}

func newEasee(baseURL string) *Easee {
	return &Easee{
		client:  common.HTTPClient(30 * time.Second),
		baseURL: baseURL,
	}
}

type easeeTokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"`
}

// Login authenticates with the Easee account credentials.
func (e *Easee) Login(ctx context.Context, username, password string) (types.ChargerCredentials, error) {
	if username == "" {
		return types.ChargerCredentials{}, errors.New("missing username")
	}
	if password == "" {
		return types.ChargerCredentials{}, errors.New("missing password")
	}

	var res easeeTokens
	err := e.doRequest(ctx, "POST", easeeLoginPath, map[string]string{
		"userName": username,
		"password": password,
	}, &res)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "easee login failed", slog.Any("error", err))
		return types.ChargerCredentials{}, fmt.Errorf("login failed: %w", err)
	}
	log.Ctx(ctx).DebugContext(ctx, "easee login success", slog.String("username", username))

	e.mu.Lock()
	e.accessToken = res.AccessToken
	e.refreshToken = res.RefreshToken
	e.refreshed = false
	e.mu.Unlock()

	return types.ChargerCredentials{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
	}, nil
}

// SetCredentials installs previously persisted tokens.
func (e *Easee) SetCredentials(creds types.ChargerCredentials) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.accessToken = creds.AccessToken
	e.refreshToken = creds.RefreshToken
	e.refreshed = false
}

// Credentials returns the current tokens and whether they were refreshed
// since the last SetCredentials.
func (e *Easee) Credentials() (types.ChargerCredentials, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return types.ChargerCredentials{
		AccessToken:  e.accessToken,
		RefreshToken: e.refreshToken,
	}, e.refreshed
}

// refresh exchanges the current token pair for a fresh one. Callers must
// hold e.mu.
func (e *Easee) refresh(ctx context.Context) error {
	if e.refreshToken == "" {
		return errors.New("no refresh token available")
	}

	body, err := json.Marshal(map[string]string{
		"accessToken":  e.accessToken,
		"refreshToken": e.refreshToken,
	})
	if err != nil {
		return err
	}

	req, err := e.newRequest(ctx, "POST", easeeRefreshPath, bytes.NewReader(body))
	if err != nil {
		return err
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token refresh failed: status %d", resp.StatusCode)
	}

	var res easeeTokens
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return fmt.Errorf("failed to decode refresh response: %w", err)
	}

	log.Ctx(ctx).DebugContext(ctx, "refreshed easee tokens")
	e.accessToken = res.AccessToken
	e.refreshToken = res.RefreshToken
	e.refreshed = true
	return nil
}

func (e *Easee) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	u, err := url.Parse(e.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path, err = url.JoinPath(u.Path, endpoint)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// doRequest performs an authenticated request against the Easee API. The
// request is rebuilt per attempt since a 401 triggers a token refresh and
// one retry. Login and refresh requests are never retried.
func (e *Easee) doRequest(ctx context.Context, method, endpoint string, payload, dest interface{}) error {
	isLogin := endpoint == easeeLoginPath

	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return err
		}
	}

	// we try up to 2 times because we might have an expired token
	for i := 0; i < 2; i++ {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := e.newRequest(ctx, method, endpoint, reader)
		if err != nil {
			return err
		}

		if !isLogin {
			e.mu.Lock()
			token := e.accessToken
			e.mu.Unlock()
			if token == "" {
				return errors.New("missing charger credentials")
			}
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := e.client.Do(req)
		if err != nil {
			return err
		}

		if resp.StatusCode == http.StatusUnauthorized && !isLogin && i == 0 {
			resp.Body.Close()
			log.Ctx(ctx).DebugContext(ctx, "easee token expired")
			e.mu.Lock()
			err := e.refresh(ctx)
			e.mu.Unlock()
			if err != nil {
				return fmt.Errorf("authentication expired: %w", err)
			}
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return err
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			var apiErr struct {
				Title   string `json:"title"`
				Message string `json:"message"`
			}
			if json.Unmarshal(respBody, &apiErr) == nil {
				if apiErr.Title != "" {
					return fmt.Errorf("easee api error: %s", apiErr.Title)
				}
				if apiErr.Message != "" {
					return fmt.Errorf("easee api error: %s", apiErr.Message)
				}
			}
			return fmt.Errorf("status %d", resp.StatusCode)
		}

		if dest != nil {
			if err := json.Unmarshal(respBody, dest); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to decode easee response", slog.Any("error", err), slog.String("body", string(respBody)))
				return fmt.Errorf("failed to decode easee response: %w", err)
			}
		}
		return nil
	}
	return nil
}

type easeeCharger struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Chargers lists the chargers on the authenticated account.
func (e *Easee) Chargers(ctx context.Context) ([]types.VendorCharger, error) {
	var res []easeeCharger
	if err := e.doRequest(ctx, "GET", "api/chargers", nil, &res); err != nil {
		return nil, fmt.Errorf("failed to list chargers: %w", err)
	}

	chargers := make([]types.VendorCharger, 0, len(res))
	for _, c := range res {
		chargers = append(chargers, types.VendorCharger{ID: c.ID, Name: c.Name})
	}
	return chargers, nil
}

type easeeChargerState struct {
	ChargerOpMode int     `json:"chargerOpMode"`
	TotalPower    float64 `json:"totalPower"`
	SessionEnergy float64 `json:"sessionEnergy"`
	OutputCurrent float64 `json:"outputCurrent"`
	Voltage       float64 `json:"voltage"`
	IsOnline      bool    `json:"isOnline"`
	LatestPulse   string  `json:"latestPulse"`
}

// State returns the live state of the charger.
func (e *Easee) State(ctx context.Context, chargerID string) (types.ChargerState, error) {
	var res easeeChargerState
	err := e.doRequest(ctx, "GET", "api/chargers/"+url.PathEscape(chargerID)+"/state", nil, &res)
	if err != nil {
		return types.ChargerState{}, fmt.Errorf("failed to get charger state: %w", err)
	}

	state := types.ChargerState{
		OperatingMode: types.OperatingMode(res.ChargerOpMode),
		IsOnline:      res.IsOnline,
		TotalPowerKW:  res.TotalPower,
		SessionEnergy: res.SessionEnergy,
		OutputCurrent: res.OutputCurrent,
		Voltage:       res.Voltage,
	}
	if res.LatestPulse != "" {
		if t, err := time.Parse(time.RFC3339, res.LatestPulse); err == nil {
			state.LatestPulse = t
		}
	}

	log.Ctx(ctx).DebugContext(ctx, "easee charger state",
		slog.String("chargerID", chargerID),
		slog.String("mode", state.OperatingMode.String()),
		slog.Bool("online", state.IsOnline),
		slog.Float64("powerKW", state.TotalPowerKW),
	)
	return state, nil
}

func (e *Easee) command(ctx context.Context, chargerID, command string) error {
	endpoint := "api/chargers/" + url.PathEscape(chargerID) + "/commands/" + command
	if err := e.doRequest(ctx, "POST", endpoint, nil, nil); err != nil {
		return fmt.Errorf("%s failed: %w", command, err)
	}
	log.Ctx(ctx).InfoContext(ctx, "sent easee command",
		slog.String("chargerID", chargerID),
		slog.String("command", command),
	)
	return nil
}

// Start begins a new charging session.
func (e *Easee) Start(ctx context.Context, chargerID string) error {
	return e.command(ctx, chargerID, "start_charging")
}

// Pause pauses the active charging session.
func (e *Easee) Pause(ctx context.Context, chargerID string) error {
	return e.command(ctx, chargerID, "pause_charging")
}

// Resume resumes a paused charging session.
func (e *Easee) Resume(ctx context.Context, chargerID string) error {
	return e.command(ctx, chargerID, "resume_charging")
}

// Stop ends the active charging session.
func (e *Easee) Stop(ctx context.Context, chargerID string) error {
	return e.command(ctx, chargerID, "stop_charging")
}
