package prices

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/jwpriem/ev-easee/pkg/common"
	"github.com/jwpriem/ev-easee/pkg/log"
	"github.com/jwpriem/ev-easee/pkg/types"
	"github.com/levenlabs/go-lflag"
)

// hourlyQuery fetches today's and tomorrow's hourly price info for the
// user's first home.
const hourlyQuery = `{
  viewer {
    homes {
      currentSubscription {
        priceInfo {
          today { total energy tax startsAt level }
          tomorrow { total energy tax startsAt level }
        }
      }
    }
  }
}`

// Tibber implements the Provider interface against the Tibber GraphQL API.
// It also carries the OAuth endpoints used to obtain per-user tokens.
type Tibber struct {
	apiURL   string
	authURL  string
	tokenURL string
	clientID string
	scopes   string
	client   *http.Client
}

// configuredTibber sets up flags for Tibber and returns the instance.
func configuredTibber() *Tibber {
	t := &Tibber{
		client: common.HTTPClient(15 * time.Second),
	}
	apiURL := lflag.String("tibber-api-url", "https://api.tibber.com/v1-beta/gql", "URL for the Tibber GraphQL API")
	authURL := lflag.String("tibber-auth-url", "https://thermostat.tibber.com/oauth/authorize", "URL for the Tibber OAuth authorize endpoint")
	tokenURL := lflag.String("tibber-token-url", "https://thermostat.tibber.com/oauth/token", "URL for the Tibber OAuth token endpoint")
	clientID := lflag.String("tibber-client-id", "", "OAuth client ID for the Tibber API")
	scopes := lflag.String("tibber-scopes", "price", "OAuth scopes to request from Tibber")

	lflag.Do(func() {
		t.apiURL = *apiURL
		t.authURL = *authURL
		t.tokenURL = *tokenURL
		t.clientID = *clientID
		t.scopes = *scopes
	})

	return t
}

// Validate ensures the configuration is valid.
func (t *Tibber) Validate() error {
	for _, u := range []string{t.apiURL, t.authURL, t.tokenURL} {
		if u == "" {
			return fmt.Errorf("tibber urls are required")
		}
		if _, err := url.Parse(u); err != nil {
			return fmt.Errorf("failed to parse tibber url (%s): %w", u, err)
		}
	}
	return nil
}

type tibberGraphQLResponse struct {
	Data struct {
		Viewer struct {
			Homes []struct {
				CurrentSubscription *struct {
					PriceInfo *struct {
						Today    []types.PricePoint `json:"today"`
						Tomorrow []types.PricePoint `json:"tomorrow"`
					} `json:"priceInfo"`
				} `json:"currentSubscription"`
			} `json:"homes"`
		} `json:"viewer"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// FetchPrices queries Tibber for the user's hourly price info. Tomorrow is
// empty until Tibber publishes day-ahead prices (typically around 13:00
// local).
func (t *Tibber) FetchPrices(ctx context.Context, accessToken string) (types.PriceInfo, error) {
	body, err := json.Marshal(map[string]string{"query": hourlyQuery})
	if err != nil {
		return types.PriceInfo{}, fmt.Errorf("failed to marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", t.apiURL, bytes.NewReader(body))
	if err != nil {
		return types.PriceInfo{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := t.client.Do(req)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to fetch tibber prices", slog.Any("error", err))
		return types.PriceInfo{}, fmt.Errorf("failed to fetch prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.PriceInfo{}, fmt.Errorf("tibber api returned status: %d", resp.StatusCode)
	}

	var res tibberGraphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode tibber response", slog.Any("error", err))
		return types.PriceInfo{}, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(res.Errors) > 0 {
		return types.PriceInfo{}, fmt.Errorf("tibber api error: %s", res.Errors[0].Message)
	}

	homes := res.Data.Viewer.Homes
	if len(homes) == 0 {
		return types.PriceInfo{}, fmt.Errorf("no homes found in tibber account")
	}
	if homes[0].CurrentSubscription == nil || homes[0].CurrentSubscription.PriceInfo == nil {
		return types.PriceInfo{}, fmt.Errorf("no price info available")
	}

	info := types.PriceInfo{
		Today:    homes[0].CurrentSubscription.PriceInfo.Today,
		Tomorrow: homes[0].CurrentSubscription.PriceInfo.Tomorrow,
	}
	log.Ctx(ctx).DebugContext(
		ctx,
		"fetched tibber prices",
		slog.Int("today", len(info.Today)),
		slog.Int("tomorrow", len(info.Tomorrow)),
	)
	return info, nil
}
