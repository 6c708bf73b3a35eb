package prices

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/jwpriem/ev-easee/pkg/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTibber(apiURL, authURL, tokenURL string) *Tibber {
	return &Tibber{
		apiURL:   apiURL,
		authURL:  authURL,
		tokenURL: tokenURL,
		clientID: "client123",
		scopes:   "price",
		client:   common.HTTPClient(5 * time.Second),
	}
}

func TestTibberFetchPrices(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "Bearer token123", r.Header.Get("Authorization"))
			require.Equal(t, "application/json", r.Header.Get("Content-Type"))

			var body struct {
				Query string `json:"query"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Contains(t, body.Query, "priceInfo")

			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"data":{"viewer":{"homes":[{"currentSubscription":{"priceInfo":{
				"today":[{"total":0.25,"energy":0.20,"tax":0.05,"startsAt":"2025-03-10T00:00:00Z","level":"NORMAL"}],
				"tomorrow":[{"total":0.30,"energy":0.24,"tax":0.06,"startsAt":"2025-03-11T00:00:00Z","level":"EXPENSIVE"}]
			}}}]}}}`))
		}))
		defer srv.Close()

		tib := testTibber(srv.URL, "", "")
		info, err := tib.FetchPrices(ctx, "token123")
		require.NoError(t, err)
		require.Len(t, info.Today, 1)
		require.Len(t, info.Tomorrow, 1)
		assert.Equal(t, 0.25, info.Today[0].Total)
		assert.True(t, info.HasTomorrow())
	})

	t.Run("Tomorrow Not Published", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"data":{"viewer":{"homes":[{"currentSubscription":{"priceInfo":{
				"today":[{"total":0.25,"energy":0.20,"tax":0.05,"startsAt":"2025-03-10T00:00:00Z","level":"NORMAL"}],
				"tomorrow":[]
			}}}]}}}`))
		}))
		defer srv.Close()

		tib := testTibber(srv.URL, "", "")
		info, err := tib.FetchPrices(ctx, "token123")
		require.NoError(t, err)
		assert.False(t, info.HasTomorrow())
	})

	t.Run("GraphQL Error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"errors":[{"message":"invalid token"}]}`))
		}))
		defer srv.Close()

		tib := testTibber(srv.URL, "", "")
		_, err := tib.FetchPrices(ctx, "bad")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid token")
	})

	t.Run("No Homes", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"data":{"viewer":{"homes":[]}}}`))
		}))
		defer srv.Close()

		tib := testTibber(srv.URL, "", "")
		_, err := tib.FetchPrices(ctx, "token123")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no homes")
	})

	t.Run("No Subscription", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"data":{"viewer":{"homes":[{"currentSubscription":null}]}}}`))
		}))
		defer srv.Close()

		tib := testTibber(srv.URL, "", "")
		_, err := tib.FetchPrices(ctx, "token123")
		require.Error(t, err)
	})

	t.Run("HTTP Error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		tib := testTibber(srv.URL, "", "")
		_, err := tib.FetchPrices(ctx, "token123")
		require.Error(t, err)
	})
}

func TestTibberOAuth(t *testing.T) {
	ctx := context.Background()

	t.Run("Authorization URL", func(t *testing.T) {
		st, err := NewOAuthState()
		require.NoError(t, err)
		require.NotEmpty(t, st.State)
		require.NotEmpty(t, st.CodeVerifier)
		require.NotEmpty(t, st.CodeChallenge)
		assert.NotEqual(t, st.CodeVerifier, st.CodeChallenge)

		tib := testTibber("", "https://auth.example.com/oauth/authorize", "")
		raw := tib.AuthorizationURL("https://app.example.com/callback", st)
		u, err := url.Parse(raw)
		require.NoError(t, err)
		q := u.Query()
		assert.Equal(t, "code", q.Get("response_type"))
		assert.Equal(t, "client123", q.Get("client_id"))
		assert.Equal(t, st.State, q.Get("state"))
		assert.Equal(t, st.CodeChallenge, q.Get("code_challenge"))
		assert.Equal(t, "S256", q.Get("code_challenge_method"))
	})

	t.Run("Exchange Code", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
			assert.Equal(t, "code123", r.PostForm.Get("code"))
			assert.Equal(t, "verifier123", r.PostForm.Get("code_verifier"))

			w.Write([]byte(`{"access_token":"at","refresh_token":"rt","expires_in":3600,"token_type":"bearer"}`))
		}))
		defer srv.Close()

		tib := testTibber("", "", srv.URL)
		tr, err := tib.ExchangeCode(ctx, "code123", "https://app.example.com/callback", "verifier123")
		require.NoError(t, err)
		assert.Equal(t, "at", tr.AccessToken)
		assert.Equal(t, "rt", tr.RefreshToken)
	})

	t.Run("Exchange Missing Token", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{}`))
		}))
		defer srv.Close()

		tib := testTibber("", "", srv.URL)
		_, err := tib.ExchangeCode(ctx, "code123", "https://app.example.com/callback", "verifier123")
		require.Error(t, err)
	})
}
