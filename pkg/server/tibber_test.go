package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jwpriem/ev-easee/pkg/storage"
	"github.com/jwpriem/ev-easee/pkg/storage/storagemock"
	"github.com/jwpriem/ev-easee/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestTibberStatus(t *testing.T) {
	t.Run("Not Connected", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetTibberConnection", mock.Anything, "u1").Return(types.TibberConnection{}, storage.ErrNotConnected)
		srv := newTestServer(db, nil, nil)

		req := withUser(httptest.NewRequest("GET", "/api/tibber/status", nil), testUser)
		w := httptest.NewRecorder()
		srv.handleTibberStatus(w, req)

		assert.Equal(t, http.StatusOK, w.Result().StatusCode)
		assert.Contains(t, w.Body.String(), `"connected":false`)
	})

	t.Run("Connected", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetTibberConnection", mock.Anything, "u1").Return(types.TibberConnection{
			EncryptedAccessToken: []byte("sealed"),
			ExpiresAt:            testNow.Add(time.Hour),
			UpdatedAt:            testNow,
		}, nil)
		srv := newTestServer(db, nil, nil)

		req := withUser(httptest.NewRequest("GET", "/api/tibber/status", nil), testUser)
		w := httptest.NewRecorder()
		srv.handleTibberStatus(w, req)

		assert.Equal(t, http.StatusOK, w.Result().StatusCode)
		assert.Contains(t, w.Body.String(), `"connected":true`)
		assert.NotContains(t, w.Body.String(), "sealed")
	})
}

func TestTibberDisconnect(t *testing.T) {
	db := &storagemock.MockDatabase{}
	db.On("DeleteTibberConnection", mock.Anything, "u1").Return(nil)
	srv := newTestServer(db, nil, nil)

	// seed the cache so we can see the disconnect drop it
	srv.priceCache.Put("u1", types.PriceInfo{Today: hourlyPrices(testNow, 0.10)})

	req := withUser(httptest.NewRequest("POST", "/api/tibber/disconnect", nil), testUser)
	w := httptest.NewRecorder()
	srv.handleTibberDisconnect(w, req)

	assert.Equal(t, http.StatusOK, w.Result().StatusCode)
	_, ok := srv.priceCache.Get("u1")
	assert.False(t, ok)
	db.AssertExpectations(t)
}

func TestTibberCallbackStateMismatch(t *testing.T) {
	srv := newTestServer(&storagemock.MockDatabase{}, nil, nil)

	req := withUser(httptest.NewRequest("GET", "/api/tibber/callback?state=evil&code=abc", nil), testUser)
	req.AddCookie(oauthCookie(oauthStateCookie, "expected", 600))
	req.AddCookie(oauthCookie(oauthVerifierCookie, "verifier", 600))
	w := httptest.NewRecorder()
	srv.handleTibberCallback(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode)
	assert.Contains(t, w.Body.String(), "state mismatch")
}

func TestTibberCallbackMissingCookies(t *testing.T) {
	srv := newTestServer(&storagemock.MockDatabase{}, nil, nil)

	req := withUser(httptest.NewRequest("GET", "/api/tibber/callback?state=abc&code=abc", nil), testUser)
	w := httptest.NewRecorder()
	srv.handleTibberCallback(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode)
}

func TestTibberAuthorizeRequiresOAuthProvider(t *testing.T) {
	// the mock provider can fetch prices but has no oauth surface
	provider := &mockProvider{}
	srv := newTestServer(&storagemock.MockDatabase{}, provider, nil)

	req := withUser(httptest.NewRequest("GET", "/api/tibber/authorize", nil), testUser)
	w := httptest.NewRecorder()
	srv.handleTibberAuthorize(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Result().StatusCode)
}
