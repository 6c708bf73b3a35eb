package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jwpriem/ev-easee/pkg/charger"
	"github.com/jwpriem/ev-easee/pkg/storage"
	"github.com/jwpriem/ev-easee/pkg/storage/storagemock"
	"github.com/jwpriem/ev-easee/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestConnectCharger(t *testing.T) {
	t.Run("Connect Stores Chargers With Encrypted Tokens", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		client := &mockChargerClient{}
		clients := charger.NewMap()
		clients.SetCharger("login:u1", client)
		srv := newTestServer(db, nil, clients)

		client.On("Login", mock.Anything, "user@example.com", "hunter2").Return(types.ChargerCredentials{
			AccessToken: "access", RefreshToken: "refresh",
		}, nil)
		client.On("Chargers", mock.Anything).Return([]types.VendorCharger{
			{ID: "EH000001", Name: "Garage"},
		}, nil)

		db.On("GetCharger", mock.Anything, "u1", "EH000001").Return(types.Charger{}, storage.ErrChargerNotFound)
		db.On("SetCharger", mock.Anything, "u1", mock.MatchedBy(func(ch types.Charger) bool {
			return ch.ID == "EH000001" &&
				ch.Brand == types.ChargerBrandEasee &&
				ch.Name == "Garage" &&
				len(ch.EncryptedAccessToken) > 0 &&
				len(ch.EncryptedRefreshToken) > 0
		})).Return(nil)

		body := strings.NewReader(`{"username":"user@example.com","password":"hunter2"}`)
		req := withUser(httptest.NewRequest("POST", "/api/chargers/connect", body), testUser)
		w := httptest.NewRecorder()
		srv.handleConnectCharger(w, req)

		assert.Equal(t, http.StatusOK, w.Result().StatusCode)
		// the password and tokens never appear in the response
		assert.NotContains(t, w.Body.String(), "hunter2")
		assert.NotContains(t, w.Body.String(), "access")
		db.AssertExpectations(t)
	})

	t.Run("Bad Vendor Login", func(t *testing.T) {
		client := &mockChargerClient{}
		clients := charger.NewMap()
		clients.SetCharger("login:u1", client)
		srv := newTestServer(&storagemock.MockDatabase{}, nil, clients)

		client.On("Login", mock.Anything, "user@example.com", "wrong").Return(types.ChargerCredentials{}, errors.New("invalid credentials"))

		body := strings.NewReader(`{"username":"user@example.com","password":"wrong"}`)
		req := withUser(httptest.NewRequest("POST", "/api/chargers/connect", body), testUser)
		w := httptest.NewRecorder()
		srv.handleConnectCharger(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Result().StatusCode)
	})

	t.Run("Missing Fields", func(t *testing.T) {
		srv := newTestServer(&storagemock.MockDatabase{}, nil, nil)
		body := strings.NewReader(`{"username":"user@example.com"}`)
		req := withUser(httptest.NewRequest("POST", "/api/chargers/connect", body), testUser)
		w := httptest.NewRecorder()
		srv.handleConnectCharger(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode)
	})
}

func TestChargerStatus(t *testing.T) {
	t.Run("Returns Live State", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		client := &mockChargerClient{}
		clients := charger.NewMap()
		clients.SetCharger("c1", client)
		srv := newTestServer(db, nil, clients)

		db.On("GetCharger", mock.Anything, "u1", "c1").Return(types.Charger{
			ID: "c1", Brand: types.ChargerBrandEasee, Name: "Garage", VendorChargerID: "EH000001",
			EncryptedAccessToken: encryptedTestToken(srv, "easee-access"),
		}, nil)

		client.On("SetCredentials", types.ChargerCredentials{AccessToken: "easee-access"}).Return()
		client.On("State", mock.Anything, "EH000001").Return(types.ChargerState{
			OperatingMode: types.OperatingModeCharging,
			IsOnline:      true,
			TotalPowerKW:  7.4,
		}, nil)
		client.On("Credentials").Return(types.ChargerCredentials{}, false)

		req := withUser(httptest.NewRequest("GET", "/api/chargers/c1/status", nil), testUser)
		req.SetPathValue("id", "c1")
		w := httptest.NewRecorder()
		srv.handleChargerStatus(w, req)

		require.Equal(t, http.StatusOK, w.Result().StatusCode)
		assert.Contains(t, w.Body.String(), `"totalPowerKW":7.4`)
		assert.Contains(t, w.Body.String(), `"isOnline":true`)
		client.AssertExpectations(t)
	})

	t.Run("Unknown Charger", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetCharger", mock.Anything, "u1", "nope").Return(types.Charger{}, storage.ErrChargerNotFound)
		srv := newTestServer(db, nil, nil)

		req := withUser(httptest.NewRequest("GET", "/api/chargers/nope/status", nil), testUser)
		req.SetPathValue("id", "nope")
		w := httptest.NewRecorder()
		srv.handleChargerStatus(w, req)
		assert.Equal(t, http.StatusNotFound, w.Result().StatusCode)
	})
}

func TestDeleteCharger(t *testing.T) {
	db := &storagemock.MockDatabase{}
	client := &mockChargerClient{}
	clients := charger.NewMap()
	clients.SetCharger("c1", client)
	srv := newTestServer(db, nil, clients)

	db.On("DeleteCharger", mock.Anything, "u1", "c1").Return(nil)

	req := withUser(httptest.NewRequest("DELETE", "/api/chargers/c1", nil), testUser)
	req.SetPathValue("id", "c1")
	w := httptest.NewRecorder()
	srv.handleDeleteCharger(w, req)

	assert.Equal(t, http.StatusOK, w.Result().StatusCode)
	db.AssertExpectations(t)
}

func TestListChargers(t *testing.T) {
	db := &storagemock.MockDatabase{}
	db.On("ListChargers", mock.Anything, "u1").Return([]types.Charger{
		{ID: "c1", Name: "Garage", EncryptedAccessToken: []byte("sealed")},
	}, nil)
	srv := newTestServer(db, nil, nil)

	req := withUser(httptest.NewRequest("GET", "/api/chargers", nil), testUser)
	w := httptest.NewRecorder()
	srv.handleListChargers(w, req)

	assert.Equal(t, http.StatusOK, w.Result().StatusCode)
	assert.Contains(t, w.Body.String(), `"Garage"`)
	// encrypted tokens are never serialized
	assert.NotContains(t, w.Body.String(), "sealed")
}
