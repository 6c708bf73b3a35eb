package server

import (
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

func TestConnectVehicle(t *testing.T) {
	db := &storagemock.MockDatabase{}
	client := &mockVehicleClient{}
	clients := charger.NewMap()
	clients.SetVehicle("login:u1", client)
	srv := newTestServer(db, nil, clients)

	client.On("Login", mock.Anything, "user@example.com", "hunter2").Return("session-token", nil)
	client.On("Vehicles", mock.Anything).Return([]types.Vehicle{
		{VIN: "L6T0000000TEST001", Model: "Zeekr X"},
	}, nil)

	db.On("GetVehicle", mock.Anything, "u1", "L6T0000000TEST001").Return(types.Vehicle{}, storage.ErrVehicleNotFound)
	db.On("SetVehicle", mock.Anything, "u1", mock.MatchedBy(func(v types.Vehicle) bool {
		return v.ID == "L6T0000000TEST001" &&
			v.Brand == types.VehicleBrandZeekr &&
			len(v.EncryptedToken) > 0
	})).Return(nil)

	body := strings.NewReader(`{"email":"user@example.com","password":"hunter2"}`)
	req := withUser(httptest.NewRequest("POST", "/api/vehicles/connect", body), testUser)
	w := httptest.NewRecorder()
	srv.handleConnectVehicle(w, req)

	assert.Equal(t, http.StatusOK, w.Result().StatusCode)
	assert.Contains(t, w.Body.String(), "Zeekr X")
	assert.NotContains(t, w.Body.String(), "session-token")
	db.AssertExpectations(t)
}

func TestVehicleStatus(t *testing.T) {
	t.Run("Returns Live Status", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		client := &mockVehicleClient{}
		clients := charger.NewMap()
		clients.SetVehicle("v1", client)
		srv := newTestServer(db, nil, clients)

		db.On("GetVehicle", mock.Anything, "u1", "v1").Return(types.Vehicle{
			ID: "v1", Brand: types.VehicleBrandZeekr, VIN: "L6T0000000TEST001",
			EncryptedToken: encryptedTestToken(srv, "session-token"),
		}, nil)

		client.On("SetToken", "session-token").Return()
		client.On("Status", mock.Anything, "L6T0000000TEST001").Return(types.VehicleStatus{
			BatteryLevel: 72,
			RangeKM:      310,
			IsCharging:   true,
			IsPluggedIn:  true,
		}, nil)

		req := withUser(httptest.NewRequest("GET", "/api/vehicles/v1/status", nil), testUser)
		req.SetPathValue("id", "v1")
		w := httptest.NewRecorder()
		srv.handleVehicleStatus(w, req)

		require.Equal(t, http.StatusOK, w.Result().StatusCode)
		assert.Contains(t, w.Body.String(), `"batteryLevel":72`)
		assert.Contains(t, w.Body.String(), `"isCharging":true`)
		client.AssertExpectations(t)
	})

	t.Run("Missing Token", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		clients := charger.NewMap()
		clients.SetVehicle("v1", &mockVehicleClient{})
		srv := newTestServer(db, nil, clients)

		db.On("GetVehicle", mock.Anything, "u1", "v1").Return(types.Vehicle{
			ID: "v1", Brand: types.VehicleBrandZeekr, VIN: "L6T0000000TEST001",
		}, nil)

		req := withUser(httptest.NewRequest("GET", "/api/vehicles/v1/status", nil), testUser)
		req.SetPathValue("id", "v1")
		w := httptest.NewRecorder()
		srv.handleVehicleStatus(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode)
	})
}

func TestDeleteVehicle(t *testing.T) {
	db := &storagemock.MockDatabase{}
	db.On("DeleteVehicle", mock.Anything, "u1", "v1").Return(nil)
	srv := newTestServer(db, nil, nil)

	req := withUser(httptest.NewRequest("DELETE", "/api/vehicles/v1", nil), testUser)
	req.SetPathValue("id", "v1")
	w := httptest.NewRecorder()
	srv.handleDeleteVehicle(w, req)

	assert.Equal(t, http.StatusOK, w.Result().StatusCode)
	db.AssertExpectations(t)
}
