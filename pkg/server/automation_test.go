package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jwpriem/ev-easee/pkg/automation"
	"github.com/jwpriem/ev-easee/pkg/storage"
	"github.com/jwpriem/ev-easee/pkg/storage/storagemock"
	"github.com/jwpriem/ev-easee/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeDOServer pretends to be both the DigitalOcean API and the namespace's
// OpenWhisk host, recording what got deployed.
func fakeDOServer(t *testing.T) (*httptest.Server, *map[string]int) {
	calls := map[string]int{}
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		calls[key]++
		switch {
		case r.Method == "POST" && r.URL.Path == "/functions/namespaces":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"namespace": map[string]interface{}{
					"namespace": "fn-123",
					"api_host":  server.URL,
					"key":       "user:pass",
					"uuid":      "uuid-123",
				},
			})
		case r.Method == "PUT" && strings.HasPrefix(r.URL.Path, "/api/v1/namespaces/_/actions/"):
			w.WriteHeader(http.StatusOK)
		case r.Method == "POST" && strings.HasSuffix(r.URL.Path, "/triggers"):
			json.NewEncoder(w).Encode(map[string]interface{}{
				"trigger": map[string]interface{}{"name": "every-15-min", "is_enabled": true},
			})
		case r.Method == "PUT" && strings.Contains(r.URL.Path, "/triggers/"):
			json.NewEncoder(w).Encode(map[string]interface{}{
				"trigger": map[string]interface{}{"name": "every-15-min", "is_enabled": true},
			})
		case r.Method == "DELETE":
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	return server, &calls
}

func TestAutomationSetup(t *testing.T) {
	doServer, calls := fakeDOServer(t)
	defer doServer.Close()

	db := &storagemock.MockDatabase{}
	srv := newTestServer(db, nil, nil)
	srv.automation = automation.NewClient(doServer.URL, "ams3")

	db.On("GetAutomation", mock.Anything, "u1").Return(types.AutomationSettings{}, storage.ErrNoAutomation)
	db.On("SetAutomation", mock.Anything, "u1", mock.MatchedBy(func(s types.AutomationSettings) bool {
		return s.NamespaceID == "fn-123" && s.Active && s.CronKeyHash != "" && len(s.EncryptedDOKey) > 0
	})).Return(nil)
	db.On("SetCronKey", mock.Anything, "u1", mock.AnythingOfType("string")).Return(nil)

	body := strings.NewReader(`{"token":"do-token"}`)
	req := withUser(httptest.NewRequest("POST", "/api/automation/setup", body), testUser)
	w := httptest.NewRecorder()
	srv.handleAutomationSetup(w, req)

	require.Equal(t, http.StatusOK, w.Result().StatusCode, w.Body.String())

	var res struct {
		CronKey  string `json:"cronKey"`
		Settings struct {
			Configured bool `json:"configured"`
			Active     bool `json:"active"`
		} `json:"settings"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.NotEmpty(t, res.CronKey)
	assert.True(t, res.Settings.Active)

	assert.Equal(t, 1, (*calls)["POST /functions/namespaces"])
	assert.Equal(t, 1, (*calls)["PUT /api/v1/namespaces/_/actions/ev-easee/apply-schema"])
	assert.Equal(t, 1, (*calls)["POST /functions/namespaces/fn-123/triggers"])
	db.AssertExpectations(t)
}

func TestAutomationSetupAlreadyConfigured(t *testing.T) {
	db := &storagemock.MockDatabase{}
	srv := newTestServer(db, nil, nil)

	db.On("GetAutomation", mock.Anything, "u1").Return(types.AutomationSettings{NamespaceID: "fn-123"}, nil)

	body := strings.NewReader(`{"token":"do-token"}`)
	req := withUser(httptest.NewRequest("POST", "/api/automation/setup", body), testUser)
	w := httptest.NewRecorder()
	srv.handleAutomationSetup(w, req)

	assert.Equal(t, http.StatusConflict, w.Result().StatusCode)
}

func TestAutomationResume(t *testing.T) {
	doServer, calls := fakeDOServer(t)
	defer doServer.Close()

	db := &storagemock.MockDatabase{}
	srv := newTestServer(db, nil, nil)
	srv.automation = automation.NewClient(doServer.URL, "ams3")

	db.On("GetAutomation", mock.Anything, "u1").Return(types.AutomationSettings{
		NamespaceID:    "fn-123",
		APIHost:        doServer.URL,
		EncryptedDOKey: encryptedTestToken(srv, "do-token"),
		Active:         false,
	}, nil)
	db.On("SetAutomation", mock.Anything, "u1", mock.MatchedBy(func(s types.AutomationSettings) bool {
		return s.Active
	})).Return(nil)

	req := withUser(httptest.NewRequest("POST", "/api/automation/resume", nil), testUser)
	w := httptest.NewRecorder()
	srv.handleAutomationResume(w, req)

	assert.Equal(t, http.StatusOK, w.Result().StatusCode)
	assert.Equal(t, 1, (*calls)["PUT /functions/namespaces/fn-123/triggers/every-15-min"])
	db.AssertExpectations(t)
}

func TestAutomationStatus(t *testing.T) {
	t.Run("Not Configured", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetAutomation", mock.Anything, "u1").Return(types.AutomationSettings{}, storage.ErrNoAutomation)
		srv := newTestServer(db, nil, nil)

		req := withUser(httptest.NewRequest("GET", "/api/automation/status", nil), testUser)
		w := httptest.NewRecorder()
		srv.handleAutomationStatus(w, req)

		assert.Equal(t, http.StatusOK, w.Result().StatusCode)
		assert.Contains(t, w.Body.String(), `"configured":false`)
	})

	t.Run("Configured", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetAutomation", mock.Anything, "u1").Return(types.AutomationSettings{
			NamespaceID: "fn-123", Active: true, CronKeyHash: "secret-hash",
		}, nil)
		srv := newTestServer(db, nil, nil)

		req := withUser(httptest.NewRequest("GET", "/api/automation/status", nil), testUser)
		w := httptest.NewRecorder()
		srv.handleAutomationStatus(w, req)

		assert.Equal(t, http.StatusOK, w.Result().StatusCode)
		assert.Contains(t, w.Body.String(), `"active":true`)
		// the key hash never leaves the server
		assert.NotContains(t, w.Body.String(), "secret-hash")
	})
}

func TestAutomationDelete(t *testing.T) {
	doServer, calls := fakeDOServer(t)
	defer doServer.Close()

	db := &storagemock.MockDatabase{}
	srv := newTestServer(db, nil, nil)
	srv.automation = automation.NewClient(doServer.URL, "ams3")

	db.On("GetAutomation", mock.Anything, "u1").Return(types.AutomationSettings{
		NamespaceID:    "fn-123",
		EncryptedDOKey: encryptedTestToken(srv, "do-token"),
		CronKeyHash:    "hash",
	}, nil)
	db.On("DeleteCronKey", mock.Anything, "hash").Return(nil)
	db.On("DeleteAutomation", mock.Anything, "u1").Return(nil)

	req := withUser(httptest.NewRequest("DELETE", "/api/automation", nil), testUser)
	w := httptest.NewRecorder()
	srv.handleAutomationDelete(w, req)

	assert.Equal(t, http.StatusOK, w.Result().StatusCode)
	assert.Equal(t, 1, (*calls)["DELETE /functions/namespaces/fn-123"])
	db.AssertExpectations(t)
}
