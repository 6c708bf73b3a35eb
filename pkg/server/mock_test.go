package server

import (
	"context"
	"net/http"
	"time"

	"github.com/jwpriem/ev-easee/pkg/charger"
	"github.com/jwpriem/ev-easee/pkg/prices"
	"github.com/jwpriem/ev-easee/pkg/storage/storagemock"
	"github.com/jwpriem/ev-easee/pkg/types"
	"github.com/stretchr/testify/mock"
)

const testEncryptionKey = "0123456789abcdef0123456789abcdef"

// testNow is a stable mid-morning instant so the price cache uses its base
// TTL and the current price resolves into the second hour of the timeline.
var testNow = time.Date(2026, 3, 10, 10, 30, 0, 0, time.UTC)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) FetchPrices(ctx context.Context, accessToken string) (types.PriceInfo, error) {
	args := m.Called(ctx, accessToken)
	if len(args) > 0 {
		return args.Get(0).(types.PriceInfo), args.Error(1)
	}
	return types.PriceInfo{}, nil
}

type mockChargerClient struct {
	mock.Mock
}

func (m *mockChargerClient) Login(ctx context.Context, username, password string) (types.ChargerCredentials, error) {
	args := m.Called(ctx, username, password)
	if len(args) > 0 {
		return args.Get(0).(types.ChargerCredentials), args.Error(1)
	}
	return types.ChargerCredentials{}, nil
}

func (m *mockChargerClient) SetCredentials(creds types.ChargerCredentials) {
	m.Called(creds)
}

func (m *mockChargerClient) Credentials() (types.ChargerCredentials, bool) {
	args := m.Called()
	if len(args) > 0 {
		return args.Get(0).(types.ChargerCredentials), args.Bool(1)
	}
	return types.ChargerCredentials{}, false
}

func (m *mockChargerClient) Chargers(ctx context.Context) ([]types.VendorCharger, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).([]types.VendorCharger), args.Error(1)
	}
	return nil, nil
}

func (m *mockChargerClient) State(ctx context.Context, chargerID string) (types.ChargerState, error) {
	args := m.Called(ctx, chargerID)
	if len(args) > 0 {
		return args.Get(0).(types.ChargerState), args.Error(1)
	}
	return types.ChargerState{}, nil
}

func (m *mockChargerClient) Start(ctx context.Context, chargerID string) error {
	return m.Called(ctx, chargerID).Error(0)
}

func (m *mockChargerClient) Pause(ctx context.Context, chargerID string) error {
	return m.Called(ctx, chargerID).Error(0)
}

func (m *mockChargerClient) Resume(ctx context.Context, chargerID string) error {
	return m.Called(ctx, chargerID).Error(0)
}

func (m *mockChargerClient) Stop(ctx context.Context, chargerID string) error {
	return m.Called(ctx, chargerID).Error(0)
}

type mockVehicleClient struct {
	mock.Mock
}

func (m *mockVehicleClient) Login(ctx context.Context, email, password string) (string, error) {
	args := m.Called(ctx, email, password)
	if len(args) > 0 {
		return args.String(0), args.Error(1)
	}
	return "", nil
}

func (m *mockVehicleClient) SetToken(token string) {
	m.Called(token)
}

func (m *mockVehicleClient) Vehicles(ctx context.Context) ([]types.Vehicle, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).([]types.Vehicle), args.Error(1)
	}
	return nil, nil
}

func (m *mockVehicleClient) Status(ctx context.Context, vin string) (types.VehicleStatus, error) {
	args := m.Called(ctx, vin)
	if len(args) > 0 {
		return args.Get(0).(types.VehicleStatus), args.Error(1)
	}
	return types.VehicleStatus{}, nil
}

// newTestServer builds a Server with mocks and a fixed clock.
func newTestServer(db *storagemock.MockDatabase, provider prices.Provider, clients *charger.Map) *Server {
	pm := prices.NewMap()
	if provider != nil {
		pm.SetProvider("tibber", provider)
	}
	if clients == nil {
		clients = charger.NewMap()
	}
	return &Server{
		prices:        pm,
		chargers:      clients,
		storage:       db,
		priceCache:    prices.NewCacheAt(func() time.Time { return testNow }, time.UTC),
		now:           func() time.Time { return testNow },
		appURL:        "https://eveasee.example.com",
		encryptionKey: testEncryptionKey,
	}
}

// withUser installs an authenticated user the way authMiddleware would.
func withUser(req *http.Request, user types.User) *http.Request {
	ctx := context.WithValue(req.Context(), userContextKey, user)
	return req.WithContext(ctx)
}

// encryptedTestToken seals a token with the test server key.
func encryptedTestToken(s *Server, token string) []byte {
	b, err := s.encryptToken(context.Background(), token)
	if err != nil {
		panic(err)
	}
	return b
}

// hourlyPrices builds consecutive hourly points starting at start.
func hourlyPrices(start time.Time, totals ...float64) []types.PricePoint {
	points := make([]types.PricePoint, len(totals))
	for i, total := range totals {
		points[i] = types.PricePoint{
			Total:    total,
			Energy:   total * 0.8,
			Tax:      total * 0.2,
			StartsAt: start.Add(time.Duration(i) * time.Hour),
			Level:    types.PriceLevelNormal,
		}
	}
	return points
}
