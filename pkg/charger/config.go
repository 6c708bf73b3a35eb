package charger

import (
	"crypto/rsa"
	"fmt"
	"sync"

	"github.com/jwpriem/ev-easee/pkg/types"
	"github.com/levenlabs/go-lflag"
)

// Configured sets up flags for the vendor clients and returns the Map.
func Configured() *Map {
	m := NewMap()

	easeeURL := lflag.String("easee-api-url", "https://api.easee.com", "base URL for the Easee cloud API")
	zeekrAppURL := lflag.String("zeekr-app-url", "https://gateway-pub-azure.zeekr.eu/overseas-app/", "base URL for the Zeekr app server")
	zeekrUserURL := lflag.String("zeekr-usercenter-url", "https://gateway-pub-azure.zeekr.eu/zeekr-cuc-idaas/", "base URL for the Zeekr user center")
	zeekrCountry := lflag.String("zeekr-country-code", "NL", "country code sent during Zeekr login")
	zeekrAccessKey := lflag.String("zeekr-hmac-access-key", "", "HMAC access key for Zeekr request signing")
	zeekrSecretKey := lflag.String("zeekr-hmac-secret-key", "", "HMAC secret key for Zeekr request signing")
	zeekrPubKey := lflag.String("zeekr-password-public-key", "", "PEM-encoded RSA public key for Zeekr password encryption")

	lflag.Do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.easeeURL = *easeeURL
		m.zeekrAppURL = *zeekrAppURL
		m.zeekrUserURL = *zeekrUserURL
		m.zeekrCountry = *zeekrCountry
		m.zeekrAccessKey = *zeekrAccessKey
		m.zeekrSecretKey = *zeekrSecretKey

		pub, err := parseRSAPublicKey(*zeekrPubKey)
		if err != nil {
			panic(fmt.Sprintf("failed to parse zeekr-password-public-key: %v", err))
		}
		m.zeekrPubKey = pub
	})

	return m
}

// Map manages vendor client instances per connected device so each device
// keeps its own token state between calls.
type Map struct {
	mu       sync.Mutex
	clients  map[string]Client
	vehicles map[string]VehicleClient

	easeeURL       string
	zeekrAppURL    string
	zeekrUserURL   string
	zeekrCountry   string
	zeekrAccessKey string
	zeekrSecretKey string
	zeekrPubKey    *rsa.PublicKey
}

// NewMap creates a new client Map.
func NewMap() *Map {
	return &Map{
		clients:  make(map[string]Client),
		vehicles: make(map[string]VehicleClient),
		easeeURL: "https://api.easee.com",
	}
}

// Charger returns the client for the given charger, creating one for the
// brand if the charger is new.
func (m *Map) Charger(brand types.ChargerBrand, chargerID string) (Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.clients[chargerID]; ok {
		return c, nil
	}

	switch brand {
	case types.ChargerBrandEasee:
		c := newEasee(m.easeeURL)
		m.clients[chargerID] = c
		return c, nil
	}
	return nil, fmt.Errorf("unknown charger brand: %s", brand)
}

// SetCharger sets the client for a specific charger. This is primarily used
// for testing.
func (m *Map) SetCharger(chargerID string, c Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[chargerID] = c
}

// RemoveCharger drops the cached client for a deleted charger.
func (m *Map) RemoveCharger(chargerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, chargerID)
}

// Vehicle returns the client for the given vehicle, creating one for the
// brand if the vehicle is new.
func (m *Map) Vehicle(brand types.VehicleBrand, vehicleID string) (VehicleClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := m.vehicles[vehicleID]; ok {
		return v, nil
	}

	switch brand {
	case types.VehicleBrandZeekr:
		v := newZeekr(m.zeekrAppURL, m.zeekrUserURL, m.zeekrCountry, m.zeekrAccessKey, m.zeekrSecretKey, m.zeekrPubKey)
		m.vehicles[vehicleID] = v
		return v, nil
	}
	return nil, fmt.Errorf("unknown vehicle brand: %s", brand)
}

// SetVehicle sets the client for a specific vehicle. This is primarily used
// for testing.
func (m *Map) SetVehicle(vehicleID string, v VehicleClient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vehicles[vehicleID] = v
}

// RemoveVehicle drops the cached client for a deleted vehicle.
func (m *Map) RemoveVehicle(vehicleID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vehicles, vehicleID)
}
