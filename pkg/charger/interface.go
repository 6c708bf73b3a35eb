package charger

import (
	"context"

	"github.com/jwpriem/ev-easee/pkg/types"
)

// Client defines the interface for interacting with a charger vendor cloud
// (like Easee).
type Client interface {
	// Login authenticates with the vendor using account credentials and
	// returns the resulting tokens. The client keeps the tokens for
	// subsequent calls.
	Login(ctx context.Context, username, password string) (types.ChargerCredentials, error)

	// SetCredentials installs previously persisted tokens, replacing
	// whatever the client currently holds. This resets the refreshed flag.
	SetCredentials(creds types.ChargerCredentials)

	// Credentials returns the tokens the client currently holds and whether
	// they changed since SetCredentials (a mid-call refresh). Callers must
	// re-persist changed tokens even when the operation itself failed or was
	// skipped.
	Credentials() (types.ChargerCredentials, bool)

	// Chargers lists the chargers visible to the authenticated account.
	Chargers(ctx context.Context) ([]types.VendorCharger, error)

	// State returns the live state of the charger.
	State(ctx context.Context, chargerID string) (types.ChargerState, error)

	// Start begins a new charging session.
	Start(ctx context.Context, chargerID string) error

	// Pause pauses the active charging session.
	Pause(ctx context.Context, chargerID string) error

	// Resume resumes a paused charging session. Vendors reject this when
	// there is no session to resume, so callers should expect failures here
	// in steady states like an unplugged car.
	Resume(ctx context.Context, chargerID string) error

	// Stop ends the active charging session.
	Stop(ctx context.Context, chargerID string) error
}

// VehicleClient defines the interface for reading state from a vehicle
// vendor cloud (like Zeekr). Vehicles are display only and never commanded.
type VehicleClient interface {
	// Login authenticates and returns the session token. The client keeps
	// the token for subsequent calls.
	Login(ctx context.Context, email, password string) (string, error)

	// SetToken installs a previously persisted session token.
	SetToken(token string)

	// Vehicles lists the vehicles on the authenticated account.
	Vehicles(ctx context.Context) ([]types.Vehicle, error)

	// Status returns the live status of the vehicle with the given VIN.
	Status(ctx context.Context, vin string) (types.VehicleStatus, error)
}
